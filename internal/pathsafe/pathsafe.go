// Package pathsafe resolves user-supplied recording/skill names to paths
// under a base directory, rejecting traversal. Grounded on
// msmacro/core/recorder.py's _safe_relpath/resolve_record_path.
package pathsafe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Clean validates that name contains no empty, ".", or ".." components and
// returns it with leading/trailing slashes trimmed.
func Clean(name string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(name), "/")
	if trimmed == "" {
		return "", fmt.Errorf("empty name")
	}
	for _, part := range strings.Split(trimmed, "/") {
		switch part {
		case "", ".", "..":
			return "", fmt.Errorf("invalid path component: %q", part)
		}
	}
	return trimmed, nil
}

// Resolve treats nameOrPath as a relative path under base unless it is
// already absolute, appending ".json" unless the name already ends in
// ".json" (in any case).
func Resolve(base, nameOrPath string) (string, error) {
	if filepath.IsAbs(nameOrPath) {
		return nameOrPath, nil
	}
	clean, err := Clean(nameOrPath)
	if err != nil {
		return "", err
	}
	if filepath.Ext(clean) == "" {
		clean += ".json"
	} else if strings.ToLower(filepath.Ext(clean)) != ".json" {
		// keep caller's extension only if it's already .json in any case;
		// otherwise treat the full nameOrPath as the logical name and add
		// .json, matching the Python helper's case-sensitivity rule.
		clean += ".json"
	}
	return filepath.Join(base, clean), nil
}
