// Package capture manages the HDMI/USB video-capture device: discovery
// and priority ordering of /dev/video* nodes, V4L2 format negotiation,
// a dedicated 2fps grabber goroutine, and a reconnection monitor with
// exponential backoff. Grounded on msmacro/cv/capture.py's CVCapture
// and msmacro/cv/device.py's device discovery helpers.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Device describes one discovered video capture node.
type Device struct {
	Path  string
	Index int
	Name  string
}

// ListVideoDevices enumerates /dev/video* nodes, reading each one's
// driver-reported name from /sys/class/video4linux/videoN/name when
// available.
func ListVideoDevices(devDir, sysDir string) ([]Device, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		dev := Device{Path: filepath.Join(devDir, name), Index: idx}
		if data, err := os.ReadFile(filepath.Join(sysDir, name, "name")); err == nil {
			dev.Name = strings.TrimSpace(string(data))
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

// priorityKey ranks HDMI/capture-named devices before anything else,
// then by device index, matching CVCapture.start's `_priority`.
func priorityKey(d Device) (int, int) {
	lower := strings.ToLower(d.Name)
	keyword := 1
	if strings.Contains(lower, "hdmi") || strings.Contains(lower, "capture") {
		keyword = 0
	}
	return keyword, d.Index
}

// OrderByPriority sorts devices HDMI/capture-named first, then by
// index, without mutating the input.
func OrderByPriority(devices []Device) []Device {
	out := append([]Device(nil), devices...)
	sort.SliceStable(out, func(i, j int) bool {
		ki, ii := priorityKey(out[i])
		kj, ij := priorityKey(out[j])
		if ki != kj {
			return ki < kj
		}
		return ii < ij
	})
	return out
}

// envMatches reports whether preferred (the MSMACRO_CV_DEVICE-style
// override: a bare index, a /dev/... path, or a name substring)
// identifies d.
func envMatches(preferred string, d Device) bool {
	if preferred == "" {
		return false
	}
	if idx, err := strconv.Atoi(preferred); err == nil {
		return d.Index == idx
	}
	if strings.HasPrefix(preferred, "/dev/") {
		return d.Path == preferred
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred))
}

// BuildCandidates orders devices into the same open-attempt sequence
// as msmacro's start(): any env-preferred match first, then the
// HDMI/capture-priority order, each path appearing at most once.
func BuildCandidates(devices []Device, preferred string) []Device {
	ordered := OrderByPriority(devices)
	seen := make(map[string]bool, len(ordered))
	var out []Device
	for _, d := range ordered {
		if envMatches(preferred, d) && !seen[d.Path] {
			out = append(out, d)
			seen[d.Path] = true
		}
	}
	for _, d := range ordered {
		if !seen[d.Path] {
			out = append(out, d)
			seen[d.Path] = true
		}
	}
	return out
}

// ValidateAccess reports whether path can currently be opened for
// reading, matching validate_device_access's access-before-open check.
func ValidateAccess(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (d Device) String() string {
	return fmt.Sprintf("%s (index %d, %q)", d.Path, d.Index, d.Name)
}
