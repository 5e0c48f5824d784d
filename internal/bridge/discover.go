//go:build linux

package bridge

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// FindKeyboardEvent locates a /dev/input/eventN node that udev tags as a
// real keyboard, preferring the stable by-id symlink over a raw scan.
// Grounded on msmacro/keyboard.py's find_keyboard_event.
func FindKeyboardEvent() (string, error) {
	byID, _ := filepath.Glob("/dev/input/by-id/*-event-kbd")
	sort.Strings(byID)
	for _, p := range byID {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	events, _ := filepath.Glob("/dev/input/event*")
	sort.Strings(events)
	for _, ev := range events {
		if isKeyboardEvent(ev) {
			return ev, nil
		}
	}
	return "", errNoKeyboard
}

var errNoKeyboard = &noKeyboardError{}

type noKeyboardError struct{}

func (*noKeyboardError) Error() string {
	return "no keyboard input device found (ID_INPUT_KEYBOARD=1)"
}

func isKeyboardEvent(path string) bool {
	out, err := exec.Command("udevadm", "info", "-q", "property", "-n", path).Output()
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "ID_INPUT_KEYBOARD=1" {
			return true
		}
	}
	return false
}
