//go:build linux

package bridge

import (
	"context"

	"github.com/hidrelay/macrod/internal/keymap"
)

// WaitHotkeyRelease grabs evdevPath and blocks until spec's chord has
// been armed (pressed) and then released, or ctx is cancelled. It is
// used by the daemon to watch for the stop hotkey during playback,
// independently of any Bridge instance (the Player owns the HID
// endpoint during playback; this only reads the keyboard). Grounded on
// msmacro/daemon.py's _wait_hotkey_release.
func WaitHotkeyRelease(ctx context.Context, evdevPath, spec string) error {
	hk, err := parseHotkey(spec)
	if err != nil {
		return err
	}
	dev, err := OpenDevice(evdevPath, true)
	if err != nil {
		return err
	}
	defer func() {
		dev.Ungrab()
		dev.Close()
	}()

	done := make(chan error, 1)
	go func() {
		modmask := uint8(0)
		down := make(map[uint8]struct{})
		armed := false
		for {
			ev, err := dev.readEvent()
			if err != nil {
				done <- err
				return
			}
			if ev.Type != evKey || ev.Value == keyRepeat {
				continue
			}
			code := int(ev.Code)
			isDown := ev.Value == 1
			if keymap.IsModifier(code) {
				bit := keymap.ModBit(code)
				if isDown {
					modmask |= bit
				} else {
					modmask &^= bit
				}
			} else {
				usage := keymap.UsageFromECode(code)
				if usage == 0 {
					continue
				}
				if isDown {
					down[usage] = struct{}{}
				} else {
					delete(down, usage)
				}
			}
			modDown := modmask&keymap.ModBit(hk.ModECode) != 0
			_, keyDown := down[hk.KeyUsage]
			curr := modDown && keyDown
			if !armed && curr {
				armed = true
				continue
			}
			if armed && !curr && !isDown && (code == hk.ModECode || code == hk.KeyECode) {
				done <- nil
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		dev.Close()
		return ctx.Err()
	}
}
