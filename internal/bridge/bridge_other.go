//go:build !linux

// Bridge requires Linux evdev; the grabbed-keyboard forwarding path is not
// available on other platforms, same as the HID gadget endpoint.
package bridge

import (
	"context"
	"fmt"

	"github.com/hidrelay/macrod/internal/recorder"
)

type Bridge struct{}

type Options struct {
	StopHotkey   string
	RecordHotkey string
	Grab         bool
	ExtraHotkeys map[string]string
}

func New(evdevPath string, w interface{}, opts Options) (*Bridge, error) {
	return nil, fmt.Errorf("bridge requires linux")
}

func (b *Bridge) Run() (string, error) { return "", fmt.Errorf("bridge requires linux") }

func (b *Bridge) RunRecord(rec *recorder.Recorder, nowSeconds func() float64) ([]recorder.Action, error) {
	return nil, fmt.Errorf("bridge requires linux")
}

func (b *Bridge) Interrupt() {}

func WaitHotkeyRelease(ctx context.Context, evdevPath, spec string) error {
	return fmt.Errorf("bridge requires linux")
}
