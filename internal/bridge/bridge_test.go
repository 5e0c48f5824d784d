//go:build linux

package bridge

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/keymap"
	"github.com/hidrelay/macrod/internal/recorder"
)

type fakeSource struct {
	events []inputEvent
	i      int
}

func (f *fakeSource) readEvent() (inputEvent, error) {
	if f.i >= len(f.events) {
		return inputEvent{}, io.EOF
	}
	ev := f.events[f.i]
	f.i++
	return ev, nil
}
func (f *fakeSource) Ungrab() error { return nil }
func (f *fakeSource) Close() error  { return nil }

type fakeWriter struct {
	sends []sendCall
	ups   int
}

type sendCall struct {
	mod  uint8
	keys map[uint8]struct{}
}

func (w *fakeWriter) Send(mod uint8, keys map[uint8]struct{}) error {
	cp := make(map[uint8]struct{}, len(keys))
	for k := range keys {
		cp[k] = struct{}{}
	}
	w.sends = append(w.sends, sendCall{mod: mod, keys: cp})
	return nil
}
func (w *fakeWriter) AllUp() error { w.ups++; return nil }
func (w *fakeWriter) Close() error { return nil }

func keyEvent(code int, value int32) inputEvent {
	return inputEvent{Type: evKey, Code: uint16(code), Value: value}
}

// TestBridgeStripsHotkeyChord covers a chord-stripping scenario: with
// hotkey LCTRL+Q, (down LCTRL)(down Q)(up Q)(up LCTRL) must never put Q on
// the wire, and the session ends with label STOP.
func TestBridgeStripsHotkeyChord(t *testing.T) {
	src := &fakeSource{events: []inputEvent{
		keyEvent(keymap.KeyLeftCtrl, 1),
		keyEvent(keymap.KeyQ, 1),
		keyEvent(keymap.KeyQ, 0),
		keyEvent(keymap.KeyLeftCtrl, 0),
	}}
	w := &fakeWriter{}
	b, err := newWithDevice(src, w, Options{StopHotkey: "LCTRL+Q", RecordHotkey: "LALT+R"})
	require.NoError(t, err)

	label, err := b.Run()
	require.NoError(t, err)
	require.Equal(t, "STOP", label)

	for _, call := range w.sends {
		_, hasQ := call.keys[keymap.UsageFromECode(keymap.KeyQ)]
		require.False(t, hasQ, "Q usage leaked to the target")
	}
	require.Equal(t, 1, w.ups)
}

func TestBridgeRecordFeedsRecorder(t *testing.T) {
	src := &fakeSource{events: []inputEvent{
		keyEvent(keymap.KeyA, 1),
		keyEvent(keymap.KeyA, 0),
		keyEvent(keymap.KeyLeftAlt, 1),
		keyEvent(keymap.KeyQ, 1),
		keyEvent(keymap.KeyQ, 0),
		keyEvent(keymap.KeyLeftAlt, 0),
	}}
	w := &fakeWriter{}
	b, err := newWithDevice(src, w, Options{StopHotkey: "LALT+Q", RecordHotkey: "LALT+R"})
	require.NoError(t, err)

	t0 := 0.0
	step := 0.0
	nowFn := func() float64 {
		v := t0 + step
		step += 0.01
		return v
	}

	actions, err := b.RunRecord(recorder.New(t0), nowFn)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, keymap.UsageFromECode(keymap.KeyA), actions[0].Usage)
}
