package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/hidrelay/macrod/internal/apperr"
	"github.com/hidrelay/macrod/internal/bridge"
)

// choiceWindow arbitrates the post-record save/play/discard decision
// between whichever of {hotkey chord, IPC command, timeout} resolves
// first. Exactly one call to tryResolve wins; the rest are no-ops. This
// has no equivalent in msmacro/daemon.py, whose _choice_window only ever
// races against its own timeout — generalizing it to also accept a
// concurrent IPC decision is this daemon's resolution of that ambiguity.
type choiceWindow struct {
	once      sync.Once
	result    chan string
	interrupt func()
}

func newChoiceWindow(interrupt func()) *choiceWindow {
	return &choiceWindow{result: make(chan string, 1), interrupt: interrupt}
}

// tryResolve reports whether this call won the race. Win or lose, the
// hotkey-watching Bridge is interrupted so its goroutine always exits.
func (w *choiceWindow) tryResolve(label string) bool {
	won := false
	w.once.Do(func() {
		won = true
		w.result <- label
	})
	if w.interrupt != nil {
		w.interrupt()
	}
	return won
}

// choiceWindow opens a choice-listening Bridge with the three decision
// hotkeys armed, and blocks until a hotkey chord, a racing IPC call (via
// resolveChoice), or cfg.ChoiceTimeoutS elapses. ok is false on timeout
// or context cancellation, in which case the caller keeps lastActions
// and returns to BRIDGE.
func (d *Daemon) choiceWindow(ctx context.Context, evdevPath string) (string, bool) {
	choices := map[string]string{
		d.cfg.ChoiceSaveHotkey:    "CHOICE_SAVE",
		d.cfg.ChoicePlayHotkey:    "CHOICE_PLAY",
		d.cfg.ChoiceDiscardHotkey: "CHOICE_DISCARD",
	}
	d.emit("CHOICE_MENU", map[string]any{"keys": choiceKeys(choices)})
	d.setMode(ModePostRecord)

	b, err := d.openBridge(evdevPath, d.hidWriter, bridge.Options{
		StopHotkey:   d.cfg.StopHotkey,
		RecordHotkey: d.cfg.RecordHotkey,
		Grab:         true,
		ExtraHotkeys: choices,
	})
	if err != nil {
		d.log.Warn("choice window bridge open failed", "err", err)
		return "", false
	}

	cw := newChoiceWindow(b.Interrupt)
	d.mu.Lock()
	d.choice = cw
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.choice = nil
		d.mu.Unlock()
	}()

	go func() {
		label, err := b.Run()
		if err == nil {
			cw.tryResolve(label)
		}
	}()

	timeout := time.Duration(d.cfg.ChoiceTimeoutS * float64(time.Second))
	select {
	case label := <-cw.result:
		d.emit("CHOICE_SELECTED", map[string]any{"label": label})
		return label, true
	case <-time.After(timeout):
		cw.tryResolve("")
		d.emit("CHOICE_TIMEOUT", nil)
		return "", false
	case <-ctx.Done():
		cw.tryResolve("")
		return "", false
	}
}

func choiceKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// resolveChoice lets an IPC-driven save_last/discard_last/preview_last
// command race against a pending hotkey choice. It returns a state error
// if no choice window is currently open, or if another decision already
// won the race.
func (d *Daemon) resolveChoice(label string) error {
	d.mu.Lock()
	cw := d.choice
	d.mu.Unlock()
	if cw == nil {
		return apperr.State("no pending post-record choice", nil)
	}
	if !cw.tryResolve(label) {
		return apperr.State("post-record choice already resolved", nil)
	}
	return nil
}
