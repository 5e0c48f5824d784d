// Package recorder collects timestamped key down/up events and emits
// sorted press/duration actions; it persists and loads both the action
// and event on-disk shapes. Grounded on msmacro/core/recorder.py.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hidrelay/macrod/internal/pathsafe"
	"github.com/hidrelay/macrod/internal/security"
)

// Action is the canonical {usage, press, dur} record.
type Action struct {
	Usage uint8   `json:"usage"`
	Press float64 `json:"press"`
	Dur   float64 `json:"dur"`
}

// Event is the alternate on-disk shape: a single down/up transition.
type Event struct {
	T     float64 `json:"t"`
	Type  string  `json:"type"` // "down" | "up"
	Usage uint8   `json:"usage"`
}

// file is the on-disk document shape; exactly one of Actions/Events is
// populated.
type file struct {
	T0      float64  `json:"t0"`
	Actions []Action `json:"actions,omitempty"`
	Events  []Event  `json:"events,omitempty"`
}

// Recorder collects live down/up timestamps and converts them into
// Actions on the fly.
type Recorder struct {
	T0      float64
	Actions []Action

	downs    map[uint8]float64
	lastTime float64
}

// New creates a Recorder starting at t0.
func New(t0 float64) *Recorder {
	return &Recorder{T0: t0, downs: make(map[uint8]float64), lastTime: t0}
}

// OnDown records the first-seen press time for usage; repeated downs
// before the matching up are ignored (the first timestamp wins).
func (r *Recorder) OnDown(usage uint8, now float64) {
	if _, ok := r.downs[usage]; !ok {
		r.downs[usage] = now
	}
}

// OnUp closes the open down for usage (timed from its first-seen press),
// emitting an Action. If no
// matching down was seen, a zero-duration action is synthesised at now.
func (r *Recorder) OnUp(usage uint8, now float64) {
	pressT, ok := r.downs[usage]
	var dur float64
	if !ok {
		pressT = now
		dur = 0
	} else {
		delete(r.downs, usage)
		dur = now - pressT
		if dur < 0 {
			dur = 0
		}
	}
	r.appendAction(usage, pressT, dur)
	r.lastTime = now
}

// Finalize closes any keys still held, using now (or the last-seen
// timestamp) as the release time.
func (r *Recorder) Finalize(now *float64) {
	n := r.lastTime
	if now != nil {
		n = *now
	}
	for usage, pressT := range r.downs {
		dur := n - pressT
		if dur < 0 {
			dur = 0
		}
		r.appendAction(usage, pressT, dur)
	}
	r.downs = make(map[uint8]float64)
}

func (r *Recorder) appendAction(usage uint8, absPress, dur float64) {
	relPress := absPress - r.T0
	if relPress < 0 {
		relPress = 0
	}
	r.Actions = append(r.Actions, Action{Usage: usage, Press: relPress, Dur: dur})
}

// Sort orders Actions by (press, usage), the canonical on-disk order.
func (r *Recorder) Sort() {
	sort.SliceStable(r.Actions, func(i, j int) bool {
		if r.Actions[i].Press != r.Actions[j].Press {
			return r.Actions[i].Press < r.Actions[j].Press
		}
		return r.Actions[i].Usage < r.Actions[j].Usage
	})
}

// Save writes the recorder's actions to path as {"t0", "actions": [...]}.
func (r *Recorder) Save(path string) error {
	r.Sort()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(file{T0: r.T0, Actions: r.Actions}, "", "  ")
	if err != nil {
		return err
	}
	return security.WriteSecureFile(path, data, 0o644)
}

// Load reads a recording file, accepting either the action or event shape
// and converting events to actions via EventsToActions.
func Load(path string) (*Recorder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}

// FromJSON parses recording JSON bytes in either on-disk shape.
func FromJSON(data []byte) (*Recorder, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	r := New(f.T0)
	switch {
	case f.Actions != nil:
		r.Actions = f.Actions
	case f.Events != nil:
		r.Actions = EventsToActions(f.Events)
	default:
		return nil, fmt.Errorf("recording JSON has neither actions nor events")
	}
	r.Sort()
	return r, nil
}

// EventsToActions pairs down/up events of the same usage into Actions,
// sorted by t first. Unmatched ups synthesise a 1ms tap ending at t;
// unclosed downs close as a 10ms tap.
func EventsToActions(events []Event) []Action {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	open := make(map[uint8]float64)
	var actions []Action
	for _, e := range sorted {
		switch e.Type {
		case "down":
			if _, ok := open[e.Usage]; !ok {
				open[e.Usage] = e.T
			}
		case "up":
			if pressT, ok := open[e.Usage]; ok {
				delete(open, e.Usage)
				actions = append(actions, Action{Usage: e.Usage, Press: pressT, Dur: e.T - pressT})
			} else {
				actions = append(actions, Action{Usage: e.Usage, Press: e.T - 0.001, Dur: 0.001})
			}
		}
	}
	for usage, pressT := range open {
		actions = append(actions, Action{Usage: usage, Press: pressT, Dur: 0.010})
	}

	if len(actions) > 0 {
		t0 := actions[0].Press
		for _, a := range actions {
			if a.Press < t0 {
				t0 = a.Press
			}
		}
		for i := range actions {
			actions[i].Press -= t0
			if actions[i].Press < 0 {
				actions[i].Press = 0
			}
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Press != actions[j].Press {
			return actions[i].Press < actions[j].Press
		}
		return actions[i].Usage < actions[j].Usage
	})
	return actions
}

// Entry describes one recording under a base directory for
// ListRecursive.
type Entry struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Mtime    int64   `json:"mtime"`
	Actions  int     `json:"actions,omitempty"`
	Events   int     `json:"events,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// ListRecursive returns one Entry per *.json file under base, sorted by
// logical name (path relative to base, without extension).
func ListRecursive(base string) ([]Entry, error) {
	var out []Entry
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return out, nil
	}
	err = filepath.Walk(base, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		logical := rel[:len(rel)-len(filepath.Ext(rel))]
		e := Entry{Name: filepath.ToSlash(logical), Path: path, Size: fi.Size(), Mtime: fi.ModTime().Unix()}
		if data, err := os.ReadFile(path); err == nil {
			var f file
			if json.Unmarshal(data, &f) == nil {
				e.Actions = len(f.Actions)
				e.Events = len(f.Events)
			}
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResolvePath resolves name under base via pathsafe, rejecting traversal.
func ResolvePath(base, name string) (string, error) {
	return pathsafe.Resolve(base, name)
}
