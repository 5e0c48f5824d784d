// Package player replays a recorded keystroke sequence to a HID writer,
// applying speed scaling, humanised jitter, ignore-key randomization,
// and optional skill injection. Grounded on msmacro/core/player.py's
// Player.play: the live flow only (scale -> ignore-filter -> per-key
// jitter with same-key spacing -> unified down/up timeline -> replay).
// The commented-out "compute times up-front" variant also present in
// that source file is deliberately not reintroduced here.
package player

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/hidrelay/macrod/internal/hid"
	"github.com/hidrelay/macrod/internal/humaniser"
	"github.com/hidrelay/macrod/internal/keymap"
	"github.com/hidrelay/macrod/internal/recorder"
	"github.com/hidrelay/macrod/internal/skills"
)

// Options controls one playback run, mirroring Player.play's keyword
// arguments.
type Options struct {
	Speed             float64
	JitterTime        float64
	JitterHold        float64
	MinHoldS          float64
	MinRepeatSameKeyS float64
	Loop              int // <= 0 means loop forever
	IgnoreKeys        []string
	IgnoreTolerance   float64
	SkillInjector     *skills.Injector
}

// DefaultOptions matches the Python defaults.
func DefaultOptions() Options {
	return Options{
		Speed:             1.0,
		MinHoldS:          0.001,
		MinRepeatSameKeyS: 0.010,
		Loop:              1,
	}
}

// Player replays recordings to a stateful HID writer.
type Player struct {
	w   *hid.StatefulWriter
	rng *rand.Rand
}

// New builds a Player over w, seeding its ignore-key RNG from seed.
func New(w *hid.StatefulWriter, seed int64) *Player {
	return &Player{w: w, rng: rand.New(rand.NewSource(seed))}
}

type scaledAction struct {
	Usage   uint8
	PressAt float64
	Dur     float64
}

type timelineEvent struct {
	T     float64
	Down  bool
	Usage uint8
}

func parseIgnoreKeys(names []string) map[uint8]struct{} {
	out := make(map[uint8]struct{})
	for _, n := range names {
		if u := keymap.NameToUsage(n); u > 0 {
			out[u] = struct{}{}
		}
	}
	return out
}

// Play replays the recording at path. It returns (true, nil) if
// playback ran to completion, or (false, nil) if ctx was cancelled
// mid-run. The HID writer is always left all-up before returning.
func (p *Player) Play(ctx context.Context, path string, opts Options) (bool, error) {
	rec, err := recorder.Load(path)
	if err != nil {
		return false, err
	}
	if len(rec.Actions) == 0 {
		p.w.AllUp()
		return true, nil
	}

	invSpeed := 1.0
	if opts.Speed > 0 {
		invSpeed = 1.0 / opts.Speed
	}
	scaled := make([]scaledAction, 0, len(rec.Actions))
	for _, a := range rec.Actions {
		scaled = append(scaled, scaledAction{
			Usage:   a.Usage,
			PressAt: maxf(0, a.Press*invSpeed),
			Dur:     maxf(0, a.Dur*invSpeed),
		})
	}

	if ignoreUsages := parseIgnoreKeys(opts.IgnoreKeys); len(ignoreUsages) > 0 && opts.IgnoreTolerance > 0 {
		filtered := scaled[:0:0]
		for _, a := range scaled {
			if _, ignore := ignoreUsages[a.Usage]; ignore && p.rng.Float64() < opts.IgnoreTolerance {
				continue
			}
			filtered = append(filtered, a)
		}
		scaled = filtered
	}

	hj := humaniser.New(humaniser.Params{
		FactorTime:    opts.JitterTime,
		FactorHold:    opts.JitterHold,
		DriftStrength: 0.90,
		DriftRatio:    0.35,
		ClipSigma:     3.0,
		TimeFloorS:    0.040,
		TimeSoftS:     0.200,
		AbsCapTimeS:   0.012,
	}, int64(p.rng.Uint64()))

	lastPressOfKey := make(map[uint8]float64)
	lastUpTime := make(map[uint8]float64)
	events := make([]timelineEvent, 0, len(scaled)*2)
	for _, a := range scaled {
		pressAnchor := maxf(0.040, a.PressAt-getOr(lastPressOfKey, a.Usage, -1e9))
		pressAt := a.PressAt + hj.TimeJitter(a.Usage, pressAnchor)
		if pressAt < 0 {
			pressAt = 0
		}

		hold := maxf(opts.MinHoldS, a.Dur+hj.HoldJitter(a.Usage, a.Dur))

		earliestForKey := getOr(lastUpTime, a.Usage, -1e9) + opts.MinRepeatSameKeyS
		if pressAt < earliestForKey {
			pressAt = earliestForKey
		}
		releaseAt := pressAt + hold

		events = append(events, timelineEvent{T: pressAt, Down: true, Usage: a.Usage})
		events = append(events, timelineEvent{T: releaseAt, Down: false, Usage: a.Usage})

		lastPressOfKey[a.Usage] = pressAt
		lastUpTime[a.Usage] = releaseAt
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].T != events[j].T {
			return events[i].T < events[j].T
		}
		if events[i].Down != events[j].Down {
			return events[i].Down // down before up at equal timestamps
		}
		return events[i].Usage < events[j].Usage
	})

	for loopIdx := 0; opts.Loop <= 0 || loopIdx < opts.Loop; loopIdx++ {
		if ctx.Err() != nil {
			p.w.AllUp()
			return false, nil
		}

		now := 0.0
		downKeys := make(map[uint8]struct{})
		p.w.AllUp()

		for _, ev := range events {
			if sleepOrStop(ctx, ev.T-now) {
				p.w.AllUp()
				return false, nil
			}
			now = ev.T

			if opts.SkillInjector != nil {
				wallNow := float64(time.Now().UnixNano()) / 1e9
				opts.SkillInjector.UpdateArrowKeyTracking(downKeys, wallNow)
				opts.SkillInjector.NoteSpaceKey(downKeys)
				if opts.SkillInjector.ShouldFreezeRotation(wallNow) {
					continue
				}
				opts.SkillInjector.SetPressedKeys(downKeys)
				if id, ok := opts.SkillInjector.CheckAndInjectSkills(wallNow); ok {
					cast := opts.SkillInjector.CastSkill(id, wallNow)
					if cast.PreDelay > 0 && sleepOrStop(ctx, cast.PreDelay) {
						p.w.AllUp()
						return false, nil
					}
					press(p.w, cast.Usage, true)
					if sleepOrStop(ctx, cast.PressSeconds) {
						p.w.AllUp()
						return false, nil
					}
					press(p.w, cast.Usage, false)
					if cast.PostDelay > 0 && sleepOrStop(ctx, cast.PostDelay) {
						p.w.AllUp()
						return false, nil
					}
				}
			}

			if ev.Down {
				downKeys[ev.Usage] = struct{}{}
			} else {
				delete(downKeys, ev.Usage)
			}
			press(p.w, ev.Usage, ev.Down)
		}

		p.w.AllUp()
	}

	return true, nil
}

func press(w *hid.StatefulWriter, usage uint8, down bool) {
	if down {
		w.Press(usage)
	} else {
		w.Release(usage)
	}
}

// sleepOrStop sleeps for delay seconds, polling ctx every 10ms so stop
// requests are honoured promptly. Returns true if ctx was cancelled.
func sleepOrStop(ctx context.Context, delay float64) bool {
	if delay <= 0 {
		return ctx.Err() != nil
	}
	const checkInterval = 10 * time.Millisecond
	remaining := time.Duration(delay * float64(time.Second))
	for remaining > 0 {
		step := checkInterval
		if step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(step):
		}
		remaining -= step
	}
	return false
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func getOr(m map[uint8]float64, k uint8, def float64) float64 {
	if v, ok := m[k]; ok {
		return v
	}
	return def
}
