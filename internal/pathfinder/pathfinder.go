// Package pathfinder drives CV-autonomous movement toward a
// DeparturePoint using a recorded/class-based/simple strategy trinity.
// Grounded on msmacro/cv/pathfinding.py's PathfindingStrategy hierarchy
// (SimplePathfinder, RecordedPathfinder, ClassBasedPathfinder).
package pathfinder

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hidrelay/macrod/internal/hid"
	"github.com/hidrelay/macrod/internal/keymap"
	"github.com/hidrelay/macrod/internal/mapconfig"
	"github.com/hidrelay/macrod/internal/recorder"
)

// Point is a minimap pixel coordinate.
type Point struct{ X, Y int }

// ClassType selects which class-based movement primitive set applies.
type ClassType string

const (
	ClassOther     ClassType = "other"
	ClassMagician  ClassType = "magician"
)

// Thresholds from msmacro's ClassBasedPathfinder, reproduced verbatim.
const (
	largeDistanceX  = 24
	largeDistanceY  = 38
	smallYTolerance = 3
	maxTolerance    = 5

	arrowUpUsage    = 0x52
	arrowDownUsage  = 0x51
	arrowLeftUsage  = 0x50
	arrowRightUsage = 0x4F
)

// ClassConfig holds the per-map class-based pathfinding tunables.
type ClassConfig struct {
	ClassType           ClassType
	JumpKey             uint8 // HID usage, default keymap.NameToUsage("SPACE")
	RopeLiftKey         uint8 // 0 if unset
	DiagonalMovementKey uint8 // 0 if unset
	YAxisJumpSkill      uint8 // 0 if unset
	TeleportSkill       uint8 // 0 if unset
	DoubleJumpUpAllowed bool
}

// Controller drives one navigate-to-target call using the strategies in
// priority order: recorded, class-based, simple.
type Controller struct {
	w   hid.Writer
	rng *rand.Rand
}

// New builds a Controller writing through w.
func New(w hid.Writer, seed int64) *Controller {
	return &Controller{w: w, rng: rand.New(rand.NewSource(seed))}
}

// LoadRecording resolves a pathfinding_sequence into recorded actions;
// callers typically pass recorder.Load.
type LoadRecording func(path string) ([]recorder.Action, error)

// PositionSample returns the current detected position, or ok=false if
// none is available this tick.
type PositionSample func() (Point, bool)

// NavigateTo moves toward target using whichever strategy applies,
// selecting in the order recorded-sequence / class-based / simple.
func (c *Controller) NavigateTo(ctx context.Context, current Point, target mapconfig.DeparturePoint, cfg *ClassConfig, load LoadRecording, sample PositionSample) (bool, error) {
	if target.PathfindingSequence != nil && *target.PathfindingSequence != "" && load != nil {
		return c.navigateRecorded(ctx, *target.PathfindingSequence, load)
	}
	if cfg != nil {
		return c.navigateClassBased(ctx, current, target, *cfg, sample)
	}
	return c.navigateSimple(ctx, current, target, sample)
}

// navigateRecorded replays a pre-recorded movement sequence, honouring
// each action's original press/duration timing with no humanisation.
func (c *Controller) navigateRecorded(ctx context.Context, path string, load LoadRecording) (bool, error) {
	actions, err := load(path)
	if err != nil {
		return false, err
	}
	elapsed := 0.0
	for _, a := range actions {
		if wait := a.Press - elapsed; wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return false, err
			}
			elapsed = a.Press
		}
		if err := c.press(a.Usage, a.Dur); err != nil {
			return false, err
		}
		elapsed += a.Dur
	}
	return true, nil
}

// navigateSimple presses the dominant-axis arrow, scaling press duration
// with distance, rechecking the target up to five times.
func (c *Controller) navigateSimple(ctx context.Context, current Point, target mapconfig.DeparturePoint, sample PositionSample) (bool, error) {
	pos := current
	for attempt := 0; attempt < 5; attempt++ {
		dx := target.X - pos.X
		dy := target.Y - pos.Y
		if target.CheckHit(pos.X, pos.Y) {
			return true, nil
		}
		var usage uint8
		var dist int
		if absInt(dx) >= absInt(dy) {
			dist = absInt(dx)
			if dx > 0 {
				usage = arrowRightUsage
			} else {
				usage = arrowLeftUsage
			}
		} else {
			dist = absInt(dy)
			if dy > 0 {
				usage = arrowDownUsage
			} else {
				usage = arrowUpUsage
			}
		}
		if err := c.press(usage, pressDuration(dist)); err != nil {
			return false, err
		}
		if sample == nil {
			continue
		}
		if p, ok := sample(); ok {
			pos = p
		}
	}
	return target.CheckHit(pos.X, pos.Y), nil
}

// navigateClassBased aligns X then Y using the "other"/"magician" class
// movement primitives.
func (c *Controller) navigateClassBased(ctx context.Context, current Point, target mapconfig.DeparturePoint, cfg ClassConfig, sample PositionSample) (bool, error) {
	if cfg.JumpKey == 0 {
		cfg.JumpKey = keymap.NameToUsage("SPACE")
	}
	pos := current
	dx := target.X - pos.X
	if absInt(dx) > maxTolerance {
		if err := c.moveHorizontal(ctx, dx, cfg); err != nil {
			return false, err
		}
		if sample != nil {
			if p, ok := sample(); ok {
				pos = p
			}
		}
	}
	dy := target.Y - pos.Y
	if absInt(dy) > maxTolerance {
		if err := c.moveVertical(ctx, dy, cfg); err != nil {
			return false, err
		}
		if sample != nil {
			if p, ok := sample(); ok {
				pos = p
			}
		}
	}
	return target.CheckHit(pos.X, pos.Y), nil
}

func (c *Controller) moveHorizontal(ctx context.Context, dx int, cfg ClassConfig) error {
	dist := absInt(dx)
	dirUsage := uint8(arrowLeftUsage)
	if dx > 0 {
		dirUsage = arrowRightUsage
	}
	if dist < largeDistanceX {
		if err := c.press(dirUsage, pressDuration(dist)); err != nil {
			return err
		}
		return c.postMoveWait(ctx, dist, "arrow")
	}
	if cfg.ClassType == ClassMagician && cfg.TeleportSkill != 0 {
		if err := c.holdStart(dirUsage); err != nil {
			return err
		}
		defer c.holdEnd(dirUsage)
		if err := c.press(cfg.TeleportSkill, c.jitter(0.12)); err != nil {
			return err
		}
		return c.postMoveWait(ctx, dist, "teleport")
	}
	if err := c.holdStart(dirUsage); err != nil {
		return err
	}
	defer c.holdEnd(dirUsage)
	if err := c.press(cfg.JumpKey, c.jitter(0.15)); err != nil {
		return err
	}
	if err := c.sleep(ctx, c.randRange(0.3, 0.5)); err != nil {
		return err
	}
	if err := c.press(cfg.JumpKey, c.jitter(0.15)); err != nil {
		return err
	}
	return c.postMoveWait(ctx, dist, "double_jump")
}

func (c *Controller) moveVertical(ctx context.Context, dy int, cfg ClassConfig) error {
	dist := absInt(dy)
	if dist < smallYTolerance {
		usage := uint8(arrowUpUsage)
		if dy > 0 {
			usage = arrowDownUsage
		}
		return c.press(usage, c.randRange(0.10, 0.15))
	}
	if dy > 0 { // moving down
		if cfg.ClassType == ClassMagician && cfg.TeleportSkill != 0 {
			if err := c.holdStart(arrowDownUsage); err != nil {
				return err
			}
			defer c.holdEnd(arrowDownUsage)
			if err := c.sleep(ctx, c.randRange(0.2, 0.4)); err != nil {
				return err
			}
			return c.press(cfg.TeleportSkill, c.jitter(0.12))
		}
		if err := c.holdStart(arrowDownUsage); err != nil {
			return err
		}
		defer c.holdEnd(arrowDownUsage)
		return c.press(cfg.JumpKey, c.jitter(0.15))
	}
	// moving up
	if cfg.ClassType == ClassMagician {
		if err := c.press(cfg.JumpKey, c.jitter(0.15)); err != nil {
			return err
		}
		if err := c.holdStart(arrowUpUsage); err != nil {
			return err
		}
		defer c.holdEnd(arrowUpUsage)
		if dist >= largeDistanceY && cfg.RopeLiftKey != 0 {
			return c.press(cfg.RopeLiftKey, c.jitter(0.15))
		}
		if cfg.TeleportSkill != 0 {
			return c.press(cfg.TeleportSkill, c.jitter(0.12))
		}
		return nil
	}
	if dist >= largeDistanceY {
		if cfg.RopeLiftKey != 0 {
			if err := c.press(cfg.RopeLiftKey, c.jitter(0.15)); err != nil {
				return err
			}
			return c.postMoveWait(ctx, dist, "rope_lift")
		}
		if cfg.YAxisJumpSkill != 0 {
			if err := c.press(cfg.YAxisJumpSkill, c.jitter(0.15)); err != nil {
				return err
			}
			return c.postMoveWait(ctx, dist, "double_jump")
		}
		return nil
	}
	if !cfg.DoubleJumpUpAllowed {
		return nil
	}
	if err := c.press(cfg.JumpKey, c.jitter(0.15)); err != nil {
		return err
	}
	if err := c.sleep(ctx, c.scaledGap(dist)); err != nil {
		return err
	}
	if err := c.press(cfg.JumpKey, c.jitter(0.15)); err != nil {
		return err
	}
	return c.postMoveWait(ctx, dist, "double_jump")
}

// postMoveWait waits a duration linearly interpolated by distance:
// rope-lift 1.5->2.0s, double-jump/teleport 0.9->1.3s.
func (c *Controller) postMoveWait(ctx context.Context, dist int, kind string) error {
	t := clamp01(float64(dist) / 100.0)
	var lo, hi float64
	switch kind {
	case "rope_lift":
		lo, hi = 1.5, 2.0
	default:
		lo, hi = 0.9, 1.3
	}
	return c.sleep(ctx, lo+t*(hi-lo))
}

func (c *Controller) scaledGap(dist int) float64 {
	t := clamp01(float64(dist) / float64(largeDistanceY))
	return 0.3 + t*(0.5-0.3)
}

func pressDuration(dist int) float64 {
	if dist <= 1 {
		return 0.12
	}
	d := 0.12 + float64(dist-1)*(2.0-0.12)/49.0
	if d > 2.0 {
		d = 2.0
	}
	return d
}

func (c *Controller) jitter(base float64) float64 {
	return base * (0.9 + 0.2*c.rng.Float64())
}

func (c *Controller) randRange(lo, hi float64) float64 {
	return lo + c.rng.Float64()*(hi-lo)
}

func (c *Controller) press(usage uint8, dur float64) error {
	if usage == 0 {
		return nil
	}
	if err := c.holdStart(usage); err != nil {
		return err
	}
	time.Sleep(time.Duration(dur * float64(time.Second)))
	return c.holdEnd(usage)
}

func (c *Controller) holdStart(usage uint8) error {
	return c.w.Send(0, map[uint8]struct{}{usage: {}})
}

func (c *Controller) holdEnd(usage uint8) error {
	return c.w.Send(0, map[uint8]struct{}{})
}

func (c *Controller) sleep(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
