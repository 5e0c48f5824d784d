// Package portflow implements portal/teleport navigation: pressing UP
// to activate a portal and nudging LEFT/RIGHT to align with it when the
// first attempt misses, plus a detector for unexpected teleports.
// Grounded on msmacro/cv/port_flow.py's
// PortFlowHandler and PortDetector.
package portflow

import (
	"context"
	"math"
	"time"

	"github.com/hidrelay/macrod/internal/hid"
	"github.com/hidrelay/macrod/internal/mapconfig"
)

const (
	maxAdjustAttempts   = 3
	upPressDuration     = 100 * time.Millisecond
	adjustPressDuration = 100 * time.Millisecond
	postReleaseDelay    = 50 * time.Millisecond
	checkDelay          = 500 * time.Millisecond

	arrowUpUsage    = 0x52
	arrowDownUsage  = 0x51
	arrowLeftUsage  = 0x50
	arrowRightUsage = 0x4F
)

// Point is a minimap pixel coordinate.
type Point struct{ X, Y int }

// PositionSample returns the current detected position, or ok=false if
// none is available this tick.
type PositionSample func() (Point, bool)

// Handler drives the portal-activation flow for departure points whose
// tolerance mode requires a key press to trigger rather than simple
// proximity.
type Handler struct {
	w hid.Writer
}

// New builds a Handler writing keystrokes through w.
func New(w hid.Writer) *Handler {
	return &Handler{w: w}
}

// Execute attempts to reach target by pressing UP, checking for a hit,
// then up to maxAdjustAttempts rounds of LEFT/RIGHT-plus-UP correction
// based on the sign of the X delta. Returns true once target.CheckHit
// reports a hit, false if every attempt is exhausted.
func (h *Handler) Execute(ctx context.Context, target mapconfig.DeparturePoint, sample PositionSample) (bool, error) {
	if err := h.pressUp(ctx); err != nil {
		return false, err
	}
	if err := h.wait(ctx, checkDelay); err != nil {
		return false, err
	}

	pos, ok := sample()
	if ok && target.CheckHit(pos.X, pos.Y) {
		return true, nil
	}

	for attempt := 1; attempt <= maxAdjustAttempts; attempt++ {
		if !ok {
			pos, ok = sample()
		}
		if ok {
			dx := target.X - pos.X
			switch {
			case dx > 0:
				if err := h.pressKey(ctx, arrowRightUsage, adjustPressDuration); err != nil {
					return false, err
				}
			case dx < 0:
				if err := h.pressKey(ctx, arrowLeftUsage, adjustPressDuration); err != nil {
					return false, err
				}
			}
		}

		if err := h.pressUp(ctx); err != nil {
			return false, err
		}
		if err := h.wait(ctx, checkDelay); err != nil {
			return false, err
		}

		pos, ok = sample()
		if ok && target.CheckHit(pos.X, pos.Y) {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) pressUp(ctx context.Context) error {
	return h.pressKey(ctx, arrowUpUsage, upPressDuration)
}

func (h *Handler) pressKey(ctx context.Context, usage uint8, dur time.Duration) error {
	if err := h.w.Send(0, map[uint8]struct{}{usage: {}}); err != nil {
		return err
	}
	if err := h.wait(ctx, dur); err != nil {
		return err
	}
	if err := h.w.Send(0, map[uint8]struct{}{}); err != nil {
		return err
	}
	return h.wait(ctx, postReleaseDelay)
}

func (h *Handler) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Detector flags abrupt position jumps or prolonged detection loss,
// either of which signals an unplanned port or map change. The daemon's
// CV-auto loop does not use it. Grounded on msmacro/cv/port_flow.py's
// PortDetector.
type Detector struct {
	DistanceThreshold float64       // px; default 50
	Timeout           time.Duration // default 2s

	lastPos  Point
	lastTime time.Time
	hasLast  bool
}

// NewDetector builds a Detector with msmacro's defaults.
func NewDetector() *Detector {
	return &Detector{DistanceThreshold: 50, Timeout: 2 * time.Second}
}

// UpdatePosition records the latest known-good position.
func (d *Detector) UpdatePosition(pos Point, at time.Time) {
	d.lastPos = pos
	d.lastTime = at
	d.hasLast = true
}

// CheckPort reports whether a port/teleport is likely: either more than
// Timeout has passed since the last UpdatePosition (whether or not
// current is nil), or current jumped more than DistanceThreshold px from
// the last known position.
func (d *Detector) CheckPort(current *Point, at time.Time) bool {
	if !d.hasLast {
		return false
	}
	if at.Sub(d.lastTime) > d.Timeout {
		return true
	}
	if current == nil {
		return false
	}
	dx := float64(current.X - d.lastPos.X)
	dy := float64(current.Y - d.lastPos.Y)
	distance := math.Hypot(dx, dy)
	return distance > d.DistanceThreshold
}

// Reset clears tracked state, e.g. after a deliberate rotation change.
func (d *Detector) Reset() {
	d.lastPos = Point{}
	d.lastTime = time.Time{}
	d.hasLast = false
}
