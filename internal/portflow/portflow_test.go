package portflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/mapconfig"
)

type fakeWriter struct {
	sends []map[uint8]struct{}
}

func (w *fakeWriter) Send(mod uint8, keys map[uint8]struct{}) error {
	cp := make(map[uint8]struct{}, len(keys))
	for k := range keys {
		cp[k] = struct{}{}
	}
	w.sends = append(w.sends, cp)
	return nil
}
func (w *fakeWriter) AllUp() error { return nil }
func (w *fakeWriter) Close() error { return nil }

func TestExecuteHitsOnFirstUpPress(t *testing.T) {
	w := &fakeWriter{}
	h := New(w)
	target := mapconfig.DeparturePoint{X: 10, Y: 10, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 5}

	calls := 0
	sample := func() (Point, bool) {
		calls++
		return Point{X: 10, Y: 10}, true
	}

	ok, err := h.Execute(context.Background(), target, sample)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, calls)
	// one UP press = two Send calls (press + release)
	require.Len(t, w.sends, 2)
}

func TestExecuteAdjustsTowardTarget(t *testing.T) {
	w := &fakeWriter{}
	h := New(w)
	target := mapconfig.DeparturePoint{X: 100, Y: 10, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 5}

	positions := []Point{{X: 10, Y: 10}, {X: 10, Y: 10}, {X: 100, Y: 10}}
	idx := 0
	sample := func() (Point, bool) {
		p := positions[idx]
		if idx < len(positions)-1 {
			idx++
		}
		return p, true
	}

	ok, err := h.Execute(context.Background(), target, sample)
	require.NoError(t, err)
	require.True(t, ok)

	foundRight := false
	for _, s := range w.sends {
		if _, present := s[arrowRightUsage]; present {
			foundRight = true
		}
	}
	require.True(t, foundRight, "expected a RIGHT press when player X < target X")
}

func TestExecuteFailsAfterMaxAttempts(t *testing.T) {
	w := &fakeWriter{}
	h := New(w)
	target := mapconfig.DeparturePoint{X: 999, Y: 999, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 1}
	sample := func() (Point, bool) { return Point{X: 0, Y: 0}, true }

	ok, err := h.Execute(context.Background(), target, sample)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDetectorFlagsAbruptJump(t *testing.T) {
	d := NewDetector()
	now := time.Now()
	d.UpdatePosition(Point{X: 0, Y: 0}, now)

	jumped := Point{X: 200, Y: 0}
	require.True(t, d.CheckPort(&jumped, now.Add(10*time.Millisecond)))
}

func TestDetectorFlagsDetectionTimeout(t *testing.T) {
	d := NewDetector()
	now := time.Now()
	d.UpdatePosition(Point{X: 0, Y: 0}, now)

	require.True(t, d.CheckPort(nil, now.Add(3*time.Second)))
}

func TestDetectorIgnoresSmallMovement(t *testing.T) {
	d := NewDetector()
	now := time.Now()
	d.UpdatePosition(Point{X: 0, Y: 0}, now)

	near := Point{X: 5, Y: 5}
	require.False(t, d.CheckPort(&near, now.Add(10*time.Millisecond)))
}

func TestDetectorFirstSampleNeverPorts(t *testing.T) {
	d := NewDetector()
	p := Point{X: 500, Y: 500}
	require.False(t, d.CheckPort(&p, time.Now()))
}
