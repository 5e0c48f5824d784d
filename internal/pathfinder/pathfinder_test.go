package pathfinder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/mapconfig"
	"github.com/hidrelay/macrod/internal/recorder"
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

func TestNavigateToPrefersRecordedSequence(t *testing.T) {
	w := &fakeWriter{}
	c := New(w, 1)
	seq := "rotations/boss.json"
	target := mapconfig.DeparturePoint{X: 10, Y: 10, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 5, PathfindingSequence: &seq}

	var loadedPath string
	load := func(path string) ([]recorder.Action, error) {
		loadedPath = path
		return []recorder.Action{{Usage: 0x04, Press: 0, Dur: 0.001}}, nil
	}

	ok, err := c.NavigateTo(context.Background(), Point{X: 0, Y: 0}, target, nil, load, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, seq, loadedPath)
	require.NotEmpty(t, w.sends)
}

func TestNavigateSimpleStopsWhenAlreadyAtTarget(t *testing.T) {
	w := &fakeWriter{}
	c := New(w, 1)
	target := mapconfig.DeparturePoint{X: 5, Y: 5, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 5}
	ok, err := c.NavigateTo(context.Background(), Point{X: 5, Y: 5}, target, nil, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, w.sends, "no movement should be issued when already on target")
}

func TestClassBasedOtherDoubleJumpsLargeX(t *testing.T) {
	w := &fakeWriter{}
	c := New(w, 1)
	target := mapconfig.DeparturePoint{X: 100, Y: 0, ToleranceMode: mapconfig.ToleranceBoth, ToleranceValue: 5}
	cfg := &ClassConfig{ClassType: ClassOther, JumpKey: 0x2C, DoubleJumpUpAllowed: true}
	sampled := false
	sample := func() (Point, bool) {
		sampled = true
		return Point{X: 100, Y: 0}, true
	}
	ok, err := c.NavigateTo(context.Background(), Point{X: 0, Y: 0}, target, cfg, nil, sample)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sampled)
	require.NotEmpty(t, w.sends)
}

func TestPressDurationScalesAndCaps(t *testing.T) {
	require.InDelta(t, 0.12, pressDuration(1), 1e-9)
	require.Less(t, pressDuration(10), pressDuration(49))
	require.Equal(t, 2.0, pressDuration(1000))
}
