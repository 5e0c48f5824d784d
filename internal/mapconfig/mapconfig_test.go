package mapconfig

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckHitModes(t *testing.T) {
	base := DeparturePoint{X: 100, Y: 200, ToleranceValue: 5}

	cases := []struct {
		mode    ToleranceMode
		cx, cy  int
		want    bool
	}{
		{ToleranceYAxis, 999, 203, true},
		{ToleranceYAxis, 999, 210, false},
		{ToleranceXAxis, 104, 999, true},
		{ToleranceXAxis, 120, 999, false},
		{ToleranceYGreater, 0, 201, true},
		{ToleranceYGreater, 0, 199, false},
		{ToleranceYLess, 0, 199, true},
		{ToleranceYLess, 0, 201, false},
		{ToleranceXGreater, 101, 0, true},
		{ToleranceXGreater, 99, 0, false},
		{ToleranceXLess, 99, 0, true},
		{ToleranceXLess, 101, 0, false},
		{ToleranceBoth, 103, 203, true},  // within x tol(5) and hardcoded y tol(4)
		{ToleranceBoth, 103, 210, false}, // within x tol but outside hardcoded y tol
		{ToleranceBoth, 110, 202, false}, // outside x tol
	}
	for _, c := range cases {
		p := base
		p.ToleranceMode = c.mode
		require.Equalf(t, c.want, p.CheckHit(c.cx, c.cy), "mode=%s cx=%d cy=%d", c.mode, c.cx, c.cy)
	}
}

func TestAddRemoveReorderDeparturePoints(t *testing.T) {
	m := MapConfig{Name: "dungeon", Width: 100, Height: 100}
	p1 := m.AddDeparturePoint(1, 1, "", ToleranceBoth, 5, 1.0)
	p2 := m.AddDeparturePoint(2, 2, "", ToleranceBoth, 5, 2.0)
	require.Equal(t, "Point 1", p1.Name)
	require.Equal(t, "Point 2", p2.Name)
	require.Equal(t, 0, p1.Order)
	require.Equal(t, 1, p2.Order)

	ok := m.ReorderDeparturePoints([]string{p2.ID, p1.ID})
	require.True(t, ok)
	require.Equal(t, p2.ID, m.DeparturePoints[0].ID)
	require.Equal(t, 0, m.DeparturePoints[0].Order)
	require.Equal(t, 1, m.DeparturePoints[1].Order)

	require.True(t, m.RemoveDeparturePoint(p2.ID))
	require.Len(t, m.DeparturePoints, 1)
	require.Equal(t, 0, m.DeparturePoints[0].Order)
	require.False(t, m.RemoveDeparturePoint("missing"))
}

func TestManagerSaveActivateDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(filepath.Join(dir, "map_configs.json"))
	require.NoError(t, err)

	cfg := MapConfig{Name: "alpha", TLX: 10, TLY: 10, Width: 200, Height: 150}
	require.NoError(t, mgr.Save(cfg, 100.0))

	got, ok := mgr.Get("alpha")
	require.True(t, ok)
	require.Equal(t, 100.0, got.CreatedAt)

	require.NoError(t, mgr.Save(got, 150.0)) // update preserves CreatedAt
	got2, _ := mgr.Get("alpha")
	require.Equal(t, 100.0, got2.CreatedAt)

	_, err = mgr.Activate("alpha", 200.0)
	require.NoError(t, err)
	active, ok := mgr.Active()
	require.True(t, ok)
	require.Equal(t, "alpha", active.Name)
	require.True(t, active.IsActive)
	require.Equal(t, 200.0, active.LastUsedAt)

	_, err = mgr.Delete("alpha")
	require.Error(t, err, "deleting the active config must fail")

	require.NoError(t, mgr.Deactivate())
	ok2, err := mgr.Delete("alpha")
	require.NoError(t, err)
	require.True(t, ok2)

	// reload from disk confirms persistence
	mgr2, err := NewManager(filepath.Join(dir, "map_configs.json"))
	require.NoError(t, err)
	_, ok = mgr2.Get("alpha")
	require.False(t, ok)
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(filepath.Join(dir, "map_configs.json"))
	require.NoError(t, err)

	require.Error(t, mgr.Save(MapConfig{Name: "", Width: 1, Height: 1}, 0))
	require.Error(t, mgr.Save(MapConfig{Name: "x", Width: 0, Height: 1}, 0))
	require.Error(t, mgr.Save(MapConfig{Name: "x", Width: 1, Height: 1, TLX: -1}, 0))
}

func TestSelectRotation(t *testing.T) {
	p := DeparturePoint{RotationPaths: []string{"a", "b", "c"}, RotationMode: RotationSequential}
	v, ok := SelectRotation(p, 4, nil)
	require.True(t, ok)
	require.Equal(t, "b", v) // 4 % 3 == 1

	p.RotationMode = RotationSingle
	v, ok = SelectRotation(p, 4, nil)
	require.True(t, ok)
	require.Equal(t, "a", v)

	p.RotationMode = RotationRandom
	v, ok = SelectRotation(p, 0, func(n int) int { return 2 })
	require.True(t, ok)
	require.Equal(t, "c", v)

	empty := DeparturePoint{}
	_, ok = SelectRotation(empty, 0, nil)
	require.False(t, ok)
}

func TestWatchReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map_configs.json")

	writer, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, writer.Save(MapConfig{Name: "alpha", Width: 10, Height: 10}, 1))

	reader, err := NewManager(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	go reader.Watch(ctx, nil, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	require.NoError(t, writer.Save(MapConfig{Name: "beta", Width: 20, Height: 20}, 2))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the external write")
	}

	_, ok := reader.Get("beta")
	require.True(t, ok, "reader should have reloaded beta from the external write")
}
