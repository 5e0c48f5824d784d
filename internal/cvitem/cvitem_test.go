package cvitem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hidrelay/macrod/internal/mapconfig"
)

func newTestManagers(t *testing.T) (*mapconfig.Manager, *Manager) {
	t.Helper()
	dir := t.TempDir()
	maps, err := mapconfig.NewManager(filepath.Join(dir, "map_configs.json"))
	require.NoError(t, err)
	cv, err := NewManager(filepath.Join(dir, "cv_items.json"), maps)
	require.NoError(t, err)
	return maps, cv
}

func withRotations(mc mapconfig.MapConfig) mapconfig.MapConfig {
	p := mc.AddDeparturePoint(10, 10, "p1", mapconfig.ToleranceBoth, 5, 1.0)
	p.RotationPaths = []string{"grind.json"}
	mc.DeparturePoints[0] = p
	return mc
}

func TestCreateValidatesFields(t *testing.T) {
	_, cv := newTestManagers(t)

	err := cv.Create(Item{Name: ""}, 1.0)
	require.Error(t, err)

	name := "dungeon"
	err = cv.Create(Item{Name: "x", MapConfigName: &name}, 1.0)
	require.ErrorContains(t, err, "departure point")
}

func TestActivateActivatesMapConfig(t *testing.T) {
	maps, cv := newTestManagers(t)

	mc := withRotations(mapconfig.MapConfig{Name: "dungeon", Width: 100, Height: 100})
	require.NoError(t, maps.Save(mc, 1.0))
	mc, _ = maps.Get("dungeon")

	name := "dungeon"
	item := Item{Name: "grind-route", MapConfigName: &name, DeparturePoints: mc.DeparturePoints}
	require.NoError(t, cv.Create(item, 2.0))

	activated, err := cv.Activate("grind-route", 3.0)
	require.NoError(t, err)
	require.True(t, activated.IsActive)

	active, ok := maps.Active()
	require.True(t, ok)
	require.Equal(t, "dungeon", active.Name)
}

func TestDeleteMapConfigClearsReference(t *testing.T) {
	maps, cv := newTestManagers(t)
	mc := withRotations(mapconfig.MapConfig{Name: "dungeon", Width: 100, Height: 100})
	require.NoError(t, maps.Save(mc, 1.0))
	mc, _ = maps.Get("dungeon")

	name := "dungeon"
	require.NoError(t, cv.Create(Item{Name: "route", MapConfigName: &name, DeparturePoints: mc.DeparturePoints}, 1.0))

	require.NoError(t, cv.HandleMapConfigDeleted("dungeon"))

	it, ok := cv.Get("route")
	require.True(t, ok)
	require.Nil(t, it.MapConfigName)
}

func TestDeleteActiveItemFails(t *testing.T) {
	maps, cv := newTestManagers(t)
	mc := withRotations(mapconfig.MapConfig{Name: "dungeon", Width: 100, Height: 100})
	require.NoError(t, maps.Save(mc, 1.0))
	mc, _ = maps.Get("dungeon")

	name := "dungeon"
	require.NoError(t, cv.Create(Item{Name: "route", MapConfigName: &name, DeparturePoints: mc.DeparturePoints}, 1.0))
	_, err := cv.Activate("route", 2.0)
	require.NoError(t, err)

	ok, err := cv.Delete("route")
	require.False(t, ok)
	require.Error(t, err)
}
