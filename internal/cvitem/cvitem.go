// Package cvitem stores CVItems: reusable bindings of a MapConfig name to
// a pathfinding configuration and a copy of its departure points. Grounded
// on msmacro/cv/cv_item.py's CVItem/CVItemManager.
package cvitem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hidrelay/macrod/internal/mapconfig"
	"github.com/hidrelay/macrod/internal/security"
)

// PathfindingConfig is the class-based pathfinding tuning carried by a
// CVItem, matching msmacro's pathfinding_config dict.
type PathfindingConfig struct {
	ClassType           string `json:"class_type,omitempty"`
	RopeLiftKey         string `json:"rope_lift_key,omitempty"`
	DiagonalMovementKey string `json:"diagonal_movement_key,omitempty"`
	DoubleJumpUpAllowed *bool  `json:"double_jump_up_allowed,omitempty"`
	YAxisJumpSkill      string `json:"y_axis_jump_skill,omitempty"`
	TeleportSkill       string `json:"teleport_skill,omitempty"`
}

// Item is a saved CV automation setup.
type Item struct {
	Name              string                         `json:"name"`
	MapConfigName     *string                        `json:"map_config_name"`
	PathfindingConfig PathfindingConfig               `json:"pathfinding_config"`
	DeparturePoints   []mapconfig.DeparturePoint      `json:"departure_points"`
	CreatedAt         float64                         `json:"created_at"`
	LastUsedAt        float64                         `json:"last_used_at"`
	IsActive          bool                            `json:"is_active"`
	Description       string                          `json:"description,omitempty"`
	Tags              []string                        `json:"tags,omitempty"`
}

// Validate reports whether i is complete enough to save/activate.
func (i Item) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("cv item name cannot be empty")
	}
	if i.MapConfigName == nil || *i.MapConfigName == "" {
		return fmt.Errorf("cv item must have a map configuration assigned")
	}
	if len(i.DeparturePoints) == 0 {
		return fmt.Errorf("cv item must have at least one departure point")
	}
	hasRotations := false
	for _, p := range i.DeparturePoints {
		if len(p.RotationPaths) > 0 {
			hasRotations = true
			break
		}
	}
	if !hasRotations {
		return fmt.Errorf("at least one departure point must have linked rotations")
	}
	if i.PathfindingConfig.ClassType != "" && i.PathfindingConfig.ClassType != "other" && i.PathfindingConfig.ClassType != "magician" {
		return fmt.Errorf("invalid pathfinding class_type %q", i.PathfindingConfig.ClassType)
	}
	return nil
}

type document struct {
	Items      []Item  `json:"cv_items"`
	ActiveItem *string `json:"active_item"`
}

// Manager owns the set of saved CVItems, persisted atomically to a single
// JSON file. Activating an item activates its referenced MapConfig.
type Manager struct {
	mu     sync.Mutex
	path   string
	items  map[string]Item
	active string

	maps *mapconfig.Manager
}

// NewManager loads (or creates) the cv-items file at path.
func NewManager(path string, maps *mapconfig.Manager) (*Manager, error) {
	m := &Manager{path: path, items: make(map[string]Item), maps: maps}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode cv items file: %w", err)
	}
	m.items = make(map[string]Item, len(doc.Items))
	for _, it := range doc.Items {
		m.items[it.Name] = it
	}
	if doc.ActiveItem != nil {
		m.active = *doc.ActiveItem
		if it, ok := m.items[m.active]; ok {
			it.IsActive = true
			m.items[m.active] = it
		}
	}
	return nil
}

func (m *Manager) saveLocked() error {
	items := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	var active *string
	if m.active != "" {
		active = &m.active
	}
	data, err := json.MarshalIndent(document{Items: items, ActiveItem: active}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return security.WriteSecureFile(m.path, data, 0o644)
}

// List returns every saved item, most-recently-used first.
func (m *Manager) List() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsedAt != out[j].LastUsedAt {
			return out[i].LastUsedAt > out[j].LastUsedAt
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// Get returns an item by name.
func (m *Manager) Get(name string) (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	return it, ok
}

// Active returns the currently-active item, if any.
func (m *Manager) Active() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return Item{}, false
	}
	it, ok := m.items[m.active]
	return it, ok
}

// Create saves a new item; fails if the name is already taken.
func (m *Manager) Create(it Item, now float64) error {
	if err := it.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[it.Name]; exists {
		return fmt.Errorf("cv item %q already exists", it.Name)
	}
	it.CreatedAt = now
	it.LastUsedAt = 0
	it.IsActive = false
	m.items[it.Name] = it
	return m.saveLocked()
}

// Update replaces an existing item, preserving CreatedAt/IsActive and
// handling a rename.
func (m *Manager) Update(name string, updated Item) error {
	if err := updated.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[name]
	if !ok {
		return fmt.Errorf("cv item %q not found", name)
	}
	updated.CreatedAt = existing.CreatedAt
	updated.IsActive = existing.IsActive
	if updated.Name != name {
		if _, conflict := m.items[updated.Name]; conflict {
			return fmt.Errorf("cv item %q already exists", updated.Name)
		}
		delete(m.items, name)
		if m.active == name {
			m.active = updated.Name
		}
	}
	m.items[updated.Name] = updated
	return m.saveLocked()
}

// Delete removes a CVItem by name; the active item cannot be deleted.
func (m *Manager) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[name]; !ok {
		return false, nil
	}
	if name == m.active {
		return false, fmt.Errorf("cannot delete active cv item %q", name)
	}
	delete(m.items, name)
	return true, m.saveLocked()
}

// Activate activates name, which in turn activates its referenced
// MapConfig via the shared mapconfig.Manager.
func (m *Manager) Activate(name string, now float64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return Item{}, fmt.Errorf("cv item %q not found", name)
	}
	if it.MapConfigName == nil || *it.MapConfigName == "" {
		return Item{}, fmt.Errorf("cv item %q has no map config assigned", name)
	}
	if _, err := m.maps.Activate(*it.MapConfigName, now); err != nil {
		return Item{}, fmt.Errorf("activate map config %q: %w", *it.MapConfigName, err)
	}
	if m.active != "" && m.active != name {
		if prev, ok := m.items[m.active]; ok {
			prev.IsActive = false
			m.items[m.active] = prev
		}
	}
	it.IsActive = true
	it.LastUsedAt = now
	m.items[name] = it
	m.active = name
	return it, m.saveLocked()
}

// Deactivate clears the active item and its map config.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		if it, ok := m.items[m.active]; ok {
			it.IsActive = false
			m.items[m.active] = it
		}
	}
	m.active = ""
	if err := m.maps.Deactivate(); err != nil {
		return err
	}
	return m.saveLocked()
}

// HandleMapConfigDeleted nulls MapConfigName on every item referencing
// the deleted config, without deleting the items themselves.
func (m *Manager) HandleMapConfigDeleted(mapConfigName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for name, it := range m.items {
		if it.MapConfigName != nil && *it.MapConfigName == mapConfigName {
			it.MapConfigName = nil
			m.items[name] = it
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.saveLocked()
}
