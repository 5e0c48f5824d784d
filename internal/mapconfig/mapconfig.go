// Package mapconfig stores saved minimap capture rectangles and their
// ordered departure points, and implements the seven hit-tolerance
// predicates used by the navigator. Grounded on
// msmacro/cv/map_config.py's MapConfig/DeparturePoint/MapConfigManager.
package mapconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/hidrelay/macrod/internal/logging"
	"github.com/hidrelay/macrod/internal/security"
)

// ToleranceMode selects a DeparturePoint hit predicate.
type ToleranceMode string

const (
	ToleranceYAxis    ToleranceMode = "y_axis"
	ToleranceXAxis    ToleranceMode = "x_axis"
	ToleranceYGreater ToleranceMode = "y_greater"
	ToleranceYLess    ToleranceMode = "y_less"
	ToleranceXGreater ToleranceMode = "x_greater"
	ToleranceXLess    ToleranceMode = "x_less"
	ToleranceBoth     ToleranceMode = "both"
)

// RotationMode selects how SelectRotation picks among a point's linked
// rotation recordings.
type RotationMode string

const (
	RotationRandom     RotationMode = "random"
	RotationSequential RotationMode = "sequential"
	RotationSingle     RotationMode = "single"
)

// DeparturePoint is a waypoint on the minimap bound to a hit predicate
// and a set of rotation recordings.
type DeparturePoint struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	X                   int           `json:"x"`
	Y                   int           `json:"y"`
	Order               int           `json:"order"`
	ToleranceMode       ToleranceMode `json:"tolerance_mode"`
	ToleranceValue      int           `json:"tolerance_value"`
	CreatedAt           float64       `json:"created_at"`
	RotationPaths       []string      `json:"rotation_paths"`
	RotationMode        RotationMode  `json:"rotation_mode"`
	IsTeleportPoint     bool          `json:"is_teleport_point"`
	AutoPlay            bool          `json:"auto_play"`
	PathfindingSequence *string       `json:"pathfinding_sequence,omitempty"`
}

// CheckHit reports whether (cx, cy) satisfies p's tolerance predicate.
func (p DeparturePoint) CheckHit(cx, cy int) bool {
	t := p.ToleranceValue
	switch p.ToleranceMode {
	case ToleranceYAxis:
		return absInt(cy-p.Y) <= t
	case ToleranceXAxis:
		return absInt(cx-p.X) <= t
	case ToleranceYGreater:
		return cy > p.Y
	case ToleranceYLess:
		return cy < p.Y
	case ToleranceXGreater:
		return cx > p.X
	case ToleranceXLess:
		return cx < p.X
	case ToleranceBoth:
		return absInt(cx-p.X) <= t && absInt(cy-p.Y) <= 4
	default:
		return false
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MapConfig is a saved minimap capture rectangle plus its ordered
// departure points.
type MapConfig struct {
	Name            string           `json:"name"`
	TLX             int              `json:"tl_x"`
	TLY             int              `json:"tl_y"`
	Width           int              `json:"width"`
	Height          int              `json:"height"`
	CreatedAt       float64          `json:"created_at"`
	LastUsedAt      float64          `json:"last_used_at"`
	IsActive        bool             `json:"is_active"`
	DeparturePoints []DeparturePoint `json:"departure_points"`
}

// Corners returns the four corner coordinates of the capture rectangle.
func (m MapConfig) Corners() (tl, tr, bl, br [2]int) {
	tl = [2]int{m.TLX, m.TLY}
	tr = [2]int{m.TLX + m.Width, m.TLY}
	bl = [2]int{m.TLX, m.TLY + m.Height}
	br = [2]int{m.TLX + m.Width, m.TLY + m.Height}
	return
}

// AddDeparturePoint appends a new point with the next sequential order.
func (m *MapConfig) AddDeparturePoint(x, y int, name string, mode ToleranceMode, value int, now float64) DeparturePoint {
	order := len(m.DeparturePoints)
	if name == "" {
		name = fmt.Sprintf("Point %d", order+1)
	}
	p := DeparturePoint{
		ID:             uuid.NewString(),
		Name:           name,
		X:              x,
		Y:              y,
		Order:          order,
		ToleranceMode:  mode,
		ToleranceValue: value,
		CreatedAt:      now,
		RotationMode:   RotationRandom,
		AutoPlay:       true,
	}
	m.DeparturePoints = append(m.DeparturePoints, p)
	return p
}

func (m *MapConfig) reorderIndices() {
	for i := range m.DeparturePoints {
		m.DeparturePoints[i].Order = i
	}
}

// RemoveDeparturePoint deletes a point by id, reindexing Order for the
// remainder.
func (m *MapConfig) RemoveDeparturePoint(id string) bool {
	for i, p := range m.DeparturePoints {
		if p.ID == id {
			m.DeparturePoints = append(m.DeparturePoints[:i], m.DeparturePoints[i+1:]...)
			m.reorderIndices()
			return true
		}
	}
	return false
}

// ReorderDeparturePoints reassigns point order from orderedIDs, failing
// if the id set doesn't match exactly.
func (m *MapConfig) ReorderDeparturePoints(orderedIDs []string) bool {
	if len(orderedIDs) != len(m.DeparturePoints) {
		return false
	}
	byID := make(map[string]DeparturePoint, len(m.DeparturePoints))
	for _, p := range m.DeparturePoints {
		byID[p.ID] = p
	}
	reordered := make([]DeparturePoint, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		p, ok := byID[id]
		if !ok {
			return false
		}
		reordered = append(reordered, p)
	}
	m.DeparturePoints = reordered
	m.reorderIndices()
	return true
}

// document is the on-disk shape of the map-config file.
type document struct {
	Configs      []MapConfig `json:"configs"`
	ActiveConfig *string     `json:"active_config"`
}

// Manager owns the set of saved configs and which one is active,
// persisted atomically to a single JSON file. Grounded on
// MapConfigManager; safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	path    string
	configs map[string]MapConfig
	active  string // "" if none
}

// NewManager loads (or creates) the map-config file at path.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, configs: make(map[string]MapConfig)}
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
		return fmt.Errorf("decode map config file: %w", err)
	}
	m.configs = make(map[string]MapConfig, len(doc.Configs))
	for _, c := range doc.Configs {
		m.configs[c.Name] = c
	}
	if doc.ActiveConfig != nil {
		m.active = *doc.ActiveConfig
		if c, ok := m.configs[m.active]; ok {
			c.IsActive = true
			m.configs[m.active] = c
		}
	}
	return nil
}

// Reload re-reads the file from disk, syncing in-memory state with
// configs modified externally.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Watch fires onChange every time the config file is written or
// recreated, whether by another process (e.g. a front-end editing the
// file directly, or the same file restored from a backup) or by this
// Manager's own saves, which it does not tell apart; it calls Reload first so callers can read updated state out of Manager
// immediately. It blocks until ctx is cancelled. Grounded on the
// teacher's use of fsnotify for live config reload; watches the parent
// directory rather than the file itself so the watch survives editors
// that write-temp-then-rename (the file's inode changes underneath the
// original watch).
func (m *Manager) Watch(ctx context.Context, log *logging.Logger, onChange func()) error {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("mapconfig-watch")

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mapconfig: prepare watch dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mapconfig: new watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("mapconfig: watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.Reload(); err != nil {
				log.Warn("reload after external change failed", "err", err)
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)
		}
	}
}

func (m *Manager) saveLocked() error {
	configs := make([]MapConfig, 0, len(m.configs))
	for _, c := range m.configs {
		configs = append(configs, c)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	var active *string
	if m.active != "" {
		active = &m.active
	}
	data, err := json.MarshalIndent(document{Configs: configs, ActiveConfig: active}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return security.WriteSecureFile(m.path, data, 0o644)
}

// List returns every saved config, sorted by (last-used, created) most
// recent first.
func (m *Manager) List() []MapConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MapConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsedAt != out[j].LastUsedAt {
			return out[i].LastUsedAt > out[j].LastUsedAt
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// Get returns a config by name.
func (m *Manager) Get(name string) (MapConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[name]
	return c, ok
}

// Active returns the currently-active config, if any.
func (m *Manager) Active() (MapConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return MapConfig{}, false
	}
	c, ok := m.configs[m.active]
	return c, ok
}

// Save inserts or updates a config, preserving CreatedAt for updates.
func (m *Manager) Save(c MapConfig, now float64) error {
	if c.Name == "" {
		return fmt.Errorf("map config name cannot be empty")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.TLX < 0 || c.TLY < 0 {
		return fmt.Errorf("invalid coordinates (%d,%d)", c.TLX, c.TLY)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.configs[c.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	m.configs[c.Name] = c
	return m.saveLocked()
}

// Delete removes a config by name; the active config cannot be deleted.
func (m *Manager) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[name]; !ok {
		return false, nil
	}
	if name == m.active {
		return false, fmt.Errorf("cannot delete active config %q", name)
	}
	delete(m.configs, name)
	return true, m.saveLocked()
}

// Activate marks name as the sole active config.
func (m *Manager) Activate(name string, now float64) (MapConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[name]
	if !ok {
		return MapConfig{}, fmt.Errorf("map config %q not found", name)
	}
	if m.active != "" && m.active != name {
		if prev, ok := m.configs[m.active]; ok {
			prev.IsActive = false
			m.configs[m.active] = prev
		}
	}
	c.IsActive = true
	c.LastUsedAt = now
	m.configs[name] = c
	m.active = name
	return c, m.saveLocked()
}

// Deactivate clears the active config (full-screen detection resumes).
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		if c, ok := m.configs[m.active]; ok {
			c.IsActive = false
			m.configs[m.active] = c
		}
	}
	m.active = ""
	return m.saveLocked()
}

// SelectRotation picks a rotation path from p's linked list according to
// its RotationMode. cursor is an external, caller-owned per-point
// sequential cursor (incremented by the caller after use); it is ignored
// in random/single modes.
func SelectRotation(p DeparturePoint, cursor int, rng func(n int) int) (string, bool) {
	if len(p.RotationPaths) == 0 {
		return "", false
	}
	switch p.RotationMode {
	case RotationSingle:
		return p.RotationPaths[0], true
	case RotationSequential:
		return p.RotationPaths[cursor%len(p.RotationPaths)], true
	default: // random
		return p.RotationPaths[rng(len(p.RotationPaths))], true
	}
}
