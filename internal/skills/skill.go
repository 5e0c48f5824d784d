// Package skills implements skill configuration CRUD storage and the
// cascaded skill-injection gate machine used during playback. Grounded on
// msmacro/core/skills.py (SkillConfig/SkillManager) and
// msmacro/core/skill_injector.py (SkillInjector).
package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hidrelay/macrod/internal/security"
)

// Config is a single CD-skill configuration, addressed by an opaque id and
// persisted as one JSON file per skill. Grounded on
// msmacro/core/skills.py's SkillConfig.
//
// CastPosition and SkillDelay are not present in the source dataclass but
// are referenced by its skill_injector.py cascade (config.cast_position,
// config.skill_delay); this module treats them as skill-level tunables
// with defaults, the same reading msmacro's runtime must have relied on.
type Config struct {
	ID                          string  `json:"id"`
	Name                        string  `json:"name"`
	Keystroke                   string  `json:"keystroke"`
	Cooldown                    float64 `json:"cooldown"`
	KeyReplacement              bool    `json:"keyReplacement"`
	ReplaceRate                 float64 `json:"replaceRate"`
	FrozenRotationDuringCasting bool    `json:"frozenRotationDuringCasting"`
	IsSelected                  bool    `json:"isSelected"`
	Order                       int     `json:"order"`
	GroupID                     string  `json:"groupId,omitempty"`
	DelayAfter                  float64 `json:"delayAfter"`
	CastPosition                float64 `json:"castPosition"`
	SkillDelay                  float64 `json:"skillDelay"`
}

// DefaultConfig returns a Config with the injector's documented default
// tunables (cast_position ~= 0.3s of opposite-arrow dwell, skill_delay
// ~= 0.5s post-cast pause).
func DefaultConfig() Config {
	return Config{
		Cooldown:     120,
		ReplaceRate:  0.7,
		CastPosition: 0.3,
		SkillDelay:   0.5,
	}
}

// Manager manages skill configurations stored as one JSON file per skill
// under a directory, matching msmacro/core/skills.py's SkillManager.
type Manager struct {
	dir string
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{dir: dir}, nil
}

func safeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, safeID(id)+".json")
}

// List returns every stored skill, sorted by name (case-insensitive).
func (m *Manager) List() ([]Config, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var out []Config
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var c Config
		if json.Unmarshal(data, &c) != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Get returns a single skill by id, or ok=false if it does not exist.
func (m *Manager) Get(id string) (Config, bool) {
	data, err := os.ReadFile(m.path(id))
	if err != nil {
		return Config{}, false
	}
	var c Config
	if json.Unmarshal(data, &c) != nil {
		return Config{}, false
	}
	return c, true
}

// Save persists c, assigning a new UUID id if none is set.
func (m *Manager) Save(c Config) (Config, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return Config{}, err
	}
	if err := security.WriteSecureFile(m.path(c.ID), data, 0o644); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Update merges updates (a JSON-decoded partial document) onto the
// existing skill and re-saves it; the merged fields are not validated.
func (m *Manager) Update(id string, updates map[string]any) (Config, bool, error) {
	existing, ok := m.Get(id)
	if !ok {
		return Config{}, false, nil
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return Config{}, false, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(merged, &asMap); err != nil {
		return Config{}, false, err
	}
	for k, v := range updates {
		asMap[k] = v
	}
	remerged, err := json.Marshal(asMap)
	if err != nil {
		return Config{}, false, err
	}
	var updated Config
	if err := json.Unmarshal(remerged, &updated); err != nil {
		return Config{}, false, err
	}
	saved, err := m.Save(updated)
	return saved, true, err
}

// Delete removes a skill by id, returning false if it did not exist.
func (m *Manager) Delete(id string) bool {
	err := os.Remove(m.path(id))
	return err == nil
}

// Selected returns every skill with IsSelected set.
func (m *Manager) Selected() ([]Config, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []Config
	for _, c := range all {
		if c.IsSelected {
			out = append(out, c)
		}
	}
	return out, nil
}

// Reorder assigns Order = index for each id in orderedIDs, in the order
// given, matching the map_config/skills reorder_skills IPC command.
func (m *Manager) Reorder(orderedIDs []string) error {
	for i, id := range orderedIDs {
		c, ok := m.Get(id)
		if !ok {
			return fmt.Errorf("unknown skill id %q", id)
		}
		c.Order = i
		if _, err := m.Save(c); err != nil {
			return err
		}
	}
	return nil
}
