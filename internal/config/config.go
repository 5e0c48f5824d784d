// Package config loads the daemon's own TOML settings file: socket path,
// storage directories, hotkeys, timing tunables, and the HID/capture
// device paths. The domain formats (recordings, map configs, CV items,
// detector config) stay JSON and are owned by their own packages; this
// package only covers macrod's top-level settings, using
// github.com/BurntSushi/toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds macrod's top-level settings.
type Config struct {
	SocketPath string `toml:"socket_path"`
	RecordDir  string `toml:"record_dir"`
	SkillsDir  string `toml:"skills_dir"`
	MapConfigPath string `toml:"map_config_path"`
	CVItemsPath   string `toml:"cv_items_path"`
	DetectorConfigPath string `toml:"detector_config_path"`
	EventLogPath string `toml:"event_log_path"`
	RecordIndexPath string `toml:"record_index_path"`

	EvdevPath     string `toml:"evdev_path"`
	HIDGadgetPath string `toml:"hid_gadget_path"`

	StopHotkey   string `toml:"stop_hotkey"`
	RecordHotkey string `toml:"record_hotkey"`

	ChoiceSaveHotkey    string `toml:"choice_save_hotkey"`
	ChoicePlayHotkey    string `toml:"choice_play_hotkey"`
	ChoiceDiscardHotkey string `toml:"choice_discard_hotkey"`
	ChoiceTimeoutS      float64 `toml:"choice_timeout_s"`

	MinHoldS          float64 `toml:"min_hold_s"`
	MinRepeatSameKeyS float64 `toml:"min_repeat_same_key_s"`

	CaptureDevicePreference string `toml:"capture_device_preference"`
	CaptureJPEGQuality      int    `toml:"capture_jpeg_quality"`

	LogPath  string `toml:"log_path"`
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns macrod's documented defaults, grounded on
// msmacro/config.py's SETTINGS dataclass.
func DefaultConfig() *Config {
	base := BaseDir()
	return &Config{
		SocketPath:          "/run/macrod.sock",
		RecordDir:           filepath.Join(base, "recordings"),
		SkillsDir:           filepath.Join(base, "skills"),
		MapConfigPath:       filepath.Join(base, "map_configs.json"),
		CVItemsPath:         filepath.Join(base, "cv_items.json"),
		DetectorConfigPath:  filepath.Join(base, "detector.json"),
		EventLogPath:        "/run/macrod.events",
		RecordIndexPath:     filepath.Join(base, "recordings.index.db"),
		EvdevPath:           "",
		HIDGadgetPath:       "/dev/hidg0",
		StopHotkey:          "LALT+Q",
		RecordHotkey:        "LALT+R",
		ChoiceSaveHotkey:    "LCTRL+S",
		ChoicePlayHotkey:    "LCTRL+P",
		ChoiceDiscardHotkey: "LCTRL+D",
		ChoiceTimeoutS:      8.0,
		MinHoldS:            0.001,
		MinRepeatSameKeyS:   0.010,
		CaptureJPEGQuality:  70,
		LogPath:             filepath.Join(base, "macrod.log"),
		LogLevel:            "info",
	}
}

// BaseDir returns the base data directory for macrod's own files.
func BaseDir() string {
	if v := os.Getenv("MACROD_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/macrod"
	}
	return filepath.Join(home, ".macrod")
}

// DefaultConfigPath returns the default location of the settings file.
func DefaultConfigPath() string {
	return filepath.Join(BaseDir(), "macrod.toml")
}

// Load reads configuration from path, falling back to defaults for any
// field absent from the file. An absent file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that required fields are set and timings are sane.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path is required")
	}
	if c.RecordDir == "" {
		return fmt.Errorf("config: record_dir is required")
	}
	if c.MinHoldS < 0 || c.MinRepeatSameKeyS < 0 {
		return fmt.Errorf("config: timing tunables must be non-negative")
	}
	if c.ChoiceTimeoutS <= 0 {
		return fmt.Errorf("config: choice_timeout_s must be positive")
	}
	return nil
}

// EnsureDirectories creates every directory the config names.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.RecordDir,
		c.SkillsDir,
		filepath.Dir(c.MapConfigPath),
		filepath.Dir(c.CVItemsPath),
		filepath.Dir(c.DetectorConfigPath),
		filepath.Dir(c.EventLogPath),
		filepath.Dir(c.RecordIndexPath),
		filepath.Dir(c.LogPath),
		filepath.Dir(c.SocketPath),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." || dir == "/" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	return nil
}
