package detector

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hidrelay/macrod/internal/security"
)

// LoadConfigJSON reads a Config from a JSON file (the IPC
// object_detection_config/config_save round-trip format), falling
// back to DefaultConfig if the file does not exist.
func LoadConfigJSON(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfigJSON atomically persists cfg as JSON.
func SaveConfigJSON(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return security.WriteSecureFile(path, data, 0o644)
}

// ExportConfigYAML renders cfg as YAML for the object_detection_config_export
// IPC command, which hands operators a human-editable calibration file.
func ExportConfigYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
