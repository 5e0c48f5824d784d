package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hidrelay/macrod/internal/apperr"
	"github.com/hidrelay/macrod/internal/detector"
	"github.com/hidrelay/macrod/internal/security"
)

func loadDetectorConfig(data []byte, cfg *detector.Config) error {
	return json.Unmarshal(data, cfg)
}

// saveDetectorConfig persists the detector's active config as JSON, the
// format every other domain document in this daemon uses on disk.
func (d *Daemon) saveDetectorConfig() error {
	cfg := d.det.Config()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return apperr.Protocol("marshal detector config", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.DetectorConfigPath), 0o755); err != nil {
		return apperr.Transient("daemon: mkdir detector config dir", err)
	}
	if err := security.WriteSecureFile(d.cfg.DetectorConfigPath, data, 0o644); err != nil {
		return apperr.Transient("daemon: write detector config", err)
	}
	return nil
}

// exportDetectorConfigYAML renders the active detector config as YAML,
// for operators calibrating HSV ranges by hand outside the running
// daemon (object_detection_config_export).
func (d *Daemon) exportDetectorConfigYAML() ([]byte, error) {
	cfg := d.det.Config()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, apperr.Protocol("marshal detector config as yaml", err)
	}
	return data, nil
}
