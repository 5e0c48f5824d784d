package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().StopHotkey, cfg.StopHotkey)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macrod.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
socket_path = "/tmp/custom.sock"
stop_hotkey = "LCTRL+ESC"
min_hold_s = 0.005
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	require.Equal(t, "LCTRL+ESC", cfg.StopHotkey)
	require.Equal(t, 0.005, cfg.MinHoldS)
	require.Equal(t, DefaultConfig().RecordDir, cfg.RecordDir)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketPath = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ChoiceTimeoutS = 0
	require.Error(t, cfg.Validate())
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.RecordDir = filepath.Join(base, "recordings")
	cfg.SkillsDir = filepath.Join(base, "skills")
	cfg.MapConfigPath = filepath.Join(base, "cfg", "maps.json")
	cfg.CVItemsPath = filepath.Join(base, "cfg", "cv.json")
	cfg.DetectorConfigPath = filepath.Join(base, "cfg", "detector.json")
	cfg.EventLogPath = filepath.Join(base, "log", "events.log")
	cfg.LogPath = filepath.Join(base, "log", "macrod.log")
	cfg.SocketPath = filepath.Join(base, "run", "macrod.sock")

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{"recordings", "skills", "cfg", "log", "run"} {
		info, err := os.Stat(filepath.Join(base, dir))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}
