package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDevNode(t *testing.T, devDir string, index int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "video"+itoa(index)), nil, 0o644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestListVideoDevicesReadsNameFromSysfs(t *testing.T) {
	devDir := t.TempDir()
	sysDir := t.TempDir()
	writeDevNode(t, devDir, 0)
	writeDevNode(t, devDir, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(sysDir, "video0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sysDir, "video0", "name"), []byte("USB2.0 HDMI Capture\n"), 0o644))

	devices, err := ListVideoDevices(devDir, sysDir)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Equal(t, "USB2.0 HDMI Capture", devices[0].Name)
	require.Equal(t, 0, devices[0].Index)
	require.Equal(t, 1, devices[1].Index)
}

func TestListVideoDevicesMissingDirReturnsEmpty(t *testing.T) {
	devices, err := ListVideoDevices(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestOrderByPriorityPrefersHDMIAndCaptureNamed(t *testing.T) {
	devices := []Device{
		{Path: "/dev/video2", Index: 2, Name: "UVC Webcam"},
		{Path: "/dev/video0", Index: 0, Name: "USB HDMI Capture"},
		{Path: "/dev/video1", Index: 1, Name: "Generic capture"},
	}
	ordered := OrderByPriority(devices)
	require.Equal(t, "/dev/video0", ordered[0].Path)
	require.Equal(t, "/dev/video1", ordered[1].Path)
	require.Equal(t, "/dev/video2", ordered[2].Path)
}

func TestBuildCandidatesPutsEnvMatchFirst(t *testing.T) {
	devices := []Device{
		{Path: "/dev/video0", Index: 0, Name: "HDMI Capture"},
		{Path: "/dev/video2", Index: 2, Name: "Elgato"},
	}
	candidates := BuildCandidates(devices, "2")
	require.Equal(t, "/dev/video2", candidates[0].Path)
	require.Len(t, candidates, 2)
}

func TestBuildCandidatesMatchesByPath(t *testing.T) {
	devices := []Device{
		{Path: "/dev/video0", Index: 0, Name: "HDMI Capture"},
		{Path: "/dev/video1", Index: 1, Name: "Elgato"},
	}
	candidates := BuildCandidates(devices, "/dev/video1")
	require.Equal(t, "/dev/video1", candidates[0].Path)
}

func TestBuildCandidatesMatchesByNameSubstring(t *testing.T) {
	devices := []Device{
		{Path: "/dev/video0", Index: 0, Name: "HDMI Capture"},
		{Path: "/dev/video1", Index: 1, Name: "Elgato Cam Link"},
	}
	candidates := BuildCandidates(devices, "elgato")
	require.Equal(t, "/dev/video1", candidates[0].Path)
}

func TestValidateAccessFalseForMissingPath(t *testing.T) {
	require.False(t, ValidateAccess(filepath.Join(t.TempDir(), "nope")))
}

func TestValidateAccessTrueForReadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video0")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.True(t, ValidateAccess(path))
}
