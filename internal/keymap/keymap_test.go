package keymap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsageFromECode(t *testing.T) {
	require.Equal(t, uint8(4), UsageFromECode(KeyA))
	require.Equal(t, uint8(224), UsageFromECode(KeyLeftCtrl))
	require.Equal(t, uint8(0), UsageFromECode(99999))
}

func TestParseHotkeyValid(t *testing.T) {
	mod, key, err := ParseHotkey("LCTRL+Q")
	require.NoError(t, err)
	require.Equal(t, KeyLeftCtrl, mod)
	require.Equal(t, KeyQ, key)
}

func TestParseHotkeyRejectsTwoModifiers(t *testing.T) {
	_, _, err := ParseHotkey("LCTRL+LALT")
	require.Error(t, err)
}

func TestParseHotkeyRejectsMalformed(t *testing.T) {
	_, _, err := ParseHotkey("LCTRLQ")
	require.Error(t, err)
}

func TestNameToUsage(t *testing.T) {
	require.Equal(t, uint8(44), NameToUsage("space"))
	require.Equal(t, uint8(0), NameToUsage(""))
	require.Equal(t, uint8(0), NameToUsage("NOPE"))
}

func TestModBitDistinctPerModifier(t *testing.T) {
	seen := map[uint8]bool{}
	for _, ec := range []int{KeyLeftCtrl, KeyLeftShift, KeyLeftAlt, KeyLeftMeta, KeyRightCtrl, KeyRightShift, KeyRightAlt, KeyRightMeta} {
		bit := ModBit(ec)
		require.False(t, seen[bit], "duplicate modifier bit %d", bit)
		seen[bit] = true
	}
}
