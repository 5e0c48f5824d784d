// Package keymap provides bidirectional mapping between Linux evdev key
// codes, user-visible hotkey/key names, and HID boot-keyboard usage IDs
// (including the 224-231 modifier block and its 8-bit mask). Grounded on
// msmacro/utils/keymap.py; evdev code values cross-checked against
// _examples/other_examples' evdev_common.go and go-hidproxy Scancodes
// tables.
package keymap

import (
	"fmt"
	"strings"
)

// Linux evdev key codes (linux/input-event-codes.h), the subset this
// appliance needs to translate to HID usages.
const (
	KeyEsc        = 1
	Key1          = 2
	Key2          = 3
	Key3          = 4
	Key4          = 5
	Key5          = 6
	Key6          = 7
	Key7          = 8
	Key8          = 9
	Key9          = 10
	Key0          = 11
	KeyMinus      = 12
	KeyEqual      = 13
	KeyBackspace  = 14
	KeyTab        = 15
	KeyQ          = 16
	KeyW          = 17
	KeyE          = 18
	KeyR          = 19
	KeyT          = 20
	KeyY          = 21
	KeyU          = 22
	KeyI          = 23
	KeyO          = 24
	KeyP          = 25
	KeyLeftBrace  = 26
	KeyRightBrace = 27
	KeyEnter      = 28
	KeyLeftCtrl   = 29
	KeyA          = 30
	KeyS          = 31
	KeyD          = 32
	KeyF          = 33
	KeyG          = 34
	KeyH          = 35
	KeyJ          = 36
	KeyK          = 37
	KeyL          = 38
	KeySemicolon  = 39
	KeyApostrophe = 40
	KeyGrave      = 41
	KeyLeftShift  = 42
	KeyBackslash  = 43
	KeyZ          = 44
	KeyX          = 45
	KeyC          = 46
	KeyV          = 47
	KeyB          = 48
	KeyN          = 49
	KeyM          = 50
	KeyComma      = 51
	KeyDot        = 52
	KeySlash      = 53
	KeyRightShift = 54
	KeyKPAsterisk = 55
	KeyLeftAlt    = 56
	KeySpace      = 57
	KeyCapsLock   = 58
	KeyF1         = 59
	KeyF2         = 60
	KeyF3         = 61
	KeyF4         = 62
	KeyF5         = 63
	KeyF6         = 64
	KeyF7         = 65
	KeyF8         = 66
	KeyF9         = 67
	KeyF10        = 68
	KeyNumLock    = 69
	KeyScrollLock = 70
	KeyKP7        = 71
	KeyKP8        = 72
	KeyKP9        = 73
	KeyKPMinus    = 74
	KeyKP4        = 75
	KeyKP5        = 76
	KeyKP6        = 77
	KeyKPPlus     = 78
	KeyKP1        = 79
	KeyKP2        = 80
	KeyKP3        = 81
	KeyKP0        = 82
	KeyKPDot      = 83
	Key102ND      = 86
	KeyF11        = 87
	KeyF12        = 88
	KeyKPEnter    = 96
	KeyRightCtrl  = 97
	KeyKPSlash    = 98
	KeyRightAlt   = 100
	KeyHome       = 102
	KeyUp         = 103
	KeyPageUp     = 104
	KeyLeft       = 105
	KeyRight      = 106
	KeyEnd        = 107
	KeyDown       = 108
	KeyPageDown   = 109
	KeyInsert     = 110
	KeyDelete     = 111
	KeyPause      = 119
	KeyLeftMeta   = 125
	KeyRightMeta  = 126
	KeyMenu       = 127
	KeyPower      = 116
	KeySleep      = 142
	KeyPrint      = 210
	KeyF13        = 183
	KeyF14        = 184
	KeyF15        = 185
	KeyF16        = 186
	KeyF17        = 187
	KeyF18        = 188
	KeyF19        = 189
	KeyF20        = 190
	KeyF21        = 191
	KeyF22        = 192
	KeyF23        = 193
	KeyF24        = 194
)

// ModBits maps a modifier evdev code to its bit in the HID report's byte-0
// mask.
var ModBits = map[int]uint8{
	KeyLeftCtrl:   1 << 0,
	KeyLeftShift:  1 << 1,
	KeyLeftAlt:    1 << 2,
	KeyLeftMeta:   1 << 3,
	KeyRightCtrl:  1 << 4,
	KeyRightShift: 1 << 5,
	KeyRightAlt:   1 << 6,
	KeyRightMeta:  1 << 7,
}

// ModUsage maps a modifier evdev code to its HID usage ID (224-231).
var ModUsage = map[int]uint8{
	KeyLeftCtrl:   224,
	KeyLeftShift:  225,
	KeyLeftAlt:    226,
	KeyLeftMeta:   227,
	KeyRightCtrl:  228,
	KeyRightShift: 229,
	KeyRightAlt:   230,
	KeyRightMeta:  231,
}

// HIDUsage maps non-modifier evdev codes to HID boot-keyboard usage IDs.
var HIDUsage = map[int]uint8{
	KeyA: 4, KeyB: 5, KeyC: 6, KeyD: 7, KeyE: 8,
	KeyF: 9, KeyG: 10, KeyH: 11, KeyI: 12, KeyJ: 13,
	KeyK: 14, KeyL: 15, KeyM: 16, KeyN: 17, KeyO: 18,
	KeyP: 19, KeyQ: 20, KeyR: 21, KeyS: 22, KeyT: 23,
	KeyU: 24, KeyV: 25, KeyW: 26, KeyX: 27, KeyY: 28,
	KeyZ: 29,
	Key1: 30, Key2: 31, Key3: 32, Key4: 33, Key5: 34,
	Key6: 35, Key7: 36, Key8: 37, Key9: 38, Key0: 39,
	KeyEnter: 40, KeyEsc: 41, KeyBackspace: 42, KeyTab: 43,
	KeySpace: 44, KeyMinus: 45, KeyEqual: 46, KeyLeftBrace: 47,
	KeyRightBrace: 48, KeyBackslash: 49, KeySemicolon: 51,
	KeyApostrophe: 52, KeyGrave: 53, KeyComma: 54, KeyDot: 55,
	KeySlash: 56, KeyCapsLock: 57,
	KeyF1: 58, KeyF2: 59, KeyF3: 60, KeyF4: 61, KeyF5: 62,
	KeyF6: 63, KeyF7: 64, KeyF8: 65, KeyF9: 66, KeyF10: 67,
	KeyF11: 68, KeyF12: 69,
	KeyPrint: 70, KeyScrollLock: 71, KeyPause: 72, KeyInsert: 73,
	KeyHome: 74, KeyPageUp: 75, KeyDelete: 76, KeyEnd: 77,
	KeyPageDown: 78, KeyRight: 79, KeyLeft: 80, KeyDown: 81,
	KeyUp: 82,
	KeyNumLock: 83, KeyKPSlash: 84, KeyKPAsterisk: 85, KeyKPMinus: 86,
	KeyKPPlus: 87, KeyKPEnter: 88, KeyKP1: 89, KeyKP2: 90,
	KeyKP3: 91, KeyKP4: 92, KeyKP5: 93, KeyKP6: 94,
	KeyKP7: 95, KeyKP8: 96, KeyKP9: 97, KeyKP0: 98,
	KeyKPDot: 99,
	KeyF13: 104, KeyF14: 105, KeyF15: 106, KeyF16: 107,
	KeyF17: 108, KeyF18: 109, KeyF19: 110, KeyF20: 111,
	KeyF21: 112, KeyF22: 113, KeyF23: 114, KeyF24: 115,
	KeyMenu: 118, KeyPower: 102, KeySleep: 248,
	Key102ND: 100,
}

// NameToECode maps a user-friendly key/modifier name to its evdev code.
var NameToECode = buildNameToECode()

func buildNameToECode() map[string]int {
	m := map[string]int{
		"LCTRL": KeyLeftCtrl, "LSHIFT": KeyLeftShift,
		"LALT": KeyLeftAlt, "LGUI": KeyLeftMeta,
		"RCTRL": KeyRightCtrl, "RSHIFT": KeyRightShift,
		"RALT": KeyRightAlt, "RGUI": KeyRightMeta,
		"A": KeyA, "B": KeyB, "C": KeyC, "D": KeyD,
		"E": KeyE, "F": KeyF, "G": KeyG, "H": KeyH,
		"I": KeyI, "J": KeyJ, "K": KeyK, "L": KeyL,
		"M": KeyM, "N": KeyN, "O": KeyO, "P": KeyP,
		"Q": KeyQ, "R": KeyR, "S": KeyS, "T": KeyT,
		"U": KeyU, "V": KeyV, "W": KeyW, "X": KeyX,
		"Y": KeyY, "Z": KeyZ,
		"1": Key1, "2": Key2, "3": Key3, "4": Key4,
		"5": Key5, "6": Key6, "7": Key7, "8": Key8,
		"9": Key9, "0": Key0,
		"ENTER": KeyEnter, "RETURN": KeyEnter,
		"ESCAPE": KeyEsc, "ESC": KeyEsc,
		"BACKSPACE": KeyBackspace, "TAB": KeyTab, "SPACE": KeySpace,
		"MINUS": KeyMinus, "-": KeyMinus,
		"EQUAL": KeyEqual, "=": KeyEqual,
		"LEFTBRACE": KeyLeftBrace, "[": KeyLeftBrace,
		"RIGHTBRACE": KeyRightBrace, "]": KeyRightBrace,
		"BACKSLASH": KeyBackslash, "\\": KeyBackslash,
		"SEMICOLON": KeySemicolon, ";": KeySemicolon,
		"APOSTROPHE": KeyApostrophe, "'": KeyApostrophe,
		"GRAVE": KeyGrave, "`": KeyGrave,
		"COMMA": KeyComma, ",": KeyComma,
		"DOT": KeyDot, ".": KeyDot,
		"SLASH": KeySlash, "/": KeySlash,
		"CAPSLOCK": KeyCapsLock,
		"F1": KeyF1, "F2": KeyF2, "F3": KeyF3, "F4": KeyF4,
		"F5": KeyF5, "F6": KeyF6, "F7": KeyF7, "F8": KeyF8,
		"F9": KeyF9, "F10": KeyF10, "F11": KeyF11, "F12": KeyF12,
		"F13": KeyF13, "F14": KeyF14, "F15": KeyF15, "F16": KeyF16,
		"F17": KeyF17, "F18": KeyF18, "F19": KeyF19, "F20": KeyF20,
		"F21": KeyF21, "F22": KeyF22, "F23": KeyF23, "F24": KeyF24,
		"RIGHT": KeyRight, "LEFT": KeyLeft, "DOWN": KeyDown, "UP": KeyUp,
		"INSERT": KeyInsert, "HOME": KeyHome, "PAGEUP": KeyPageUp,
		"DELETE": KeyDelete, "END": KeyEnd, "PAGEDOWN": KeyPageDown,
		"PRINT": KeyPrint, "SCROLLLOCK": KeyScrollLock, "PAUSE": KeyPause,
		"NUMLOCK": KeyNumLock, "KP_SLASH": KeyKPSlash, "KP_ASTERISK": KeyKPAsterisk,
		"KP_MINUS": KeyKPMinus, "KP_PLUS": KeyKPPlus, "KP_ENTER": KeyKPEnter,
		"KP_1": KeyKP1, "KP_2": KeyKP2, "KP_3": KeyKP3,
		"KP_4": KeyKP4, "KP_5": KeyKP5, "KP_6": KeyKP6,
		"KP_7": KeyKP7, "KP_8": KeyKP8, "KP_9": KeyKP9,
		"KP_0": KeyKP0, "KP_DOT": KeyKPDot,
		"MENU": KeyMenu, "POWER": KeyPower, "SLEEP": KeySleep,
	}
	m["LCTL"] = KeyLeftCtrl
	m["RCTL"] = KeyRightCtrl
	m["CTRL"] = KeyLeftCtrl
	m["CONTROL"] = KeyLeftCtrl
	m["LMETA"] = KeyLeftMeta
	m["RMETA"] = KeyRightMeta
	m["LWIN"] = KeyLeftMeta
	m["RWIN"] = KeyRightMeta
	return m
}

// IsModifier reports whether ecode is one of the eight modifier keys.
func IsModifier(ecode int) bool {
	_, ok := ModBits[ecode]
	return ok
}

// ModBit returns the HID report mask bit for a modifier ecode, 0 if ecode
// is not a modifier.
func ModBit(ecode int) uint8 {
	return ModBits[ecode]
}

// UsageFromECode converts an evdev code to its HID usage ID (224-231 for
// modifiers, the HIDUsage table's value for other keys), 0 if unmapped.
func UsageFromECode(ecode int) uint8 {
	if IsModifier(ecode) {
		return ModUsage[ecode]
	}
	return HIDUsage[ecode]
}

// ParseHotkey splits a "MOD+KEY" spec (e.g. "LCTRL+Q") into its modifier
// and key evdev codes, validating that exactly one modifier and one
// non-modifier key are named.
func ParseHotkey(spec string) (modECode, keyECode int, err error) {
	parts := strings.Split(spec, "+")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("hotkey must be MOD+KEY (e.g., LALT+Q)")
	}
	modName := strings.ToUpper(strings.TrimSpace(parts[0]))
	keyName := strings.ToUpper(strings.TrimSpace(parts[1]))
	modEC, modOK := NameToECode[modName]
	keyEC, keyOK := NameToECode[keyName]
	if !modOK || !IsModifier(modEC) || !keyOK || IsModifier(keyEC) {
		return 0, 0, fmt.Errorf("invalid hotkey %q; require one modifier + one non-modifier key", spec)
	}
	return modEC, keyEC, nil
}

// NameToUsage converts a user-friendly key name to its HID usage ID,
// returning 0 if the name is unknown.
func NameToUsage(name string) uint8 {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return 0
	}
	ecode, ok := NameToECode[name]
	if !ok {
		return 0
	}
	return UsageFromECode(ecode)
}
