// Package keymap translates raw Linux input-event key codes into the
// canonical lowercase names used throughout the relay configuration.
package keymap

import "fmt"

// names maps Linux KEY_* codes to canonical names. Left and right
// modifier variants collapse to a single name so a mapping like
// "ctrl+c" matches either physical key.
var names = map[uint16]string{
	// Letters
	16: "q", 17: "w", 18: "e", 19: "r", 20: "t", 21: "y", 22: "u",
	23: "i", 24: "o", 25: "p",
	30: "a", 31: "s", 32: "d", 33: "f", 34: "g", 35: "h", 36: "j",
	37: "k", 38: "l",
	44: "z", 45: "x", 46: "c", 47: "v", 48: "b", 49: "n", 50: "m",

	// Digit row
	2: "1", 3: "2", 4: "3", 5: "4", 6: "5", 7: "6", 8: "7", 9: "8",
	10: "9", 11: "0",

	// Function keys
	59: "f1", 60: "f2", 61: "f3", 62: "f4", 63: "f5", 64: "f6",
	65: "f7", 66: "f8", 67: "f9", 68: "f10", 87: "f11", 88: "f12",

	// Modifiers (left/right collapse)
	29: "ctrl", 97: "ctrl",
	42: "shift", 54: "shift",
	56: "alt", 100: "alt",
	125: "meta", 126: "meta",

	// Special keys
	1: "escape", 14: "backspace", 15: "tab", 28: "enter", 57: "space",
	58: "capslock", 111: "delete", 110: "home", 115: "end",
	112: "pageup", 117: "pagedown",

	// Arrows
	103: "up", 108: "down", 105: "left", 106: "right",

	// Symbols
	12: "minus", 13: "equal", 26: "leftbracket", 27: "rightbracket",
	39: "semicolon", 40: "apostrophe", 41: "grave", 43: "backslash",
	51: "comma", 52: "dot", 53: "slash",

	// Numpad
	69: "numlock",
	71: "kp7", 72: "kp8", 73: "kp9",
	75: "kp4", 76: "kp5", 77: "kp6",
	79: "kp1", 80: "kp2", 81: "kp3",
	82: "kp0", 83: "kpdot",
	78: "kpplus", 74: "kpminus", 55: "kpasterisk", 98: "kpslash",
	96: "kpenter",

	// Misc
	99: "sysrq", 119: "pause", 120: "scrolllock", 116: "power",
	142: "sleep",
}

// Resolve returns the canonical name for a raw key code. Codes without
// a table entry resolve to "key<N>", so the function is total and never
// fails on unusual hardware.
func Resolve(code uint16) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("key%d", code)
}
