package emu

// cgbCompatSetNames and cgbCompatSets implement the CGB boot ROM's
// title-based auto-colorization feature: when a DMG-only cartridge is run on
// CGB hardware, the boot ROM looks up the title (or a checksum fallback) in
// a small built-in table and loads one of a handful of curated 4-shade
// palettes into BGP/OBP0/OBP1 instead of leaving the game in grayscale.
// Index order must match the ids used by compatTitleExact/compatTitleContains
// in compat_tables.go. Each entry goes lightest-to-darkest, as BGP/OBJ shade
// indices do.
var cgbCompatSetNames = []string{
	"Green",
	"Sepia",
	"Blue",
	"Red",
	"Pastel",
	"Gray",
}

var cgbCompatSets = [][4][3]byte{
	{ // Green: classic DMG green-gray
		{0xE0, 0xF8, 0xD0},
		{0x88, 0xC0, 0x70},
		{0x34, 0x68, 0x56},
		{0x08, 0x18, 0x20},
	},
	{ // Sepia
		{0xF4, 0xE4, 0xC1},
		{0xD2, 0xB4, 0x8C},
		{0x8C, 0x6B, 0x4A},
		{0x3E, 0x2B, 0x1E},
	},
	{ // Blue
		{0xE0, 0xF0, 0xFF},
		{0x80, 0xA8, 0xE8},
		{0x40, 0x58, 0xA0},
		{0x10, 0x18, 0x40},
	},
	{ // Red
		{0xFF, 0xE8, 0xD8},
		{0xF0, 0x98, 0x78},
		{0xA8, 0x40, 0x38},
		{0x38, 0x10, 0x10},
	},
	{ // Pastel
		{0xFF, 0xF0, 0xF8},
		{0xF0, 0xC8, 0xE0},
		{0xB0, 0x90, 0xC8},
		{0x48, 0x38, 0x60},
	},
	{ // Gray: neutral grayscale, no color tint
		{0xF8, 0xF8, 0xF8},
		{0xA8, 0xA8, 0xA8},
		{0x60, 0x60, 0x60},
		{0x10, 0x10, 0x10},
	},
}
