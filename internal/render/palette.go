package render

import "sort"

// Glyph ramps ordered from dark to bright.
var palettes = map[string][]rune{
	"default": []rune(" .,:-;+=*%#@"),
	"box":     []rune(" ░▒▓█"),
	"lines":   []rune(" `.-=+*/|#"),
	"spark":   []rune(" ´`^\"~:;*+×•°oO@#█"),
	"dots":    []rune(" ·∙•●"),
}

// Palette returns the glyph ramp for name, falling back to "default".
func Palette(name string) []rune {
	return palettes[paletteName(name)]
}

func paletteName(name string) string {
	if _, ok := palettes[name]; ok {
		return name
	}
	return "default"
}

// PaletteNames returns the registered ramps in sorted order.
func PaletteNames() []string {
	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
