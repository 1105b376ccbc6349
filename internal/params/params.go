package params

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidParameter reports an out-of-range value. Callers clamp instead of rejecting,
// so this only surfaces from explicit validation.
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrUnknownPreset is returned for a preset name outside the fixed table.
var ErrUnknownPreset = errors.New("unknown preset")

const (
	MinFPS = 1
	MaxFPS = 240
)

// Parameters is the shared set of scalar visual parameters read every tick.
type Parameters struct {
	Size            float64 `json:"size"`
	ColorIntensity  float64 `json:"colorIntensity"`
	BloomStrength   float64 `json:"bloomStrength"`
	TargetFPS       int     `json:"targetFps"`
	ResolutionScale int     `json:"resolutionScale"`
}

// Defaults returns the startup parameter set.
func Defaults() Parameters {
	return Parameters{
		Size:            1.0,
		ColorIntensity:  1.0,
		BloomStrength:   0.5,
		TargetFPS:       60,
		ResolutionScale: 1,
	}
}

// Clamp forces every field into its legal range.
func (p *Parameters) Clamp() {
	p.Size = nonNegative(p.Size)
	p.ColorIntensity = nonNegative(p.ColorIntensity)
	p.BloomStrength = nonNegative(p.BloomStrength)
	p.TargetFPS = ClampFPS(p.TargetFPS)
	p.ResolutionScale = ClampScale(p.ResolutionScale)
}

// Validate reports the first out-of-range field without modifying p.
func (p Parameters) Validate() error {
	switch {
	case !validScalar(p.Size):
		return fmt.Errorf("%w: size %.3f not a finite value >= 0", ErrInvalidParameter, p.Size)
	case !validScalar(p.ColorIntensity):
		return fmt.Errorf("%w: colorIntensity %.3f not a finite value >= 0", ErrInvalidParameter, p.ColorIntensity)
	case !validScalar(p.BloomStrength):
		return fmt.Errorf("%w: bloomStrength %.3f not a finite value >= 0", ErrInvalidParameter, p.BloomStrength)
	case p.TargetFPS < MinFPS || p.TargetFPS > MaxFPS:
		return fmt.Errorf("%w: targetFps %d not in [%d,%d]", ErrInvalidParameter, p.TargetFPS, MinFPS, MaxFPS)
	case p.ResolutionScale < 1:
		return fmt.Errorf("%w: resolutionScale %d < 1", ErrInvalidParameter, p.ResolutionScale)
	}
	return nil
}

// ClampFPS keeps a frame rate inside [MinFPS, MaxFPS].
func ClampFPS(fps int) int {
	if fps < MinFPS {
		return MinFPS
	}
	if fps > MaxFPS {
		return MaxFPS
	}
	return fps
}

// ClampScale keeps a resolution scale at 1 or above.
func ClampScale(scale int) int {
	if scale < 1 {
		return 1
	}
	return scale
}

// Preset is the fixed {size, colorIntensity, bloomStrength} triple applied by a preset button.
type Preset struct {
	Size           float64 `json:"size"`
	ColorIntensity float64 `json:"colorIntensity"`
	BloomStrength  float64 `json:"bloomStrength"`
}

var presets = map[string]Preset{
	"subtle":  {Size: 0.5, ColorIntensity: 0.8, BloomStrength: 0.3},
	"intense": {Size: 2.0, ColorIntensity: 1.5, BloomStrength: 1.2},
	"club":    {Size: 1.5, ColorIntensity: 1.2, BloomStrength: 0.8},
	"minimal": {Size: 0.8, ColorIntensity: 0.5, BloomStrength: 0.1},
}

// PresetNames returns the preset identifiers in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPreset returns the triple registered under name.
func LookupPreset(name string) (Preset, error) {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// ApplyPreset overwrites size, colour and bloom with the named preset.
func (p *Parameters) ApplyPreset(name string) error {
	preset, err := LookupPreset(name)
	if err != nil {
		return err
	}
	p.Size = preset.Size
	p.ColorIntensity = preset.ColorIntensity
	p.BloomStrength = preset.BloomStrength
	return nil
}

func validScalar(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}

// nonNegative maps negative, NaN and infinite values to 0.
func nonNegative(v float64) float64 {
	if !validScalar(v) {
		return 0
	}
	return v
}
