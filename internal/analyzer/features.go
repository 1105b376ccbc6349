package analyzer

import "math"

// Features summarizes a spectral frame into band levels for status displays.
type Features struct {
	Bass    float64 `json:"bass"`
	Mid     float64 `json:"mid"`
	Treble  float64 `json:"treble"`
	Overall float64 `json:"overall"`
	Peak    float64 `json:"peak"`
}

// Summarize averages a frame into bass (20-250 Hz), mid (250-2000 Hz) and treble
// (2-8 kHz) levels normalized to [0,1]. A nil frame yields zero features.
func Summarize(f Frame, sampleRate float64) Features {
	if len(f) == 0 {
		return Features{}
	}
	if sampleRate <= 0 {
		sampleRate = 48_000
	}
	resolution := sampleRate / float64(len(f)*2)
	feat := Features{
		Bass:   bandLevel(f, resolution, 20, 250),
		Mid:    bandLevel(f, resolution, 250, 2000),
		Treble: bandLevel(f, resolution, 2000, 8000),
	}
	values := make([]float64, len(f))
	for i, b := range f {
		v := float64(b) / 255
		values[i] = v
		feat.Peak = math.Max(feat.Peak, v)
	}
	feat.Overall = average(values)
	return feat
}

func bandLevel(f Frame, resolution, minHz, maxHz float64) float64 {
	lo := int(math.Floor(minHz / resolution))
	hi := int(math.Ceil(maxHz/resolution)) + 1
	if hi > len(f) {
		hi = len(f)
	}
	if lo >= hi {
		return 0
	}
	sum := 0.0
	for _, b := range f[lo:hi] {
		sum += float64(b)
	}
	return sum / float64(hi-lo) / 255
}

// GateFeatures applies a simple noise floor so weak signals read as silence.
func GateFeatures(f Features, floor float64) Features {
	if floor <= 0 {
		return f
	}
	gate := func(v float64) float64 {
		if v <= floor {
			return 0
		}
		return clamp((v-floor)/(1.0-floor), 0, 1)
	}
	f.Bass = gate(f.Bass)
	f.Mid = gate(f.Mid)
	f.Treble = gate(f.Treble)
	f.Overall = gate(f.Overall)
	f.Peak = gate(f.Peak)
	return f
}
