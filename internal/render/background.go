package render

import (
	"math"
	"sort"
	"strings"
)

// backgroundFunc returns a value in [-1,1] for normalised screen coordinates at t seconds.
type backgroundFunc func(x, y, t float64) float64

var backgroundRegistry = map[string]backgroundFunc{
	"plasma":  backgroundPlasma,
	"waves":   backgroundWaves,
	"ripples": backgroundRipples,
	"nebula":  backgroundNebula,
	"noise":   backgroundNoise,
}

// backgroundLevel is the peak brightness a backdrop adds before tone mapping.
const backgroundLevel = 0.08

// BackgroundNames returns the backdrop identifiers, "none" first.
func BackgroundNames() []string {
	names := make([]string, 0, len(backgroundRegistry))
	for name := range backgroundRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return append([]string{"none"}, names...)
}

// ValidBackground reports whether name is a known backdrop or "none".
func ValidBackground(name string) bool {
	name = strings.ToLower(name)
	_, ok := backgroundRegistry[name]
	return ok || name == "none" || name == ""
}

// drawBackground fills the accumulator with a dim blue-violet backdrop.
func (r *Renderer) drawBackground(name string, t float64) {
	fn, ok := backgroundRegistry[strings.ToLower(name)]
	if !ok {
		return
	}
	w, h := r.width, r.height
	invW, invH := 1/float64(w), 1/float64(h)
	r.rows(func(y int) {
		vy := float64(y)*invH - 0.5
		for x := 0; x < w; x++ {
			vx := float64(x)*invW - 0.5
			v := float32((fn(vx, vy, t) + 1) * 0.5 * backgroundLevel)
			o := (y*w + x) * 3
			r.accum[o] += v * 0.45
			r.accum[o+1] += v * 0.35
			r.accum[o+2] += v
		}
	})
}

func backgroundPlasma(x, y, t float64) float64 {
	v1 := math.Sin((x*3.4 + t*1.2) * 0.9)
	v2 := math.Sin((y*4.1 - t*0.7) * 1.1)
	v3 := math.Sin((x+y)*2.3 + t*1.7)
	return (v1 + v2 + v3) / 3.0
}

func backgroundWaves(x, y, t float64) float64 {
	const freq = 4.0
	return math.Sin((x+t*0.08)*freq) * math.Cos((y-t*0.05)*freq*1.1)
}

func backgroundRipples(x, y, t float64) float64 {
	r := math.Hypot(x, y)
	theta := math.Atan2(y, x)
	return math.Sin(r*9.6 - t*2.2 + math.Sin(theta*3+t)*0.5)
}

func backgroundNebula(x, y, t float64) float64 {
	base := backgroundPlasma(x*0.8, y*0.8, t)
	swirl := math.Sin((x-y)*1.5 + t*0.9)
	noise := fractalNoise(x*1.2+t*0.1, y*1.2-t*0.15)
	return clampFloat(base*0.6+swirl*0.2+noise*0.6, -1, 1)
}

func backgroundNoise(x, y, t float64) float64 {
	return fractalNoise(x*6+t*0.2, y*6-t*0.18)
}

func fractalNoise(x, y float64) float64 {
	amp := 0.5
	freq := 1.0
	total := 0.0
	sumAmp := 0.0

	for i := 0; i < 4; i++ {
		total += valueNoise2(x*freq, y*freq) * amp
		sumAmp += amp
		amp *= 0.5
		freq *= 2.0
	}

	return (total/sumAmp)*2.0 - 1.0
}

func valueNoise2(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)

	sx := smoothstep(x - x0)
	sy := smoothstep(y - y0)

	ix0 := lerp(hash2(x0, y0), hash2(x0+1, y0), sx)
	ix1 := lerp(hash2(x0, y0+1), hash2(x0+1, y0+1), sx)
	return lerp(ix0, ix1, sy)
}

func hash2(x, y float64) float64 {
	v := math.Sin(x*127.1+y*311.7) * 43758.5453123
	return v - math.Floor(v)
}

func smoothstep(v float64) float64 {
	return v * v * (3 - 2*v)
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
