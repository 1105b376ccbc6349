package visual

import "math"

// hsl converts hue (wrapped to [0,1)), saturation and lightness to rgb in [0,1].
func hsl(h, s, l float64) (r, g, b float64) {
	h = h - math.Floor(h)
	s = clamp(s, 0, 1)
	l = clamp(l, 0, 1)
	if s == 0 {
		return l, l, l
	}
	var q float64
	if l <= 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return hueToRGB(p, q, h+1.0/3), hueToRGB(p, q, h), hueToRGB(p, q, h-1.0/3)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3:
		return p + (q-p)*6*(2.0/3-t)
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
