package encode

import "math"

// resampler converts interleaved float32 audio between rates by linear
// interpolation, carrying its phase across blocks.
type resampler struct {
	step     float64 // input frames per output frame
	channels int
	pos      float64
	prev     []float32
}

func newResampler(inRate, outRate float64, channels int) *resampler {
	return &resampler{step: inRate / outRate, channels: channels}
}

func (r *resampler) passthrough() bool { return math.Abs(r.step-1) < 1e-9 }

func (r *resampler) process(src []float32) []float32 {
	ch := r.channels
	frames := len(src) / ch
	if frames == 0 || r.passthrough() {
		return src
	}
	if r.prev == nil {
		r.prev = append([]float32(nil), src[:ch]...)
	}
	// index 0 is the last frame of the previous block, 1..frames this block
	at := func(i, c int) float32 {
		if i == 0 {
			return r.prev[c]
		}
		return src[(i-1)*ch+c]
	}

	out := make([]float32, 0, int(float64(frames)/r.step+2)*ch)
	for r.pos < float64(frames) {
		i := int(r.pos)
		frac := float32(r.pos - float64(i))
		for c := 0; c < ch; c++ {
			a, b := at(i, c), at(i+1, c)
			out = append(out, a+(b-a)*frac)
		}
		r.pos += r.step
	}
	r.pos -= float64(frames)
	copy(r.prev, src[(frames-1)*ch:frames*ch])
	return out
}

// toStereo reshapes interleaved audio with any channel count to two channels.
func toStereo(src []float32, channels int) []float32 {
	if channels == 2 {
		return src
	}
	if channels <= 0 {
		channels = 1
	}
	frames := len(src) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		l := src[i*channels]
		rr := l
		if channels > 1 {
			rr = src[i*channels+1]
		}
		out[i*2] = l
		out[i*2+1] = rr
	}
	return out
}
