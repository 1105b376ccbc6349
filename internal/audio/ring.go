package audio

import "sync"

// ring is a mono sample history; the newest sample sits just before index.
type ring struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
}

func newRing(size int) *ring {
	return &ring{buffer: make([]float32, size)}
}

func (r *ring) write(in []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(in) == 0 {
		return
	}
	if len(in) >= len(r.buffer) {
		copy(r.buffer, in[len(in)-len(r.buffer):])
		r.index = 0
		return
	}
	if r.index+len(in) <= len(r.buffer) {
		copy(r.buffer[r.index:], in)
		r.index += len(in)
		if r.index == len(r.buffer) {
			r.index = 0
		}
		return
	}
	remaining := len(r.buffer) - r.index
	copy(r.buffer[r.index:], in[:remaining])
	copy(r.buffer, in[remaining:])
	r.index = len(in) - remaining
}

// latest returns the newest n samples in chronological order.
func (r *ring) latest(n int) []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := len(r.buffer)
	if n > size {
		n = size
	}
	out := make([]float32, n)
	start := (r.index - n + size) % size
	for i := 0; i < n; i++ {
		out[i] = r.buffer[(start+i)%size]
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	mono := make([]float32, len(in)/channels)
	for i := range mono {
		sum := float32(0)
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
