// Package pcm carries interleaved float32 audio from sources to recorders.
package pcm

import "sync"

// Block is a run of interleaved float32 PCM pushed to recording subscribers.
type Block struct {
	Samples    []float32
	Channels   int
	SampleRate float64
}

// Listener receives PCM blocks until it is unsubscribed or its source closes.
type Listener struct {
	C    chan Block
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener stops receiving.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) stop() {
	l.once.Do(func() { close(l.done) })
}

// Stream is the audio half of a capture: anything that fans PCM out to subscribers.
type Stream interface {
	Subscribe() *Listener
	Unsubscribe(*Listener)
}

// Hub fans blocks out to listeners without ever blocking the audio callback.
// The zero value is ready to use.
type Hub struct {
	mu        sync.Mutex
	listeners map[*Listener]struct{}
}

// Subscribe registers a buffered listener.
func (h *Hub) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Block, 64),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.listeners == nil {
		h.listeners = make(map[*Listener]struct{})
	}
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	return l
}

// Unsubscribe removes l and closes its Done channel.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
	l.stop()
}

// Active reports whether anyone is listening.
func (h *Hub) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners) > 0
}

// Publish copies samples once and offers the block to each listener; full listeners drop it.
func (h *Hub) Publish(samples []float32, channels int, rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.listeners) == 0 || len(samples) == 0 {
		return
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	b := Block{Samples: cp, Channels: channels, SampleRate: rate}
	for l := range h.listeners {
		select {
		case l.C <- b:
		default:
		}
	}
}

// CloseAll stops every listener, as when the source goes away.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		l.stop()
		delete(h.listeners, l)
	}
}
