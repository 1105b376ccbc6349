package app

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Profiler appends per-frame section timings to a CSV file. A nil Profiler is a no-op.
type Profiler struct {
	mu      sync.Mutex
	file    *os.File
	logger  *log.Logger
	start   time.Time
	last    time.Time
	enabled bool
	now     func() time.Time
}

// NewProfiler opens path for appending. It returns nil when path is empty or
// cannot be opened.
func NewProfiler(path string, logger *log.Logger) *Profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if logger != nil {
			logger.Printf("profiler disabled: %v", err)
		}
		return nil
	}
	p := &Profiler{
		file:    f,
		logger:  logger,
		enabled: true,
		now:     time.Now,
	}
	p.writeHeader()
	return p
}

func (p *Profiler) writeHeader() {
	if p == nil || !p.enabled {
		return
	}
	fmt.Fprintln(p.file, "timestamp,section,delta_ms")
}

// BeginFrame starts timing an accepted frame.
func (p *Profiler) BeginFrame() {
	if p == nil || !p.enabled {
		return
	}
	now := p.now()
	p.start = now
	p.last = now
	p.log("frame_start", 0)
}

// Mark records the time since the previous mark under section.
func (p *Profiler) Mark(section string) {
	if p == nil || !p.enabled {
		return
	}
	now := p.now()
	delta := now.Sub(p.last).Seconds() * 1000
	p.last = now
	p.log(section, delta)
}

// EndFrame records the whole frame.
func (p *Profiler) EndFrame() {
	if p == nil || !p.enabled {
		return
	}
	total := p.now().Sub(p.start).Seconds() * 1000
	p.log("frame_total", total)
}

// Close flushes and closes the file.
func (p *Profiler) Close() error {
	if p == nil || !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	return p.file.Close()
}

func (p *Profiler) log(section string, deltaMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil || !p.enabled {
		return
	}
	timestamp := p.now().Format(time.RFC3339Nano)
	fmt.Fprintf(p.file, "%s,%s,%.3f\n", timestamp, section, deltaMs)
}
