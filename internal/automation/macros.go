// Package automation drives time-based parameter modulation (macros) and
// delayed visual switches (transitions).
package automation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/guidoenr/partivision/internal/params"
)

// ErrUnknownMacro is returned for names outside the macro registry.
var ErrUnknownMacro = errors.New("unknown macro")

// Target is the state a macro writes into during a tick.
type Target struct {
	Params *params.Parameters
	Camera *params.Camera
}

// applyFunc writes the macro's value at t seconds. It must depend only on its arguments.
type applyFunc func(t, speed, intensity float64, dst Target)

// Macro is one toggleable modulator.
type Macro struct {
	Name      string  `json:"name"`
	Active    bool    `json:"active"`
	Speed     float64 `json:"speed"`
	Intensity float64 `json:"intensity"`
	Field     string  `json:"field"`

	apply applyFunc
}

func wave(t, speed float64) float64 { return math.Sin(t * speed * 2 * math.Pi) }

// registry is applied in order; a later macro overwrites a field an earlier one set.
func registry() []*Macro {
	return []*Macro{
		{Name: "breathe", Speed: 0.25, Intensity: 1, Field: "size", apply: func(t, speed, k float64, d Target) {
			d.Params.Size = math.Max(0, 1+0.5*k*wave(t, speed))
		}},
		{Name: "orbit", Speed: 0.2, Intensity: 1, Field: "camera.theta", apply: func(t, speed, _ float64, d Target) {
			d.Camera.Theta = math.Mod(t*speed, 2*math.Pi)
		}},
		{Name: "zoomPulse", Speed: 0.1, Intensity: 1, Field: "camera.distance", apply: func(t, speed, k float64, d Target) {
			dist := 50 + 20*k*wave(t, speed)
			d.Camera.Distance = math.Min(params.MaxDistance, math.Max(params.MinDistance, dist))
		}},
		{Name: "bloomPulse", Speed: 0.5, Intensity: 1, Field: "bloomStrength", apply: func(t, speed, k float64, d Target) {
			d.Params.BloomStrength = math.Max(0, 0.5+0.75*k*(0.5+0.5*wave(t, speed)))
		}},
		{Name: "colorWave", Speed: 0.15, Intensity: 1, Field: "colorIntensity", apply: func(t, speed, k float64, d Target) {
			d.Params.ColorIntensity = math.Max(0, 1+0.5*k*wave(t, speed))
		}},
		{Name: "heartbeat", Speed: 1, Intensity: 1, Field: "size", apply: func(t, speed, k float64, d Target) {
			// two decaying thumps per beat
			ph := t*speed - math.Floor(t*speed)
			thump := math.Exp(-ph*12) + 0.6*math.Exp(-math.Abs(ph-0.25)*12)
			d.Params.Size = 1 + k*thump
		}},
	}
}

// MacroNames lists the registry in application order.
func MacroNames() []string {
	reg := registry()
	out := make([]string, len(reg))
	for i, m := range reg {
		out[i] = m.Name
	}
	return out
}

// Macros holds the live macro set. Safe for concurrent use.
type Macros struct {
	mu   sync.Mutex
	list []*Macro
}

// NewMacros returns the registry with every macro inactive.
func NewMacros() *Macros {
	return &Macros{list: registry()}
}

func (ms *Macros) find(name string) (*Macro, error) {
	for _, m := range ms.list {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMacro, name)
}

// Toggle flips a macro and returns its new state. The change is seen on the next tick.
func (ms *Macros) Toggle(name string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, err := ms.find(name)
	if err != nil {
		return false, err
	}
	m.Active = !m.Active
	return m.Active, nil
}

// SetActive sets a macro's state.
func (ms *Macros) SetActive(name string, on bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, err := ms.find(name)
	if err != nil {
		return err
	}
	m.Active = on
	return nil
}

// SetAll switches every macro on or off.
func (ms *Macros) SetAll(on bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, m := range ms.list {
		m.Active = on
	}
}

// AnyActive reports whether at least one macro runs.
func (ms *Macros) AnyActive() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, m := range ms.list {
		if m.Active {
			return true
		}
	}
	return false
}

// Tune sets speed and intensity. Negative or NaN values are rejected.
func (ms *Macros) Tune(name string, speed, intensity float64) error {
	if !(speed >= 0) || !(intensity >= 0) {
		return fmt.Errorf("%w: macro %s speed %.3f intensity %.3f", params.ErrInvalidParameter, name, speed, intensity)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, err := ms.find(name)
	if err != nil {
		return err
	}
	m.Speed, m.Intensity = speed, intensity
	return nil
}

// List returns a copy of every macro in registry order.
func (ms *Macros) List() []Macro {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Macro, len(ms.list))
	for i, m := range ms.list {
		out[i] = *m
		out[i].apply = nil
	}
	return out
}

// Apply runs every active macro at nowMillis in registry order.
func (ms *Macros) Apply(nowMillis float64, dst Target) {
	t := nowMillis / 1000
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, m := range ms.list {
		if m.Active {
			m.apply(t, m.Speed, m.Intensity, dst)
		}
	}
}
