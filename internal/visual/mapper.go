package visual

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/params"
)

type entry struct {
	name  Name
	build func(*rand.Rand) *Model
	apply mapFunc
	spin  float64 // radians added to RotationY per update
}

// registry order is the listing order and the 1-6 hotkey order.
var registry = []entry{
	{Particles, buildParticles, mapParticles, 0.0005},
	{Sphere, buildSphere, mapSphere, 0.002},
	{Galaxy, buildGalaxy, mapGalaxy, 0.001},
	{Terrain, buildTerrain, mapTerrain, 0},
	{ParametricEq, buildParametricEq, mapParametricEq, 0},
	{Crystalline, buildCrystalline, mapCrystalline, 0.002},
}

// Names lists every registered model in registry order.
func Names() []string {
	out := make([]string, len(registry))
	for i, e := range registry {
		out[i] = string(e.name)
	}
	return out
}

// Lookup resolves a model name case-insensitively.
func Lookup(name string) (Name, error) {
	for _, e := range registry {
		if strings.EqualFold(string(e.name), name) {
			return e.name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Mapper owns one instance of every model and tracks which one is active.
// It is not safe for concurrent use; the pipeline serialises access.
type Mapper struct {
	models []*Model
	active int
}

// NewMapper builds all models. seed fixes the random layouts.
func NewMapper(seed int64) *Mapper {
	rng := rand.New(rand.NewSource(seed))
	m := &Mapper{models: make([]*Model, len(registry))}
	for i, e := range registry {
		m.models[i] = e.build(rng)
	}
	return m
}

// SwitchVisual makes name the active model, shows it and hides every other
// one. Geometry buffers are left as they are.
func (m *Mapper) SwitchVisual(name string) error {
	n, err := Lookup(name)
	if err != nil {
		return err
	}
	for i, e := range registry {
		if e.name == n {
			m.active = i
		}
	}
	for i, mod := range m.models {
		mod.visible = i == m.active
	}
	return nil
}

// Active returns the active model name.
func (m *Mapper) Active() Name { return registry[m.active].name }

// ActiveModel returns the active model.
func (m *Mapper) ActiveModel() *Model { return m.models[m.active] }

// Model returns the named model.
func (m *Mapper) Model(name Name) (*Model, bool) {
	for i, e := range registry {
		if e.name == name {
			return m.models[i], true
		}
	}
	return nil, false
}

// Models returns every model in registry order.
func (m *Mapper) Models() []*Model { return m.models }

// Visible returns the models drawn this tick: none after an idle Update, the
// active one otherwise.
func (m *Mapper) Visible() []*Model {
	var out []*Model
	for _, mod := range m.models {
		if mod.visible {
			out = append(out, mod)
		}
	}
	return out
}

// Update maps a frame onto the active model. A nil frame means no audio is
// playing: every model is hidden and no buffer is touched.
func (m *Mapper) Update(f analyzer.Frame, p params.Parameters) {
	for i, mod := range m.models {
		mod.visible = len(f) > 0 && i == m.active
	}
	if len(f) == 0 {
		return
	}
	e := registry[m.active]
	mod := m.models[m.active]
	e.apply(mod, f, p)
	mod.RotationY += e.spin
}
