// Package visual holds the registry of visual models and the mapping from a
// spectral frame plus parameters onto their geometry and colour buffers.
package visual

import (
	"errors"

	"github.com/guidoenr/partivision/internal/geom"
)

// ErrUnknownModel is returned when a visual name is not registered.
var ErrUnknownModel = errors.New("unknown visual model")

// Name identifies a visual model.
type Name string

const (
	Particles    Name = "particles"
	Sphere       Name = "sphere"
	Galaxy       Name = "galaxy"
	Terrain      Name = "terrain"
	ParametricEq Name = "parametricEq"
	Crystalline  Name = "crystalline"
)

// Kind tells the render backend how to draw a model's buffers.
type Kind int

const (
	// KindPoints draws each position as an additive point sprite.
	KindPoints Kind = iota
	// KindMesh draws Edges between positions as a wireframe.
	KindMesh
	// KindInstances draws a unit cube at each position with per-instance scale and rotation.
	KindInstances
)

// Model is one selectable visual. Positions, Colors and Scales are the current
// (possibly deformed) buffers; the rest buffers are private and never written
// after construction, so every frame displaces from the same baseline.
type Model struct {
	Name Name
	Kind Kind

	Positions []float64 // packed xyz
	Colors    []float64 // packed rgb, one per element
	Scales    []float64 // instances only
	Rotations []float64 // instances only, packed euler xyz
	Edges     []int32   // meshes only, index pairs

	RotationY float64
	PointSize float64

	rest       []float64
	restScales []float64
	visible    bool
}

// Visible reports whether the model is drawn this tick.
func (m *Model) Visible() bool { return m.visible }

// Len returns the number of elements (vertices, particles or instances).
func (m *Model) Len() int { return len(m.Positions) / 3 }

// Rest returns a copy of the undeformed positions.
func (m *Model) Rest() []float64 {
	out := make([]float64, len(m.rest))
	copy(out, m.rest)
	return out
}

// RestScales returns a copy of the undeformed instance scales.
func (m *Model) RestScales() []float64 {
	out := make([]float64, len(m.restScales))
	copy(out, m.restScales)
	return out
}

func (m *Model) restAt(i int) geom.Vec3 { return geom.At(m.rest, i) }

// setColor writes an rgb triple scaled by k.
func (m *Model) setColor(i int, r, g, b, k float64) {
	m.Colors[i*3] = r * k
	m.Colors[i*3+1] = g * k
	m.Colors[i*3+2] = b * k
}

func newModel(name Name, kind Kind, rest []float64) *Model {
	m := &Model{
		Name:      name,
		Kind:      kind,
		rest:      rest,
		Positions: make([]float64, len(rest)),
		Colors:    make([]float64, len(rest)),
		PointSize: 1,
	}
	copy(m.Positions, rest)
	for i := range m.Colors {
		m.Colors[i] = 1
	}
	return m
}
