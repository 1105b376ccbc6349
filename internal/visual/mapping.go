package visual

import (
	"math"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/geom"
	"github.com/guidoenr/partivision/internal/params"
)

// Per-model sensitivities: how far a full-scale bin displaces an element at size 1.
const (
	sphereSensitivity  = 5.0
	terrainSensitivity = 15.0
	eqSensitivity      = 20.0
	crystalSensitivity = 3.0
)

// Fraction of the spectrum each sampled model spreads across its elements.
const (
	particleCoverage = 0.5
	galaxyCoverage   = 0.2
	eqCoverage       = 0.4
)

// mapFunc writes one frame into a model's current buffers.
type mapFunc func(m *Model, f analyzer.Frame, p params.Parameters)

// binIndex maps element i of span onto the first coverage fraction of n bins.
func binIndex(i, span, n int, coverage float64) int {
	if span <= 0 || n == 0 {
		return 0
	}
	idx := int(math.Floor(float64(i) / float64(span) * float64(n) * coverage))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// norm returns bin idx scaled to [0,1].
func norm(f analyzer.Frame, idx int) float64 { return float64(f[idx]) / 255 }

// amplify is the normalized bin doubled, the shared gain every displacement uses.
func amplify(f analyzer.Frame, idx int) float64 { return norm(f, idx) * 2 }

func mapParticles(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	count := m.Len()
	for i := 0; i < count; i++ {
		idx := binIndex(i, count, n, particleCoverage)
		val := norm(f, idx)
		r, g, b := hsl(float64(idx)/(float64(n)*particleCoverage), 1, 0.5)
		m.setColor(i, r, g, b, val*p.ColorIntensity)
	}
	m.PointSize = p.Size
}

func mapSphere(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	for i := 0; i < m.Len(); i++ {
		rest := m.restAt(i)
		disp := amplify(f, i%n) * sphereSensitivity * p.Size
		geom.Put(m.Positions, i, rest.Normalize().Scale(rest.Len()+disp))
		v := norm(f, i%n)
		r, g, b := hsl(0.5+0.35*v, 1, 0.25+0.35*v)
		m.setColor(i, r, g, b, p.ColorIntensity)
	}
}

func mapGalaxy(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	count := m.Len()
	for i := 0; i < count; i++ {
		v := norm(f, binIndex(i, count, n, galaxyCoverage))
		r, g, b := hsl(0.6+0.4*v, 1, 0.5+0.5*v)
		m.setColor(i, r, g, b, p.ColorIntensity)
	}
	m.PointSize = 0.2 * p.Size
}

// mapTerrain lifts whole rows: row i follows bin i.
func mapTerrain(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	side := terrainSegments + 1
	for row := 0; row < side; row++ {
		v := norm(f, row%n)
		lift := v * 2 * terrainSensitivity * p.Size
		r, g, b := hsl(0.6-0.4*v, 1, 0.3+0.4*v)
		for col := 0; col < side; col++ {
			k := row*side + col
			rest := m.restAt(k)
			m.Positions[k*3+1] = rest.Y + lift
			m.setColor(k, r, g, b, p.ColorIntensity)
		}
	}
}

// mapParametricEq lifts whole columns, spreading the lower part of the spectrum
// left to right like a graphic equaliser.
func mapParametricEq(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	cols, rows := eqColumns+1, eqRows+1
	for col := 0; col < cols; col++ {
		idx := binIndex(col, eqColumns, n, eqCoverage)
		v := norm(f, idx)
		lift := v * 2 * eqSensitivity * p.Size
		r, g, b := hsl(0.45-0.45*v, 1, 0.35+0.3*v)
		for row := 0; row < rows; row++ {
			k := row*cols + col
			rest := m.restAt(k)
			m.Positions[k*3+1] = rest.Y + lift
			m.setColor(k, r, g, b, p.ColorIntensity)
		}
	}
}

func mapCrystalline(m *Model, f analyzer.Frame, p params.Parameters) {
	n := len(f)
	for i := range m.Scales {
		val := amplify(f, i%n)
		m.Scales[i] = m.restScales[i] + val*crystalSensitivity*p.Size
		r, g, b := hsl(float64(i)/float64(len(m.Scales)), 0.8, 0.3+0.2*val)
		m.setColor(i, r, g, b, p.ColorIntensity)
	}
}
