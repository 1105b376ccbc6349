package visual

import (
	"math"
	"math/rand"

	"github.com/guidoenr/partivision/internal/geom"
)

const (
	particleCount  = 8000
	particleExtent = 100.0

	sphereRadius = 15.0
	sphereDetail = 5

	galaxyCount  = 10000
	galaxyRadius = 50.0

	terrainSize     = 80.0
	terrainSegments = 127

	eqWidth   = 100.0
	eqDepth   = 40.0
	eqColumns = 127
	eqRows    = 63

	crystalCount  = 64
	crystalExtent = 60.0
)

func buildParticles(rng *rand.Rand) *Model {
	rest := make([]float64, particleCount*3)
	for i := range rest {
		rest[i] = (rng.Float64() - 0.5) * particleExtent
	}
	m := newModel(Particles, KindPoints, rest)
	m.PointSize = 0.5
	return m
}

func buildGalaxy(rng *rand.Rand) *Model {
	rest := make([]float64, galaxyCount*3)
	for i := 0; i < galaxyCount; i++ {
		r := rng.Float64() * galaxyRadius
		th := rng.Float64() * math.Pi * 2
		geom.Put(rest, i, geom.Vec3{
			X: math.Cos(th) * r,
			Y: (rng.Float64() - 0.5) * 5,
			Z: math.Sin(th) * r,
		})
	}
	m := newModel(Galaxy, KindPoints, rest)
	m.PointSize = 0.2
	return m
}

// buildSphere subdivides each icosahedron face into a (detail+1)² triangle grid and
// projects every vertex onto the sphere. Triangles are not shared, so each face
// owns its three vertices.
func buildSphere(_ *rand.Rand) *Model {
	t := (1 + math.Sqrt(5)) / 2
	corners := []geom.Vec3{
		{X: -1, Y: t}, {X: 1, Y: t}, {X: -1, Y: -t}, {X: 1, Y: -t},
		{Y: -1, Z: t}, {Y: 1, Z: t}, {Y: -1, Z: -t}, {Y: 1, Z: -t},
		{X: t, Z: -1}, {X: t, Z: 1}, {X: -t, Z: -1}, {X: -t, Z: 1},
	}
	faces := [][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}

	cols := sphereDetail + 1
	var tris []geom.Vec3
	for _, f := range faces {
		a, b, c := corners[f[0]], corners[f[1]], corners[f[2]]
		grid := make([][]geom.Vec3, cols+1)
		for i := 0; i <= cols; i++ {
			aj := lerpVec(a, c, float64(i)/float64(cols))
			bj := lerpVec(b, c, float64(i)/float64(cols))
			rows := cols - i
			grid[i] = make([]geom.Vec3, rows+1)
			for j := 0; j <= rows; j++ {
				if j == 0 && i == cols {
					grid[i][j] = aj
				} else {
					grid[i][j] = lerpVec(aj, bj, float64(j)/float64(rows))
				}
			}
		}
		for i := 0; i < cols; i++ {
			for j := 0; j < 2*(cols-i)-1; j++ {
				k := j / 2
				if j%2 == 0 {
					tris = append(tris, grid[i][k+1], grid[i+1][k], grid[i][k])
				} else {
					tris = append(tris, grid[i][k+1], grid[i+1][k+1], grid[i+1][k])
				}
			}
		}
	}

	rest := make([]float64, len(tris)*3)
	for i, v := range tris {
		geom.Put(rest, i, v.Normalize().Scale(sphereRadius))
	}
	m := newModel(Sphere, KindMesh, rest)
	m.Edges = make([]int32, 0, len(tris)*2)
	for i := 0; i+2 < len(tris); i += 3 {
		a, b, c := int32(i), int32(i+1), int32(i+2)
		m.Edges = append(m.Edges, a, b, b, c, c, a)
	}
	for i := 0; i < m.Len(); i++ {
		m.setColor(i, 0, 1, 1, 1)
	}
	return m
}

// buildGrid lays out a (cols+1)x(rows+1) plane on the XZ plane, row-major with rows
// running along +Z, the way a plane rotated flat by -90° about X ends up.
func buildGrid(name Name, width, depth float64, cols, rows int) *Model {
	nx, nz := cols+1, rows+1
	rest := make([]float64, nx*nz*3)
	for iz := 0; iz < nz; iz++ {
		z := float64(iz)*depth/float64(rows) - depth/2
		for ix := 0; ix < nx; ix++ {
			x := float64(ix)*width/float64(cols) - width/2
			geom.Put(rest, iz*nx+ix, geom.Vec3{X: x, Z: z})
		}
	}
	m := newModel(name, KindMesh, rest)
	for iz := 0; iz < nz; iz++ {
		for ix := 0; ix < nx; ix++ {
			n := int32(iz*nx + ix)
			if ix+1 < nx {
				m.Edges = append(m.Edges, n, n+1)
			}
			if iz+1 < nz {
				m.Edges = append(m.Edges, n, n+int32(nx))
			}
		}
	}
	return m
}

func buildTerrain(_ *rand.Rand) *Model {
	m := buildGrid(Terrain, terrainSize, terrainSize, terrainSegments, terrainSegments)
	for i := 0; i < m.Len(); i++ {
		m.setColor(i, 0.23, 0.53, 1, 1)
	}
	return m
}

func buildParametricEq(_ *rand.Rand) *Model {
	m := buildGrid(ParametricEq, eqWidth, eqDepth, eqColumns, eqRows)
	for i := 0; i < m.Len(); i++ {
		m.setColor(i, 0.02, 1, 0.65, 1)
	}
	return m
}

func buildCrystalline(rng *rand.Rand) *Model {
	rest := make([]float64, crystalCount*3)
	for i := range rest {
		rest[i] = (rng.Float64() - 0.5) * crystalExtent
	}
	m := newModel(Crystalline, KindInstances, rest)
	m.Rotations = make([]float64, crystalCount*3)
	for i := range m.Rotations {
		m.Rotations[i] = rng.Float64() * 3
	}
	m.restScales = make([]float64, crystalCount)
	m.Scales = make([]float64, crystalCount)
	for i := range m.Scales {
		m.restScales[i] = 1
		m.Scales[i] = 1
	}
	return m
}

func lerpVec(a, b geom.Vec3, t float64) geom.Vec3 {
	return a.Add(b.Sub(a).Scale(t))
}
