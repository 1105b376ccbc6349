package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"runtime"
	"sync"

	"github.com/guidoenr/partivision/internal/geom"
	"github.com/guidoenr/partivision/internal/visual"
)

// ErrPresenterClosed is returned by Composite once the output surface is gone.
var ErrPresenterClosed = errors.New("presenter closed")

const (
	nearPlane      = 0.1
	bloomThreshold = 0.55
	lineAlpha      = 0.35

	// keeps particles that graze the near plane from flooding the frame
	maxSpriteRadius = 3
)

// Scene is what one composite draws.
type Scene struct {
	Models []*visual.Model
	Eye    geom.Vec3
	Target geom.Vec3
	FOV    float64 // vertical, degrees
	Status string

	Background string  // backdrop name, "" or "none" for black
	Time       float64 // seconds, drives the backdrop
}

// Renderer rasterises visible models into an HDR buffer, applies bloom and hands
// the tone-mapped frame to a presenter.
type Renderer struct {
	mu        sync.Mutex
	width     int
	height    int
	accum     []float32 // rgb
	bright    []float32
	scratch   []float32
	frame     *image.RGBA
	bloom     float64
	presenter Presenter
}

// New creates a renderer drawing at width x height pixels. A nil presenter
// renders headless.
func New(width, height int, p Presenter) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", width, height)
	}
	if p == nil {
		p = Headless{}
	}
	r := &Renderer{presenter: p, bloom: 0.5}
	r.resizeLocked(width, height)
	return r, nil
}

// Resize changes the raster size. Non-positive values keep the current size.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if width <= 0 {
		width = r.width
	}
	if height <= 0 {
		height = r.height
	}
	if width == r.width && height == r.height {
		return
	}
	r.resizeLocked(width, height)
}

func (r *Renderer) resizeLocked(width, height int) {
	r.width, r.height = width, height
	n := width * height * 3
	r.accum = make([]float32, n)
	r.bright = make([]float32, n)
	r.scratch = make([]float32, n)
	r.frame = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Size returns the raster size.
func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Presenter returns the output surface.
func (r *Renderer) Presenter() Presenter { return r.presenter }

// SetBloom sets the glow strength applied on the next composite.
func (r *Renderer) SetBloom(strength float64) {
	r.mu.Lock()
	r.bloom = math.Max(0, strength)
	r.mu.Unlock()
}

// Composite draws the scene and presents it.
func (r *Renderer) Composite(s Scene) error {
	frame := r.draw(s)
	return r.presenter.Present(frame, s.Status)
}

// Draw renders the scene into the capture frame without presenting it. Windowed
// presenters must only be driven from their own goroutine, so off-loop callers use this.
func (r *Renderer) Draw(s Scene) {
	r.draw(s)
}

func (r *Renderer) draw(s Scene) *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rasterize(s)
	r.applyBloom()
	r.toneMap()
	return r.frame
}

// CurrentFrame returns a copy of the last composited frame.
func (r *Renderer) CurrentFrame() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := image.NewRGBA(r.frame.Rect)
	copy(out.Pix, r.frame.Pix)
	return out
}

// CaptureStill encodes the last composited frame as PNG.
func (r *Renderer) CaptureStill() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.CurrentFrame()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// camera projects world points to pixels.
type camera struct {
	eye                geom.Vec3
	forward, right, up geom.Vec3
	focal, aspect      float64
	halfW, halfH       float64
}

func newCamera(s Scene, width, height int) camera {
	fov := s.FOV
	if fov <= 0 {
		fov = 75
	}
	forward := s.Target.Sub(s.Eye).Normalize()
	if forward.Len() == 0 {
		forward = geom.Vec3{Z: -1}
	}
	worldUp := geom.Vec3{Y: 1}
	right := forward.Cross(worldUp).Normalize()
	if right.Len() == 0 {
		right = geom.Vec3{X: 1}
	}
	return camera{
		eye:     s.Eye,
		forward: forward,
		right:   right,
		up:      right.Cross(forward),
		focal:   1 / math.Tan(fov*math.Pi/360),
		aspect:  float64(width) / float64(height),
		halfW:   float64(width) / 2,
		halfH:   float64(height) / 2,
	}
}

// project returns pixel coordinates and view depth; ok is false behind the near plane.
func (c camera) project(p geom.Vec3) (x, y, depth float64, ok bool) {
	d := p.Sub(c.eye)
	z := d.Dot(c.forward)
	if z < nearPlane {
		return 0, 0, z, false
	}
	nx := d.Dot(c.right) * c.focal / (z * c.aspect)
	ny := d.Dot(c.up) * c.focal / z
	return (nx + 1) * c.halfW, (1 - ny) * c.halfH, z, true
}

func (r *Renderer) rasterize(s Scene) {
	for i := range r.accum {
		r.accum[i] = 0
	}
	r.drawBackground(s.Background, s.Time)
	cam := newCamera(s, r.width, r.height)
	for _, m := range s.Models {
		if m == nil || !m.Visible() {
			continue
		}
		switch m.Kind {
		case visual.KindPoints:
			r.drawPoints(cam, m)
		case visual.KindMesh:
			r.drawMesh(cam, m)
		case visual.KindInstances:
			r.drawInstances(cam, m)
		}
	}
}

func (r *Renderer) drawPoints(cam camera, m *visual.Model) {
	for i := 0; i < m.Len(); i++ {
		p := geom.At(m.Positions, i).RotateY(m.RotationY)
		x, y, z, ok := cam.project(p)
		if !ok {
			continue
		}
		// attenuated sprite size in pixels
		size := m.PointSize * cam.focal * cam.halfH / z
		rad := min(int(size/2), maxSpriteRadius)
		cr, cg, cb := float32(m.Colors[i*3]), float32(m.Colors[i*3+1]), float32(m.Colors[i*3+2])
		if cr == 0 && cg == 0 && cb == 0 {
			continue
		}
		px, py := int(x), int(y)
		for dy := -rad; dy <= rad; dy++ {
			for dx := -rad; dx <= rad; dx++ {
				r.add(px+dx, py+dy, cr, cg, cb)
			}
		}
	}
}

func (r *Renderer) drawMesh(cam camera, m *visual.Model) {
	pts := make([][3]float64, m.Len())
	okay := make([]bool, m.Len())
	for i := range pts {
		p := geom.At(m.Positions, i).RotateY(m.RotationY)
		x, y, z, ok := cam.project(p)
		pts[i] = [3]float64{x, y, z}
		okay[i] = ok
	}
	for e := 0; e+1 < len(m.Edges); e += 2 {
		a, b := int(m.Edges[e]), int(m.Edges[e+1])
		if !okay[a] || !okay[b] {
			continue
		}
		cr := float32((m.Colors[a*3] + m.Colors[b*3]) / 2 * lineAlpha)
		cg := float32((m.Colors[a*3+1] + m.Colors[b*3+1]) / 2 * lineAlpha)
		cb := float32((m.Colors[a*3+2] + m.Colors[b*3+2]) / 2 * lineAlpha)
		r.line(pts[a][0], pts[a][1], pts[b][0], pts[b][1], cr, cg, cb)
	}
}

var cubeEdges = [12][2]int{
	{0, 1}, {1, 3}, {3, 2}, {2, 0},
	{4, 5}, {5, 7}, {7, 6}, {6, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

func (r *Renderer) drawInstances(cam camera, m *visual.Model) {
	for i := 0; i < m.Len(); i++ {
		center := geom.At(m.Positions, i)
		scale := 1.0
		if i < len(m.Scales) {
			scale = m.Scales[i]
		}
		var rot geom.Vec3
		if len(m.Rotations) >= (i+1)*3 {
			rot = geom.At(m.Rotations, i)
		}
		var corners [8][2]float64
		visible := true
		for c := 0; c < 8; c++ {
			local := geom.Vec3{
				X: float64(c&1)*2 - 1,
				Y: float64(c>>1&1)*2 - 1,
				Z: float64(c>>2&1)*2 - 1,
			}.Scale(scale)
			world := local.RotateEuler(rot.X, rot.Y, rot.Z).Add(center).RotateY(m.RotationY)
			x, y, _, ok := cam.project(world)
			if !ok {
				visible = false
				break
			}
			corners[c] = [2]float64{x, y}
		}
		if !visible {
			continue
		}
		cr, cg, cb := float32(m.Colors[i*3]), float32(m.Colors[i*3+1]), float32(m.Colors[i*3+2])
		for _, e := range cubeEdges {
			a, b := corners[e[0]], corners[e[1]]
			r.line(a[0], a[1], b[0], b[1], cr, cg, cb)
		}
	}
}

func (r *Renderer) add(x, y int, cr, cg, cb float32) {
	if x < 0 || y < 0 || x >= r.width || y >= r.height {
		return
	}
	o := (y*r.width + x) * 3
	r.accum[o] += cr
	r.accum[o+1] += cg
	r.accum[o+2] += cb
}

// line draws an additive DDA line.
func (r *Renderer) line(x0, y0, x1, y1 float64, cr, cg, cb float32) {
	dx, dy := x1-x0, y1-y0
	steps := int(math.Max(math.Abs(dx), math.Abs(dy)))
	if steps == 0 {
		r.add(int(x0), int(y0), cr, cg, cb)
		return
	}
	// skip lines that are wholly off-screen or absurdly long after projection
	if steps > 4*(r.width+r.height) {
		return
	}
	sx, sy := dx/float64(steps), dy/float64(steps)
	x, y := x0, y0
	for i := 0; i <= steps; i++ {
		r.add(int(x), int(y), cr, cg, cb)
		x += sx
		y += sy
	}
}

// rows runs fn over every row on a worker per CPU.
func (r *Renderer) rows(fn func(y int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > r.height {
		workers = r.height
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	jobs := make(chan int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range jobs {
				fn(y)
			}
		}()
	}
	for y := 0; y < r.height; y++ {
		jobs <- y
	}
	close(jobs)
	wg.Wait()
}

func (r *Renderer) applyBloom() {
	if r.bloom <= 0 {
		return
	}
	w, h := r.width, r.height
	radius := w / 120
	if radius < 2 {
		radius = 2
	}
	r.rows(func(y int) {
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			lum := 0.2126*r.accum[o] + 0.7152*r.accum[o+1] + 0.0722*r.accum[o+2]
			k := float32(0)
			if lum > bloomThreshold {
				k = 1
			}
			r.bright[o] = r.accum[o] * k
			r.bright[o+1] = r.accum[o+1] * k
			r.bright[o+2] = r.accum[o+2] * k
		}
	})
	// horizontal then vertical box blur
	r.rows(func(y int) { boxRow(r.bright, r.scratch, y, w, radius) })
	for i := range r.bright {
		r.bright[i] = 0
	}
	boxColumns(r.scratch, r.bright, w, h, radius)
	k := float32(r.bloom)
	for i := range r.accum {
		r.accum[i] += r.bright[i] * k
	}
}

func boxRow(src, dst []float32, y, w, radius int) {
	norm := 1 / float32(2*radius+1)
	base := y * w * 3
	for c := 0; c < 3; c++ {
		var sum float32
		for x := -radius; x <= radius; x++ {
			if x >= 0 && x < w {
				sum += src[base+x*3+c]
			}
		}
		for x := 0; x < w; x++ {
			dst[base+x*3+c] = sum * norm
			if out := x - radius; out >= 0 {
				sum -= src[base+out*3+c]
			}
			if in := x + radius + 1; in < w {
				sum += src[base+in*3+c]
			}
		}
	}
}

func boxColumns(src, dst []float32, w, h, radius int) {
	norm := 1 / float32(2*radius+1)
	for x := 0; x < w; x++ {
		for c := 0; c < 3; c++ {
			var sum float32
			for y := -radius; y <= radius; y++ {
				if y >= 0 && y < h {
					sum += src[(y*w+x)*3+c]
				}
			}
			for y := 0; y < h; y++ {
				dst[(y*w+x)*3+c] = sum * norm
				if out := y - radius; out >= 0 {
					sum -= src[(out*w+x)*3+c]
				}
				if in := y + radius + 1; in < h {
					sum += src[(in*w+x)*3+c]
				}
			}
		}
	}
}

func (r *Renderer) toneMap() {
	w := r.width
	pix := r.frame.Pix
	r.rows(func(y int) {
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			p := (y*w + x) * 4
			pix[p] = tone(r.accum[o])
			pix[p+1] = tone(r.accum[o+1])
			pix[p+2] = tone(r.accum[o+2])
			pix[p+3] = 255
		}
	})
}

func tone(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	return uint8(clampFloat((1-math.Exp(-float64(v)*1.5))*255, 0, 255))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
