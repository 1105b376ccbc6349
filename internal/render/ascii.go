package render

import (
	"image"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Terminal cells are sampled from a cellW x cellH pixel block.
const (
	cellW = 2
	cellH = 4
)

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// ASCII draws frames as coloured glyphs in a terminal.
type ASCII struct {
	mu      sync.Mutex
	out     io.Writer
	cols    int
	rows    int
	palette []rune
	ramp    string
	useANSI bool
	lines   []string
}

// NewASCII returns a terminal presenter of cols x rows cells.
func NewASCII(out io.Writer, cols, rows int, palette string, useANSI bool) *ASCII {
	a := &ASCII{out: out, palette: Palette(palette), ramp: paletteName(palette), useANSI: useANSI}
	a.Resize(cols, rows)
	return a
}

// Resize sets the cell grid.
func (a *ASCII) Resize(cols, rows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cols > 0 {
		a.cols = cols
	}
	if rows > 0 {
		a.rows = rows
	}
}

// SurfaceSize returns the pixel size that maps onto the cell grid.
func (a *ASCII) SurfaceSize() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols * cellW, a.rows * cellH
}

// SetPalette switches the glyph ramp. Unknown names select "default".
func (a *ASCII) SetPalette(name string) {
	a.mu.Lock()
	a.palette = Palette(name)
	a.ramp = paletteName(name)
	a.mu.Unlock()
}

// PaletteName reports the active glyph ramp.
func (a *ASCII) PaletteName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ramp
}

// Present writes the frame from the cursor home position, followed by status.
func (a *ASCII) Present(frame *image.RGBA, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	lines := a.convert(frame)

	var b strings.Builder
	b.Grow(len(lines) * a.cols * 8)
	b.WriteString("\x1b[H")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if status != "" {
		b.WriteString(status)
	}
	_, err := io.WriteString(a.out, b.String())
	return err
}

// Lines returns the last converted frame, without escape codes when colour is off.
func (a *ASCII) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lines...)
}

// Close is a no-op; the terminal is owned by the caller.
func (a *ASCII) Close() error { return nil }

func (a *ASCII) convert(frame *image.RGBA) []string {
	b := frame.Bounds()
	cols, rows := a.cols, a.rows
	if cols <= 0 || rows <= 0 || b.Empty() {
		return nil
	}
	if cap(a.lines) < rows {
		a.lines = make([]string, rows)
	}
	a.lines = a.lines[:rows]

	sx := float64(b.Dx()) / float64(cols)
	sy := float64(b.Dy()) / float64(rows)
	var builder strings.Builder
	for row := 0; row < rows; row++ {
		builder.Reset()
		last := -1
		y0 := b.Min.Y + int(float64(row)*sy)
		y1 := clampInt(b.Min.Y+int(float64(row+1)*sy), y0+1, b.Max.Y)
		for col := 0; col < cols; col++ {
			x0 := b.Min.X + int(float64(col)*sx)
			x1 := clampInt(b.Min.X+int(float64(col+1)*sx), x0+1, b.Max.X)
			r, g, bl := cellAverage(frame, x0, y0, x1, y1)

			bright := math.Max(r, math.Max(g, bl))
			idx := clampInt(int(bright*float64(len(a.palette)-1)+0.5), 0, len(a.palette)-1)
			if a.useANSI && idx > 0 {
				// colour from hue at full value so dim cells keep their tint
				scale := 1 / math.Max(bright, 1e-6)
				c := rgbToANSI(r*scale, g*scale, bl*scale)
				if c != last {
					builder.WriteString(colorCode(c))
					last = c
				}
			}
			builder.WriteRune(a.palette[idx])
		}
		if a.useANSI {
			builder.WriteString(resetANSI)
		}
		a.lines[row] = builder.String()
	}
	return a.lines
}

func cellAverage(img *image.RGBA, x0, y0, x1, y1 int) (r, g, b float64) {
	if x1 > img.Rect.Max.X {
		x1 = img.Rect.Max.X
	}
	if y1 > img.Rect.Max.Y {
		y1 = img.Rect.Max.Y
	}
	n := 0
	for y := y0; y < y1; y++ {
		o := img.PixOffset(x0, y)
		for x := x0; x < x1; x++ {
			r += float64(img.Pix[o])
			g += float64(img.Pix[o+1])
			b += float64(img.Pix[o+2])
			o += 4
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	k := 1 / (255 * float64(n))
	return r * k, g * k, b * k
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// Grayscale palette for low saturation
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
}
