package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/geom"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/visual"
)

func litScene(t *testing.T, name string) Scene {
	t.Helper()
	m := visual.NewMapper(1)
	if err := m.SwitchVisual(name); err != nil {
		t.Fatalf("switch: %v", err)
	}
	f := make(analyzer.Frame, 1024)
	for i := range f {
		f[i] = 220
	}
	m.Update(f, params.Defaults())
	return Scene{
		Models: m.Models(),
		Eye:    geom.Vec3{Y: 30, Z: 70},
		FOV:    75,
	}
}

func frameEnergy(img image.Image) int {
	rgba := img.(*image.RGBA)
	sum := 0
	for i := 0; i < len(rgba.Pix); i += 4 {
		sum += int(rgba.Pix[i]) + int(rgba.Pix[i+1]) + int(rgba.Pix[i+2])
	}
	return sum
}

func TestCompositeDrawsEveryModelKind(t *testing.T) {
	for _, name := range visual.Names() {
		r, err := New(160, 90, nil)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := r.Composite(litScene(t, name)); err != nil {
			t.Fatalf("%s composite: %v", name, err)
		}
		if frameEnergy(r.CurrentFrame()) == 0 {
			t.Fatalf("%s rendered an empty frame", name)
		}
	}
}

func TestHiddenModelsRenderBlack(t *testing.T) {
	m := visual.NewMapper(1)
	m.Update(nil, params.Defaults())
	r, _ := New(64, 36, nil)
	if err := r.Composite(Scene{Models: m.Models(), Eye: geom.Vec3{Z: 50}}); err != nil {
		t.Fatalf("composite: %v", err)
	}
	if e := frameEnergy(r.CurrentFrame()); e != 0 {
		t.Fatalf("idle frame energy=%d", e)
	}
}

func TestBloomBrightens(t *testing.T) {
	scene := litScene(t, "sphere")
	plain, _ := New(120, 80, nil)
	plain.SetBloom(0)
	_ = plain.Composite(scene)
	glow, _ := New(120, 80, nil)
	glow.SetBloom(2)
	_ = glow.Composite(scene)
	if frameEnergy(glow.CurrentFrame()) <= frameEnergy(plain.CurrentFrame()) {
		t.Fatalf("bloom did not add energy")
	}
}

func TestCaptureStillIsPNG(t *testing.T) {
	r, _ := New(32, 16, nil)
	data, err := r.CaptureStill()
	if err != nil || len(data) == 0 {
		t.Fatalf("still: %d bytes, %v", len(data), err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}

func TestResizeKeepsSizeForNonPositive(t *testing.T) {
	r, _ := New(10, 10, nil)
	r.Resize(0, 20)
	if w, h := r.Size(); w != 10 || h != 20 {
		t.Fatalf("size=%dx%d", w, h)
	}
}

func TestBackgroundFillsIdleFrame(t *testing.T) {
	r, _ := New(40, 20, nil)
	if err := r.Composite(Scene{Eye: geom.Vec3{Z: 50}, Background: "plasma", Time: 1}); err != nil {
		t.Fatalf("composite: %v", err)
	}
	if frameEnergy(r.CurrentFrame()) == 0 {
		t.Fatalf("backdrop missing")
	}
	if !ValidBackground("nebula") || ValidBackground("lava") {
		t.Fatalf("background validation wrong")
	}
}

type closedPresenter struct{}

func (closedPresenter) Present(*image.RGBA, string) error { return ErrPresenterClosed }

func (closedPresenter) Close() error { return nil }

func TestCompositeReportsClosedPresenter(t *testing.T) {
	r, _ := New(8, 8, closedPresenter{})
	if err := r.Composite(Scene{}); !errors.Is(err, ErrPresenterClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestASCIIPresenterWritesGrid(t *testing.T) {
	var out bytes.Buffer
	a := NewASCII(&out, 20, 5, "default", false)
	w, h := a.SurfaceSize()
	r, _ := New(w, h, a)
	if err := r.Composite(litScene(t, "galaxy")); err != nil {
		t.Fatalf("composite: %v", err)
	}
	lines := a.Lines()
	if len(lines) != 5 {
		t.Fatalf("rows=%d", len(lines))
	}
	for _, l := range lines {
		if n := len([]rune(l)); n != 20 {
			t.Fatalf("row has %d glyphs, want 20", n)
		}
	}
	if !strings.HasPrefix(out.String(), "\x1b[H") {
		t.Fatalf("frame should start at cursor home")
	}
}

func TestRGBToANSI(t *testing.T) {
	if got := rgbToANSI(1, 0, 0); got != 196 {
		t.Fatalf("red=%d", got)
	}
	if got := rgbToANSI(0.5, 0.5, 0.5); got < 232 {
		t.Fatalf("gray should use grayscale ramp, got %d", got)
	}
}

func TestPaletteFallsBackToDefault(t *testing.T) {
	names := PaletteNames()
	if len(names) != 5 || names[0] != "box" {
		t.Fatalf("names=%v", names)
	}
	if got := string(Palette("nope")); got != string(Palette("default")) {
		t.Fatalf("fallback ramp=%q", got)
	}
	for _, name := range names {
		if p := Palette(name); p[0] != ' ' {
			t.Fatalf("%s ramp must start dark: %q", name, string(p))
		}
	}
}

func TestNearParticleSpriteIsBounded(t *testing.T) {
	m := visual.NewMapper(1)
	_ = m.SwitchVisual("particles")
	m.Update(make(analyzer.Frame, 1024), params.Defaults())
	mod := m.ActiveModel()
	mod.RotationY = 0
	for i := range mod.Colors {
		mod.Colors[i] = 0
	}
	mod.Colors[0], mod.Colors[1], mod.Colors[2] = 1, 1, 1
	mod.Positions[0], mod.Positions[1], mod.Positions[2] = 0, 0, 49.8

	r, _ := New(320, 180, nil)
	r.SetBloom(0)
	if err := r.Composite(Scene{Models: m.Models(), Eye: geom.Vec3{Z: 50}, FOV: 75}); err != nil {
		t.Fatalf("composite: %v", err)
	}
	rgba := r.CurrentFrame().(*image.RGBA)
	lit := 0
	for i := 0; i < len(rgba.Pix); i += 4 {
		if rgba.Pix[i]|rgba.Pix[i+1]|rgba.Pix[i+2] != 0 {
			lit++
		}
	}
	side := 2*maxSpriteRadius + 1
	if lit == 0 || lit > side*side {
		t.Fatalf("lit pixels=%d, want 1..%d", lit, side*side)
	}
}
