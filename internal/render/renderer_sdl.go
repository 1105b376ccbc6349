//go:build sdl

package render

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

// SDL presents frames in a native window.
type SDL struct {
	mu          sync.Mutex
	window      *sdl.Window
	renderer    *sdl.Renderer
	texture     *sdl.Texture
	width       int
	height      int
	windowTitle string
	dragging    bool
	pointer     chan PointerEvent
	closed      bool
}

// NewSDL opens a window of width x height pixels. SDL requires every call to
// come from the goroutine that created it.
func NewSDL(width, height int) (*SDL, error) {
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, err
	}
	window, err := sdl.CreateWindow(
		"partivision",
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(width), int32(height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
	)
	if err != nil {
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, err
	}
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		window.Destroy()
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
		return nil, err
	}
	return &SDL{
		window:   window,
		renderer: renderer,
		width:    width,
		height:   height,
		pointer:  make(chan PointerEvent, 64),
	}, nil
}

// SurfaceSize returns the window's drawable size.
func (s *SDL) SurfaceSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Pointer delivers drag and wheel gestures.
func (s *SDL) Pointer() <-chan PointerEvent { return s.pointer }

func (s *SDL) ensureTexture(w, h int) error {
	if s.texture != nil {
		_, _, tw, th, err := s.texture.Query()
		if err == nil && int(tw) == w && int(th) == h {
			return nil
		}
		s.texture.Destroy()
		s.texture = nil
	}
	tex, err := s.renderer.CreateTexture(
		sdl.PIXELFORMAT_ABGR8888,
		sdl.TEXTUREACCESS_STREAMING,
		int32(w), int32(h),
	)
	if err != nil {
		return err
	}
	s.texture = tex
	return nil
}

// Present uploads the frame and pumps window events.
func (s *SDL) Present(frame *image.RGBA, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrPresenterClosed
	}
	b := frame.Bounds()
	if err := s.ensureTexture(b.Dx(), b.Dy()); err != nil {
		return fmt.Errorf("sdl texture: %w", err)
	}
	if status != "" && status != s.windowTitle {
		s.window.SetTitle(status)
		s.windowTitle = status
	}
	if err := s.texture.Update(nil, unsafe.Pointer(&frame.Pix[0]), frame.Stride); err != nil {
		return err
	}
	if err := s.renderer.Clear(); err != nil {
		return err
	}
	if err := s.renderer.Copy(s.texture, nil, nil); err != nil {
		return err
	}
	s.renderer.Present()

	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			s.closed = true
			return ErrPresenterClosed
		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				s.width, s.height = int(e.Data1), int(e.Data2)
			}
		case *sdl.MouseButtonEvent:
			if e.Button == sdl.BUTTON_LEFT {
				s.dragging = e.Type == sdl.MOUSEBUTTONDOWN
			}
		case *sdl.MouseMotionEvent:
			if s.dragging {
				s.send(PointerEvent{DX: float64(e.XRel), DY: float64(e.YRel)})
			}
		case *sdl.MouseWheelEvent:
			// wheel up moves closer
			s.send(PointerEvent{Wheel: -float64(e.Y) * 100})
		}
	}
	return nil
}

func (s *SDL) send(ev PointerEvent) {
	select {
	case s.pointer <- ev:
	default:
	}
}

// Close destroys the window.
func (s *SDL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	if s.renderer != nil {
		s.renderer.Destroy()
		s.renderer = nil
	}
	if s.window != nil {
		s.window.Destroy()
		s.window = nil
	}
	s.closed = true
	sdl.QuitSubSystem(sdl.INIT_VIDEO)
	return nil
}

func SupportsSDL() bool { return true }
