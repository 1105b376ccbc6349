package render

import "image"

// Presenter puts a composited frame on an output surface.
type Presenter interface {
	Present(frame *image.RGBA, status string) error
	Close() error
}

// Resizer is implemented by presenters whose surface size can change at runtime.
type Resizer interface {
	// SurfaceSize returns the pixel size the renderer should draw at.
	SurfaceSize() (width, height int)
}

// PointerEvent is a drag or wheel gesture on a windowed presenter.
type PointerEvent struct {
	DX, DY float64
	Wheel  float64
}

// Pointer is implemented by presenters that deliver pointer input.
type Pointer interface {
	Pointer() <-chan PointerEvent
}

// Headless discards frames. The renderer still keeps the last frame for capture.
type Headless struct{}

func (Headless) Present(*image.RGBA, string) error { return nil }

func (Headless) Close() error { return nil }
