//go:build !sdl

package render

import (
	"errors"
	"image"
)

// SDL is unavailable without the sdl build tag.
type SDL struct{}

// NewSDL always fails in builds without SDL.
func NewSDL(width, height int) (*SDL, error) {
	return nil, errors.New("SDL backend not enabled; rebuild with -tags sdl")
}

func (s *SDL) SurfaceSize() (int, int) { return 0, 0 }

func (s *SDL) Pointer() <-chan PointerEvent { return nil }

func (s *SDL) Present(*image.RGBA, string) error { return ErrPresenterClosed }

func (s *SDL) Close() error { return nil }

func SupportsSDL() bool { return false }
