package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/guidoenr/partivision/internal/geom"
)

// CameraMode selects how the eye position is derived each tick.
type CameraMode string

const (
	CameraOrbit  CameraMode = "orbit"
	CameraFly    CameraMode = "fly"
	CameraFPS    CameraMode = "fps"
	CameraStatic CameraMode = "static"
)

var cameraModes = []CameraMode{CameraOrbit, CameraFly, CameraFPS, CameraStatic}

// CameraModeNames lists the modes in cycle order.
func CameraModeNames() []string {
	out := make([]string, len(cameraModes))
	for i, m := range cameraModes {
		out[i] = string(m)
	}
	return out
}

// ParseCameraMode maps a user string onto a mode.
func ParseCameraMode(name string) (CameraMode, error) {
	switch strings.ToLower(name) {
	case "orbit":
		return CameraOrbit, nil
	case "fly":
		return CameraFly, nil
	case "fps", "walk":
		return CameraFPS, nil
	case "static", "fixed":
		return CameraStatic, nil
	}
	return "", fmt.Errorf("%w: camera mode %q", ErrInvalidParameter, name)
}

// NextCameraMode returns the mode after m in cycle order.
func NextCameraMode(m CameraMode) CameraMode {
	for i, c := range cameraModes {
		if c == m {
			return cameraModes[(i+1)%len(cameraModes)]
		}
	}
	return CameraOrbit
}

const (
	MinDistance = 10.0
	MaxDistance = 200.0
	minPhi      = 0.1
	maxPhi      = math.Pi - 0.1
)

// Camera is the jointly edited camera state. The render step reads it; nothing owns it.
type Camera struct {
	Mode     CameraMode `json:"mode"`
	Distance float64    `json:"distance"`
	Speed    float64    `json:"speed"`
	Theta    float64    `json:"theta"`
	Phi      float64    `json:"phi"`
	Pan      geom.Vec3  `json:"pan"`
	FOV      float64    `json:"fov"`
}

// DefaultCamera returns the startup orbit camera.
func DefaultCamera() Camera {
	return Camera{
		Mode:     CameraOrbit,
		Distance: 50,
		Speed:    0.5,
		Theta:    math.Pi / 4,
		Phi:      math.Pi / 4,
		FOV:      75,
	}
}

// Drag applies a pointer drag in pixels to the orbit angles.
func (c *Camera) Drag(dx, dy float64) {
	c.Theta -= dx * 0.005
	c.Phi = clampFloat(c.Phi-dy*0.005, minPhi, maxPhi)
}

// Zoom moves the orbit distance by a wheel delta.
func (c *Camera) Zoom(delta float64) {
	c.Distance = clampFloat(c.Distance+delta*0.1, MinDistance, MaxDistance)
}

// SetFOV sets the vertical field of view in degrees.
func (c *Camera) SetFOV(deg float64) {
	c.FOV = clampFloat(deg, 10, 150)
}

// View returns the eye position and look-at target for the given wall clock.
func (c Camera) View(nowMillis float64) (eye, target geom.Vec3) {
	t := nowMillis * 0.0001
	switch c.Mode {
	case CameraOrbit:
		eye = geom.Vec3{
			X: math.Sin(c.Theta)*math.Sin(c.Phi)*c.Distance + c.Pan.X,
			Y: math.Cos(c.Phi)*c.Distance + c.Pan.Y,
			Z: math.Cos(c.Theta)*math.Sin(c.Phi)*c.Distance + c.Pan.Z,
		}
		return eye, c.Pan
	case CameraFly:
		eye = geom.Vec3{
			X: math.Sin(t*c.Speed) * c.Distance,
			Y: 20 + math.Cos(t*c.Speed*1.2)*10,
			Z: math.Cos(t*c.Speed) * c.Distance,
		}
		return eye, geom.Vec3{}
	case CameraFPS:
		eye = geom.Vec3{
			X: math.Sin(t*c.Speed) * 30,
			Y: 5,
			Z: math.Cos(t*c.Speed) * 30,
		}
		return eye, geom.Vec3{Y: 10}
	default:
		return geom.Vec3{Y: 30, Z: 70}, geom.Vec3{}
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
