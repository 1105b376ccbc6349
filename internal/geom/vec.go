// Package geom holds the small amount of 3D vector math the visualizer needs.
package geom

import "math"

// Vec3 is a point or direction in world space.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Len returns the Euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Normalize returns the unit vector in the direction of v, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// RotateY rotates v around the Y axis by angle radians.
func (v Vec3) RotateY(angle float64) Vec3 {
	s, c := math.Sincos(angle)
	return Vec3{v.X*c + v.Z*s, v.Y, -v.X*s + v.Z*c}
}

// RotateEuler applies rotations around X, then Y, then Z.
func (v Vec3) RotateEuler(rx, ry, rz float64) Vec3 {
	sx, cx := math.Sincos(rx)
	y := v.Y*cx - v.Z*sx
	z := v.Y*sx + v.Z*cx
	v = Vec3{v.X, y, z}
	v = v.RotateY(ry)
	sz, cz := math.Sincos(rz)
	return Vec3{v.X*cz - v.Y*sz, v.X*sz + v.Y*cz, v.Z}
}

// At reads the i-th packed xyz triple from buf.
func At(buf []float64, i int) Vec3 {
	return Vec3{buf[i*3], buf[i*3+1], buf[i*3+2]}
}

// Put writes v as the i-th packed xyz triple of buf.
func Put(buf []float64, i int, v Vec3) {
	buf[i*3] = v.X
	buf[i*3+1] = v.Y
	buf[i*3+2] = v.Z
}
