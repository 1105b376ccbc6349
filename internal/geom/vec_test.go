package geom

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestNormalizeZero(t *testing.T) {
	if got := (Vec3{}).Normalize(); got != (Vec3{}) {
		t.Fatalf("normalize zero = %+v", got)
	}
	n := Vec3{3, 4, 0}.Normalize()
	if !near(n.Len(), 1) {
		t.Fatalf("expected unit length, got %f", n.Len())
	}
}

func TestRotateYQuarterTurn(t *testing.T) {
	v := Vec3{1, 2, 0}.RotateY(math.Pi / 2)
	if !near(v.X, 0) || !near(v.Y, 2) || !near(v.Z, -1) {
		t.Fatalf("rotateY = %+v", v)
	}
}

func TestCross(t *testing.T) {
	z := Vec3{1, 0, 0}.Cross(Vec3{0, 1, 0})
	if z != (Vec3{0, 0, 1}) {
		t.Fatalf("x cross y = %+v", z)
	}
}

func TestPackedAccess(t *testing.T) {
	buf := make([]float64, 6)
	Put(buf, 1, Vec3{7, 8, 9})
	if At(buf, 1) != (Vec3{7, 8, 9}) || At(buf, 0) != (Vec3{}) {
		t.Fatalf("packed buffer = %v", buf)
	}
}
