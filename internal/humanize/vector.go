// File: internal/humanize/vector.go
package humanize

import "math"

// Vec2 represents a point or vector in screen space.
type Vec2 struct {
	X, Y float64
}

// Add returns the vector sum of v and other.
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub returns the vector difference of v and other.
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul returns v scaled by the scalar factor.
func (v Vec2) Mul(scalar float64) Vec2 {
	return Vec2{X: v.X * scalar, Y: v.Y * scalar}
}

// Mag calculates the magnitude of the vector.
func (v Vec2) Mag() float64 {
	// math.Hypot for numerical stability.
	return math.Hypot(v.X, v.Y)
}

// Normalize returns a unit vector in the same direction as v.
func (v Vec2) Normalize() Vec2 {
	mag := v.Mag()
	if mag < 1e-9 {
		return Vec2{}
	}
	return v.Mul(1.0 / mag)
}

// Dist calculates the Euclidean distance between v and other as points.
func (v Vec2) Dist(other Vec2) float64 {
	return math.Hypot(v.X-other.X, v.Y-other.Y)
}

// Perp returns the unit vector perpendicular to v (rotated 90 degrees
// counter-clockwise).
func (v Vec2) Perp() Vec2 {
	return Vec2{X: -v.Y, Y: v.X}.Normalize()
}
