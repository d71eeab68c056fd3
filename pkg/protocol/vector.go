package protocol

import (
	"fmt"
	"math"
)

// VectorAccuracy is the fixed-point scale used for vector coordinates on the
// wire: a coordinate c travels as floor(c * VectorAccuracy).
const VectorAccuracy = 100000

// gridTolerance is how close, in scaled units, a coordinate must be to a
// grid point to encode as that point. Decoded values carry at most a few
// ulps of error, well below it.
const gridTolerance = 1e-6

// Vector2 is a 2D position or direction.
//
// Only values on the fixed-point grid (multiples of 1/VectorAccuracy whose
// scaled value fits an int32) survive a round trip unchanged; anything else
// is floored to the grid on encode. A decoded value re-encodes to the same
// wire bytes.
type Vector2 struct {
	X float64
	Y float64
}

// Vector2FromFixed converts wire coordinates back to a Vector2.
func Vector2FromFixed(x, y int32) Vector2 {
	return Vector2{
		X: float64(x) / VectorAccuracy,
		Y: float64(y) / VectorAccuracy,
	}
}

// Fixed returns the wire representation of v.
func (v Vector2) Fixed() (x, y int32, err error) {
	x, err = toFixed(v.X)
	if err != nil {
		return 0, 0, fmt.Errorf("x: %w", err)
	}
	y, err = toFixed(v.Y)
	if err != nil {
		return 0, 0, fmt.Errorf("y: %w", err)
	}
	return x, y, nil
}

// Add returns v + o.
func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: v.X + o.X, Y: v.Y + o.Y}
}

// String returns a compact representation of the vector.
func (v Vector2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

func toFixed(c float64) (int32, error) {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, ErrValueOutOfRange
	}
	scaled := c * VectorAccuracy
	if nearest := math.Round(scaled); math.Abs(scaled-nearest) < gridTolerance {
		scaled = nearest
	} else {
		scaled = math.Floor(scaled)
	}
	if scaled < math.MinInt32 || scaled > math.MaxInt32 {
		return 0, ErrValueOutOfRange
	}
	return int32(scaled), nil
}
