// Package canvas turns pointer gestures into strokes and rasterizes them onto
// a transparent ink surface.
package canvas

import "math"

// Point is a position in canvas-local pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ToLocalPoint maps a client-space pointer position into the coordinate space
// of an element whose top-left corner sits at origin.
func ToLocalPoint(client, origin Point) Point {
	return Point{X: client.X - origin.X, Y: client.Y - origin.Y}
}

// MaxCoordinate bounds the magnitude of accepted pointer coordinates.
const MaxCoordinate = 1 << 20

// Valid reports whether p is finite and within ±MaxCoordinate on both axes.
func (p Point) Valid() bool {
	return inRange(p.X) && inRange(p.Y)
}

func inRange(v float64) bool {
	return !math.IsNaN(v) && v >= -MaxCoordinate && v <= MaxCoordinate
}
