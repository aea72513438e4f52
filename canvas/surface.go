package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

const (
	// InkWidth matches the default line width of a 2D drawing context.
	InkWidth = 1.0

	DefaultWidth  = 800
	DefaultHeight = 600

	clipMargin = 4 * InkWidth
)

// InkColor is the fixed stroke color.
var InkColor = color.RGBA{A: 0xff}

// Surface is a transparent RGBA pixel buffer that ink segments are drawn onto.
type Surface struct {
	img *image.RGBA
	z   *vector.Rasterizer
	ink *image.Uniform
}

func NewSurface(width, height int) *Surface {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Surface{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
		z:   vector.NewRasterizer(width, height),
		ink: image.NewUniform(InkColor),
	}
}

func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Clear resets every pixel to transparent.
func (s *Surface) Clear() {
	draw.Draw(s.img, s.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Stroke draws the segment from -> to with square caps so consecutive
// segments of a stroke join without gaps. The segment is clipped to the
// surface plus a small margin; parts outside it are not drawn.
func (s *Surface) Stroke(from, to Point) {
	if !from.Valid() || !to.Valid() {
		return
	}
	b := s.img.Bounds()
	from, to, ok := clip(from, to,
		float64(b.Min.X)-clipMargin, float64(b.Min.Y)-clipMargin,
		float64(b.Max.X)+clipMargin, float64(b.Max.Y)+clipMargin)
	if !ok {
		return
	}

	dx, dy := to.X-from.X, to.Y-from.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}

	half := InkWidth / 2
	ux, uy := dx/length*half, dy/length*half
	nx, ny := -uy, ux

	size := s.img.Bounds().Size()
	s.z.Reset(size.X, size.Y)
	s.z.DrawOp = draw.Over
	s.z.MoveTo(float32(from.X-ux+nx), float32(from.Y-uy+ny))
	s.z.LineTo(float32(to.X+ux+nx), float32(to.Y+uy+ny))
	s.z.LineTo(float32(to.X+ux-nx), float32(to.Y+uy-ny))
	s.z.LineTo(float32(from.X-ux-nx), float32(from.Y-uy-ny))
	s.z.ClosePath()
	s.z.Draw(s.img, s.img.Bounds(), s.ink, image.Point{})
}

// Image exposes the live pixel buffer. Callers must treat it as read-only.
func (s *Surface) Image() image.Image {
	return s.img
}

// clip cuts the segment a -> b to the rectangle [minX, maxX] x [minY, maxY]
// (Liang-Barsky). ok is false when no part of the segment lies inside.
func clip(a, b Point, minX, minY, maxX, maxY float64) (Point, Point, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0

	edges := [4][2]float64{
		{-dx, a.X - minX},
		{dx, maxX - a.X},
		{-dy, a.Y - minY},
		{dy, maxY - a.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return a, b, false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return a, b, false
			}
			if r < t1 {
				t1 = r
			}
		}
	}

	return Point{X: a.X + t0*dx, Y: a.Y + t0*dy}, Point{X: a.X + t1*dx, Y: a.Y + t1*dy}, true
}
