package canvas

// StrokeCanvas implements the begin/extend/end gesture protocol. Each Extend
// draws only the newest segment; finished strokes go to the ink layer.
type StrokeCanvas struct {
	surface *Surface
	ink     *InkLayer

	active  bool
	current []Point
}

func NewStrokeCanvas(surface *Surface, ink *InkLayer) *StrokeCanvas {
	return &StrokeCanvas{surface: surface, ink: ink}
}

// Begin starts a gesture at p. It is ignored while a gesture is active or
// when p is not a valid point.
func (c *StrokeCanvas) Begin(p Point) {
	if c.active || !p.Valid() {
		return
	}
	c.active = true
	c.current = []Point{p}
}

// Extend appends p to the active gesture and draws the segment leading to it.
// Without an active gesture, or for an invalid point, it does nothing.
func (c *StrokeCanvas) Extend(p Point) {
	if !c.active || !p.Valid() {
		return
	}
	last := c.current[len(c.current)-1]
	c.current = append(c.current, p)
	c.surface.Stroke(last, p)
}

// End finalizes the active gesture into an immutable Stroke.
func (c *StrokeCanvas) End() {
	if !c.active {
		return
	}
	c.ink.Append(NewStroke(c.current))
	c.active = false
	c.current = nil
}

func (c *StrokeCanvas) Active() bool {
	return c.active
}

func (c *StrokeCanvas) Ink() *InkLayer {
	return c.ink
}

func (c *StrokeCanvas) Surface() *Surface {
	return c.surface
}

// Redraw regenerates the surface from the logical strokes, dropping any
// gesture in progress.
func (c *StrokeCanvas) Redraw() {
	c.active = false
	c.current = nil
	c.ink.Replay(c.surface)
}
