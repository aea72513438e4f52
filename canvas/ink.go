package canvas

// Stroke is the ordered point sequence of one finished gesture.
type Stroke struct {
	points []Point
}

// NewStroke copies points into a new Stroke.
func NewStroke(points []Point) Stroke {
	cp := make([]Point, len(points))
	copy(cp, points)
	return Stroke{points: cp}
}

// Points returns a copy of the stroke's points.
func (s Stroke) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

func (s Stroke) Len() int {
	return len(s.points)
}

// InkLayer holds every stroke drawn in a session, in insertion order.
type InkLayer struct {
	strokes []Stroke
}

func NewInkLayer() *InkLayer {
	return &InkLayer{}
}

func (l *InkLayer) Append(s Stroke) {
	l.strokes = append(l.strokes, s)
}

func (l *InkLayer) Count() int {
	return len(l.strokes)
}

// Strokes returns a copy of the stroke list. Strokes themselves are immutable.
func (l *InkLayer) Strokes() []Stroke {
	cp := make([]Stroke, len(l.strokes))
	copy(cp, l.strokes)
	return cp
}

func (l *InkLayer) Clear() {
	l.strokes = nil
}

// Replace swaps the whole layer for strokes.
func (l *InkLayer) Replace(strokes []Stroke) {
	l.strokes = make([]Stroke, len(strokes))
	copy(l.strokes, strokes)
}

// Replay clears surface and redraws every stroke onto it.
func (l *InkLayer) Replay(surface *Surface) {
	surface.Clear()
	for _, s := range l.strokes {
		for i := 1; i < len(s.points); i++ {
			surface.Stroke(s.points[i-1], s.points[i])
		}
	}
}
