package timeline

import (
	"strconv"
	"strings"

	"github.com/starford/marginalia/internal/graph"
)

// ControlFraction is the horizontal offset of the Bézier control points,
// as a fraction of the adjacent rectangle's width.
const ControlFraction = 0.5

// Rect is a node's measured bounding box in screen coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a coordinate in layout space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is the cubic Bézier connector of one edge.
type Path struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Start Point  `json:"start"`
	C1    Point  `json:"c1"`
	C2    Point  `json:"c2"`
	End   Point  `json:"end"`
	D     string `json:"d"`
}

// Paths computes connectors for every edge whose endpoints both have a
// rectangle. Screen coordinates are divided by zoom to get layout space.
// It is a pure function: measuring rectangles is the caller's job, and it
// should be re-run whenever node visibility changes.
func Paths(edges []graph.Edge, rects map[string]Rect, zoom float64) []Path {
	if zoom <= 0 {
		zoom = 1
	}
	var out []Path
	for _, e := range edges {
		src, ok := rects[e.From]
		if !ok {
			continue
		}
		dst, ok := rects[e.To]
		if !ok {
			continue
		}
		start := Point{X: (src.X + src.W) / zoom, Y: (src.Y + src.H/2) / zoom}
		end := Point{X: dst.X / zoom, Y: (dst.Y + dst.H/2) / zoom}
		p := Path{
			From:  e.From,
			To:    e.To,
			Start: start,
			C1:    Point{X: start.X + ControlFraction*src.W/zoom, Y: start.Y},
			C2:    Point{X: end.X - ControlFraction*dst.W/zoom, Y: end.Y},
			End:   end,
		}
		p.D = svgPath(p)
		out = append(out, p)
	}
	return out
}

func svgPath(p Path) string {
	var b strings.Builder
	b.WriteString("M ")
	writePoint(&b, p.Start)
	b.WriteString(" C ")
	writePoint(&b, p.C1)
	b.WriteString(", ")
	writePoint(&b, p.C2)
	b.WriteString(", ")
	writePoint(&b, p.End)
	return b.String()
}

func writePoint(b *strings.Builder, pt Point) {
	b.WriteString(strconv.FormatFloat(pt.X, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(pt.Y, 'f', -1, 64))
}
