// Package geometry converts canvas shapes to the ordered point list that is persisted
// and back.
package geometry

import (
	"math"
	"sort"

	"github.com/lewtec/labelhub/internal/domain"
)

// Rect is an axis aligned rectangle given by its top left corner and size
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Vertex is one polygon corner as drawn by the user
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Shape is the decoded form of a stored annotation. Exactly one of Rect or Polygon is
// set for geometric kinds; OCR carries neither.
type Shape struct {
	Kind    domain.AnnotationType `json:"type"`
	Rect    *Rect                 `json:"rect,omitempty"`
	Polygon []Vertex              `json:"polygon,omitempty"`
}

// EncodeRect emits the corners top-left, top-right, bottom-right, bottom-left
func EncodeRect(r Rect) []domain.Point {
	right := r.Left + r.Width
	bottom := r.Top + r.Height
	return []domain.Point{
		{X: r.Left, Y: r.Top, Order: 0},
		{X: right, Y: r.Top, Order: 1},
		{X: right, Y: bottom, Order: 2},
		{X: r.Left, Y: bottom, Order: 3},
	}
}

// DecodeRect rebuilds a rectangle from its corners using min/abs so rectangles
// dragged to the left or upwards decode the same as normalized ones.
// Fewer than four points decode to the zero rectangle.
func DecodeRect(points []domain.Point) Rect {
	if len(points) < 4 {
		return Rect{}
	}
	p0, p1, p3 := points[0], points[1], points[3]
	return Rect{
		Left:   math.Min(p0.X, p3.X),
		Top:    math.Min(p0.Y, p1.Y),
		Width:  math.Abs(p1.X - p0.X),
		Height: math.Abs(p3.Y - p0.Y),
	}
}

// EncodePolygon keeps the vertices in drawing order
func EncodePolygon(vertices []Vertex) []domain.Point {
	points := make([]domain.Point, len(vertices))
	for i, v := range vertices {
		points[i] = domain.Point{X: v.X, Y: v.Y, Order: i}
	}
	return points
}

// DecodePolygon returns the vertices as stored
func DecodePolygon(points []domain.Point) []Vertex {
	vertices := make([]Vertex, len(points))
	for i, p := range points {
		vertices[i] = Vertex{X: p.X, Y: p.Y}
	}
	return vertices
}

// Centroid is the arithmetic mean of the vertices, used to place a label
func Centroid(vertices []Vertex) Vertex {
	if len(vertices) == 0 {
		return Vertex{}
	}
	var c Vertex
	for _, v := range vertices {
		c.X += v.X
		c.Y += v.Y
	}
	n := float64(len(vertices))
	return Vertex{X: c.X / n, Y: c.Y / n}
}

// SortPoints orders points by their Order field in place
func SortPoints(points []domain.Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Order < points[j].Order
	})
}

// ToStorage validates a shape and returns its point list
func ToStorage(s Shape) (domain.AnnotationType, []domain.Point, error) {
	switch s.Kind {
	case domain.AnnotationRectangle:
		if s.Rect == nil {
			return "", nil, domain.InvalidArgument("geometry.ToStorage", "rectangle without bounds")
		}
		return s.Kind, EncodeRect(*s.Rect), nil
	case domain.AnnotationPolygon:
		if len(s.Polygon) < 3 {
			return "", nil, domain.InvalidArgument("geometry.ToStorage", "polygon needs at least 3 vertices, got %d", len(s.Polygon))
		}
		return s.Kind, EncodePolygon(s.Polygon), nil
	case domain.AnnotationOCR:
		return s.Kind, nil, nil
	}
	return "", nil, domain.InvalidArgument("geometry.ToStorage", "unknown shape type %q", s.Kind)
}

// FromStorage decodes points of the given kind. The input slice is not modified.
func FromStorage(kind domain.AnnotationType, points []domain.Point) Shape {
	sorted := make([]domain.Point, len(points))
	copy(sorted, points)
	SortPoints(sorted)
	switch kind {
	case domain.AnnotationRectangle:
		r := DecodeRect(sorted)
		return Shape{Kind: kind, Rect: &r}
	case domain.AnnotationPolygon:
		return Shape{Kind: kind, Polygon: DecodePolygon(sorted)}
	}
	return Shape{Kind: kind}
}

// ValidatePoints checks a raw point list against the rules of its kind
func ValidatePoints(kind domain.AnnotationType, points []domain.Point) error {
	switch kind {
	case domain.AnnotationRectangle:
		if len(points) != 4 {
			return domain.InvalidArgument("geometry.ValidatePoints", "rectangle needs exactly 4 points, got %d", len(points))
		}
	case domain.AnnotationPolygon:
		if len(points) < 3 {
			return domain.InvalidArgument("geometry.ValidatePoints", "polygon needs at least 3 points, got %d", len(points))
		}
	case domain.AnnotationOCR:
	default:
		return domain.InvalidArgument("geometry.ValidatePoints", "unknown annotation type %q", kind)
	}
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return domain.InvalidArgument("geometry.ValidatePoints", "point coordinates must be finite")
		}
	}
	return nil
}
