package domain

import (
	"context"
	"time"
)

// AnnotationType is the geometry kind of an annotation
type AnnotationType string

const (
	AnnotationRectangle AnnotationType = "RECTANGLE"
	AnnotationPolygon   AnnotationType = "POLYGON"
	AnnotationOCR       AnnotationType = "OCR"
)

// Valid reports whether t is a known annotation type
func (t AnnotationType) Valid() bool {
	switch t {
	case AnnotationRectangle, AnnotationPolygon, AnnotationOCR:
		return true
	}
	return false
}

// Origin tells human annotations apart from machine pre-annotations
type Origin string

const (
	OriginHuman   Origin = "HUMAN"
	OriginMachine Origin = "MACHINE"
)

// Point is one vertex of an annotation. Order defines the vertex sequence.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Order int     `json:"order"`
}

// Annotation represents one shape or transcription on an image.
// CreatedByID is nil exactly when Origin is OriginMachine.
type Annotation struct {
	ID          string
	Type        AnnotationType
	Origin      Origin
	LabelID     *string
	Text        *string
	Score       *float64
	Note        *string
	IsCrossPage bool
	CreatedByID *string
	ImageID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Points      []Point
}

// OCRRecord pairs a human transcription with the image it belongs to
type OCRRecord struct {
	AnnotationID string
	Text         string
	ImagePath    string
}

// AnnotationRepository defines the interface for annotation storage operations
type AnnotationRepository interface {
	// Create inserts the annotation and its points
	Create(ctx context.Context, ann *Annotation) error

	// Exists checks whether any annotation has the given ID
	Exists(ctx context.Context, id string) (bool, error)

	// ListForImage returns every annotation of an image with its points
	ListForImage(ctx context.Context, imageID string) ([]*Annotation, error)

	// ListForImageByCreator returns the annotations one user made on an image
	ListForImageByCreator(ctx context.Context, imageID string, creatorID string) ([]*Annotation, error)

	// UpdateScalars rewrites type, label, text, score, note and cross page flag
	UpdateScalars(ctx context.Context, ann *Annotation) error

	// ReplacePoints deletes the points of an annotation and inserts the given ones
	ReplacePoints(ctx context.Context, annotationID string, points []Point) error

	// Delete removes an annotation and its points
	Delete(ctx context.Context, id string) error

	// ListHumanOCR returns human OCR transcriptions with text for a dataset
	ListHumanOCR(ctx context.Context, datasetID string) ([]*OCRRecord, error)
}
