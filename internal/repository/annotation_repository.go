package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lewtec/labelhub/internal/domain"
)

// AnnotationRepository implements domain.AnnotationRepository
type AnnotationRepository struct {
	db DBTX
}

var _ domain.AnnotationRepository = (*AnnotationRepository)(nil)

// NewAnnotationRepository creates a new AnnotationRepository
func NewAnnotationRepository(db *sql.DB) *AnnotationRepository {
	return &AnnotationRepository{db: db}
}

// NewAnnotationRepositoryWithTx creates a new AnnotationRepository with a transaction
func NewAnnotationRepositoryWithTx(tx *sql.Tx) *AnnotationRepository {
	return &AnnotationRepository{db: tx}
}

const annotationColumns = `id, type, origin, label_id, text, score, note, is_cross_page, created_by_id, image_id, created_at, updated_at`

// Create inserts the annotation and its points. The origin follows the creator.
func (r *AnnotationRepository) Create(ctx context.Context, ann *domain.Annotation) error {
	if ann.ID == "" {
		ann.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ann.CreatedAt.IsZero() {
		ann.CreatedAt = now
	}
	ann.UpdatedAt = ann.CreatedAt
	if ann.CreatedByID == nil {
		ann.Origin = domain.OriginMachine
	} else {
		ann.Origin = domain.OriginHuman
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO annotations (`+annotationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ann.ID, string(ann.Type), string(ann.Origin), nullString(ann.LabelID), nullString(ann.Text),
		nullFloat(ann.Score), nullString(ann.Note), ann.IsCrossPage, nullString(ann.CreatedByID),
		ann.ImageID, ann.CreatedAt, ann.UpdatedAt)
	if err != nil {
		return fmt.Errorf("while inserting annotation '%s': %w", ann.ID, err)
	}
	return r.insertPoints(ctx, ann.ID, ann.Points)
}

func (r *AnnotationRepository) insertPoints(ctx context.Context, annotationID string, points []domain.Point) error {
	for _, p := range points {
		_, err := r.db.ExecContext(ctx, `INSERT INTO points (annotation_id, x, y, sort_order) VALUES (?, ?, ?, ?)`,
			annotationID, p.X, p.Y, p.Order)
		if err != nil {
			return fmt.Errorf("while inserting point of annotation '%s': %w", annotationID, err)
		}
	}
	return nil
}

// Exists checks whether an annotation with this ID exists for any user
func (r *AnnotationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM annotations WHERE id = ?)`, id).Scan(&exists)
	return exists, err
}

// ListForImage returns every annotation of an image, oldest first
func (r *AnnotationRepository) ListForImage(ctx context.Context, imageID string) ([]*domain.Annotation, error) {
	return r.query(ctx, `WHERE image_id = ?`, imageID)
}

// ListForImageByCreator returns the annotations one user made on an image
func (r *AnnotationRepository) ListForImageByCreator(ctx context.Context, imageID string, creatorID string) ([]*domain.Annotation, error) {
	return r.query(ctx, `WHERE image_id = ? AND created_by_id = ?`, imageID, creatorID)
}

func (r *AnnotationRepository) query(ctx context.Context, where string, args ...any) ([]*domain.Annotation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+annotationColumns+` FROM annotations `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		result []*domain.Annotation
		byID   = map[string]*domain.Annotation{}
	)
	for rows.Next() {
		var (
			ann                         domain.Annotation
			labelID, text, note, author sql.NullString
			score                       sql.NullFloat64
		)
		err := rows.Scan(&ann.ID, &ann.Type, &ann.Origin, &labelID, &text, &score, &note,
			&ann.IsCrossPage, &author, &ann.ImageID, &ann.CreatedAt, &ann.UpdatedAt)
		if err != nil {
			return nil, err
		}
		ann.LabelID = stringPtr(labelID)
		ann.Text = stringPtr(text)
		ann.Score = floatPtr(score)
		ann.Note = stringPtr(note)
		ann.CreatedByID = stringPtr(author)
		result = append(result, &ann)
		byID[ann.ID] = &ann
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(result) == 0 {
		return result, nil
	}
	ids := make([]any, len(result))
	for i, ann := range result {
		ids[i] = ann.ID
	}
	pointRows, err := r.db.QueryContext(ctx, `
SELECT annotation_id, x, y, sort_order FROM points
WHERE annotation_id IN (`+inPlaceholders(len(ids))+`)
ORDER BY annotation_id, sort_order, id`, ids...)
	if err != nil {
		return nil, fmt.Errorf("while loading points: %w", err)
	}
	defer pointRows.Close()
	for pointRows.Next() {
		var (
			annID string
			p     domain.Point
		)
		if err := pointRows.Scan(&annID, &p.X, &p.Y, &p.Order); err != nil {
			return nil, err
		}
		if ann, ok := byID[annID]; ok {
			ann.Points = append(ann.Points, p)
		}
	}
	return result, pointRows.Err()
}

// UpdateScalars rewrites the mutable fields. ID, creator, origin and creation time
// never change.
func (r *AnnotationRepository) UpdateScalars(ctx context.Context, ann *domain.Annotation) error {
	ann.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE annotations
SET type = ?, label_id = ?, text = ?, score = ?, note = ?, is_cross_page = ?, updated_at = ?
WHERE id = ?`,
		string(ann.Type), nullString(ann.LabelID), nullString(ann.Text), nullFloat(ann.Score),
		nullString(ann.Note), ann.IsCrossPage, ann.UpdatedAt, ann.ID)
	if err != nil {
		return fmt.Errorf("while updating annotation '%s': %w", ann.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("annotations.UpdateScalars", "annotation %s not found", ann.ID)
	}
	return nil
}

// ReplacePoints deletes the annotation's points and inserts the given ones
func (r *AnnotationRepository) ReplacePoints(ctx context.Context, annotationID string, points []domain.Point) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM points WHERE annotation_id = ?`, annotationID); err != nil {
		return fmt.Errorf("while deleting points of annotation '%s': %w", annotationID, err)
	}
	return r.insertPoints(ctx, annotationID, points)
}

// Delete removes an annotation and its points
func (r *AnnotationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM points WHERE annotation_id = ?`, id); err != nil {
		return fmt.Errorf("while deleting points of annotation '%s': %w", id, err)
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, id)
	return err
}

// ListHumanOCR returns the human transcriptions with text of a dataset's active images
func (r *AnnotationRepository) ListHumanOCR(ctx context.Context, datasetID string) ([]*domain.OCRRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT a.id, a.text, i.path
FROM annotations a
JOIN images i ON i.id = a.image_id
WHERE i.dataset_id = ?
  AND i.deleted_by_id IS NULL
  AND a.type = 'OCR'
  AND a.created_by_id IS NOT NULL
  AND a.text IS NOT NULL AND a.text <> ''
ORDER BY i.sort_order, a.created_at`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.OCRRecord
	for rows.Next() {
		var rec domain.OCRRecord
		if err := rows.Scan(&rec.AnnotationID, &rec.Text, &rec.ImagePath); err != nil {
			return nil, err
		}
		result = append(result, &rec)
	}
	return result, rows.Err()
}
