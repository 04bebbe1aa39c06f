package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lewtec/labelhub/internal/domain"
)

// ImageRepository implements domain.ImageRepository
type ImageRepository struct {
	db DBTX
}

var _ domain.ImageRepository = (*ImageRepository)(nil)

// NewImageRepository creates a new ImageRepository
func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// NewImageRepositoryWithTx creates a new ImageRepository with a transaction
func NewImageRepositoryWithTx(tx *sql.Tx) *ImageRepository {
	return &ImageRepository{db: tx}
}

const imageColumns = `id, filename, path, storage, sort_order, dataset_id, deleted_by_id, created_at`

// imageColumnsAs prefixes the image columns with a table alias
func imageColumnsAs(alias string) string {
	return alias + ".id, " + alias + ".filename, " + alias + ".path, " + alias + ".storage, " +
		alias + ".sort_order, " + alias + ".dataset_id, " + alias + ".deleted_by_id, " + alias + ".created_at"
}

func scanImage(row interface{ Scan(...any) error }) (*domain.Image, error) {
	var (
		img       domain.Image
		deletedBy sql.NullString
	)
	if err := row.Scan(&img.ID, &img.Filename, &img.Path, &img.Storage, &img.Order, &img.DatasetID, &deletedBy, &img.CreatedAt); err != nil {
		return nil, err
	}
	img.DeletedByID = stringPtr(deletedBy)
	return &img, nil
}

func scanImages(rows *sql.Rows) ([]*domain.Image, error) {
	defer rows.Close()
	var result []*domain.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, img)
	}
	return result, rows.Err()
}

// CreateBatch inserts images. Missing IDs and timestamps are filled in.
func (r *ImageRepository) CreateBatch(ctx context.Context, images []*domain.Image) error {
	now := time.Now().UTC()
	for _, img := range images {
		if img.ID == "" {
			img.ID = uuid.NewString()
		}
		if img.CreatedAt.IsZero() {
			img.CreatedAt = now
		}
		_, err := r.db.ExecContext(ctx, `
INSERT INTO images (id, filename, path, storage, sort_order, dataset_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			img.ID, img.Filename, img.Path, string(img.Storage), img.Order, img.DatasetID, img.CreatedAt)
		if err != nil {
			return fmt.Errorf("while inserting image '%s': %w", img.Path, err)
		}
	}
	return nil
}

// Get retrieves an image by ID
func (r *ImageRepository) Get(ctx context.Context, id string) (*domain.Image, error) {
	img, err := scanImage(r.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("images.Get", "image %s not found", id)
	}
	return img, err
}

// ListByDataset pages active images by order
func (r *ImageRepository) ListByDataset(ctx context.Context, datasetID string, afterOrder int, limit int) ([]*domain.Image, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+imageColumns+` FROM images
WHERE dataset_id = ? AND deleted_by_id IS NULL AND sort_order > ?
ORDER BY sort_order
LIMIT ?`, datasetID, afterOrder, limit)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

// ActiveIDsInRange returns IDs of active images with order in [start, end]
func (r *ImageRepository) ActiveIDsInRange(ctx context.Context, datasetID string, start, end int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id FROM images
WHERE dataset_id = ? AND deleted_by_id IS NULL AND sort_order BETWEEN ? AND ?
ORDER BY sort_order`, datasetID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

// CountRows counts every image row of a dataset, including soft deleted ones
func (r *ImageRepository) CountRows(ctx context.Context, datasetID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE dataset_id = ?`, datasetID).Scan(&n)
	return n, err
}

// MaxOrder returns the highest order in the dataset or -1
func (r *ImageRepository) MaxOrder(ctx context.Context, datasetID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), -1) FROM images WHERE dataset_id = ?`, datasetID).Scan(&n)
	return n, err
}

// SoftDelete marks an active image as deleted
func (r *ImageRepository) SoftDelete(ctx context.Context, id string, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE images SET deleted_by_id = ? WHERE id = ? AND deleted_by_id IS NULL`, userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("images.SoftDelete", "image %s not found", id)
	}
	return nil
}

// FindByPathContains returns active images whose path contains fragment
func (r *ImageRepository) FindByPathContains(ctx context.Context, datasetID string, fragment string) ([]*domain.Image, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+imageColumns+` FROM images
WHERE dataset_id = ? AND deleted_by_id IS NULL AND instr(path, ?) > 0
ORDER BY sort_order`, datasetID, fragment)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

// FindByPath returns the oldest active image stored at exactly path, in any dataset
func (r *ImageRepository) FindByPath(ctx context.Context, path string) (*domain.Image, error) {
	img, err := scanImage(r.db.QueryRowContext(ctx, `
SELECT `+imageColumns+` FROM images
WHERE path = ? AND deleted_by_id IS NULL
ORDER BY created_at, id LIMIT 1`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("images.FindByPath", "no image at %s", path)
	}
	return img, err
}
