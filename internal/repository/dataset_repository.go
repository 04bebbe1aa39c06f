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

// DatasetRepository implements domain.DatasetRepository
type DatasetRepository struct {
	db DBTX
}

var _ domain.DatasetRepository = (*DatasetRepository)(nil)

// NewDatasetRepository creates a new DatasetRepository
func NewDatasetRepository(db *sql.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// NewDatasetRepositoryWithTx creates a new DatasetRepository with a transaction
func NewDatasetRepositoryWithTx(tx *sql.Tx) *DatasetRepository {
	return &DatasetRepository{db: tx}
}

const datasetColumns = `id, name, description, type, prompts, created_by_id, created_at, updated_at`

func scanDataset(row interface{ Scan(...any) error }) (*domain.Dataset, error) {
	var (
		ds      domain.Dataset
		prompts sql.NullString
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Type, &prompts, &ds.CreatedByID, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	ds.Prompts = stringPtr(prompts)
	return &ds, nil
}

// Create inserts a dataset. Missing ID and timestamps are filled in.
func (r *DatasetRepository) Create(ctx context.Context, ds *domain.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = ds.CreatedAt
	_, err := r.db.ExecContext(ctx, `
INSERT INTO datasets (id, name, description, type, prompts, created_by_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Description, string(ds.Type), nullString(ds.Prompts), ds.CreatedByID, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("while inserting dataset '%s': %w", ds.Name, err)
	}
	return nil
}

// Get retrieves a dataset by ID
func (r *DatasetRepository) Get(ctx context.Context, id string) (*domain.Dataset, error) {
	ds, err := scanDataset(r.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("datasets.Get", "dataset %s not found", id)
	}
	return ds, err
}

// Update rewrites the mutable scalar fields
func (r *DatasetRepository) Update(ctx context.Context, ds *domain.Dataset) error {
	ds.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE datasets SET name = ?, description = ?, prompts = ?, updated_at = ? WHERE id = ?`,
		ds.Name, ds.Description, nullString(ds.Prompts), ds.UpdatedAt, ds.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("datasets.Update", "dataset %s not found", ds.ID)
	}
	return nil
}

// Delete removes the dataset and everything hanging off it. Run it inside a transaction.
func (r *DatasetRepository) Delete(ctx context.Context, id string) error {
	steps := []struct {
		what  string
		query string
	}{
		{"points", `DELETE FROM points WHERE annotation_id IN (SELECT a.id FROM annotations a JOIN images i ON i.id = a.image_id WHERE i.dataset_id = ?)`},
		{"annotations", `DELETE FROM annotations WHERE image_id IN (SELECT id FROM images WHERE dataset_id = ?)`},
		{"task assignments", `DELETE FROM task_on_images WHERE task_id IN (SELECT id FROM annotation_tasks WHERE dataset_id = ?)`},
		{"tasks", `DELETE FROM annotation_tasks WHERE dataset_id = ?`},
		{"images", `DELETE FROM images WHERE dataset_id = ?`},
		{"labels", `DELETE FROM labels WHERE dataset_id = ?`},
		{"dataset", `DELETE FROM datasets WHERE id = ?`},
	}
	for _, step := range steps {
		if _, err := r.db.ExecContext(ctx, step.query, id); err != nil {
			return fmt.Errorf("while deleting %s of dataset '%s': %w", step.what, id, err)
		}
	}
	return nil
}

// List pages datasets newest first
func (r *DatasetRepository) List(ctx context.Context, limit, offset int) ([]*domain.Dataset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ds)
	}
	return result, rows.Err()
}

// Count returns the number of datasets
func (r *DatasetRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&n)
	return n, err
}

// LabelRepository implements domain.LabelRepository
type LabelRepository struct {
	db DBTX
}

var _ domain.LabelRepository = (*LabelRepository)(nil)

// NewLabelRepository creates a new LabelRepository
func NewLabelRepository(db *sql.DB) *LabelRepository {
	return &LabelRepository{db: db}
}

// NewLabelRepositoryWithTx creates a new LabelRepository with a transaction
func NewLabelRepositoryWithTx(tx *sql.Tx) *LabelRepository {
	return &LabelRepository{db: tx}
}

// ReplaceForDataset drops the dataset's labels and inserts the given ones
func (r *LabelRepository) ReplaceForDataset(ctx context.Context, datasetID string, labels []*domain.Label) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM labels WHERE dataset_id = ?`, datasetID); err != nil {
		return fmt.Errorf("while clearing labels: %w", err)
	}
	for _, l := range labels {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.DatasetID = datasetID
		_, err := r.db.ExecContext(ctx, `INSERT INTO labels (id, name, color, description, dataset_id) VALUES (?, ?, ?, ?, ?)`,
			l.ID, l.Name, l.Color, nullString(l.Description), datasetID)
		if err != nil {
			return fmt.Errorf("while inserting label '%s': %w", l.Name, err)
		}
	}
	return nil
}

// ListByDataset returns the labels of a dataset ordered by name
func (r *LabelRepository) ListByDataset(ctx context.Context, datasetID string) ([]*domain.Label, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, color, description, dataset_id FROM labels WHERE dataset_id = ? ORDER BY name, id`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Label
	for rows.Next() {
		var (
			l    domain.Label
			desc sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &desc, &l.DatasetID); err != nil {
			return nil, err
		}
		l.Description = stringPtr(desc)
		result = append(result, &l)
	}
	return result, rows.Err()
}
