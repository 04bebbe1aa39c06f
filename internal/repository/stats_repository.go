package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lewtec/labelhub/internal/domain"
)

// StatsRepository implements domain.StatsRepository.
//
// Counting rules: soft deleted images never count; annotated images and annotation
// counts only consider annotations with a creator; pre-annotated images are those with
// at least one creator-less annotation. Image counts are distinct by image.
type StatsRepository struct {
	db DBTX
}

var _ domain.StatsRepository = (*StatsRepository)(nil)

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// NewStatsRepositoryWithTx creates a new StatsRepository with a transaction
func NewStatsRepositoryWithTx(tx *sql.Tx) *StatsRepository {
	return &StatsRepository{db: tx}
}

// DatasetStats computes the counters of one dataset
func (r *StatsRepository) DatasetStats(ctx context.Context, datasetID string) (*domain.Stats, error) {
	var s domain.Stats
	err := r.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM images
     WHERE dataset_id = ? AND deleted_by_id IS NULL),
  (SELECT COUNT(DISTINCT a.image_id) FROM annotations a JOIN images i ON i.id = a.image_id
     WHERE i.dataset_id = ? AND i.deleted_by_id IS NULL AND a.created_by_id IS NOT NULL),
  (SELECT COUNT(*) FROM annotations a JOIN images i ON i.id = a.image_id
     WHERE i.dataset_id = ? AND i.deleted_by_id IS NULL AND a.created_by_id IS NOT NULL),
  (SELECT COUNT(*) FROM images i
     WHERE i.dataset_id = ? AND i.deleted_by_id IS NULL
       AND EXISTS (SELECT 1 FROM annotations a WHERE a.image_id = i.id AND a.created_by_id IS NULL))`,
		datasetID, datasetID, datasetID, datasetID,
	).Scan(&s.ImageCount, &s.AnnotatedImageCount, &s.AnnotationCount, &s.PreAnnotatedImageCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TaskStats computes the counters of one task. Human counts only include
// annotations made by the task's assignee.
func (r *StatsRepository) TaskStats(ctx context.Context, taskID string) (*domain.Stats, error) {
	var assignee string
	err := r.db.QueryRowContext(ctx, `SELECT assignee_id FROM annotation_tasks WHERE id = ?`, taskID).Scan(&assignee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("stats.TaskStats", "task %s not found", taskID)
	}
	if err != nil {
		return nil, err
	}

	var s domain.Stats
	err = r.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM task_on_images toi JOIN images i ON i.id = toi.image_id
     WHERE toi.task_id = ? AND i.deleted_by_id IS NULL),
  (SELECT COUNT(DISTINCT a.image_id) FROM annotations a
     JOIN task_on_images toi ON toi.image_id = a.image_id
     JOIN images i ON i.id = a.image_id
     WHERE toi.task_id = ? AND i.deleted_by_id IS NULL AND a.created_by_id = ?),
  (SELECT COUNT(*) FROM annotations a
     JOIN task_on_images toi ON toi.image_id = a.image_id
     JOIN images i ON i.id = a.image_id
     WHERE toi.task_id = ? AND i.deleted_by_id IS NULL AND a.created_by_id = ?),
  (SELECT COUNT(*) FROM task_on_images toi JOIN images i ON i.id = toi.image_id
     WHERE toi.task_id = ? AND i.deleted_by_id IS NULL
       AND EXISTS (SELECT 1 FROM annotations a WHERE a.image_id = i.id AND a.created_by_id IS NULL))`,
		taskID, taskID, assignee, taskID, assignee, taskID,
	).Scan(&s.ImageCount, &s.AnnotatedImageCount, &s.AnnotationCount, &s.PreAnnotatedImageCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UnassignedOrders returns orders of active images linked to no task
func (r *StatsRepository) UnassignedOrders(ctx context.Context, datasetID string) ([]int, error) {
	return r.orders(ctx, `
SELECT i.sort_order FROM images i
WHERE i.dataset_id = ? AND i.deleted_by_id IS NULL
  AND NOT EXISTS (SELECT 1 FROM task_on_images t WHERE t.image_id = i.id)
ORDER BY i.sort_order`, datasetID)
}

// UnannotatedOrders returns orders of active images without any human annotation
func (r *StatsRepository) UnannotatedOrders(ctx context.Context, datasetID string) ([]int, error) {
	return r.orders(ctx, `
SELECT i.sort_order FROM images i
WHERE i.dataset_id = ? AND i.deleted_by_id IS NULL
  AND NOT EXISTS (SELECT 1 FROM annotations a WHERE a.image_id = i.id AND a.created_by_id IS NOT NULL)
ORDER BY i.sort_order`, datasetID)
}

func (r *StatsRepository) orders(ctx context.Context, query string, args ...any) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var o int
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}
