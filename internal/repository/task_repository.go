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

// TaskRepository implements domain.TaskRepository
type TaskRepository struct {
	db DBTX
}

var _ domain.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// NewTaskRepositoryWithTx creates a new TaskRepository with a transaction
func NewTaskRepositoryWithTx(tx *sql.Tx) *TaskRepository {
	return &TaskRepository{db: tx}
}

const taskColumns = `id, name, description, creator_id, assignee_id, dataset_id, created_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreatorID, &t.AssigneeID, &t.DatasetID, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Create inserts a task
func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO annotation_tasks (id, name, description, creator_id, assignee_id, dataset_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Name, task.Description, task.CreatorID, task.AssigneeID, task.DatasetID, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("while inserting task '%s': %w", task.Name, err)
	}
	return nil
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM annotation_tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("tasks.Get", "task %s not found", id)
	}
	return t, err
}

// Update rewrites name, description and assignee
func (r *TaskRepository) Update(ctx context.Context, task *domain.Task) error {
	res, err := r.db.ExecContext(ctx, `UPDATE annotation_tasks SET name = ?, description = ?, assignee_id = ? WHERE id = ?`,
		task.Name, task.Description, task.AssigneeID, task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("tasks.Update", "task %s not found", task.ID)
	}
	return nil
}

// Delete removes the task and its image links
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM task_on_images WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("while unlinking images of task '%s': %w", id, err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM annotation_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("tasks.Delete", "task %s not found", id)
	}
	return nil
}

// ListByAssignee pages the tasks assigned to a user
func (r *TaskRepository) ListByAssignee(ctx context.Context, userID string, limit, offset int) ([]*domain.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM annotation_tasks WHERE assignee_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, userID, limit, offset)
}

// ListByCreator pages the tasks a user created
func (r *TaskRepository) ListByCreator(ctx context.Context, userID string, limit, offset int) ([]*domain.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM annotation_tasks WHERE creator_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, userID, limit, offset)
}

// AddImages links images to a task
func (r *TaskRepository) AddImages(ctx context.Context, taskID string, imageIDs []string, at time.Time) error {
	for _, id := range imageIDs {
		_, err := r.db.ExecContext(ctx, `INSERT INTO task_on_images (task_id, image_id, created_at) VALUES (?, ?, ?)`, taskID, id, at)
		if err != nil {
			return fmt.Errorf("while linking image '%s' to task '%s': %w", id, taskID, err)
		}
	}
	return nil
}

// ClaimUnassigned links up to limit unassigned active images to the task in one
// INSERT ... SELECT, so two concurrent claims can never take the same image.
func (r *TaskRepository) ClaimUnassigned(ctx context.Context, taskID string, datasetID string, limit int, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO task_on_images (task_id, image_id, created_at)
SELECT ?, i.id, ?
FROM images i
WHERE i.dataset_id = ?
  AND i.deleted_by_id IS NULL
  AND NOT EXISTS (SELECT 1 FROM task_on_images t WHERE t.image_id = i.id)
ORDER BY i.sort_order
LIMIT ?`, taskID, at, datasetID, limit)
	if err != nil {
		return 0, fmt.Errorf("while claiming images for task '%s': %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Images lists the task's active images, oldest assignment batch first and by
// dataset order inside a batch
func (r *TaskRepository) Images(ctx context.Context, taskID string) ([]*domain.Image, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+imageColumnsAs("i")+`
FROM task_on_images toi
JOIN images i ON i.id = toi.image_id
WHERE toi.task_id = ? AND i.deleted_by_id IS NULL
ORDER BY toi.created_at ASC, i.sort_order ASC`, taskID)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

// UnlinkImage removes an image from every task
func (r *TaskRepository) UnlinkImage(ctx context.Context, imageID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM task_on_images WHERE image_id = ?`, imageID)
	return err
}

// IsAssignedImage reports whether the user is assignee of a task covering the image
func (r *TaskRepository) IsAssignedImage(ctx context.Context, userID string, imageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM task_on_images toi
  JOIN annotation_tasks t ON t.id = toi.task_id
  WHERE toi.image_id = ? AND t.assignee_id = ?
)`, imageID, userID).Scan(&exists)
	return exists, err
}

// LastAnnotatedImage returns the task image the user touched most recently
func (r *TaskRepository) LastAnnotatedImage(ctx context.Context, taskID string, userID string) (*domain.Image, error) {
	img, err := scanImage(r.db.QueryRowContext(ctx, `
SELECT `+imageColumnsAs("i")+`
FROM annotations a
JOIN images i ON i.id = a.image_id
JOIN task_on_images toi ON toi.image_id = i.id AND toi.task_id = ?
WHERE a.created_by_id = ? AND i.deleted_by_id IS NULL
ORDER BY a.updated_at DESC, i.sort_order DESC
LIMIT 1`, taskID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("tasks.LastAnnotatedImage", "no annotated image in task %s", taskID)
	}
	return img, err
}
