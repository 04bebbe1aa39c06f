package domain

import (
	"context"
	"time"
)

// Task assigns a subset of a dataset's images to one annotator
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatorID   string    `json:"creatorId"`
	AssigneeID  string    `json:"assignedToId"`
	DatasetID   string    `json:"datasetId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stats holds the counters shared by datasets and tasks
type Stats struct {
	ImageCount             int64 `json:"imageCount"`
	AnnotatedImageCount    int64 `json:"annotatedImageCount"`
	AnnotationCount        int64 `json:"annotationCount"`
	PreAnnotatedImageCount int64 `json:"preAnnotatedImageCount"`
}

// TaskRepository defines the interface for task storage operations
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)

	// Update rewrites name, description and assignee
	Update(ctx context.Context, task *Task) error

	// Delete removes the task and its image assignments
	Delete(ctx context.Context, id string) error

	// ListByAssignee pages tasks assigned to a user, newest first
	ListByAssignee(ctx context.Context, userID string, limit, offset int) ([]*Task, error)

	// ListByCreator pages tasks created by a user, newest first
	ListByCreator(ctx context.Context, userID string, limit, offset int) ([]*Task, error)

	// AddImages links images to a task, all stamped with at
	AddImages(ctx context.Context, taskID string, imageIDs []string, at time.Time) error

	// ClaimUnassigned links up to limit active images of the dataset that belong to no task
	// and returns how many were linked. Check and insert happen in one statement.
	ClaimUnassigned(ctx context.Context, taskID string, datasetID string, limit int, at time.Time) (int, error)

	// Images lists the active images of a task in navigation order
	Images(ctx context.Context, taskID string) ([]*Image, error)

	// UnlinkImage removes an image from every task
	UnlinkImage(ctx context.Context, imageID string) error

	// IsAssignedImage reports whether userID is assignee of a task that includes imageID
	IsAssignedImage(ctx context.Context, userID string, imageID string) (bool, error)

	// LastAnnotatedImage returns the task image the assignee annotated most recently
	LastAnnotatedImage(ctx context.Context, taskID string, userID string) (*Image, error)
}

// StatsRepository computes the aggregate counters
type StatsRepository interface {
	DatasetStats(ctx context.Context, datasetID string) (*Stats, error)
	TaskStats(ctx context.Context, taskID string) (*Stats, error)

	// UnassignedOrders returns the order of active images linked to no task
	UnassignedOrders(ctx context.Context, datasetID string) ([]int, error)

	// UnannotatedOrders returns the order of active images without a human annotation
	UnannotatedOrders(ctx context.Context, datasetID string) ([]int, error)
}
