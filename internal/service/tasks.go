package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lewtec/labelhub/internal/distribution"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
)

// CreateTasksInput describes a batch of tasks over the images ordered Start..End
type CreateTasksInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DatasetID   string   `json:"datasetId"`
	AssigneeIDs []string `json:"assignedTo"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
}

// UpdateTaskInput holds the mutable fields of a task
type UpdateTaskInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AssigneeID  string `json:"assignedToId"`
}

// TaskView is a task with its counters
type TaskView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CreatorID   string       `json:"creatorId"`
	AssigneeID  string       `json:"assignedToId"`
	DatasetID   string       `json:"datasetId"`
	CreatedAt   time.Time    `json:"createdAt"`
	Stats       domain.Stats `json:"stats"`
}

// TaskImage is one image of a task as the annotation view navigates it
type TaskImage struct {
	ID              string             `json:"id"`
	Filename        string             `json:"filename"`
	Path            string             `json:"path"`
	Storage         domain.StorageKind `json:"storage"`
	Order           int                `json:"order"`
	Src             string             `json:"src"`
	AnnotationCount int                `json:"annotationCount"`
}

// TaskListScope selects which tasks ListTasks returns
type TaskListScope string

const (
	TasksAssigned TaskListScope = "assigned"
	TasksCreated  TaskListScope = "created"
)

// TaskService distributes dataset images into per-annotator tasks
type TaskService struct {
	store       *repository.Store
	adapter     *storage.Adapter
	distributor *distribution.Distributor
	logger      *zap.Logger
	now         func() time.Time
}

// NewTaskService creates a new TaskService. A nil distributor uses the global generator.
func NewTaskService(store *repository.Store, adapter *storage.Adapter, distributor *distribution.Distributor, logger *zap.Logger) *TaskService {
	if distributor == nil {
		distributor = distribution.New(nil)
	}
	return &TaskService{
		store:       store,
		adapter:     adapter,
		distributor: distributor,
		logger:      logger.Named("service.tasks"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateTasks deals the active images ordered start..end of a dataset to the assignees
// and creates one task per assignee, all in one transaction
func (s *TaskService) CreateTasks(ctx context.Context, actor string, in CreateTasksInput) ([]*domain.Task, error) {
	const op = "tasks.CreateTasks"
	if in.Name == "" {
		return nil, domain.InvalidArgument(op, "task name is required")
	}
	repos := s.store.Repos()

	ds, err := ownedDataset(ctx, repos, op, actor, in.DatasetID)
	if err != nil {
		return nil, err
	}
	count, err := repos.Images.CountRows(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while counting images of dataset '%s': %w", ds.ID, err)
	}
	if err := distribution.ValidateRange(in.Start, in.End, count); err != nil {
		return nil, err
	}
	for _, u := range in.AssigneeIDs {
		if _, err := repos.Users.Get(ctx, u); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.InvalidArgument(op, "unknown assignee %s", u)
			}
			return nil, err
		}
	}

	imageIDs, err := repos.Images.ActiveIDsInRange(ctx, ds.ID, in.Start, in.End)
	if err != nil {
		return nil, fmt.Errorf("while selecting images %d-%d: %w", in.Start, in.End, err)
	}
	buckets, err := s.distributor.Distribute(imageIDs, in.AssigneeIDs)
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.Task, 0, len(in.AssigneeIDs))
	now := s.now()
	err = s.store.WithTx(ctx, func(r *repository.Repositories) error {
		for _, assignee := range in.AssigneeIDs {
			task := &domain.Task{
				Name:        in.Name,
				Description: in.Description,
				CreatorID:   actor,
				AssigneeID:  assignee,
				DatasetID:   ds.ID,
				CreatedAt:   now,
			}
			if err := r.Tasks.Create(ctx, task); err != nil {
				return err
			}
			if err := r.Tasks.AddImages(ctx, task.ID, buckets[assignee], now); err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tasks created",
		zap.String("dataset", ds.ID),
		zap.Int("tasks", len(tasks)),
		zap.Int("images", len(imageIDs)),
	)
	return tasks, nil
}

// RequestMore links up to distribution.BatchSize unassigned images of the task's dataset
// to the task. The claim is a single statement, so concurrent callers never share an
// image. Zero means the dataset has no unassigned images left.
func (s *TaskService) RequestMore(ctx context.Context, actor, taskID string) (int, error) {
	const op = "tasks.RequestMore"
	repos := s.store.Repos()

	task, err := repos.Tasks.Get(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if task.AssigneeID != actor {
		return 0, domain.Forbidden(op, "only the assignee may request more images for task %s", taskID)
	}
	n, err := repos.Tasks.ClaimUnassigned(ctx, task.ID, task.DatasetID, distribution.BatchSize, s.now())
	if err != nil {
		return 0, domain.Wrap(domain.KindTransactionFailure, op, err)
	}
	s.logger.Info("images claimed", zap.String("task", taskID), zap.Int("assigned", n))
	return n, nil
}

// visibleTask loads a task that actor created or is assigned to. Anyone else gets NotFound.
func visibleTask(ctx context.Context, r *repository.Repositories, op, actor, taskID string) (*domain.Task, error) {
	task, err := r.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != actor && task.AssigneeID != actor {
		return nil, domain.NotFound(op, "task %s not found", taskID)
	}
	return task, nil
}

func (s *TaskService) view(ctx context.Context, r *repository.Repositories, task *domain.Task) (*TaskView, error) {
	stats, err := r.Stats.TaskStats(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("while computing stats of task '%s': %w", task.ID, err)
	}
	return &TaskView{
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
		CreatorID:   task.CreatorID,
		AssigneeID:  task.AssigneeID,
		DatasetID:   task.DatasetID,
		CreatedAt:   task.CreatedAt,
		Stats:       *stats,
	}, nil
}

// GetTask returns a task with its counters
func (s *TaskService) GetTask(ctx context.Context, actor, taskID string) (*TaskView, error) {
	repos := s.store.Repos()
	task, err := visibleTask(ctx, repos, "tasks.GetTask", actor, taskID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, repos, task)
}

// ListTasks pages the tasks assigned to or created by actor, newest first
func (s *TaskService) ListTasks(ctx context.Context, actor string, scope TaskListScope, page Page) ([]*TaskView, error) {
	repos := s.store.Repos()
	limit, offset := page.limitOffset()

	var (
		tasks []*domain.Task
		err   error
	)
	switch scope {
	case TasksAssigned, "":
		tasks, err = repos.Tasks.ListByAssignee(ctx, actor, limit, offset)
	case TasksCreated:
		tasks, err = repos.Tasks.ListByCreator(ctx, actor, limit, offset)
	default:
		return nil, domain.InvalidArgument("tasks.ListTasks", "unknown scope %q", scope)
	}
	if err != nil {
		return nil, fmt.Errorf("while listing tasks of '%s': %w", actor, err)
	}

	views := make([]*TaskView, 0, len(tasks))
	for _, t := range tasks {
		v, err := s.view(ctx, repos, t)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// UpdateTask rewrites name, description and assignee. Only the creator may do so;
// the dataset of a task never changes.
func (s *TaskService) UpdateTask(ctx context.Context, actor, taskID string, in UpdateTaskInput) (*domain.Task, error) {
	const op = "tasks.UpdateTask"
	repos := s.store.Repos()

	task, err := repos.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != actor {
		return nil, domain.NotFound(op, "task %s not found", taskID)
	}
	if in.Name == "" {
		return nil, domain.InvalidArgument(op, "task name is required")
	}
	if in.AssigneeID != "" && in.AssigneeID != task.AssigneeID {
		if _, err := repos.Users.Get(ctx, in.AssigneeID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.InvalidArgument(op, "unknown assignee %s", in.AssigneeID)
			}
			return nil, err
		}
		task.AssigneeID = in.AssigneeID
	}
	task.Name = in.Name
	task.Description = in.Description
	if err := repos.Tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task and its image links. Images and annotations stay.
func (s *TaskService) DeleteTask(ctx context.Context, actor, taskID string) error {
	const op = "tasks.DeleteTask"
	return s.store.WithTx(ctx, func(r *repository.Repositories) error {
		task, err := r.Tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.CreatorID != actor {
			return domain.Forbidden(op, "only the creator may delete task %s", taskID)
		}
		return r.Tasks.Delete(ctx, taskID)
	})
}

// TaskImages lists the active images of a task in navigation order with the number of
// annotations the assignee made on each
func (s *TaskService) TaskImages(ctx context.Context, actor, taskID string) ([]*TaskImage, error) {
	const op = "tasks.TaskImages"
	repos := s.store.Repos()

	task, err := visibleTask(ctx, repos, op, actor, taskID)
	if err != nil {
		return nil, err
	}
	images, err := repos.Tasks.Images(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("while listing images of task '%s': %w", task.ID, err)
	}
	if len(images) == 0 {
		return nil, domain.NotFound(op, "task %s has no images", taskID)
	}

	out := make([]*TaskImage, 0, len(images))
	for _, img := range images {
		anns, err := repos.Annotations.ListForImageByCreator(ctx, img.ID, task.AssigneeID)
		if err != nil {
			return nil, fmt.Errorf("while counting annotations of image '%s': %w", img.ID, err)
		}
		ti := &TaskImage{
			ID:              img.ID,
			Filename:        img.Filename,
			Path:            img.Path,
			Storage:         img.Storage,
			Order:           img.Order,
			AnnotationCount: len(anns),
		}
		if s.adapter != nil {
			ti.Src, _ = s.adapter.ResolveReadableURL(ctx, img)
		}
		out = append(out, ti)
	}
	return out, nil
}

// LastAnnotatedImage returns the ID of the task image actor annotated most recently,
// or "" when there is none
func (s *TaskService) LastAnnotatedImage(ctx context.Context, actor, taskID string) (string, error) {
	repos := s.store.Repos()
	task, err := visibleTask(ctx, repos, "tasks.LastAnnotatedImage", actor, taskID)
	if err != nil {
		return "", err
	}
	img, err := repos.Tasks.LastAnnotatedImage(ctx, task.ID, actor)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return img.ID, nil
}
