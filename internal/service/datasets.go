package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lewtec/labelhub/internal/distribution"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/events"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
)

// DefaultExportQuestion is the human turn of exported OCR conversations
const DefaultExportQuestion = "识别出图中的手写文字，用markdown格式返回,不要返回其他内容"

// LabelInput is a label as the client submits it
type LabelInput struct {
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description,omitempty"`
}

// CreateDatasetInput describes a new dataset and the storage folders to import
type CreateDatasetInput struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Type        domain.DatasetType  `json:"type"`
	Prompts     *string             `json:"prompts,omitempty"`
	Labels      []LabelInput        `json:"labels"`
	Sources     []domain.StorageRef `json:"sources"`
}

// UpdateDatasetInput holds optional changes. A nil Labels keeps the labels; a non-nil
// one replaces them all.
type UpdateDatasetInput struct {
	Name           *string         `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Prompts        *string         `json:"prompts,omitempty"`
	Labels         []LabelInput    `json:"labels,omitempty"`
	PreAnnotations []PreAnnotation `json:"preAnnotation,omitempty"`
}

// DatasetIndex lists image orders in compressed range form, e.g. "0-3,7"
type DatasetIndex struct {
	Unassigned  string `json:"unassigned"`
	Unannotated string `json:"unannotated"`
}

// DatasetView is a dataset with its labels and counters
type DatasetView struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        domain.DatasetType `json:"type"`
	Prompts     *string            `json:"prompts"`
	CreatedByID string             `json:"createdById"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Labels      []*domain.Label    `json:"labels"`
	Stats       domain.Stats       `json:"stats"`
	Index       *DatasetIndex      `json:"index,omitempty"`
}

// DatasetList is one page of datasets
type DatasetList struct {
	Items []*DatasetView `json:"items"`
	Total int64          `json:"total"`
}

// ImageView is an image with a URL a browser can load
type ImageView struct {
	ID       string             `json:"id"`
	Filename string             `json:"filename"`
	Path     string             `json:"path"`
	Storage  domain.StorageKind `json:"storage"`
	Order    int                `json:"order"`
	Src      string             `json:"src"`
}

// ImagePage is one page of a dataset's images. NextCursor is nil on the last page.
type ImagePage struct {
	Items      []*ImageView `json:"items"`
	NextCursor *int         `json:"nextCursor"`
}

// Conversation is one turn of an exported OCR training sample
type Conversation struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// OCRSample is one exported OCR training sample
type OCRSample struct {
	Conversations []Conversation `json:"conversations"`
	Images        []string       `json:"images"`
}

// DatasetService imports, edits and exports datasets
type DatasetService struct {
	store   *repository.Store
	adapter *storage.Adapter
	bus     *events.ImportBus
	logger  *zap.Logger
}

// NewDatasetService creates a new DatasetService. A nil bus disables progress events.
func NewDatasetService(store *repository.Store, adapter *storage.Adapter, bus *events.ImportBus, logger *zap.Logger) *DatasetService {
	return &DatasetService{
		store:   store,
		adapter: adapter,
		bus:     bus,
		logger:  logger.Named("service.datasets"),
	}
}

func (s *DatasetService) publish(p events.ImportProgress) {
	if s.bus != nil {
		s.bus.Publish(p.DatasetID, p)
	}
}

func toLabels(typ domain.DatasetType, in []LabelInput) []*domain.Label {
	if typ == domain.DatasetOCR {
		return nil
	}
	labels := make([]*domain.Label, 0, len(in))
	for _, l := range in {
		labels = append(labels, &domain.Label{Name: l.Name, Color: l.Color, Description: l.Description})
	}
	return labels
}

// Create stores the dataset and imports every image found below its sources. Image
// orders run across all sources. If any source cannot be read the dataset is removed
// again and the error is returned.
func (s *DatasetService) Create(ctx context.Context, actor string, in CreateDatasetInput) (*DatasetView, error) {
	const op = "datasets.Create"
	if in.Name == "" {
		return nil, domain.InvalidArgument(op, "dataset name is required")
	}
	if !in.Type.Valid() {
		return nil, domain.InvalidArgument(op, "unknown dataset type %q", in.Type)
	}

	ds := &domain.Dataset{
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		Prompts:     in.Prompts,
		CreatedByID: actor,
	}
	err := s.store.WithTx(ctx, func(r *repository.Repositories) error {
		if err := r.Datasets.Create(ctx, ds); err != nil {
			return err
		}
		return r.Labels.ReplaceForDataset(ctx, ds.ID, toLabels(in.Type, in.Labels))
	})
	if err != nil {
		return nil, err
	}

	if err := s.importSources(ctx, ds, in.Sources); err != nil {
		s.publish(events.ImportProgress{DatasetID: ds.ID, Status: events.ImportError, Error: err.Error()})
		rollbackErr := s.store.WithTx(ctx, func(r *repository.Repositories) error {
			return r.Datasets.Delete(ctx, ds.ID)
		})
		if rollbackErr != nil {
			s.logger.Error("could not remove dataset after failed import", zap.String("dataset", ds.ID), zap.Error(rollbackErr))
		}
		return nil, err
	}

	return s.Get(ctx, actor, ds.ID)
}

func (s *DatasetService) importSources(ctx context.Context, ds *domain.Dataset, sources []domain.StorageRef) error {
	type batch struct {
		ref     domain.StorageRef
		entries []storage.Entry
	}
	var (
		batches []batch
		total   int
	)
	for _, ref := range sources {
		entries, err := s.adapter.EnumerateImages(ctx, ref)
		if err != nil {
			return fmt.Errorf("while enumerating %s: %w", ref, err)
		}
		batches = append(batches, batch{ref: ref, entries: entries})
		total += len(entries)
	}
	s.publish(events.ImportProgress{DatasetID: ds.ID, Total: total, Status: events.ImportProcessing})

	processed := 0
	err := s.store.WithTx(ctx, func(r *repository.Repositories) error {
		order, err := r.Images.MaxOrder(ctx, ds.ID)
		if err != nil {
			return err
		}
		for _, b := range batches {
			images := make([]*domain.Image, 0, len(b.entries))
			for _, e := range b.entries {
				order++
				images = append(images, &domain.Image{
					Filename:  e.Filename,
					Path:      e.Path,
					Storage:   b.ref.Kind,
					Order:     order,
					DatasetID: ds.ID,
				})
			}
			if err := r.Images.CreateBatch(ctx, images); err != nil {
				return fmt.Errorf("while inserting images of %s: %w", b.ref, err)
			}
			processed += len(images)
			s.publish(events.ImportProgress{
				DatasetID:   ds.ID,
				Total:       total,
				Processed:   processed,
				CurrentFile: b.ref.Path,
				Status:      events.ImportProcessing,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events.ImportProgress{DatasetID: ds.ID, Total: total, Processed: processed, Status: events.ImportCompleted})
	s.logger.Info("dataset imported", zap.String("dataset", ds.ID), zap.Int("sources", len(sources)), zap.Int("images", processed))
	return nil
}

// Import appends the images below sources to an existing dataset, continuing its order.
// Nothing is inserted when a source fails.
func (s *DatasetService) Import(ctx context.Context, actor, datasetID string, sources []domain.StorageRef) (*DatasetView, error) {
	const op = "datasets.Import"
	ds, err := ownedDataset(ctx, s.store.Repos(), op, actor, datasetID)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, domain.InvalidArgument(op, "at least one source is required")
	}
	if err := s.importSources(ctx, ds, sources); err != nil {
		s.publish(events.ImportProgress{DatasetID: ds.ID, Status: events.ImportError, Error: err.Error()})
		return nil, err
	}
	return s.Get(ctx, actor, ds.ID)
}

func (s *DatasetService) view(ctx context.Context, r *repository.Repositories, ds *domain.Dataset) (*DatasetView, error) {
	labels, err := r.Labels.ListByDataset(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while loading labels of dataset '%s': %w", ds.ID, err)
	}
	if labels == nil {
		labels = []*domain.Label{}
	}
	stats, err := r.Stats.DatasetStats(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while computing stats of dataset '%s': %w", ds.ID, err)
	}
	return &DatasetView{
		ID:          ds.ID,
		Name:        ds.Name,
		Description: ds.Description,
		Type:        ds.Type,
		Prompts:     ds.Prompts,
		CreatedByID: ds.CreatedByID,
		CreatedAt:   ds.CreatedAt,
		UpdatedAt:   ds.UpdatedAt,
		Labels:      labels,
		Stats:       *stats,
	}, nil
}

// Get returns one dataset with labels, counters and the ranges of unassigned and
// unannotated images. Every signed in user may read any dataset.
func (s *DatasetService) Get(ctx context.Context, actor, datasetID string) (*DatasetView, error) {
	repos := s.store.Repos()
	ds, err := repos.Datasets.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	v, err := s.view(ctx, repos, ds)
	if err != nil {
		return nil, err
	}
	unassigned, err := repos.Stats.UnassignedOrders(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while listing unassigned images: %w", err)
	}
	unannotated, err := repos.Stats.UnannotatedOrders(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while listing unannotated images: %w", err)
	}
	v.Index = &DatasetIndex{
		Unassigned:  distribution.FormatRanges(unassigned),
		Unannotated: distribution.FormatRanges(unannotated),
	}
	return v, nil
}

// List pages all datasets newest first
func (s *DatasetService) List(ctx context.Context, page Page) (*DatasetList, error) {
	repos := s.store.Repos()
	limit, offset := page.limitOffset()

	datasets, err := repos.Datasets.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("while listing datasets: %w", err)
	}
	total, err := repos.Datasets.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("while counting datasets: %w", err)
	}
	list := &DatasetList{Items: make([]*DatasetView, 0, len(datasets)), Total: total}
	for _, ds := range datasets {
		v, err := s.view(ctx, repos, ds)
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, v)
	}
	return list, nil
}

// Update applies in to a dataset the actor owns. The dataset type never changes.
// It returns the updated dataset and how many pre-annotations were imported.
func (s *DatasetService) Update(ctx context.Context, actor, datasetID string, in UpdateDatasetInput) (*DatasetView, int, error) {
	const op = "datasets.Update"
	imported := 0
	err := s.store.WithTx(ctx, func(r *repository.Repositories) error {
		ds, err := ownedDataset(ctx, r, op, actor, datasetID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			if *in.Name == "" {
				return domain.InvalidArgument(op, "dataset name cannot be empty")
			}
			ds.Name = *in.Name
		}
		if in.Description != nil {
			ds.Description = *in.Description
		}
		if in.Prompts != nil {
			ds.Prompts = in.Prompts
		}
		if err := r.Datasets.Update(ctx, ds); err != nil {
			return err
		}
		if in.Labels != nil {
			if err := r.Labels.ReplaceForDataset(ctx, ds.ID, toLabels(ds.Type, in.Labels)); err != nil {
				return err
			}
		}
		if len(in.PreAnnotations) > 0 {
			imported, err = importPreAnnotations(ctx, r, s.logger, ds.ID, in.PreAnnotations)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	v, err := s.Get(ctx, actor, datasetID)
	return v, imported, err
}

// Delete removes a dataset the actor owns with its images, tasks and annotations.
// Image bytes stay in storage.
func (s *DatasetService) Delete(ctx context.Context, actor, datasetID string) error {
	const op = "datasets.Delete"
	err := s.store.WithTx(ctx, func(r *repository.Repositories) error {
		if _, err := ownedDataset(ctx, r, op, actor, datasetID); err != nil {
			return err
		}
		return r.Datasets.Delete(ctx, datasetID)
	})
	if err == nil {
		s.logger.Info("dataset deleted", zap.String("dataset", datasetID), zap.String("user", actor))
	}
	return err
}

// Images pages the active images of a dataset by order. cursor is the order of the
// last image of the previous page, or nil for the first page.
func (s *DatasetService) Images(ctx context.Context, datasetID string, cursor *int, limit int) (*ImagePage, error) {
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	after := -1
	if cursor != nil {
		after = *cursor
	}
	repos := s.store.Repos()
	if _, err := repos.Datasets.Get(ctx, datasetID); err != nil {
		return nil, err
	}
	images, err := repos.Images.ListByDataset(ctx, datasetID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("while listing images of dataset '%s': %w", datasetID, err)
	}

	page := &ImagePage{Items: make([]*ImageView, 0, min(len(images), limit))}
	if len(images) > limit {
		images = images[:limit]
		next := images[limit-1].Order
		page.NextCursor = &next
	}
	for _, img := range images {
		v := &ImageView{
			ID:       img.ID,
			Filename: img.Filename,
			Path:     img.Path,
			Storage:  img.Storage,
			Order:    img.Order,
		}
		v.Src, _ = s.adapter.ResolveReadableURL(ctx, img)
		page.Items = append(page.Items, v)
	}
	return page, nil
}

// ExportOCR returns every human transcription of an OCR dataset as a training sample
func (s *DatasetService) ExportOCR(ctx context.Context, actor, datasetID, question string) ([]*OCRSample, error) {
	const op = "datasets.ExportOCR"
	repos := s.store.Repos()

	ds, err := repos.Datasets.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Type != domain.DatasetOCR {
		return nil, domain.InvalidArgument(op, "dataset %s is not an OCR dataset", datasetID)
	}
	if ds.CreatedByID != actor {
		return nil, domain.Forbidden(op, "user %s may not export dataset %s", actor, datasetID)
	}
	if question == "" {
		question = DefaultExportQuestion
	}

	records, err := repos.Annotations.ListHumanOCR(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("while loading transcriptions of dataset '%s': %w", datasetID, err)
	}
	samples := make([]*OCRSample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, &OCRSample{
			Conversations: []Conversation{
				{From: "human", Value: "<image>" + question},
				{From: "gpt", Value: rec.Text},
			},
			Images: []string{rec.ImagePath},
		})
	}
	return samples, nil
}
