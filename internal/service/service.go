// Package service implements the operations exposed over HTTP and the CLI: dataset
// import, task distribution, annotation reconciliation and image lifecycle. Every
// operation takes the acting user's ID and checks authorization itself.
package service

import (
	"context"
	"fmt"

	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/repository"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a window of a listing. Page is 1-based.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) limitOffset() (int, int) {
	p = p.normalize()
	return p.PageSize, (p.Page - 1) * p.PageSize
}

// activeImage loads an image and fails with NotFound when it is missing or soft deleted
func activeImage(ctx context.Context, r *repository.Repositories, op, imageID string) (*domain.Image, error) {
	img, err := r.Images.Get(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img.Deleted() {
		return nil, domain.NotFound(op, "image %s not found", imageID)
	}
	return img, nil
}

// authorizeImage returns the active image and its dataset when actor owns the dataset
// or is the assignee of a task that includes the image
func authorizeImage(ctx context.Context, r *repository.Repositories, op, actor, imageID string) (*domain.Image, *domain.Dataset, error) {
	img, err := activeImage(ctx, r, op, imageID)
	if err != nil {
		return nil, nil, err
	}
	ds, err := r.Datasets.Get(ctx, img.DatasetID)
	if err != nil {
		return nil, nil, err
	}
	if ds.CreatedByID == actor {
		return img, ds, nil
	}
	assigned, err := r.Tasks.IsAssignedImage(ctx, actor, imageID)
	if err != nil {
		return nil, nil, fmt.Errorf("while checking assignment of image '%s': %w", imageID, err)
	}
	if !assigned {
		return nil, nil, domain.Forbidden(op, "user %s may not access image %s", actor, imageID)
	}
	return img, ds, nil
}

// ownedDataset loads a dataset and fails with Forbidden unless actor created it
func ownedDataset(ctx context.Context, r *repository.Repositories, op, actor, datasetID string) (*domain.Dataset, error) {
	ds, err := r.Datasets.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.CreatedByID != actor {
		return nil, domain.Forbidden(op, "user %s does not own dataset %s", actor, datasetID)
	}
	return ds, nil
}
