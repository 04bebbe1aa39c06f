package domain

import (
	"context"
	"time"
)

// DatasetType selects the annotation workflow of a dataset
type DatasetType string

const (
	DatasetObjectDetection DatasetType = "OBJECT_DETECTION"
	DatasetOCR             DatasetType = "OCR"
)

// Valid reports whether t is a known dataset type
func (t DatasetType) Valid() bool {
	return t == DatasetObjectDetection || t == DatasetOCR
}

// Dataset groups images under one annotation workflow
type Dataset struct {
	ID          string
	Name        string
	Description string
	Type        DatasetType
	Prompts     *string
	CreatedByID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Labels      []*Label
}

// Label is a class an object detection annotation may carry
type Label struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description *string `json:"description"`
	DatasetID   string  `json:"datasetId"`
}

// DatasetRepository defines the interface for dataset storage operations
type DatasetRepository interface {
	Create(ctx context.Context, ds *Dataset) error

	// Get retrieves a dataset without its labels
	Get(ctx context.Context, id string) (*Dataset, error)

	// Update rewrites name, description and prompts
	Update(ctx context.Context, ds *Dataset) error

	// Delete removes the dataset together with its images, tasks and annotations
	Delete(ctx context.Context, id string) error

	// List pages datasets newest first
	List(ctx context.Context, limit, offset int) ([]*Dataset, error)

	Count(ctx context.Context) (int64, error)
}

// LabelRepository defines the interface for label storage operations
type LabelRepository interface {
	// ReplaceForDataset deletes every label of the dataset and inserts labels
	ReplaceForDataset(ctx context.Context, datasetID string, labels []*Label) error

	ListByDataset(ctx context.Context, datasetID string) ([]*Label, error)
}

// User is an annotator or dataset owner
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserRepository defines the interface for user storage operations
type UserRepository interface {
	Create(ctx context.Context, name string) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}
