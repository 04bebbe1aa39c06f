package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StorageKind names the backend that holds an image's bytes
type StorageKind string

const (
	StorageServer StorageKind = "SERVER"
	StorageWeb    StorageKind = "WEB"
	StorageS3     StorageKind = "S3"
)

// ParseStorageKind accepts the canonical names case-insensitively
func ParseStorageKind(s string) (StorageKind, error) {
	switch StorageKind(strings.ToUpper(strings.TrimSpace(s))) {
	case StorageServer:
		return StorageServer, nil
	case StorageWeb:
		return StorageWeb, nil
	case StorageS3:
		return StorageS3, nil
	}
	return "", InvalidArgument("ParseStorageKind", "unknown storage %q", s)
}

// StorageRef addresses a path inside one storage backend
type StorageRef struct {
	Kind StorageKind `json:"storage"`
	Path string      `json:"path"`
}

func (r StorageRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Path)
}

// Image is one image of a dataset. Order is its stable position inside the dataset
// and DeletedByID marks a soft delete.
type Image struct {
	ID          string
	Filename    string
	Path        string
	Storage     StorageKind
	Order       int
	DatasetID   string
	DeletedByID *string
	CreatedAt   time.Time
}

// Deleted reports whether the image was soft deleted
func (i *Image) Deleted() bool {
	return i.DeletedByID != nil
}

// ImageRepository defines the interface for image storage operations
type ImageRepository interface {
	// CreateBatch inserts images in a single statement per image
	CreateBatch(ctx context.Context, images []*Image) error

	// Get retrieves an image by ID, soft deleted or not
	Get(ctx context.Context, id string) (*Image, error)

	// ListByDataset pages active images of a dataset by order, starting after afterOrder
	ListByDataset(ctx context.Context, datasetID string, afterOrder int, limit int) ([]*Image, error)

	// ActiveIDsInRange returns IDs of active images whose order is in [start, end]
	ActiveIDsInRange(ctx context.Context, datasetID string, start, end int) ([]string, error)

	// CountRows counts every image row of a dataset, including soft deleted ones
	CountRows(ctx context.Context, datasetID string) (int64, error)

	// MaxOrder returns the highest order of a dataset, -1 when it has no images
	MaxOrder(ctx context.Context, datasetID string) (int, error)

	// SoftDelete marks the image as deleted by userID
	SoftDelete(ctx context.Context, id string, userID string) error

	// FindByPathContains returns active images of a dataset whose path contains fragment
	FindByPathContains(ctx context.Context, datasetID string, fragment string) ([]*Image, error)

	// FindByPath returns the oldest active image with exactly this path in any dataset
	FindByPath(ctx context.Context, path string) (*Image, error)
}
