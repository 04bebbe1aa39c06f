package service

import (
	"context"

	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
)

// ImageService serves and removes single images
type ImageService struct {
	store   *repository.Store
	adapter *storage.Adapter
	logger  *zap.Logger
}

// NewImageService creates a new ImageService
func NewImageService(store *repository.Store, adapter *storage.Adapter, logger *zap.Logger) *ImageService {
	return &ImageService{
		store:   store,
		adapter: adapter,
		logger:  logger.Named("service.images"),
	}
}

// Fetch opens the bytes of an image the actor may view
func (s *ImageService) Fetch(ctx context.Context, actor, imageID string) (*storage.Object, error) {
	img, _, err := authorizeImage(ctx, s.store.Repos(), "images.Fetch", actor, imageID)
	if err != nil {
		return nil, err
	}
	return s.adapter.Fetch(ctx, img)
}

// Delete soft deletes an image and unlinks it from every task in one transaction,
// then moves its bytes to the trash. A failed move leaves the bytes in place and is
// only logged. It reports whether the bytes were moved.
func (s *ImageService) Delete(ctx context.Context, actor, imageID string) (bool, error) {
	const op = "images.Delete"
	img, _, err := authorizeImage(ctx, s.store.Repos(), op, actor, imageID)
	if err != nil {
		return false, err
	}
	err = s.store.WithTx(ctx, func(r *repository.Repositories) error {
		if err := r.Images.SoftDelete(ctx, img.ID, actor); err != nil {
			return err
		}
		return r.Tasks.UnlinkImage(ctx, img.ID)
	})
	if err != nil {
		return false, err
	}

	moved := s.adapter.MoveToTrash(ctx, img)
	s.logger.Info("image deleted", zap.String("image", img.ID), zap.String("user", actor), zap.Bool("trashed", moved))
	return moved, nil
}
