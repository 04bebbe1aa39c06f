package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Adapter routes every storage call to the backend named by the image or ref kind
// and turns backend failures into the soft results callers expect.
type Adapter struct {
	backends map[domain.StorageKind]Backend
	order    []domain.StorageKind
	client   *http.Client
	logger   *zap.Logger
}

// NewAdapter creates an Adapter. A later backend of the same kind replaces an earlier one.
func NewAdapter(logger *zap.Logger, backends ...Backend) *Adapter {
	a := &Adapter{
		backends: map[domain.StorageKind]Backend{},
		client:   &http.Client{Timeout: time.Minute},
		logger:   logger.Named("storage"),
	}
	for _, b := range backends {
		if _, ok := a.backends[b.Kind()]; !ok {
			a.order = append(a.order, b.Kind())
		}
		a.backends[b.Kind()] = b
	}
	return a
}

// WithHTTPClient replaces the client used to proxy remote images
func (a *Adapter) WithHTTPClient(c *http.Client) *Adapter {
	a.client = c
	return a
}

// Backend returns the backend of kind, or an unavailable error when none is registered
func (a *Adapter) Backend(kind domain.StorageKind) (Backend, error) {
	b, ok := a.backends[kind]
	if !ok {
		return nil, domain.StorageUnavailable("storage.Backend", "no backend for %s", kind)
	}
	return b, nil
}

func (a *Adapter) available(kind domain.StorageKind) (Backend, bool) {
	b, ok := a.backends[kind]
	if !ok || !b.Available() {
		return nil, false
	}
	return b, true
}

// ResolveReadableURL returns a URL for img. Failures are logged and reported as false.
func (a *Adapter) ResolveReadableURL(ctx context.Context, img *domain.Image) (string, bool) {
	b, ok := a.available(img.Storage)
	if !ok {
		return "", false
	}
	u, err := b.ResolveURL(ctx, img)
	if err != nil {
		a.logger.Warn("could not resolve image url", zap.String("image", img.ID), zap.String("storage", string(img.Storage)), zap.Error(err))
		return "", false
	}
	return u, true
}

// ListDirectoryTree lists directories of one backend. Unavailable or failing backends
// give an empty tree. A negative depth selects the backend default.
func (a *Adapter) ListDirectoryTree(ctx context.Context, ref domain.StorageRef, maxDepth int) []*Node {
	b, ok := a.available(ref.Kind)
	if !ok {
		return []*Node{}
	}
	if maxDepth < 0 {
		maxDepth = DefaultTreeDepth(ref.Kind)
	}
	nodes, err := b.ListTree(ctx, ref.Path, maxDepth)
	if err != nil {
		a.logger.Warn("could not list directory tree", zap.Stringer("ref", ref), zap.Error(err))
		return []*Node{}
	}
	return nodes
}

// MergedTree lists path on every available backend concurrently. The result holds one
// root node per backend that answered, in registration order; failing backends are dropped.
func (a *Adapter) MergedTree(ctx context.Context, path string, maxDepth int) []*Node {
	var (
		mu    sync.Mutex
		roots = map[domain.StorageKind]*Node{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range a.order {
		b, ok := a.available(kind)
		if !ok {
			continue
		}
		g.Go(func() error {
			depth := maxDepth
			if depth < 0 {
				depth = DefaultTreeDepth(kind)
			}
			children, err := b.ListTree(gctx, path, depth)
			if err != nil {
				a.logger.Warn("dropping backend from merged tree", zap.String("storage", string(kind)), zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			roots[kind] = &Node{
				Label:    string(kind),
				Ref:      domain.StorageRef{Kind: kind, Path: path},
				IsLeaf:   len(children) == 0,
				Children: children,
			}
			return nil
		})
	}
	g.Wait()

	merged := []*Node{}
	for _, kind := range a.order {
		if n, ok := roots[kind]; ok {
			merged = append(merged, n)
		}
	}
	return merged
}

// EnumerateImages lists every image below ref. An unavailable backend yields no entries
// and no error. Skipped items are logged; only a root failure is returned.
func (a *Adapter) EnumerateImages(ctx context.Context, ref domain.StorageRef) ([]Entry, error) {
	b, ok := a.available(ref.Kind)
	if !ok {
		a.logger.Info("storage backend unavailable, nothing to enumerate", zap.Stringer("ref", ref))
		return []Entry{}, nil
	}
	entries, err := b.Enumerate(ctx, ref.Path)
	var skipped *multierror.Error
	if errors.As(err, &skipped) {
		for _, e := range skipped.Errors {
			a.logger.Warn("skipped while enumerating", zap.Stringer("ref", ref), zap.Error(e))
		}
		err = nil
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			err = domain.Wrap(domain.KindStorageOperationFailed, "storage.EnumerateImages", err)
		}
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// MoveToTrash relocates the bytes of img; it reports success and never fails
func (a *Adapter) MoveToTrash(ctx context.Context, img *domain.Image) bool {
	b, ok := a.available(img.Storage)
	if !ok {
		a.logger.Info("storage backend unavailable, image bytes left in place", zap.String("image", img.ID))
		return false
	}
	if err := b.MoveToTrash(ctx, img.Path); err != nil {
		a.logger.Warn("could not move image to trash", zap.String("image", img.ID), zap.String("path", img.Path), zap.Error(err))
		return false
	}
	return true
}

// Fetch opens the bytes of img. Backends that can stream directly are used as is,
// the others are proxied through their readable URL.
func (a *Adapter) Fetch(ctx context.Context, img *domain.Image) (*Object, error) {
	b, err := a.Backend(img.Storage)
	if err != nil {
		return nil, err
	}
	if opener, ok := b.(Opener); ok {
		if !b.Available() {
			return nil, domain.StorageUnavailable("storage.Fetch", "%s storage is unavailable", img.Storage)
		}
		return opener.Open(ctx, img.Path)
	}

	u, ok := a.ResolveReadableURL(ctx, img)
	if !ok {
		return nil, domain.StorageUnavailable("storage.Fetch", "no readable url for image %s", img.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageOperationFailed, "storage.Fetch", err)
	}
	res, err := a.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageOperationFailed, "storage.Fetch", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, &domain.Error{
			Kind:   domain.KindStorageOperationFailed,
			Op:     "storage.Fetch",
			Msg:    fmt.Sprintf("remote answered %s", res.Status),
			Status: res.StatusCode,
		}
	}
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = MimeType(img.Filename)
	}
	return &Object{Body: res.Body, ContentType: contentType, Size: res.ContentLength}, nil
}
