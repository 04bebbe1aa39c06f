package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// LocalOptions configures the SERVER backend
type LocalOptions struct {
	ImagesDir string
	TrashDir  string
	// Serverless disables every operation, there is no usable disk
	Serverless bool
	// URLPrefix is prepended to /img/<id> when resolving readable URLs
	URLPrefix string
}

// LocalBackend serves images from a billy filesystem
type LocalBackend struct {
	fs     billy.Filesystem
	opts   LocalOptions
	logger *zap.Logger
}

var (
	_ Backend = (*LocalBackend)(nil)
	_ Opener  = (*LocalBackend)(nil)
)

// NewLocalBackend creates a LocalBackend over fs. ImagesDir and TrashDir are paths inside fs.
func NewLocalBackend(fs billy.Filesystem, opts LocalOptions, logger *zap.Logger) *LocalBackend {
	if opts.ImagesDir == "" {
		opts.ImagesDir = "/"
	}
	if opts.TrashDir == "" {
		opts.TrashDir = "/trash"
	}
	return &LocalBackend{fs: fs, opts: opts, logger: logger.Named("storage.local")}
}

func (b *LocalBackend) Kind() domain.StorageKind { return domain.StorageServer }

func (b *LocalBackend) Available() bool { return !b.opts.Serverless && b.fs != nil }

func (b *LocalBackend) check(op string) error {
	if b.opts.Serverless {
		return domain.StorageUnavailable(op, "local filesystem is disabled in serverless mode")
	}
	if b.fs == nil {
		return domain.StorageUnavailable(op, "local filesystem is not configured")
	}
	return nil
}

func (b *LocalBackend) full(rel string) string {
	return b.fs.Join(b.opts.ImagesDir, cleanRel(rel))
}

// ResolveURL points at the application's own image endpoint
func (b *LocalBackend) ResolveURL(ctx context.Context, img *domain.Image) (string, error) {
	if err := b.check("local.ResolveURL"); err != nil {
		return "", err
	}
	return strings.TrimRight(b.opts.URLPrefix, "/") + "/img/" + img.ID, nil
}

// ListTree lists directories below root. A missing root yields an empty tree.
func (b *LocalBackend) ListTree(ctx context.Context, root string, maxDepth int) ([]*Node, error) {
	if err := b.check("local.ListTree"); err != nil {
		return nil, err
	}
	if _, err := b.fs.Stat(b.full(root)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*Node{}, nil
		}
		return nil, b.failed("local.ListTree", err)
	}
	return b.tree(ctx, cleanRel(root), maxDepth), nil
}

func (b *LocalBackend) tree(ctx context.Context, rel string, remaining int) []*Node {
	entries, err := b.fs.ReadDir(b.full(rel))
	if err != nil {
		b.logger.Warn("skipping unreadable directory", zap.String("path", rel), zap.Error(err))
		return []*Node{}
	}
	nodes := []*Node{}
	for _, e := range entries {
		if !e.IsDir() || skipDir(e.Name()) {
			continue
		}
		childRel := path.Join(rel, e.Name())
		node := &Node{
			Label: e.Name(),
			Ref:   domain.StorageRef{Kind: domain.StorageServer, Path: childRel},
		}
		if remaining > 0 && ctx.Err() == nil {
			node.Children = b.tree(ctx, childRel, remaining-1)
		}
		node.IsLeaf = len(node.Children) == 0
		nodes = append(nodes, node)
	}
	return nodes
}

// Enumerate walks root recursively. Unreadable subdirectories are skipped and
// reported in the returned multierror; an unreadable root fails the whole call.
func (b *LocalBackend) Enumerate(ctx context.Context, root string) ([]Entry, error) {
	if err := b.check("local.Enumerate"); err != nil {
		return nil, err
	}
	root = cleanRel(root)
	info, err := b.fs.Stat(b.full(root))
	if err != nil {
		return nil, b.failed("local.Enumerate", fmt.Errorf("directory '%s' does not exist: %w", root, err))
	}
	if !info.IsDir() {
		return nil, domain.E(domain.KindStorageOperationFailed, "local.Enumerate", "'%s' is not a directory", root)
	}
	if _, err := b.fs.ReadDir(b.full(root)); err != nil {
		return nil, b.failed("local.Enumerate", err)
	}

	var (
		result []Entry
		errs   *multierror.Error
		stack  = []string{root}
	)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return result, multierror.Append(errs, err)
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := b.fs.ReadDir(b.full(dir))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("while reading '%s': %w", dir, err))
			continue
		}
		var subdirs []string
		for _, e := range entries {
			rel := path.Join(dir, e.Name())
			if e.IsDir() {
				if path.Clean(b.full(rel)) != path.Clean(b.opts.TrashDir) {
					subdirs = append(subdirs, rel)
				}
			} else if IsImageFile(e.Name()) {
				result = append(result, Entry{Filename: e.Name(), Path: rel})
			}
		}
		// push in reverse so directories are visited in listing order
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return result, errs.ErrorOrNil()
}

// Open streams the file at relPath
func (b *LocalBackend) Open(ctx context.Context, relPath string) (*Object, error) {
	if err := b.check("local.Open"); err != nil {
		return nil, err
	}
	full := b.full(relPath)
	info, err := b.fs.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NotFound("local.Open", "file '%s' not found", relPath)
		}
		return nil, b.failed("local.Open", err)
	}
	if info.IsDir() {
		return nil, domain.InvalidArgument("local.Open", "'%s' is not a file", relPath)
	}
	if !IsImageFile(relPath) {
		return nil, domain.InvalidArgument("local.Open", "'%s' is not a supported image type", relPath)
	}
	f, err := b.fs.Open(full)
	if err != nil {
		return nil, b.failed("local.Open", err)
	}
	return &Object{Body: f, ContentType: MimeType(relPath), Size: info.Size()}, nil
}

// MoveToTrash renames the file into the trash directory keeping its relative path
func (b *LocalBackend) MoveToTrash(ctx context.Context, relPath string) error {
	if err := b.check("local.MoveToTrash"); err != nil {
		return err
	}
	rel := cleanRel(relPath)
	dst := b.fs.Join(b.opts.TrashDir, rel)
	if err := b.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return b.failed("local.MoveToTrash", fmt.Errorf("while creating trash directory: %w", err))
	}
	if err := b.fs.Rename(b.full(rel), dst); err != nil {
		return b.failed("local.MoveToTrash", err)
	}
	return nil
}

func (b *LocalBackend) failed(op string, err error) error {
	return domain.Wrap(domain.KindStorageOperationFailed, op, err)
}
