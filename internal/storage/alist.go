package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// AListOptions configures the WEB backend
type AListOptions struct {
	URL       string
	Token     string
	ImagesDir string
	TrashDir  string
	Client    *http.Client
}

// AListBackend talks to an AList server over its JSON API
type AListBackend struct {
	opts   AListOptions
	client *http.Client
	logger *zap.Logger
}

var _ Backend = (*AListBackend)(nil)

type alistResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type alistFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	IsDir  bool   `json:"is_dir"`
	RawURL string `json:"raw_url"`
}

type alistList struct {
	Content []alistFile `json:"content"`
	Total   int         `json:"total"`
}

type alistListRequest struct {
	Path     string `json:"path"`
	Password string `json:"password"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	Refresh  bool   `json:"refresh"`
}

type alistMoveRequest struct {
	SrcDir string   `json:"src_dir"`
	DstDir string   `json:"dst_dir"`
	Names  []string `json:"names"`
}

// NewAListBackend creates an AListBackend
func NewAListBackend(opts AListOptions, logger *zap.Logger) *AListBackend {
	if opts.ImagesDir == "" {
		opts.ImagesDir = "/"
	}
	if opts.TrashDir == "" {
		opts.TrashDir = "/trash"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	opts.URL = strings.TrimRight(opts.URL, "/")
	return &AListBackend{opts: opts, client: client, logger: logger.Named("storage.alist")}
}

func (b *AListBackend) Kind() domain.StorageKind { return domain.StorageWeb }

func (b *AListBackend) Available() bool {
	return b.opts.URL != "" && b.opts.Token != ""
}

func (b *AListBackend) full(rel string) string {
	return path.Join("/", b.opts.ImagesDir, cleanRel(rel))
}

// call posts body to endpoint and decodes the envelope's data into out
func (b *AListBackend) call(ctx context.Context, op, endpoint string, body any, out any) error {
	if !b.Available() {
		return domain.StorageUnavailable(op, "alist url or token is not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("while encoding %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.URL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, op, err)
	}
	req.Header.Set("Authorization", b.opts.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, op, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return &domain.Error{Kind: domain.KindStorageOperationFailed, Op: op, Status: res.StatusCode,
			Msg: fmt.Sprintf("alist answered HTTP %d", res.StatusCode)}
	}

	var envelope alistResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, op, fmt.Errorf("while decoding response: %w", err))
	}
	if envelope.Code != http.StatusOK {
		return &domain.Error{Kind: domain.KindStorageOperationFailed, Op: op, Status: envelope.Code,
			Msg: fmt.Sprintf("alist error %d: %s", envelope.Code, envelope.Message)}
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, op, fmt.Errorf("while decoding data: %w", err))
	}
	return nil
}

func (b *AListBackend) list(ctx context.Context, op, fullPath string) ([]alistFile, error) {
	var data alistList
	err := b.call(ctx, op, "/api/fs/list", alistListRequest{Path: fullPath, Page: 1, PerPage: 0}, &data)
	if err != nil {
		return nil, err
	}
	return data.Content, nil
}

// ResolveURL asks AList for the time limited raw download URL
func (b *AListBackend) ResolveURL(ctx context.Context, img *domain.Image) (string, error) {
	var file alistFile
	err := b.call(ctx, "alist.ResolveURL", "/api/fs/get", alistListRequest{Path: b.full(img.Path), Page: 1}, &file)
	if err != nil {
		return "", err
	}
	if file.RawURL == "" {
		return "", domain.E(domain.KindStorageOperationFailed, "alist.ResolveURL", "no raw url for '%s'", img.Path)
	}
	return file.RawURL, nil
}

// ListTree lists directories below root, at most maxDepth levels deep
func (b *AListBackend) ListTree(ctx context.Context, root string, maxDepth int) ([]*Node, error) {
	rel := cleanRel(root)
	items, err := b.list(ctx, "alist.ListTree", b.full(rel))
	if err != nil {
		return nil, err
	}
	return b.tree(ctx, rel, items, maxDepth), nil
}

func (b *AListBackend) tree(ctx context.Context, rel string, items []alistFile, remaining int) []*Node {
	nodes := []*Node{}
	for _, item := range items {
		if !item.IsDir || skipDir(item.Name) {
			continue
		}
		childRel := path.Join(rel, item.Name)
		node := &Node{Label: item.Name, Ref: domain.StorageRef{Kind: domain.StorageWeb, Path: childRel}}
		if remaining > 0 {
			children, err := b.list(ctx, "alist.ListTree", b.full(childRel))
			if err != nil {
				b.logger.Warn("skipping unreadable directory", zap.String("path", childRel), zap.Error(err))
			} else {
				node.Children = b.tree(ctx, childRel, children, remaining-1)
			}
		}
		node.IsLeaf = len(node.Children) == 0
		nodes = append(nodes, node)
	}
	return nodes
}

// Enumerate walks root recursively through the list API
func (b *AListBackend) Enumerate(ctx context.Context, root string) ([]Entry, error) {
	rel := cleanRel(root)
	items, err := b.list(ctx, "alist.Enumerate", b.full(rel))
	if err != nil {
		return nil, err
	}

	var (
		result []Entry
		errs   *multierror.Error
	)
	var walk func(dir string, items []alistFile)
	walk = func(dir string, items []alistFile) {
		for _, item := range items {
			itemRel := path.Join(dir, item.Name)
			if item.IsDir {
				if path.Join("/", b.opts.ImagesDir, itemRel) == path.Clean(b.opts.TrashDir) {
					continue
				}
				children, err := b.list(ctx, "alist.Enumerate", b.full(itemRel))
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("while listing '%s': %w", itemRel, err))
					continue
				}
				walk(itemRel, children)
			} else if IsImageFile(item.Name) {
				result = append(result, Entry{Filename: item.Name, Path: itemRel})
			}
		}
	}
	walk(rel, items)
	return result, errs.ErrorOrNil()
}

// MoveToTrash moves the file under the trash directory keeping its relative folder
func (b *AListBackend) MoveToTrash(ctx context.Context, relPath string) error {
	rel := cleanRel(relPath)
	dstDir := path.Join("/", b.opts.TrashDir, path.Dir(rel))
	if err := b.call(ctx, "alist.MoveToTrash", "/api/fs/mkdir", map[string]string{"path": dstDir}, nil); err != nil {
		b.logger.Debug("trash directory mkdir failed", zap.String("dir", dstDir), zap.Error(err))
	}
	return b.call(ctx, "alist.MoveToTrash", "/api/fs/move", alistMoveRequest{
		SrcDir: path.Dir(b.full(rel)),
		DstDir: dstDir,
		Names:  []string{path.Base(rel)},
	}, nil)
}
