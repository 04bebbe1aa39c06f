// Package storage fetches, lists and relocates image bytes across the local
// filesystem, an AList file host and S3 compatible object storage.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/lewtec/labelhub/internal/domain"
)

// Node is one directory of a storage tree
type Node struct {
	Label    string            `json:"label"`
	Ref      domain.StorageRef `json:"value"`
	IsLeaf   bool              `json:"isLeaf"`
	Children []*Node           `json:"children,omitempty"`
}

// Entry is an image found by enumeration. Path is relative to the backend's images root.
type Entry struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Object is an open image body
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Backend is one storage provider. Paths are relative to the provider's images root.
type Backend interface {
	Kind() domain.StorageKind

	// Available reports whether the backend is configured and allowed to run
	Available() bool

	// ResolveURL returns a URL the image can be read from
	ResolveURL(ctx context.Context, img *domain.Image) (string, error)

	// ListTree lists directories under root, descending at most maxDepth levels
	ListTree(ctx context.Context, root string, maxDepth int) ([]*Node, error)

	// Enumerate finds every image below root. A *multierror.Error alongside entries
	// reports items that were skipped.
	Enumerate(ctx context.Context, root string) ([]Entry, error)

	// MoveToTrash relocates the image bytes into the trash area
	MoveToTrash(ctx context.Context, relPath string) error
}

// Opener is implemented by backends that can stream bytes directly
type Opener interface {
	Open(ctx context.Context, relPath string) (*Object, error)
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// IsImageFile reports whether name has a known image extension, ignoring case
func IsImageFile(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// MimeType guesses the content type from the extension, defaulting to jpeg
func MimeType(name string) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".svg":
		return "image/svg+xml"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		if m, ok := imageExtensions[ext]; ok {
			return m
		}
	}
	return "image/jpeg"
}

// DefaultTreeDepth is the depth used when a caller asks for a negative one
func DefaultTreeDepth(kind domain.StorageKind) int {
	switch kind {
	case domain.StorageS3:
		return 2
	default:
		return 3
	}
}

var skippedDirs = map[string]bool{"node_modules": true, "dist": true, "build": true}

// skipDir hides dot entries and build output from directory trees
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skippedDirs[name]
}

// cleanRel normalizes a relative path: forward slashes, no leading slash, "" for the root
func cleanRel(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// joinURL joins URL parts trimming duplicate slashes between them
func joinURL(parts ...string) string {
	var out []string
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			out = append(out, strings.TrimRight(p, "/"))
			continue
		}
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
