package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// PresignExpiry is how long a presigned image URL stays valid
const PresignExpiry = time.Hour

// S3API is the part of the S3 client the backend uses
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs GET requests
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures the S3 backend
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ImagesDir       string
	TrashDir        string
	// UsePathStyle addresses the bucket in the path, needed by most S3 compatible hosts
	UsePathStyle bool
	// PublicURL serves objects from a public base URL instead of presigning
	PublicURL string
}

// S3Backend stores images in an S3 compatible bucket
type S3Backend struct {
	api       S3API
	presigner Presigner
	opts      S3Options
	logger    *zap.Logger
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend builds the S3 client from static credentials. Without credentials
// the backend reports itself unavailable.
func NewS3Backend(opts S3Options, logger *zap.Logger) *S3Backend {
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return NewS3BackendWithClient(nil, nil, opts, logger)
	}
	if opts.Region == "" {
		opts.Region = "auto"
	}
	s3opts := s3.Options{
		Region:       opts.Region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
		UsePathStyle: opts.UsePathStyle,
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	client := s3.New(s3opts)
	return NewS3BackendWithClient(client, s3.NewPresignClient(client), opts, logger)
}

// NewS3BackendWithClient wires an existing client, mainly for tests
func NewS3BackendWithClient(api S3API, presigner Presigner, opts S3Options, logger *zap.Logger) *S3Backend {
	if opts.TrashDir == "" {
		opts.TrashDir = "/trash"
	}
	return &S3Backend{api: api, presigner: presigner, opts: opts, logger: logger.Named("storage.s3")}
}

func (b *S3Backend) Kind() domain.StorageKind { return domain.StorageS3 }

func (b *S3Backend) Available() bool {
	return b.api != nil && b.presigner != nil && b.opts.Bucket != ""
}

func (b *S3Backend) check(op string) error {
	if !b.Available() {
		return domain.StorageUnavailable(op, "s3 credentials or bucket are not configured")
	}
	return nil
}

// key maps a path relative to the images dir to an object key
func (b *S3Backend) key(rel string) string {
	return strings.TrimPrefix(path.Join(b.opts.ImagesDir, cleanRel(rel)), "/")
}

// prefix is key with a trailing slash, or "" for the bucket root
func (b *S3Backend) prefix(rel string) string {
	k := b.key(rel)
	if k == "" || k == "." {
		return ""
	}
	return k + "/"
}

// relative maps an object key back to a path relative to the images dir
func (b *S3Backend) relative(key string) string {
	base := strings.Trim(b.opts.ImagesDir, "/")
	key = strings.TrimSuffix(key, "/")
	if base == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, base), "/")
}

// ResolveURL presigns a GET for the image, or joins the public URL when one is set
func (b *S3Backend) ResolveURL(ctx context.Context, img *domain.Image) (string, error) {
	if err := b.check("s3.ResolveURL"); err != nil {
		return "", err
	}
	if b.opts.PublicURL != "" {
		return joinURL(b.opts.PublicURL, b.key(img.Path)), nil
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.key(img.Path)),
	}, s3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", domain.Wrap(domain.KindStorageOperationFailed, "s3.ResolveURL", err)
	}
	return req.URL, nil
}

// ListTree lists common prefixes below root, descending at most maxDepth levels
func (b *S3Backend) ListTree(ctx context.Context, root string, maxDepth int) ([]*Node, error) {
	if err := b.check("s3.ListTree"); err != nil {
		return nil, err
	}
	return b.tree(ctx, b.prefix(root), maxDepth, true)
}

func (b *S3Backend) tree(ctx context.Context, prefix string, remaining int, top bool) ([]*Node, error) {
	nodes := []*Node{}
	pager := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.opts.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if top {
				return nil, domain.Wrap(domain.KindStorageOperationFailed, "s3.ListTree", err)
			}
			b.logger.Warn("skipping unreadable prefix", zap.String("prefix", prefix), zap.Error(err))
			return nodes, nil
		}
		for _, cp := range page.CommonPrefixes {
			p := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/")
			if name == "" || skipDir(name) {
				continue
			}
			node := &Node{Label: name, Ref: domain.StorageRef{Kind: domain.StorageS3, Path: b.relative(p)}}
			if remaining > 0 {
				node.Children, _ = b.tree(ctx, p, remaining-1, false)
			}
			node.IsLeaf = len(node.Children) == 0
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// Enumerate lists every image object below root
func (b *S3Backend) Enumerate(ctx context.Context, root string) ([]Entry, error) {
	if err := b.check("s3.Enumerate"); err != nil {
		return nil, err
	}
	trash := strings.Trim(b.opts.TrashDir, "/") + "/"
	var result []Entry
	pager := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.opts.Bucket),
		Prefix: aws.String(b.prefix(root)),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if len(result) == 0 {
				return nil, domain.Wrap(domain.KindStorageOperationFailed, "s3.Enumerate", err)
			}
			return result, multierror.Append(nil, fmt.Errorf("listing stopped after %d objects: %w", len(result), err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !IsImageFile(key) || strings.HasPrefix(key, trash) {
				continue
			}
			result = append(result, Entry{Filename: path.Base(key), Path: b.relative(key)})
		}
	}
	return result, nil
}

// MoveToTrash copies the object under the trash prefix, then deletes the original
func (b *S3Backend) MoveToTrash(ctx context.Context, relPath string) error {
	if err := b.check("s3.MoveToTrash"); err != nil {
		return err
	}
	src := b.key(relPath)
	dst := strings.TrimPrefix(path.Join(b.opts.TrashDir, cleanRel(relPath)), "/")
	_, err := b.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.opts.Bucket),
		CopySource: aws.String(b.opts.Bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, "s3.MoveToTrash", fmt.Errorf("while copying '%s': %w", src, err))
	}
	_, err = b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		return domain.Wrap(domain.KindStorageOperationFailed, "s3.MoveToTrash", fmt.Errorf("while deleting '%s': %w", src, err))
	}
	return nil
}
