package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/geometry"
	"github.com/lewtec/labelhub/internal/ocr"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultLabelName  = "未命名"
	DefaultLabelColor = "#000000"

	// maxOCRImageBytes bounds how much of an image is read before it is sent to a producer
	maxOCRImageBytes = 20 << 20
)

// SubmittedAnnotation is one annotation of the full canvas state a client saves.
// Geometry comes either as raw Points or as a Rect or Polygon that is encoded here.
type SubmittedAnnotation struct {
	ID          string                `json:"id,omitempty"`
	Type        domain.AnnotationType `json:"type"`
	LabelID     *string               `json:"labelId,omitempty"`
	Text        *string               `json:"text,omitempty"`
	Score       *float64              `json:"score,omitempty"`
	Note        *string               `json:"note,omitempty"`
	IsCrossPage *bool                 `json:"isCrossPage,omitempty"`
	Points      []domain.Point        `json:"points,omitempty"`
	Rect        *geometry.Rect        `json:"rect,omitempty"`
	Polygon     []geometry.Vertex     `json:"polygon,omitempty"`
}

// SaveResult reports what a save changed
type SaveResult struct {
	Count   int `json:"count"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// AnnotationView is a stored annotation with its decoded shape and label
type AnnotationView struct {
	ID          string                `json:"id"`
	Type        domain.AnnotationType `json:"type"`
	Origin      domain.Origin         `json:"origin"`
	LabelID     *string               `json:"labelId"`
	LabelName   string                `json:"labelName"`
	LabelColor  string                `json:"labelColor"`
	Text        *string               `json:"text"`
	Score       *float64              `json:"score"`
	Note        *string               `json:"note"`
	IsCrossPage bool                  `json:"isCrossPage"`
	CreatedByID *string               `json:"createdById"`
	Points      []domain.Point        `json:"points"`
	Shape       geometry.Shape        `json:"shape"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// PreAnnotation is one machine transcription matched to images by path fragment
type PreAnnotation struct {
	ImageURL string `json:"imageurl"`
	Output   string `json:"output"`
}

// PreAnnotationSubmission is a transcription pushed by an external pipeline
type PreAnnotationSubmission struct {
	ImageURL string  `json:"imageUrl"`
	Text     string  `json:"annotationText"`
	Note     *string `json:"note,omitempty"`
	Code     string  `json:"code"`
}

// AnnotationOptions configures the optional collaborators of the annotation service
type AnnotationOptions struct {
	// OCR produces machine transcriptions; nil disables auto labelling
	OCR ocr.Producer
	// InviteCode guards SubmitPreAnnotation; empty rejects every submission
	InviteCode string
}

// AnnotationService reconciles the annotations a user submits for an image with
// what is stored, and writes machine pre-annotations.
type AnnotationService struct {
	store   *repository.Store
	adapter *storage.Adapter
	opts    AnnotationOptions
	logger  *zap.Logger
}

// NewAnnotationService creates a new AnnotationService
func NewAnnotationService(store *repository.Store, adapter *storage.Adapter, opts AnnotationOptions, logger *zap.Logger) *AnnotationService {
	return &AnnotationService{
		store:   store,
		adapter: adapter,
		opts:    opts,
		logger:  logger.Named("service.annotations"),
	}
}

type preparedAnnotation struct {
	SubmittedAnnotation
	points []domain.Point
}

// prepare validates every submission against the dataset before anything is written
func prepare(ds *domain.Dataset, labels []*domain.Label, subs []SubmittedAnnotation) ([]preparedAnnotation, error) {
	const op = "annotations.Save"

	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l.ID] = struct{}{}
	}
	ids := map[string]struct{}{}

	out := make([]preparedAnnotation, 0, len(subs))
	for i, sub := range subs {
		if !sub.Type.Valid() {
			return nil, domain.InvalidArgument(op, "annotation %d has unknown type %q", i, sub.Type)
		}
		if sub.ID != "" {
			if _, dup := ids[sub.ID]; dup {
				return nil, domain.InvalidArgument(op, "annotation id %s submitted twice", sub.ID)
			}
			ids[sub.ID] = struct{}{}
		}
		if sub.LabelID != nil {
			if _, ok := known[*sub.LabelID]; !ok {
				return nil, domain.InvalidArgument(op, "label %s does not belong to dataset %s", *sub.LabelID, ds.ID)
			}
		}
		if sub.Type == domain.AnnotationOCR && sub.Text == nil {
			return nil, domain.InvalidArgument(op, "OCR annotation %d carries no text", i)
		}

		points, err := sub.encodePoints()
		if err != nil {
			return nil, err
		}
		if err := geometry.ValidatePoints(sub.Type, points); err != nil {
			return nil, err
		}
		out = append(out, preparedAnnotation{SubmittedAnnotation: sub, points: points})
	}
	return out, nil
}

// encodePoints returns raw points renumbered 0..n-1 in their submitted order, or the
// encoding of Rect or Polygon when no raw points are given
func (s SubmittedAnnotation) encodePoints() ([]domain.Point, error) {
	if len(s.Points) == 0 && (s.Rect != nil || len(s.Polygon) > 0) {
		_, points, err := geometry.ToStorage(geometry.Shape{Kind: s.Type, Rect: s.Rect, Polygon: s.Polygon})
		return points, err
	}
	points := slices.Clone(s.Points)
	geometry.SortPoints(points)
	for i := range points {
		points[i].Order = i
	}
	return points, nil
}

// Save replaces the actor's annotations on an image with subs. Submissions whose ID
// matches one of the actor's annotations update it, the rest are inserted and the
// actor's annotations left out of subs are deleted. Other users' annotations are
// never touched.
func (s *AnnotationService) Save(ctx context.Context, actor, imageID string, subs []SubmittedAnnotation) (*SaveResult, error) {
	const op = "annotations.Save"
	repos := s.store.Repos()

	_, ds, err := authorizeImage(ctx, repos, op, actor, imageID)
	if err != nil {
		return nil, err
	}
	labels, err := repos.Labels.ListByDataset(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while loading labels of dataset '%s': %w", ds.ID, err)
	}
	prepared, err := prepare(ds, labels, subs)
	if err != nil {
		return nil, err
	}

	result := &SaveResult{Count: len(prepared)}
	err = s.store.WithTx(ctx, func(r *repository.Repositories) error {
		existing, err := r.Annotations.ListForImageByCreator(ctx, imageID, actor)
		if err != nil {
			return fmt.Errorf("while loading annotations: %w", err)
		}
		mine := make(map[string]*domain.Annotation, len(existing))
		for _, a := range existing {
			mine[a.ID] = a
		}

		var updates, inserts []preparedAnnotation
		kept := map[string]bool{}
		for _, p := range prepared {
			if _, ok := mine[p.ID]; ok && p.ID != "" {
				updates = append(updates, p)
				kept[p.ID] = true
				continue
			}
			inserts = append(inserts, p)
		}

		for _, a := range existing {
			if kept[a.ID] {
				continue
			}
			if err := r.Annotations.Delete(ctx, a.ID); err != nil {
				return fmt.Errorf("while deleting annotation '%s': %w", a.ID, err)
			}
			result.Deleted++
		}

		for _, p := range updates {
			cur := mine[p.ID]
			cur.Type = p.Type
			cur.LabelID = p.LabelID
			cur.Text = p.Text
			if p.Score != nil {
				cur.Score = p.Score
			}
			if p.Note != nil {
				cur.Note = p.Note
			}
			if p.IsCrossPage != nil {
				cur.IsCrossPage = *p.IsCrossPage
			}
			if err := r.Annotations.ReplacePoints(ctx, cur.ID, p.points); err != nil {
				return err
			}
			if err := r.Annotations.UpdateScalars(ctx, cur); err != nil {
				return err
			}
			result.Updated++
		}

		for _, p := range inserts {
			id := p.ID
			if id != "" {
				taken, err := r.Annotations.Exists(ctx, id)
				if err != nil {
					return fmt.Errorf("while checking annotation id '%s': %w", id, err)
				}
				if taken {
					id = ""
				}
			}
			ann := &domain.Annotation{
				ID:          id,
				Type:        p.Type,
				LabelID:     p.LabelID,
				Text:        p.Text,
				Score:       p.Score,
				Note:        p.Note,
				IsCrossPage: p.IsCrossPage != nil && *p.IsCrossPage,
				CreatedByID: &actor,
				ImageID:     imageID,
				Points:      p.points,
			}
			if err := r.Annotations.Create(ctx, ann); err != nil {
				return err
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("annotation save failed", zap.String("image", imageID), zap.String("user", actor), zap.Error(err))
		return nil, err
	}

	s.logger.Debug("annotations saved",
		zap.String("image", imageID),
		zap.String("user", actor),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
	)
	return result, nil
}

// List returns the annotations of an image decoded for display. With mineOnly only
// the actor's own annotations are returned.
func (s *AnnotationService) List(ctx context.Context, actor, imageID string, mineOnly bool) ([]*AnnotationView, error) {
	const op = "annotations.List"
	repos := s.store.Repos()

	_, ds, err := authorizeImage(ctx, repos, op, actor, imageID)
	if err != nil {
		return nil, err
	}
	var anns []*domain.Annotation
	if mineOnly {
		anns, err = repos.Annotations.ListForImageByCreator(ctx, imageID, actor)
	} else {
		anns, err = repos.Annotations.ListForImage(ctx, imageID)
	}
	if err != nil {
		return nil, fmt.Errorf("while listing annotations of image '%s': %w", imageID, err)
	}
	labels, err := repos.Labels.ListByDataset(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("while loading labels of dataset '%s': %w", ds.ID, err)
	}
	byID := make(map[string]*domain.Label, len(labels))
	for _, l := range labels {
		byID[l.ID] = l
	}

	views := make([]*AnnotationView, 0, len(anns))
	for _, a := range anns {
		views = append(views, newAnnotationView(a, byID))
	}
	return views, nil
}

func newAnnotationView(a *domain.Annotation, labels map[string]*domain.Label) *AnnotationView {
	v := &AnnotationView{
		ID:          a.ID,
		Type:        a.Type,
		Origin:      a.Origin,
		LabelID:     a.LabelID,
		LabelName:   DefaultLabelName,
		LabelColor:  DefaultLabelColor,
		Text:        a.Text,
		Score:       a.Score,
		Note:        a.Note,
		IsCrossPage: a.IsCrossPage,
		CreatedByID: a.CreatedByID,
		Points:      a.Points,
		Shape:       geometry.FromStorage(a.Type, a.Points),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if v.Points == nil {
		v.Points = []domain.Point{}
	}
	if a.LabelID != nil {
		if l, ok := labels[*a.LabelID]; ok {
			v.LabelName = l.Name
			v.LabelColor = l.Color
		}
	}
	return v
}

// AutoLabel transcribes the image with the configured OCR producer and stores the
// result as a machine annotation whose note names the producer
func (s *AnnotationService) AutoLabel(ctx context.Context, actor, imageID string) (*AnnotationView, error) {
	const op = "annotations.AutoLabel"
	if s.opts.OCR == nil {
		return nil, domain.StorageUnavailable(op, "no OCR provider configured")
	}
	repos := s.store.Repos()

	img, ds, err := authorizeImage(ctx, repos, op, actor, imageID)
	if err != nil {
		return nil, err
	}
	if ds.Type != domain.DatasetOCR {
		return nil, domain.InvalidArgument(op, "dataset %s is not an OCR dataset", ds.ID)
	}

	obj, err := s.adapter.Fetch(ctx, img)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(io.LimitReader(obj.Body, maxOCRImageBytes))
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageOperationFailed, op, err)
	}

	in := ocr.Input{Image: data, MimeType: obj.ContentType}
	if ds.Prompts != nil {
		in.Prompt = *ds.Prompts
	}
	res, err := s.opts.OCR.Recognize(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("while recognizing image '%s' with %s: %w", imageID, s.opts.OCR.Name(), err)
	}

	text := ocr.StripFences(res.Text)
	note := s.opts.OCR.Name()
	ann := &domain.Annotation{
		Type:    domain.AnnotationOCR,
		Text:    &text,
		Note:    &note,
		ImageID: imageID,
	}
	if err := repos.Annotations.Create(ctx, ann); err != nil {
		return nil, err
	}
	s.logger.Info("image auto labelled", zap.String("image", imageID), zap.String("producer", note), zap.String("model", res.Model))
	return newAnnotationView(ann, nil), nil
}

// ImportPreAnnotations attaches machine OCR annotations to the dataset's images. Each
// item goes to the first active image whose path contains its ImageURL; items that
// match nothing are skipped. It returns how many annotations were created.
func (s *AnnotationService) ImportPreAnnotations(ctx context.Context, actor, datasetID string, items []PreAnnotation) (int, error) {
	const op = "annotations.ImportPreAnnotations"
	if _, err := ownedDataset(ctx, s.store.Repos(), op, actor, datasetID); err != nil {
		return 0, err
	}
	var n int
	err := s.store.WithTx(ctx, func(r *repository.Repositories) error {
		var err error
		n, err = importPreAnnotations(ctx, r, s.logger, datasetID, items)
		return err
	})
	return n, err
}

func importPreAnnotations(ctx context.Context, r *repository.Repositories, logger *zap.Logger, datasetID string, items []PreAnnotation) (int, error) {
	created := 0
	for _, item := range items {
		if item.ImageURL == "" {
			continue
		}
		matches, err := r.Images.FindByPathContains(ctx, datasetID, item.ImageURL)
		if err != nil {
			return created, fmt.Errorf("while matching '%s': %w", item.ImageURL, err)
		}
		if len(matches) == 0 {
			logger.Debug("pre-annotation matches no image", zap.String("dataset", datasetID), zap.String("imageurl", item.ImageURL))
			continue
		}
		text := ocr.StripFences(item.Output)
		ann := &domain.Annotation{Type: domain.AnnotationOCR, Text: &text, ImageID: matches[0].ID}
		if err := r.Annotations.Create(ctx, ann); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// SubmitPreAnnotation stores a transcription sent by an external pipeline that knows
// the invite code. The image is found by its exact path.
func (s *AnnotationService) SubmitPreAnnotation(ctx context.Context, in PreAnnotationSubmission) (*AnnotationView, error) {
	const op = "annotations.SubmitPreAnnotation"
	if in.ImageURL == "" {
		return nil, domain.InvalidArgument(op, "imageUrl is required")
	}
	if in.Text == "" {
		return nil, domain.InvalidArgument(op, "annotationText is required")
	}
	if s.opts.InviteCode == "" || subtle.ConstantTimeCompare([]byte(in.Code), []byte(s.opts.InviteCode)) != 1 {
		return nil, domain.Forbidden(op, "invalid invite code")
	}

	repos := s.store.Repos()
	img, err := repos.Images.FindByPath(ctx, in.ImageURL)
	if err != nil {
		return nil, err
	}
	text := in.Text
	ann := &domain.Annotation{Type: domain.AnnotationOCR, Text: &text, Note: in.Note, ImageID: img.ID}
	if err := repos.Annotations.Create(ctx, ann); err != nil {
		return nil, err
	}
	return newAnnotationView(ann, nil), nil
}
