package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/geometry"
	"github.com/lewtec/labelhub/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	text string
	err  error
	got  ocr.Input
}

func (f *fakeProducer) Name() string { return "fake" }

func (f *fakeProducer) Recognize(ctx context.Context, in ocr.Input) (*ocr.Result, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text, Model: "fake-1"}, nil
}

func newAnnotationService(e *testEnv, opts AnnotationOptions) *AnnotationService {
	return NewAnnotationService(e.store, e.adapter, opts, zap.NewNop())
}

func TestAnnotationService_SaveRectangle(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	ds, images := e.dataset(t, owner, domain.DatasetObjectDetection, 1)
	e.labels(t, ds, &domain.Label{ID: "L1", Name: "cat", Color: "#ff0000"})
	svc := newAnnotationService(e, AnnotationOptions{})

	rect := geometry.Rect{Left: 10, Top: 20, Width: 100, Height: 50}
	res, err := svc.Save(e.ctx, owner, images[0].ID, []SubmittedAnnotation{
		{Type: domain.AnnotationRectangle, LabelID: ptr("L1"), Rect: &rect},
	})
	require.NoError(t, err)
	assert.Equal(t, &SaveResult{Count: 1, Created: 1}, res)

	stored, err := e.store.Repos().Annotations.ListForImage(e.ctx, images[0].ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.AnnotationRectangle, stored[0].Type)
	assert.Equal(t, domain.OriginHuman, stored[0].Origin)
	assert.Equal(t, []domain.Point{
		{X: 10, Y: 20, Order: 0},
		{X: 110, Y: 20, Order: 1},
		{X: 110, Y: 70, Order: 2},
		{X: 10, Y: 70, Order: 3},
	}, stored[0].Points)

	views, err := svc.List(e.ctx, owner, images[0].ID, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Shape.Rect)
	assert.Equal(t, rect, *views[0].Shape.Rect)
	assert.Equal(t, "cat", views[0].LabelName)
	assert.Equal(t, "#ff0000", views[0].LabelColor)
}

func TestAnnotationService_SaveIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	_, images := e.dataset(t, owner, domain.DatasetObjectDetection, 1)
	svc := newAnnotationService(e, AnnotationOptions{})

	subs := []SubmittedAnnotation{
		{ID: "client-rect", Type: domain.AnnotationRectangle, Points: []domain.Point{
			{X: 0, Y: 0, Order: 0}, {X: 5, Y: 0, Order: 1}, {X: 5, Y: 5, Order: 2}, {X: 0, Y: 5, Order: 3},
		}},
		{ID: "client-poly", Type: domain.AnnotationPolygon, Polygon: []geometry.Vertex{{X: 1, Y: 1}, {X: 4, Y: 1}, {X: 2, Y: 3}}},
	}

	first, err := svc.Save(e.ctx, owner, images[0].ID, subs)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)
	before, err := e.store.Repos().Annotations.ListForImage(e.ctx, images[0].ID)
	require.NoError(t, err)

	second, err := svc.Save(e.ctx, owner, images[0].ID, subs)
	require.NoError(t, err)
	assert.Equal(t, &SaveResult{Count: 2, Updated: 2}, second)
	after, err := e.store.Repos().Annotations.ListForImage(e.ctx, images[0].ID)
	require.NoError(t, err)

	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(domain.Annotation{}, "UpdatedAt")); diff != "" {
		t.Errorf("second save changed stored annotations (-before +after):\n%s", diff)
	}
	var ids []string
	for _, a := range after {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"client-rect", "client-poly"}, ids)
}

func TestAnnotationService_SaveIsolatedByCreator(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	worker := e.user(t, "worker")
	ds, images := e.dataset(t, owner, domain.DatasetOCR, 1)
	e.task(t, ds, owner, worker, images[0])
	svc := newAnnotationService(e, AnnotationOptions{})
	img := images[0].ID

	_, err := svc.Save(e.ctx, worker, img, []SubmittedAnnotation{
		{Type: domain.AnnotationOCR, Text: ptr("worker text")},
	})
	require.NoError(t, err)
	workerAnns, err := e.store.Repos().Annotations.ListForImageByCreator(e.ctx, img, worker)
	require.NoError(t, err)
	require.Len(t, workerAnns, 1)

	t.Run("other user's save leaves them alone", func(t *testing.T) {
		res, err := svc.Save(e.ctx, owner, img, []SubmittedAnnotation{
			{Type: domain.AnnotationOCR, Text: ptr("owner text")},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Deleted)

		res, err = svc.Save(e.ctx, owner, img, nil)
		require.NoError(t, err)
		assert.Equal(t, &SaveResult{Deleted: 1}, res)

		still, err := e.store.Repos().Annotations.ListForImageByCreator(e.ctx, img, worker)
		require.NoError(t, err)
		assert.Equal(t, workerAnns, still)
	})

	t.Run("foreign id is not taken over", func(t *testing.T) {
		res, err := svc.Save(e.ctx, owner, img, []SubmittedAnnotation{
			{ID: workerAnns[0].ID, Type: domain.AnnotationOCR, Text: ptr("hijack")},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)

		mine, err := e.store.Repos().Annotations.ListForImageByCreator(e.ctx, img, owner)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.NotEqual(t, workerAnns[0].ID, mine[0].ID)

		still, err := e.store.Repos().Annotations.ListForImageByCreator(e.ctx, img, worker)
		require.NoError(t, err)
		assert.Equal(t, "worker text", *still[0].Text)
	})

	t.Run("mine only listing", func(t *testing.T) {
		views, err := svc.List(e.ctx, worker, img, true)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, DefaultLabelName, views[0].LabelName)
		assert.Equal(t, DefaultLabelColor, views[0].LabelColor)
	})
}

func TestAnnotationService_UpdateKeepsReviewFields(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	_, images := e.dataset(t, owner, domain.DatasetOCR, 1)
	svc := newAnnotationService(e, AnnotationOptions{})
	img := images[0].ID

	_, err := svc.Save(e.ctx, owner, img, []SubmittedAnnotation{
		{ID: "a1", Type: domain.AnnotationOCR, Text: ptr("v1"), Score: ptr(0.5), Note: ptr("check"), IsCrossPage: ptr(true)},
	})
	require.NoError(t, err)
	_, err = svc.Save(e.ctx, owner, img, []SubmittedAnnotation{
		{ID: "a1", Type: domain.AnnotationOCR, Text: ptr("v2")},
	})
	require.NoError(t, err)

	stored, err := e.store.Repos().Annotations.ListForImage(e.ctx, img)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "v2", *stored[0].Text)
	assert.Equal(t, 0.5, *stored[0].Score)
	assert.Equal(t, "check", *stored[0].Note)
	assert.True(t, stored[0].IsCrossPage)
}

func TestAnnotationService_SaveRejects(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	stranger := e.user(t, "stranger")
	ds, images := e.dataset(t, owner, domain.DatasetObjectDetection, 2)
	e.labels(t, ds, &domain.Label{ID: "L1", Name: "cat", Color: "#fff"})
	require.NoError(t, e.store.Repos().Images.SoftDelete(e.ctx, images[1].ID, owner))
	svc := newAnnotationService(e, AnnotationOptions{})
	img := images[0].ID

	square := []domain.Point{{X: 0, Y: 0}, {X: 1, Y: 0, Order: 1}, {X: 1, Y: 1, Order: 2}, {X: 0, Y: 1, Order: 3}}
	tests := []struct {
		name  string
		actor string
		image string
		subs  []SubmittedAnnotation
		want  error
	}{
		{"missing image", owner, "nope", nil, domain.ErrNotFound},
		{"deleted image", owner, images[1].ID, nil, domain.ErrNotFound},
		{"not assigned", stranger, img, nil, domain.ErrForbidden},
		{"unknown type", owner, img, []SubmittedAnnotation{{Type: "CIRCLE"}}, domain.ErrInvalidArgument},
		{"rectangle with three points", owner, img, []SubmittedAnnotation{{Type: domain.AnnotationRectangle, Points: square[:3]}}, domain.ErrInvalidArgument},
		{"polygon with two vertices", owner, img, []SubmittedAnnotation{{Type: domain.AnnotationPolygon, Polygon: []geometry.Vertex{{}, {X: 1}}}}, domain.ErrInvalidArgument},
		{"foreign label", owner, img, []SubmittedAnnotation{{Type: domain.AnnotationRectangle, LabelID: ptr("L2"), Points: square}}, domain.ErrInvalidArgument},
		{"ocr without text", owner, img, []SubmittedAnnotation{{Type: domain.AnnotationOCR}}, domain.ErrInvalidArgument},
		{"duplicate ids", owner, img, []SubmittedAnnotation{
			{ID: "x", Type: domain.AnnotationOCR, Text: ptr("a")},
			{ID: "x", Type: domain.AnnotationOCR, Text: ptr("b")},
		}, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(e.ctx, tt.actor, tt.image, tt.subs)
			assert.True(t, errors.Is(err, tt.want), "err = %v, want %v", err, tt.want)
		})
	}

	stored, err := e.store.Repos().Annotations.ListForImage(e.ctx, img)
	require.NoError(t, err)
	assert.Empty(t, stored, "rejected saves must not write")
}

func TestAnnotationService_AutoLabel(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	ds, images := e.dataset(t, owner, domain.DatasetOCR, 1)
	producer := &fakeProducer{text: "```markdown\nhello\n```"}
	svc := newAnnotationService(e, AnnotationOptions{OCR: producer})

	view, err := svc.AutoLabel(e.ctx, owner, images[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *view.Text)
	assert.Equal(t, "fake", *view.Note)
	assert.Equal(t, domain.OriginMachine, view.Origin)
	assert.Nil(t, view.CreatedByID)
	assert.Equal(t, "jpeg:batch/img000.jpg", string(producer.got.Image))
	assert.Equal(t, "image/jpeg", producer.got.MimeType)

	stats, err := e.store.Repos().Stats.DatasetStats(e.ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PreAnnotatedImageCount)
	assert.Equal(t, int64(0), stats.AnnotationCount)

	t.Run("not configured", func(t *testing.T) {
		_, err := newAnnotationService(e, AnnotationOptions{}).AutoLabel(e.ctx, owner, images[0].ID)
		assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
	})

	t.Run("object detection datasets are refused", func(t *testing.T) {
		_, odImages := e.dataset(t, owner, domain.DatasetObjectDetection, 1)
		_, err := svc.AutoLabel(e.ctx, owner, odImages[0].ID)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})
}

func TestAnnotationService_PreAnnotations(t *testing.T) {
	e := newTestEnv(t)
	owner := e.user(t, "owner")
	other := e.user(t, "other")
	ds, images := e.dataset(t, owner, domain.DatasetOCR, 3)
	svc := newAnnotationService(e, AnnotationOptions{InviteCode: "letmein"})

	t.Run("import matches by path fragment", func(t *testing.T) {
		n, err := svc.ImportPreAnnotations(e.ctx, owner, ds.ID, []PreAnnotation{
			{ImageURL: "img001.jpg", Output: "```markdown\nline\n```"},
			{ImageURL: "missing.jpg", Output: "lost"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		anns, err := e.store.Repos().Annotations.ListForImage(e.ctx, images[1].ID)
		require.NoError(t, err)
		require.Len(t, anns, 1)
		assert.Equal(t, "line", *anns[0].Text)
		assert.Nil(t, anns[0].CreatedByID)
	})

	t.Run("import needs ownership", func(t *testing.T) {
		_, err := svc.ImportPreAnnotations(e.ctx, other, ds.ID, nil)
		assert.True(t, errors.Is(err, domain.ErrForbidden))
	})

	t.Run("submission checks the invite code", func(t *testing.T) {
		_, err := svc.SubmitPreAnnotation(e.ctx, PreAnnotationSubmission{ImageURL: images[2].Path, Text: "t", Code: "wrong"})
		assert.True(t, errors.Is(err, domain.ErrForbidden))

		_, err = svc.SubmitPreAnnotation(e.ctx, PreAnnotationSubmission{ImageURL: "nope.jpg", Text: "t", Code: "letmein"})
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		view, err := svc.SubmitPreAnnotation(e.ctx, PreAnnotationSubmission{ImageURL: images[2].Path, Text: "t", Note: ptr("pipeline"), Code: "letmein"})
		require.NoError(t, err)
		assert.Equal(t, domain.OriginMachine, view.Origin)
		assert.Equal(t, "pipeline", *view.Note)
	})

	t.Run("empty invite code rejects everything", func(t *testing.T) {
		_, err := newAnnotationService(e, AnnotationOptions{}).SubmitPreAnnotation(e.ctx, PreAnnotationSubmission{ImageURL: images[2].Path, Text: "t"})
		assert.True(t, errors.Is(err, domain.ErrForbidden))
	})
}
