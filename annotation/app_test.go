package annotation

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/util"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/repository"
	"github.com/lewtec/labelhub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type testApp struct {
	*App
	fs      billy.Filesystem
	handler http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	conn := repository.SetupTestDB(t)
	t.Cleanup(func() { repository.CleanupTestDB(t, conn) })

	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/images", 0o755))

	cfg := DefaultConfig()
	cfg.Auth.Secret = testSecret
	cfg.Auth.InviteCode = "letmein"
	cfg.Server.PublicURL = "http://labelhub.test"

	adapter := storage.NewAdapter(zap.NewNop(), storage.NewLocalBackend(fs, storage.LocalOptions{
		ImagesDir: "/images",
		TrashDir:  "/trash",
		URLPrefix: cfg.Server.PublicURL,
	}, zap.NewNop()))
	app := NewApp(cfg, repository.NewStore(conn), adapter, nil, zap.NewNop())
	t.Cleanup(app.Close)
	return &testApp{App: app, fs: fs, handler: app.GetHTTPHandler()}
}

func (a *testApp) user(t *testing.T, name string) (string, string) {
	t.Helper()
	u := repository.SeedUser(t, a.Store.DB(), name)
	token, err := MintToken(testSecret, u.ID, 0)
	require.NoError(t, err)
	return u.ID, token
}

func (a *testApp) dataset(t *testing.T, owner string, typ domain.DatasetType, n int) (*domain.Dataset, []*domain.Image) {
	t.Helper()
	ds, images := repository.SeedDataset(t, a.Store.DB(), owner, typ, n)
	for _, img := range images {
		require.NoError(t, util.WriteFile(a.fs, a.fs.Join("/images", img.Path), []byte("jpeg:"+img.Path), 0o644))
	}
	return ds, images
}

type request struct {
	method, path, token, lang string
	body                      any
}

func (a *testApp) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.lang != "" {
		req.Header.Set("Accept-Language", r.lang)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestApp_Authentication(t *testing.T) {
	a := newTestApp(t)
	id, token := a.user(t, "alice")

	t.Run("missing token", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodGet, path: "/api/me"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", decode[map[string]string](t, rec)["error"])
	})

	t.Run("image endpoint answers in plain text and in the client's language", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodGet, path: "/img/whatever", lang: "zh-CN,zh;q=0.9"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "未授权访问", rec.Body.String())
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		forged, err := MintToken("other", id, 0)
		require.NoError(t, err)
		rec := a.do(t, request{method: http.MethodGet, path: "/api/me", token: forged})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodGet, path: "/api/me", token: token})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "alice", decode[domain.User](t, rec).Name)
	})

	t.Run("token in the query", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodGet, path: "/api/me?token=" + token})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestApp_Image(t *testing.T) {
	a := newTestApp(t)
	owner, ownerToken := a.user(t, "owner")
	_, strangerToken := a.user(t, "stranger")
	_, images := a.dataset(t, owner, domain.DatasetObjectDetection, 2)
	require.NoError(t, a.fs.Remove("/images/"+images[1].Path))

	tests := []struct {
		name       string
		token      string
		id         string
		wantStatus int
		wantBody   string
	}{
		{"owner reads the bytes", ownerToken, images[0].ID, http.StatusOK, "jpeg:" + images[0].Path},
		{"stranger is refused", strangerToken, images[0].ID, http.StatusForbidden, "You are not allowed to access this image"},
		{"unknown image", ownerToken, "nope", http.StatusNotFound, "Image not found"},
		{"missing bytes", ownerToken, images[1].ID, http.StatusNotFound, "Image not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, request{method: http.MethodGet, path: "/img/" + tt.id, token: tt.token})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
				assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestApp_DatasetTaskAnnotationFlow(t *testing.T) {
	a := newTestApp(t)
	owner, ownerToken := a.user(t, "owner")
	worker, workerToken := a.user(t, "worker")
	ds, images := a.dataset(t, owner, domain.DatasetObjectDetection, 8)

	rec := a.do(t, request{method: http.MethodPatch, path: "/api/datasets/" + ds.ID, token: ownerToken, body: map[string]any{
		"labels": []map[string]string{{"name": "cat", "color": "#f00"}},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, request{method: http.MethodGet, path: "/api/datasets/" + ds.ID, token: workerToken})
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[struct {
		Labels []domain.Label `json:"labels"`
		Index  struct {
			Unassigned string `json:"unassigned"`
		} `json:"index"`
	}](t, rec)
	require.Len(t, view.Labels, 1)
	assert.Equal(t, "0-7", view.Index.Unassigned)

	rec = a.do(t, request{method: http.MethodPost, path: "/api/tasks", token: ownerToken, body: map[string]any{
		"name": "first pass", "datasetId": ds.ID, "assignedTo": []string{worker}, "start": 0, "end": 2,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tasks := decode[[]domain.Task](t, rec)
	require.Len(t, tasks, 1)
	taskID := tasks[0].ID

	rec = a.do(t, request{method: http.MethodPost, path: "/api/tasks/" + taskID + "/more", token: workerToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[map[string]int](t, rec)["added"])

	rec = a.do(t, request{method: http.MethodGet, path: "/api/tasks/" + taskID + "/images", token: workerToken})
	require.Equal(t, http.StatusOK, rec.Code)
	taskImages := decode[[]struct {
		ID  string `json:"id"`
		Src string `json:"src"`
	}](t, rec)
	require.Len(t, taskImages, 8)
	assert.Equal(t, "http://labelhub.test/img/"+taskImages[0].ID, taskImages[0].Src)

	target := images[0].ID
	save := map[string]any{"annotations": []map[string]any{{
		"type":    domain.AnnotationRectangle,
		"labelId": view.Labels[0].ID,
		"rect":    map[string]float64{"left": 1, "top": 2, "width": 3, "height": 4},
	}}}
	rec = a.do(t, request{method: http.MethodPut, path: "/api/images/" + target + "/annotations", token: workerToken, body: save})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rec)["created"])

	rec = a.do(t, request{method: http.MethodGet, path: "/api/images/" + target + "/annotations?mine=true", token: workerToken})
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode[[]struct {
		LabelName string         `json:"labelName"`
		Points    []domain.Point `json:"points"`
	}](t, rec)
	require.Len(t, saved, 1)
	assert.Equal(t, "cat", saved[0].LabelName)
	assert.Len(t, saved[0].Points, 4)

	rec = a.do(t, request{method: http.MethodGet, path: "/api/tasks/" + taskID + "/last", token: workerToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, target, decode[map[string]string](t, rec)["imageId"])

	t.Run("malformed geometry is a bad request", func(t *testing.T) {
		bad := map[string]any{"annotations": []map[string]any{{"type": domain.AnnotationPolygon, "points": []map[string]float64{{"x": 1, "y": 1}}}}}
		rec := a.do(t, request{method: http.MethodPut, path: "/api/images/" + target + "/annotations", token: workerToken, body: bad})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("worker deletes an image", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodDelete, path: "/api/images/" + images[1].ID, token: workerToken})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]bool{"deleted": true, "movedToTrash": true}, decode[map[string]bool](t, rec))
	})

	t.Run("owner only mutations", func(t *testing.T) {
		rec := a.do(t, request{method: http.MethodDelete, path: "/api/datasets/" + ds.ID, token: workerToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = a.do(t, request{method: http.MethodDelete, path: "/api/tasks/" + taskID, token: workerToken})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestApp_PreAnnotation(t *testing.T) {
	a := newTestApp(t)
	owner, _ := a.user(t, "owner")
	_, images := a.dataset(t, owner, domain.DatasetOCR, 1)

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantMsg    string
	}{
		{"wrong code", map[string]string{"imageUrl": images[0].Path, "annotationText": "t", "code": "guess"}, http.StatusForbidden, "Wrong invite code"},
		{"unknown image", map[string]string{"imageUrl": "elsewhere.jpg", "annotationText": "t", "code": "letmein"}, http.StatusNotFound, "Image not found"},
		{"missing text", map[string]string{"imageUrl": images[0].Path, "code": "letmein"}, http.StatusBadRequest, ""},
		{"accepted", map[string]string{"imageUrl": images[0].Path, "annotationText": "hello", "code": "letmein"}, http.StatusOK, "Annotation received"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, request{method: http.MethodPost, path: "/pre", body: tt.body})
			assert.Equal(t, tt.wantStatus, rec.Code)
			res := decode[preResponse](t, rec)
			assert.Equal(t, tt.wantStatus == http.StatusOK, res.Success)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Message)
			}
		})
	}
}

func TestApp_Help(t *testing.T) {
	a := newTestApp(t)
	owner, token := a.user(t, "owner")
	ds, _ := a.dataset(t, owner, domain.DatasetObjectDetection, 3)
	desc := "Draw a box around every *animal*.<script>alert(1)</script>"
	require.NoError(t, a.Store.Repos().Labels.ReplaceForDataset(t.Context(), ds.ID, []*domain.Label{{Name: "cat", Color: "#f00", Description: &desc}}))

	rec := a.do(t, request{method: http.MethodGet, path: "/help/" + ds.ID, token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>Annotation guide: dataset</title>")
	assert.Contains(t, body, "<strong>cat</strong>")
	assert.Contains(t, body, "<em>animal</em>")
	assert.NotContains(t, body, "<script>")

	rec = a.do(t, request{method: http.MethodGet, path: "/help/nope", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NotFound("op", "x"), http.StatusNotFound},
		{domain.Forbidden("op", "x"), http.StatusForbidden},
		{domain.InvalidArgument("op", "x"), http.StatusBadRequest},
		{domain.StorageUnavailable("op", "x"), http.StatusServiceUnavailable},
		{domain.E(domain.KindStorageOperationFailed, "op", "x"), http.StatusBadGateway},
		{domain.E(domain.KindTransactionFailure, "op", "x"), http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
