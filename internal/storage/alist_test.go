package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAList serves an in-memory directory listing through the AList JSON API
type fakeAList struct {
	mu     sync.Mutex
	files  map[string][]alistFile // directory -> entries
	broken map[string]bool
	moves  []alistMoveRequest
	mkdirs []string
}

func newFakeAList() *fakeAList {
	return &fakeAList{files: map[string][]alistFile{}, broken: map[string]bool{}}
}

func (f *fakeAList) add(file string) {
	dir := path.Dir(file)
	f.files[dir] = append(f.files[dir], alistFile{Name: path.Base(file), Size: int64(len(file))})
}

func (f *fakeAList) addDir(parent, name string) {
	f.files[parent] = append(f.files[parent], alistFile{Name: name, IsDir: true})
}

func (f *fakeAList) reply(w http.ResponseWriter, code int, msg string, data any) {
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": msg, "data": data})
}

func (f *fakeAList) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "secret" {
		f.reply(w, 401, "token is invalid", nil)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/fs/list":
		var req alistListRequest
		json.NewDecoder(r.Body).Decode(&req)
		if f.broken[req.Path] {
			f.reply(w, 500, "storage not found", nil)
			return
		}
		items, ok := f.files[path.Clean(req.Path)]
		if !ok {
			f.reply(w, 500, "object not found", nil)
			return
		}
		f.reply(w, 200, "success", alistList{Content: items, Total: len(items)})
	case "/api/fs/get":
		var req alistListRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.reply(w, 200, "success", alistFile{Name: path.Base(req.Path), RawURL: "https://cdn.example" + req.Path})
	case "/api/fs/mkdir":
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		f.mkdirs = append(f.mkdirs, req["path"])
		f.reply(w, 200, "success", nil)
	case "/api/fs/move":
		var req alistMoveRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.moves = append(f.moves, req)
		f.reply(w, 200, "success", nil)
	default:
		http.NotFound(w, r)
	}
}

func newTestAList(t *testing.T, fake *fakeAList) *AListBackend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewAListBackend(AListOptions{URL: srv.URL, Token: "secret", ImagesDir: "/pics", TrashDir: "/trash"}, zap.NewNop())
}

func TestAListBackend_Available(t *testing.T) {
	assert.False(t, NewAListBackend(AListOptions{URL: "http://x"}, zap.NewNop()).Available())
	assert.False(t, NewAListBackend(AListOptions{Token: "t"}, zap.NewNop()).Available())
	assert.True(t, NewAListBackend(AListOptions{URL: "http://x", Token: "t"}, zap.NewNop()).Available())

	_, err := NewAListBackend(AListOptions{}, zap.NewNop()).Enumerate(context.Background(), "")
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestAListBackend_Enumerate(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAList()
	fake.add("/pics/set/a.jpg")
	fake.add("/pics/set/readme.md")
	fake.addDir("/pics/set", "sub")
	fake.addDir("/pics/set", "broken")
	fake.add("/pics/set/sub/b.png")
	fake.broken["/pics/set/broken"] = true
	b := newTestAList(t, fake)

	t.Run("walks subdirectories and reports skipped ones", func(t *testing.T) {
		entries, err := b.Enumerate(ctx, "set")
		var skipped *multierror.Error
		require.True(t, errors.As(err, &skipped), "err = %v", err)
		assert.Len(t, skipped.Errors, 1)
		assert.Equal(t, []string{"set/a.jpg", "set/sub/b.png"}, entryPaths(entries))
	})

	t.Run("unreadable root fails", func(t *testing.T) {
		_, err := b.Enumerate(ctx, "missing")
		assert.True(t, errors.Is(err, domain.ErrStorageOperationFailed), "err = %v", err)
	})
}

func TestAListBackend_TreeURLAndTrash(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAList()
	fake.addDir("/pics", "one")
	fake.addDir("/pics", ".git")
	fake.addDir("/pics/one", "two")
	fake.files["/pics/one/two"] = nil
	b := newTestAList(t, fake)

	t.Run("tree", func(t *testing.T) {
		nodes, err := b.ListTree(ctx, "", 3)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, domain.StorageRef{Kind: domain.StorageWeb, Path: "one"}, nodes[0].Ref)
		require.Len(t, nodes[0].Children, 1)
		assert.Equal(t, "one/two", nodes[0].Children[0].Ref.Path)
		assert.True(t, nodes[0].Children[0].IsLeaf)
	})

	t.Run("raw url", func(t *testing.T) {
		u, err := b.ResolveURL(ctx, &domain.Image{Path: "one/two/x.jpg"})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/pics/one/two/x.jpg", u)
	})

	t.Run("move keeps the relative folder", func(t *testing.T) {
		require.NoError(t, b.MoveToTrash(ctx, "one/two/x.jpg"))
		require.Len(t, fake.moves, 1)
		assert.Equal(t, alistMoveRequest{SrcDir: "/pics/one/two", DstDir: "/trash/one/two", Names: []string{"x.jpg"}}, fake.moves[0])
		assert.Equal(t, []string{"/trash/one/two"}, fake.mkdirs)
	})
}

func TestAListBackend_EnvelopeError(t *testing.T) {
	fake := newFakeAList()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	b := NewAListBackend(AListOptions{URL: srv.URL, Token: "wrong"}, zap.NewNop())

	_, err := b.ListTree(context.Background(), "", 1)
	require.Error(t, err)
	assert.Equal(t, 401, domain.StatusOf(err))
}
