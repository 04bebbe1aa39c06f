package annotation

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v6/util"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_ImportProgress(t *testing.T) {
	a := newTestApp(t)
	owner, token := a.user(t, "owner")
	ds, _ := a.dataset(t, owner, domain.DatasetOCR, 0)
	for _, f := range []string{"scan/a.jpg", "scan/b.jpg", "scan/c.png"} {
		require.NoError(t, util.WriteFile(a.fs, "/images/"+f, []byte(f), 0o644))
	}
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	body := make(chan string, 1)
	go func() {
		res, err := http.Get(srv.URL + "/api/datasets/" + ds.ID + "/progress?token=" + token)
		if err != nil {
			body <- ""
			return
		}
		defer res.Body.Close()
		data, _ := io.ReadAll(res.Body)
		body <- string(data)
	}()
	require.Eventually(t, func() bool { return a.Bus.Subscribers(ds.ID) == 1 }, 5*time.Second, 10*time.Millisecond)

	rec := a.do(t, request{method: "POST", path: "/api/datasets/" + ds.ID + "/import", token: token, body: map[string]any{
		"sources": []domain.StorageRef{{Kind: domain.StorageServer, Path: "scan"}},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stream string
	select {
	case stream = <-body:
	case <-time.After(5 * time.Second):
		t.Fatal("progress stream did not end")
	}

	var got []events.ImportProgress
	sc := bufio.NewScanner(strings.NewReader(stream))
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var p events.ImportProgress
		require.NoError(t, json.Unmarshal([]byte(data), &p))
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, events.ImportCompleted, last.Status)
	assert.Equal(t, 3, last.Processed)
	assert.Equal(t, 0, a.Bus.Subscribers(ds.ID), "stream unsubscribes when done")
}

func TestApp_ImportProgressUnknownDataset(t *testing.T) {
	a := newTestApp(t)
	_, token := a.user(t, "owner")
	rec := a.do(t, request{method: http.MethodGet, path: "/api/datasets/nope/progress", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
