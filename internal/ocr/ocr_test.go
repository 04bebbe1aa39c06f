package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lewtec/labelhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	text     string
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents = model, contents
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(f.text, genai.RoleModel),
		}},
	}, nil
}

func TestGemini_Recognize(t *testing.T) {
	gen := &fakeGenerator{text: "hello world"}
	g := newGemini(gen, Config{Prompt: "read it"})

	res, err := g.Recognize(context.Background(), Input{Image: []byte{1, 2, 3}, MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, &Result{Text: "hello world", Model: "Gemini"}, res)
	assert.Equal(t, DefaultGeminiModel, gen.model)

	require.Len(t, gen.contents, 1)
	parts := gen.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, []byte{1, 2, 3}, parts[0].InlineData.Data)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Equal(t, "read it", parts[1].Text)
}

func TestGemini_DownloadsWhenNoBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	gen := &fakeGenerator{text: "ok"}
	g := newGemini(gen, Config{})
	_, err := g.Recognize(context.Background(), Input{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), gen.contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, DefaultPrompt, gen.contents[0].Parts[1].Text)
}

func TestDoubao_Recognize(t *testing.T) {
	var got doubaoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "文字"}}},
		})
	}))
	defer srv.Close()

	d := NewDoubao(Config{DoubaoAPIKey: "key", DoubaoModel: "doubao-vision", DoubaoThinking: true, DoubaoEndpoint: srv.URL})
	res, err := d.Recognize(context.Background(), Input{URL: "https://img/a.jpg", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "文字", res.Text)
	assert.Equal(t, "豆包", res.Model)

	assert.Equal(t, "doubao-vision", got.Model)
	assert.Equal(t, "enabled", got.Thinking.Type)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "https://img/a.jpg", got.Messages[0].Content[0].ImageURL.URL)
	assert.Equal(t, "p", got.Messages[0].Content[1].Text)
}

func TestDoubao_InlinesBytes(t *testing.T) {
	var got doubaoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	d := NewDoubao(Config{DoubaoAPIKey: "key", DoubaoEndpoint: srv.URL})
	_, err := d.Recognize(context.Background(), Input{Image: []byte("hi"), MimeType: "image/png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
	assert.Equal(t, "data:image/png;base64,aGk=", got.Messages[0].Content[0].ImageURL.URL)
	assert.Equal(t, "disabled", got.Thinking.Type)
}

func TestSelect(t *testing.T) {
	p, err := Select(context.Background(), Config{DoubaoAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "豆包", p.Name())

	_, err = Select(context.Background(), Config{})
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "# title\nbody", StripFences("```markdown\n# title\nbody\n```"))
	assert.Equal(t, "plain", StripFences("plain"))
}
