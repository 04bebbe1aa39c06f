package ocr

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.5-flash"

// generator is the part of genai.Models the producer calls
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini sends image bytes inline to a Gemini model
type Gemini struct {
	models generator
	model  string
	prompt string
	client *http.Client
}

// NewGemini creates a Gemini producer from an API key
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models generator, cfg Config) *Gemini {
	model := cfg.GeminiModel
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model, prompt: cfg.Prompt, client: http.DefaultClient}
}

func (g *Gemini) Name() string { return "Gemini" }

func (g *Gemini) Recognize(ctx context.Context, in Input) (*Result, error) {
	if len(in.Image) == 0 {
		if err := g.download(ctx, &in); err != nil {
			return nil, err
		}
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(in.Image, in.MimeType),
			genai.NewPartFromText(prompt(in, g.prompt)),
		}, genai.RoleUser),
	}
	res, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}
	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text")
	}
	return &Result{Text: text, Model: g.Name()}, nil
}

func (g *Gemini) download(ctx context.Context, in *Input) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return fmt.Errorf("while building image request: %w", err)
	}
	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("while fetching image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("failed to fetch image: %s", res.Status)
	}
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		return fmt.Errorf("could not determine image content type")
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("while reading image: %w", err)
	}
	in.Image, in.MimeType = data, contentType
	return nil
}
