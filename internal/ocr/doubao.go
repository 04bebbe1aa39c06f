package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultDoubaoEndpoint is the Volcengine Ark chat completions endpoint
const DefaultDoubaoEndpoint = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"

// Doubao calls a Doubao vision model through the Ark chat completions API
type Doubao struct {
	apiKey   string
	model    string
	thinking bool
	endpoint string
	prompt   string
	client   *http.Client
}

type doubaoContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *doubaoImageURL `json:"image_url,omitempty"`
}

type doubaoImageURL struct {
	URL string `json:"url"`
}

type doubaoMessage struct {
	Role    string          `json:"role"`
	Content []doubaoContent `json:"content"`
}

type doubaoThinking struct {
	Type string `json:"type"`
}

type doubaoRequest struct {
	Model    string          `json:"model"`
	Thinking doubaoThinking  `json:"thinking"`
	Messages []doubaoMessage `json:"messages"`
}

type doubaoResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewDoubao creates a Doubao producer
func NewDoubao(cfg Config) *Doubao {
	endpoint := cfg.DoubaoEndpoint
	if endpoint == "" {
		endpoint = DefaultDoubaoEndpoint
	}
	return &Doubao{
		apiKey:   cfg.DoubaoAPIKey,
		model:    cfg.DoubaoModel,
		thinking: cfg.DoubaoThinking,
		endpoint: endpoint,
		prompt:   cfg.Prompt,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

func (d *Doubao) Name() string { return "豆包" }

func (d *Doubao) Recognize(ctx context.Context, in Input) (*Result, error) {
	imageURL := in.URL
	if len(in.Image) > 0 {
		imageURL = dataURL(in)
	}

	thinking := "disabled"
	if d.thinking {
		thinking = "enabled"
	}
	body := doubaoRequest{
		Model:    d.model,
		Thinking: doubaoThinking{Type: thinking},
		Messages: []doubaoMessage{{
			Role: "user",
			Content: []doubaoContent{
				{Type: "image_url", ImageURL: &doubaoImageURL{URL: imageURL}},
				{Type: "text", Text: prompt(in, d.prompt)},
			},
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("while encoding doubao request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("while building doubao request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	res, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doubao request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("doubao API answered %s - %s", res.Status, text)
	}

	var data doubaoResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("while decoding doubao response: %w", err)
	}
	if len(data.Choices) == 0 || data.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("doubao returned no content")
	}
	return &Result{Text: data.Choices[0].Message.Content, Model: d.Name()}, nil
}
