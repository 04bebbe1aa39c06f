// Package ocr asks a vision model to transcribe the text of an image.
package ocr

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/lewtec/labelhub/internal/domain"
)

// DefaultPrompt is sent when neither the caller nor the configuration sets one
const DefaultPrompt = "识别图片中的文字"

// Input is the image to transcribe. Image holds the bytes when the caller already
// fetched them; URL is used otherwise.
type Input struct {
	URL      string
	Image    []byte
	MimeType string
	Prompt   string
}

// Result is a transcription and the name of the model family that produced it
type Result struct {
	Text  string
	Model string
}

// Producer transcribes images
type Producer interface {
	Name() string
	Recognize(ctx context.Context, in Input) (*Result, error)
}

// Config selects and configures the producers
type Config struct {
	GeminiAPIKey   string
	GeminiModel    string
	DoubaoAPIKey   string
	DoubaoModel    string
	DoubaoThinking bool
	DoubaoEndpoint string
	Prompt         string
}

// Select returns the Gemini producer when a Gemini key is set, then Doubao.
// Without any key it fails with a storage unavailable error.
func Select(ctx context.Context, cfg Config) (Producer, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		return NewGemini(ctx, cfg)
	case cfg.DoubaoAPIKey != "":
		return NewDoubao(cfg), nil
	}
	return nil, domain.StorageUnavailable("ocr.Select", "no OCR provider configured, set GEMINI_API_KEY or DOUBAO_API_KEY")
}

func prompt(in Input, fallback string) string {
	if in.Prompt != "" {
		return in.Prompt
	}
	if fallback != "" {
		return fallback
	}
	return DefaultPrompt
}

func dataURL(in Input) string {
	return "data:" + in.MimeType + ";base64," + base64.StdEncoding.EncodeToString(in.Image)
}

// StripFences removes a leading ```markdown line and a trailing ``` line
func StripFences(s string) string {
	s = strings.TrimPrefix(s, "```markdown\n")
	s = strings.TrimSuffix(s, "\n```")
	return s
}
