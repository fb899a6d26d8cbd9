// Package transcribe turns uploaded voice messages into text.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultModel is the default Whisper model.
const DefaultModel = "whisper-1"

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

var _ Transcriber = (*OpenAI)(nil)

// OpenAI transcribes through an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAI struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for OpenAI.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage hints the spoken language (ISO-639-1).
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// NewOpenAI constructs a transcriber. If model is empty, DefaultModel is used.
func NewOpenAI(apiKey, model string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{timeout: 30 * time.Second, maxRetries: 2}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAI{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements Transcriber.
func (o *OpenAI) Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("transcribe: audio data is empty")
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), filename, contentType),
		Model: oai.AudioModel(o.model),
	}
	if o.language != "" {
		params.Language = param.NewOpt(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
