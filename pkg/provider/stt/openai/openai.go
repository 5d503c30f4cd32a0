// Package openai provides a batch STT transcriber backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe and compatibles).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/dictoxa/pkg/audio"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// DefaultModel is used when neither New nor the request names a model.
const DefaultModel = "whisper-1"

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a Transcriber. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Transcriber{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe uploads the audio and returns the transcription. Raw PCM
// (format "pcm") is wrapped in a WAV container first.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, format string, cfg stt.Config) (*stt.Result, error) {
	if format == "pcm" {
		data = audio.CreateWAVHeader(data, cfg.SampleRate, 16, max(cfg.Channels, 1))
		format = stt.FormatWAV
	}

	model := t.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(data), "audio."+format, "audio/"+format),
		Model:          oai.AudioModel(model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := primaryLanguage(cfg.Language); lang != "" {
		params.Language = oai.String(lang)
	}
	if cfg.Prompt != "" {
		params.Prompt = oai.String(cfg.Prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return &stt.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: cfg.Language,
	}, nil
}

// primaryLanguage reduces a BCP-47 tag to the ISO-639-1 code the API
// accepts ("en-US" → "en").
func primaryLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}
