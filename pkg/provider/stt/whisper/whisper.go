// Package whisper provides an STT transcriber backed by a local whisper.cpp
// server.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference. whisper.cpp is a batch engine, so the transcriber only
// implements stt.Transcriber; callers that prefer streaming fall back to
// batch mode automatically.
//
// Usage:
//
//	t, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := t.Transcribe(ctx, wav, stt.FormatWAV, stt.Config{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/dictoxa/pkg/audio"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en". Use "auto" for detection.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		t.language = lang
	}
}

// WithSampleRate sets the sample rate assumed for raw PCM input (format
// "pcm"). Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(t *Transcriber) {
		t.sampleRate = rate
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe posts the audio to /inference as multipart/form-data and returns
// the recognised text. Raw PCM (format "pcm") is wrapped in a WAV container
// first; any other format is sent as-is.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, format string, cfg stt.Config) (*stt.Result, error) {
	if format == "pcm" {
		rate := cfg.SampleRate
		if rate <= 0 {
			rate = t.sampleRate
		}
		data = audio.CreateWAVHeader(data, rate, 16, max(cfg.Channels, 1))
		format = stt.FormatWAV
	}

	language := t.language
	if cfg.Language != "" {
		language = cfg.Language
	}
	model := t.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := []struct{ name, value string }{
		{"language", language},
		{"model", model},
		{"prompt", cfg.Prompt},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f.name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	out := &stt.Result{Text: strings.TrimSpace(result.Text)}
	if language != "auto" {
		out.Language = language
	}
	return out, nil
}
