// Package deepgram provides a Deepgram-backed STT provider. Batch requests go
// to the pre-recorded REST endpoint; live sessions use the Deepgram streaming
// WebSocket API. It implements both stt.Transcriber and stt.Streamer.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

const (
	defaultBaseURL    = "https://api.deepgram.com"
	listenPath        = "/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// closeGrace bounds how long End waits for Deepgram to flush its final
	// results after CloseStream.
	closeGrace = 5 * time.Second
)

// Compile-time assertions.
var (
	_ stt.Transcriber = (*Provider)(nil)
	_ stt.Streamer    = (*Provider)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithBaseURL overrides the API origin (default https://api.deepgram.com).
// The streaming endpoint uses the matching ws/wss scheme.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for batch requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber and stt.Streamer backed by Deepgram.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- batch ----

// prerecordedResponse is the subset of the pre-recorded API response we use.
type prerecordedResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string        `json:"detected_language"`
			Alternatives     []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// Transcribe posts a complete recording to the pre-recorded endpoint.
func (p *Provider) Transcribe(ctx context.Context, data []byte, format string, cfg stt.Config) (*stt.Result, error) {
	u, err := p.buildURL(p.baseURL, cfg, false)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/"+format)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr prerecordedResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	out := &stt.Result{
		Duration: secondsToDuration(pr.Metadata.Duration),
		Language: cfg.Language,
	}
	if len(pr.Results.Channels) > 0 {
		ch := pr.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			out.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			alt := ch.Alternatives[0]
			out.Text = strings.TrimSpace(alt.Transcript)
			out.Confidence = alt.Confidence
			out.Words = convertWords(alt)
		}
	}
	return out, nil
}

// ---- streaming ----

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, cfg.Channels and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.Config, h stt.StreamHandlers) (stt.Stream, error) {
	wsBase := strings.Replace(strings.Replace(p.baseURL, "https://", "wss://", 1), "http://", "ws://", 1)
	wsURL, err := p.buildURL(wsBase, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The stream outlives the dial context; Abort and End own its lifetime.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:     conn,
		handlers: h,
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.writeLoop(sctx)
	go s.readLoop(sctx)

	return s, nil
}

// buildURL constructs the listen endpoint URL for the given config.
func (p *Provider) buildURL(base string, cfg stt.Config, streaming bool) (string, error) {
	u, err := url.Parse(base + listenPath)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if streaming {
		sr := cfg.SampleRate
		if sr == 0 {
			sr = p.sampleRate
		}
		q.Set("interim_results", "true")
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(sr))
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Dictoxa:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// streamingResponse is the JSON structure returned by Deepgram for a Results event.
type streamingResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

// stream is a live Deepgram streaming session. It implements stt.Stream.
type stream struct {
	conn     *websocket.Conn
	handlers stt.StreamHandlers
	audio    chan []byte

	done     chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// Write queues a PCM audio chunk for delivery to Deepgram.
func (s *stream) Write(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	default:
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	select {
	case s.audio <- cp:
		return nil
	case <-s.done:
		return stt.ErrStreamClosed
	}
}

// End flushes queued audio, asks Deepgram to finalise, and waits (bounded)
// for the remaining results before closing the connection.
func (s *stream) End() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if werr := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); werr != nil {
			err = fmt.Errorf("deepgram: send CloseStream: %w", werr)
		}
		select {
		case <-s.readDone:
		case <-ctx.Done():
			slog.Warn("deepgram: timed out waiting for final results")
		}
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "stream ended")
	})
	return err
}

// Abort tears the connection down without waiting for pending results.
func (s *stream) Abort() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.conn.CloseNow()
		s.wg.Wait()
	})
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain queued audio before End sends CloseStream.
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// stream handlers.
func (s *stream) readLoop(ctx context.Context) {
	defer close(s.readDone)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Closed by us: not an error.
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && s.handlers.OnError != nil {
					s.handlers.OnError(fmt.Errorf("deepgram: read: %w", err))
				}
			}
			return
		}

		res, isFinal, ok := parseStreamingResponse(msg)
		if !ok {
			continue
		}
		if isFinal {
			if s.handlers.OnFinal != nil {
				s.handlers.OnFinal(res)
			}
		} else if s.handlers.OnPartial != nil && res.Text != "" {
			s.handlers.OnPartial(res.Text)
		}
	}
}

// parseStreamingResponse parses a raw Deepgram WebSocket message into a Result.
// Returns ok=false if the message should be ignored.
func parseStreamingResponse(data []byte) (res stt.Result, isFinal bool, ok bool) {
	var resp streamingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false, false
	}
	if resp.Type != "Results" {
		return stt.Result{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	return stt.Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Duration:   secondsToDuration(resp.Duration),
		Words:      convertWords(alt),
	}, resp.IsFinal, true
}

func convertWords(alt alternative) []stt.WordDetail {
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      secondsToDuration(w.Start),
			End:        secondsToDuration(w.End),
			Confidence: w.Confidence,
		})
	}
	return words
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
