package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_StreamingDefaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL("wss://api.deepgram.com", stt.Config{SampleRate: 16000, Channels: 1, Language: "en"}, true)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "path", "/v1/listen", u.Path)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_BatchOmitsStreamingParams(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))

	rawURL, err := p.buildURL(defaultBaseURL, stt.Config{}, false)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.Parse(rawURL)

	assertEqual(t, "model", "base", q.Query().Get("model"))
	assertEqual(t, "language", "de-DE", q.Query().Get("language"))
	if q.Query().Has("interim_results") || q.Query().Has("sample_rate") {
		t.Errorf("batch URL carries streaming params: %s", rawURL)
	}
}

func TestBuildURL_CfgOverrides(t *testing.T) {
	p, _ := New("key", WithLanguage("en"))

	rawURL, err := p.buildURL(defaultBaseURL, stt.Config{Language: "fr-FR", Model: "nova-2"}, false)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
	assertEqual(t, "model", "nova-2", u.Query().Get("model"))
}

func TestBuildURL_Keywords(t *testing.T) {
	p, _ := New("key")

	cfg := stt.Config{
		Keywords: []stt.KeywordBoost{
			{Keyword: "Dictoxa", Boost: 5},
			{Keyword: "Kubernetes", Boost: 3.5},
		},
	}
	rawURL, err := p.buildURL(defaultBaseURL, cfg, true)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}
	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["Dictoxa:5"] || !found["Kubernetes:3.5"] {
		t.Errorf("unexpected keywords %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseStreamingResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"duration": 1.2,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95,
				"words": [
					{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	res, final, ok := parseStreamingResponse(raw)
	if !ok {
		t.Fatal("expected ok")
	}
	if !final {
		t.Error("expected final")
	}
	assertEqual(t, "text", "Hello world", res.Text)
	if res.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", res.Confidence)
	}
	if res.Duration != 1200*time.Millisecond {
		t.Errorf("duration = %v, want 1.2s", res.Duration)
	}
	if len(res.Words) != 2 || res.Words[1].Start != 600*time.Millisecond {
		t.Errorf("unexpected words %+v", res.Words)
	}
}

func TestParseStreamingResponse_Ignored(t *testing.T) {
	cases := map[string]string{
		"metadata":     `{"type":"Metadata"}`,
		"no alts":      `{"type":"Results","channel":{"alternatives":[]}}`,
		"invalid json": `{not json`,
	}
	for name, raw := range cases {
		if _, _, ok := parseStreamingResponse([]byte(raw)); ok {
			t.Errorf("%s: expected ok=false", name)
		}
	}
}

// ---- batch against a fake server ----

func TestTranscribe_Prerecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token k" || r.Header.Get("Content-Type") != "audio/wav" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"metadata": {"duration": 2.5},
			"results": {"channels": [{"detected_language": "en",
				"alternatives": [{"transcript": " ship it ", "confidence": 0.9}]}]}
		}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	res, err := p.Transcribe(context.Background(), []byte("RIFF...."), stt.FormatWAV, stt.Config{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "ship it", res.Text)
	assertEqual(t, "language", "en", res.Language)
	if res.Duration != 2500*time.Millisecond {
		t.Errorf("duration = %v", res.Duration)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), []byte("x"), stt.FormatWAV, stt.Config{}); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

// ---- streaming against a fake server ----

func TestStartStream_PartialsFinalsAndEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				mu.Lock()
				received += len(data)
				mu.Unlock()
				_ = conn.Write(ctx, websocket.MessageText, []byte(
					`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
				continue
			}
			// CloseStream: send the final and hang up.
			_ = conn.Write(ctx, websocket.MessageText, []byte(
				`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}))
	defer srv.Close()

	var (
		hmu      sync.Mutex
		partials []string
		finals   []string
		errs     []error
	)
	p, _ := New("k", WithBaseURL(srv.URL))
	s, err := p.StartStream(context.Background(), stt.Config{SampleRate: 16000, Channels: 1}, stt.StreamHandlers{
		OnPartial: func(text string) { hmu.Lock(); partials = append(partials, text); hmu.Unlock() },
		OnFinal:   func(r stt.Result) { hmu.Lock(); finals = append(finals, r.Text); hmu.Unlock() },
		OnError:   func(err error) { hmu.Lock(); errs = append(errs, err); hmu.Unlock() },
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := s.Write(make([]byte, 640)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		hmu.Lock()
		n := len(partials)
		hmu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := s.Write([]byte{0, 0}); err != stt.ErrStreamClosed {
		t.Errorf("Write after End = %v, want ErrStreamClosed", err)
	}
	s.Abort() // no-op after End

	hmu.Lock()
	defer hmu.Unlock()
	if len(partials) == 0 || partials[0] != "hel" {
		t.Errorf("partials = %v, want [hel]", partials)
	}
	if len(finals) != 1 || finals[0] != "hello" {
		t.Errorf("finals = %v, want [hello]", finals)
	}
	if len(errs) != 0 {
		t.Errorf("unexpected stream errors: %v", errs)
	}
	mu.Lock()
	defer mu.Unlock()
	if received != 640 {
		t.Errorf("server received %d bytes, want 640", received)
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no upgrade", http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.StartStream(context.Background(), stt.Config{}, stt.StreamHandlers{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ---- constructor ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("sampleRate: want %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
