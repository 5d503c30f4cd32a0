package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/dictoxa/internal/dictation"
	"github.com/MrWong99/dictoxa/internal/health"
	"github.com/MrWong99/dictoxa/internal/observe"
	"github.com/MrWong99/dictoxa/internal/server"
	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/store/yamlstore"
	"github.com/MrWong99/dictoxa/internal/textproc"
	"github.com/MrWong99/dictoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/dictoxa/pkg/provider/llm/mock"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictoxa/pkg/provider/stt/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type factory struct {
	metrics *observe.Metrics
	stt     stt.Transcriber
	llm     llm.Provider
	entries []textproc.Entry
	store   store.Store // overrides entries when set
	err     error
}

func (f *factory) NewPipeline(ctx context.Context) (*dictation.Pipeline, error) {
	if f.err != nil {
		return nil, f.err
	}
	opts := []dictation.Option{dictation.WithMetrics(f.metrics), dictation.WithTranscriber(f.stt)}
	if f.llm != nil {
		opts = append(opts, dictation.WithLLM(f.llm))
	}
	p := dictation.New(dictation.Config{}, opts...)
	if err := f.RefreshDictionary(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *factory) RefreshDictionary(ctx context.Context, p *dictation.Pipeline) error {
	entries := f.entries
	if f.store != nil {
		var err error
		if entries, err = f.store.Entries(ctx); err != nil {
			return err
		}
	}
	p.SetEntries(entries)
	return nil
}

func (f *factory) DefaultMode() dictation.Mode { return dictation.ModePushToTalk }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, f *factory, opts ...server.Option) *httptest.Server {
	t.Helper()
	m := testMetrics(t)
	f.metrics = m
	opts = append([]server.Option{
		server.WithMetrics(m),
		server.WithMetricsHandler(http.NotFoundHandler()),
	}, opts...)
	ts := httptest.NewServer(server.New(f, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/dictate"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

type frame struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	State     string            `json:"state"`
	Text      string            `json:"text"`
	Level     *float64          `json:"level"`
	Result    *dictation.Result `json:"result"`
	Error     string            `json:"error"`
	Mode      string            `json:"mode"`

	Audio      []byte `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

// next reads frames until one of type typ arrives and returns it.
func next(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) frame {
	t.Helper()
	f, _ := collect(t, ctx, conn, typ)
	return f
}

// collect is next but also returns the states seen on the way.
func collect(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) (frame, []string) {
	t.Helper()
	var states []string
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %q frame: %v", typ, err)
		}
		if f.Type == typ {
			return f, states
		}
		switch f.Type {
		case "state":
			states = append(states, f.State)
		case "error":
			t.Fatalf("unexpected error frame while waiting for %q: %s", typ, f.Error)
		}
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func tone(n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		b[2*i] = byte(v)
		b[2*i+1] = byte(uint16(v) >> 8)
	}
	return b
}

// ── WebSocket ────────────────────────────────────────────────────────────────

func TestDictate_ReadyFrame(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}})
	conn, ctx := dial(t, ts)

	f := next(t, ctx, conn, "ready")
	if f.Mode != "push-to-talk" {
		t.Errorf("ready mode = %q, want push-to-talk", f.Mode)
	}
}

func TestDictate_FullSession(t *testing.T) {
	t.Parallel()
	tr := &sttmock.Transcriber{Result: &stt.Result{Text: "deploy to kubernetes", Language: "en"}}
	ts := newTestServer(t, &factory{
		stt:     tr,
		entries: []textproc.Entry{{Pattern: "kubernetes", Replacement: "Kubernetes", WholeWord: true, Enabled: true}},
	})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	send(t, ctx, conn, map[string]any{"type": "start"})
	if f := next(t, ctx, conn, "state"); f.State != "recording" {
		t.Fatalf("state = %q, want recording", f.State)
	}

	for range 5 {
		if err := conn.Write(ctx, websocket.MessageBinary, tone(320)); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	if f := next(t, ctx, conn, "level"); f.Level == nil || *f.Level <= 0 {
		t.Errorf("level frame = %+v, want positive level", f)
	}

	send(t, ctx, conn, map[string]any{"type": "stop"})
	res, states := collect(t, ctx, conn, "result")
	if strings.Join(states, ",") != "processing,idle" {
		t.Errorf("states before result = %v, want [processing idle]", states)
	}
	if res.Result == nil {
		t.Fatal("result frame without result")
	}
	if res.Result.Text != "deploy to Kubernetes" {
		t.Errorf("text = %q, want %q", res.Result.Text, "deploy to Kubernetes")
	}
	if res.Result.RawText != "deploy to kubernetes" {
		t.Errorf("raw text = %q", res.Result.RawText)
	}
	if tr.CallCount() != 1 {
		t.Fatalf("transcribe calls = %d, want 1", tr.CallCount())
	}
	if got := len(tr.Calls[0].Audio); got != 44+5*640 {
		t.Errorf("wav bytes = %d, want %d", got, 44+5*640)
	}
}

func TestDictate_EntryAddedMidConnectionAppliesToNextSession(t *testing.T) {
	t.Parallel()
	st := yamlstore.New(filepath.Join(t.TempDir(), "dict.yaml"))
	tr := &sttmock.Transcriber{Result: &stt.Result{Text: "ship the jason file"}}
	ts := newTestServer(t, &factory{stt: tr, store: st}, server.WithStore(st))
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	dictateOnce := func() string {
		t.Helper()
		send(t, ctx, conn, map[string]any{"type": "start"})
		next(t, ctx, conn, "state")
		if err := conn.Write(ctx, websocket.MessageBinary, tone(320)); err != nil {
			t.Fatalf("write audio: %v", err)
		}
		send(t, ctx, conn, map[string]any{"type": "stop"})
		f := next(t, ctx, conn, "result")
		if f.Result == nil {
			t.Fatal("result frame without result")
		}
		return f.Result.Text
	}

	if got := dictateOnce(); got != "ship the jason file" {
		t.Fatalf("first session text = %q", got)
	}

	body := `{"pattern":"jason","replacement":"JSON","whole_word":true,"enabled":true}`
	resp, err := http.Post(ts.URL+"/v1/dictionary/entries", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}

	if got := dictateOnce(); got != "ship the JSON file" {
		t.Errorf("second session text = %q, want the new entry applied", got)
	}
}

func TestDictate_Snapshot(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{Result: &stt.Result{Text: "x"}}})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	send(t, ctx, conn, map[string]any{"type": "start"})
	next(t, ctx, conn, "state")
	chunk := tone(320)
	for range 2 {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	send(t, ctx, conn, map[string]any{"type": "snapshot"})

	f := next(t, ctx, conn, "snapshot")
	if f.SampleRate != 16000 || f.SessionID == "" {
		t.Errorf("snapshot = rate %d session %q", f.SampleRate, f.SessionID)
	}
	if want := append(append([]byte(nil), chunk...), chunk...); !bytes.Equal(f.Audio, want) {
		t.Errorf("snapshot audio = %d bytes, want the %d bytes sent", len(f.Audio), len(want))
	}
}

func TestDictate_CancelDuringTranscription(t *testing.T) {
	t.Parallel()
	tr := &sttmock.Transcriber{Result: &stt.Result{Text: "never"}, Block: make(chan struct{})}
	ts := newTestServer(t, &factory{stt: tr})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	send(t, ctx, conn, map[string]any{"type": "start", "mode": "push-to-talk"})
	next(t, ctx, conn, "state")
	if err := conn.Write(ctx, websocket.MessageBinary, tone(320)); err != nil {
		t.Fatal(err)
	}
	send(t, ctx, conn, map[string]any{"type": "stop"})
	if f := next(t, ctx, conn, "state"); f.State != "processing" {
		t.Fatalf("state = %q, want processing", f.State)
	}

	send(t, ctx, conn, map[string]any{"type": "cancel"})
	for {
		f := next(t, ctx, conn, "state")
		if f.State == "idle" {
			break
		}
	}
	close(tr.Block)
}

func TestDictate_BadFrames(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	tests := []struct {
		name string
		msg  []byte
		want string
	}{
		{"unknown type", []byte(`{"type":"rewind"}`), "unknown frame type"},
		{"malformed", []byte(`{"type":`), "malformed"},
		{"bad mode", []byte(`{"type":"start","mode":"always-on"}`), "mode"},
		{"bad format", []byte(`{"type":"config","sample_rate":10,"channels":1}`), "unsupported format"},
		{"empty command", []byte(`{"type":"command","selected":"x"}`), "instruction is required"},
	}
	for _, tc := range tests {
		if err := conn.Write(ctx, websocket.MessageText, tc.msg); err != nil {
			t.Fatalf("%s: write: %v", tc.name, err)
		}
		f := next(t, ctx, conn, "error")
		if !strings.Contains(f.Error, tc.want) {
			t.Errorf("%s: error = %q, want it to contain %q", tc.name, f.Error, tc.want)
		}
	}
}

func TestDictate_Command(t *testing.T) {
	t.Parallel()
	l := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello, World."}}
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}, llm: l})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	send(t, ctx, conn, map[string]any{"type": "command", "selected": "hello world", "instruction": "capitalise"})
	f := next(t, ctx, conn, "command_result")
	if f.Text != "Hello, World." {
		t.Errorf("command text = %q", f.Text)
	}
	req, ok := l.LastRequest()
	if !ok {
		t.Fatal("LLM not called")
	}
	if last := req.Messages[len(req.Messages)-1].Content; !strings.Contains(last, "capitalise") {
		t.Errorf("instruction missing from prompt: %q", last)
	}
}

func TestDictate_ConfigChangesInputFormat(t *testing.T) {
	t.Parallel()
	tr := &sttmock.Transcriber{Result: &stt.Result{Text: "ok"}}
	ts := newTestServer(t, &factory{stt: tr})
	conn, ctx := dial(t, ts)
	next(t, ctx, conn, "ready")

	send(t, ctx, conn, map[string]any{"type": "config", "sample_rate": 48000, "channels": 2})
	send(t, ctx, conn, map[string]any{"type": "start"})
	next(t, ctx, conn, "state")
	// 20 ms of 48 kHz stereo becomes 20 ms of 16 kHz mono.
	if err := conn.Write(ctx, websocket.MessageBinary, tone(1920)); err != nil {
		t.Fatal(err)
	}
	send(t, ctx, conn, map[string]any{"type": "stop"})
	next(t, ctx, conn, "result")

	if got := len(tr.Calls[0].Audio); got != 44+640 {
		t.Errorf("wav bytes = %d, want %d", got, 44+640)
	}
}

func TestDictate_FactoryError(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{err: errors.New("no stt")})
	conn, ctx := dial(t, ts)

	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusInternalError {
		t.Errorf("close status = %v (err %v), want StatusInternalError", got, err)
	}
}

// ── HTTP routes ──────────────────────────────────────────────────────────────

func TestDictionaryRoutes(t *testing.T) {
	t.Parallel()
	st := yamlstore.New(filepath.Join(t.TempDir(), "dict.yaml"))
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}}, server.WithStore(st))

	body := `{"pattern":"jason","replacement":"JSON","whole_word":true,"enabled":true}`
	resp, err := http.Post(ts.URL+"/v1/dictionary/entries", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var saved textproc.Entry
	_ = json.NewDecoder(resp.Body).Decode(&saved)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	if saved.ID == "" || saved.Replacement != "JSON" {
		t.Errorf("saved = %+v", saved)
	}

	resp, err = http.Get(ts.URL + "/v1/dictionary")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Entries  []textproc.Entry   `json:"entries"`
		Snippets []textproc.Snippet `json:"snippets"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list.Entries) != 1 || list.Entries[0].ID != saved.ID {
		t.Errorf("entries = %+v", list.Entries)
	}
	if list.Snippets == nil {
		t.Error("snippets should encode as an empty list")
	}

	resp, err = http.Post(ts.URL+"/v1/dictionary/entries", "application/json", strings.NewReader(`{"pattern":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid entry status = %d, want 400", resp.StatusCode)
	}
}

func TestDictionaryRoutes_WithoutStore(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}})

	resp, err := http.Get(ts.URL + "/v1/dictionary")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSuggestions(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}})

	body, _ := json.Marshal(map[string]string{
		"transcript": "please deploy to cooper netes today",
		"edited":     "please deploy to Kubernetes today",
	})
	resp, err := http.Post(ts.URL+"/v1/dictionary/suggestions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Suggestions []textproc.Entry `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Suggestions == nil {
		t.Error("suggestions should encode as a list")
	}

	resp2, err := http.Post(ts.URL+"/v1/dictionary/suggestions", "application/json", strings.NewReader(`{"bogus":1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp2.StatusCode)
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()
	h := health.New(health.NotNil("stt", struct{}{}))
	ts := newTestServer(t, &factory{stt: &sttmock.Transcriber{}}, server.WithHealth(h))

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	srv := server.New(&factory{stt: &sttmock.Transcriber{}}, server.WithMetrics(testMetrics(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0", nil) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
