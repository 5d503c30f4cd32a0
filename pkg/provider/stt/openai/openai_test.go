package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/dictoxa/pkg/audio"
	"github.com/MrWong99/dictoxa/pkg/provider/stt"
)

func TestPrimaryLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":      "",
		"en":    "en",
		"en-US": "en",
		"DE-de": "de",
	}
	for in, want := range tests {
		if got := primaryLanguage(in); got != want {
			t.Errorf("primaryLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	tr, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.model != DefaultModel {
		t.Errorf("model = %q, want %q", tr.model, DefaultModel)
	}
}

func TestTranscribe_AgainstServer(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		fields = map[string]string{}
		size   int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
			size = int(fh[0].Size)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" hello there "}`))
	}))
	defer srv.Close()

	tr, err := New("sk-test", "gpt-4o-mini-transcribe", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := make([]byte, 1600)
	res, err := tr.Transcribe(context.Background(), pcm, "pcm", stt.Config{
		SampleRate: 16000, Channels: 1, Language: "en-GB", Prompt: "Dictoxa",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}

	mu.Lock()
	defer mu.Unlock()
	if fields["model"] != "gpt-4o-mini-transcribe" {
		t.Errorf("model field = %q", fields["model"])
	}
	if fields["language"] != "en" {
		t.Errorf("language field = %q, want en", fields["language"])
	}
	if fields["prompt"] != "Dictoxa" {
		t.Errorf("prompt field = %q", fields["prompt"])
	}
	if size != audio.WAVHeaderSize+len(pcm) {
		t.Errorf("uploaded %d bytes, want %d", size, audio.WAVHeaderSize+len(pcm))
	}
}
