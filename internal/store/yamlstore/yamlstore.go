// Package yamlstore implements [store.Store] on top of a single YAML file:
//
//	entries:
//	  - pattern: kubernetes
//	    replacement: Kubernetes
//	    whole_word: true
//	    enabled: true
//	snippets:
//	  - trigger: my address
//	    expansion: 221B Baker Street
//	    enabled: true
//
// The file is re-read on every call so external edits are picked up by the
// next dictation connection. A missing file is treated as empty.
package yamlstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/textproc"
)

type document struct {
	Entries  []textproc.Entry   `yaml:"entries"`
	Snippets []textproc.Snippet `yaml:"snippets"`
}

// Store is a file-backed [store.Store].
type Store struct {
	path string

	// mu serialises read-modify-write cycles of AddEntry.
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New returns a Store reading and writing path. The file is not touched
// until the first call.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Entries implements [store.Store].
func (s *Store) Entries(_ context.Context) ([]textproc.Entry, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// Snippets implements [store.Store].
func (s *Store) Snippets(_ context.Context) ([]textproc.Snippet, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Snippets, nil
}

// AddEntry implements [store.Store]. The file is replaced atomically.
func (s *Store) AddEntry(_ context.Context, e textproc.Entry) (textproc.Entry, error) {
	e, err := store.Prepare(e)
	if err != nil {
		return e, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return e, err
	}
	replaced := false
	for i := range doc.Entries {
		if doc.Entries[i].ID == e.ID {
			doc.Entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Entries = append(doc.Entries, e)
	}
	if err := s.save(doc); err != nil {
		return e, err
	}
	return e, nil
}

// Ping verifies the file is readable and well-formed.
func (s *Store) Ping(_ context.Context) error {
	_, err := s.load()
	return err
}

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("yamlstore: read %q: %w", s.path, err)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yamlstore: decode %q: %w", s.path, err)
	}
	return &doc, nil
}

func (s *Store) save(doc *document) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("yamlstore: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("yamlstore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("yamlstore: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".dictoxa-*.yaml")
	if err != nil {
		return fmt.Errorf("yamlstore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("yamlstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("yamlstore: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("yamlstore: replace %q: %w", s.path, err)
	}
	return nil
}
