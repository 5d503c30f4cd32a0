// Package store persists the user's dictionary entries and snippets.
//
// The dictation pipeline only reads from a [Store]: entries and snippets are
// loaded into each connection's pipeline when it opens. Writes happen through
// [Store.AddEntry], which the server calls when a client accepts a suggestion
// learned from an edited transcript.
//
// Two backends exist: yamlstore (a single YAML file, the default) and
// pgstore (PostgreSQL via pgx).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/dictoxa/internal/textproc"
)

// ErrInvalidEntry is returned by [Validate] and by AddEntry implementations
// when an entry cannot be stored.
var ErrInvalidEntry = errors.New("store: invalid entry")

// Store provides dictionary and snippet persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	// Entries returns all dictionary entries in insertion order, including
	// disabled ones.
	Entries(ctx context.Context) ([]textproc.Entry, error)

	// Snippets returns all snippets, including disabled ones.
	Snippets(ctx context.Context) ([]textproc.Snippet, error)

	// AddEntry appends e, or replaces the entry with the same ID in place.
	// An empty ID is filled in with a fresh UUID.
	AddEntry(ctx context.Context, e textproc.Entry) (textproc.Entry, error)

	// Close releases the underlying resources.
	Close() error
}

// Validate checks that e can be persisted.
func Validate(e textproc.Entry) error {
	if strings.TrimSpace(e.Pattern) == "" {
		return fmt.Errorf("%w: pattern is required", ErrInvalidEntry)
	}
	if e.Pattern == e.Replacement {
		return fmt.Errorf("%w: pattern %q equals its replacement", ErrInvalidEntry, e.Pattern)
	}
	return nil
}

// Prepare validates e and assigns an ID when it has none.
func Prepare(e textproc.Entry) (textproc.Entry, error) {
	if err := Validate(e); err != nil {
		return e, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return e, nil
}
