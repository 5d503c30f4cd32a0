package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/dictoxa/internal/store"
	"github.com/MrWong99/dictoxa/internal/textproc"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleListDictionary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Entries(r.Context())
	if err != nil {
		slog.Error("failed to list dictionary", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store unavailable"})
		return
	}
	snippets, err := s.store.Snippets(r.Context())
	if err != nil {
		slog.Error("failed to list snippets", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, entriesResponse{Entries: nonNil(entries), Snippets: nonNil(snippets)})
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var e textproc.Entry
	if err := decodeBody(w, r, &e); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	saved, err := s.store.AddEntry(r.Context(), e)
	if errors.Is(err, store.ErrInvalidEntry) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		slog.Error("failed to add dictionary entry", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store unavailable"})
		return
	}
	slog.Info("dictionary entry saved", "id", saved.ID, "pattern", saved.Pattern)
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	suggestions := textproc.LearnFromEdit(req.Transcript, req.Edited)
	writeJSON(w, http.StatusOK, learnResponse{Suggestions: nonNil(suggestions)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
