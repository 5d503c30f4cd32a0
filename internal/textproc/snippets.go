package textproc

import (
	"cmp"
	"log/slog"
	"regexp"
	"slices"
	"sync"
)

// Snippet expands a spoken trigger into text.
type Snippet struct {
	ID            string `yaml:"id" json:"id"`
	Trigger       string `yaml:"trigger" json:"trigger"`
	Expansion     string `yaml:"expansion" json:"expansion"`
	CaseSensitive bool   `yaml:"case_sensitive" json:"case_sensitive"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
}

// Match is one trigger occurrence found by [Snippets.FindMatches]. Start and
// End are byte offsets into the searched text.
type Match struct {
	SnippetID string `json:"snippet_id"`
	Trigger   string `json:"trigger"`
	Expansion string `json:"expansion"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

type compiledSnippet struct {
	snippet Snippet
	re      *regexp.Regexp
}

// Snippets expands enabled snippets, longest trigger first, so that an
// overlapping shorter trigger never pre-empts a more specific one. Triggers
// only match on whole-word boundaries.
type Snippets struct {
	mu    sync.RWMutex
	items []compiledSnippet
}

// NewSnippets returns a Snippets set loaded with snippets.
func NewSnippets(snippets []Snippet) *Snippets {
	s := &Snippets{}
	s.SetSnippets(snippets)
	return s
}

// SetSnippets replaces the loaded snippets.
func (s *Snippets) SetSnippets(snippets []Snippet) {
	items := make([]compiledSnippet, 0, len(snippets))
	for _, sn := range snippets {
		if c, ok := compileSnippet(sn); ok {
			items = append(items, c)
		}
	}
	sortByTriggerLength(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// AddSnippet adds one snippet and re-sorts the set.
func (s *Snippets) AddSnippet(sn Snippet) {
	c, ok := compileSnippet(sn)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	items := append(slices.Clone(s.items), c)
	sortByTriggerLength(items)
	s.items = items
}

// Snippets returns a copy of the loaded snippets in application order.
func (s *Snippets) Snippets() []Snippet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snippet, len(s.items))
	for i, c := range s.items {
		out[i] = c.snippet
	}
	return out
}

// Len returns the number of loaded snippets.
func (s *Snippets) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Expand replaces every trigger occurrence in text with its expansion.
func (s *Snippets) Expand(text string) string {
	if text == "" {
		return text
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.items {
		text = c.re.ReplaceAllLiteralString(text, c.snippet.Expansion)
	}
	return text
}

// FindMatches returns every trigger occurrence in text ordered by position.
// Occurrences of different triggers may overlap; at equal positions the
// longer trigger comes first.
func (s *Snippets) FindMatches(text string) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Match
	for _, c := range s.items {
		for _, loc := range c.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				SnippetID: c.snippet.ID,
				Trigger:   c.snippet.Trigger,
				Expansion: c.snippet.Expansion,
				Start:     loc[0],
				End:       loc[1],
			})
		}
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return matches
}

func compileSnippet(sn Snippet) (compiledSnippet, bool) {
	if !sn.Enabled || sn.Trigger == "" {
		return compiledSnippet{}, false
	}
	re, err := regexp.Compile(buildPattern(sn.Trigger, sn.CaseSensitive, true))
	if err != nil {
		slog.Warn("textproc: snippet trigger rejected", "id", sn.ID, "trigger", sn.Trigger, "err", err)
		return compiledSnippet{}, false
	}
	return compiledSnippet{snippet: sn, re: re}, true
}

// sortByTriggerLength orders longest trigger first; ties keep load order.
func sortByTriggerLength(items []compiledSnippet) {
	slices.SortStableFunc(items, func(a, b compiledSnippet) int {
		return cmp.Compare(len(b.snippet.Trigger), len(a.snippet.Trigger))
	})
}
