// Package textproc applies user-defined text substitutions to transcripts.
//
// A [Dictionary] rewrites misheard words and phrases in insertion order; a
// [Snippets] set expands short triggers into longer text, longest trigger
// first. Both keep a private copy of the enabled entries they were given and
// are safe for concurrent use.
package textproc

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Entry is a single dictionary substitution.
type Entry struct {
	ID            string `yaml:"id" json:"id"`
	Pattern       string `yaml:"pattern" json:"pattern"`
	Replacement   string `yaml:"replacement" json:"replacement"`
	CaseSensitive bool   `yaml:"case_sensitive" json:"case_sensitive"`
	WholeWord     bool   `yaml:"whole_word" json:"whole_word"`
	Enabled       bool   `yaml:"enabled" json:"enabled"`
}

// rule is a compiled Entry. re is nil when the pattern could not be compiled
// and the literal fallback applies.
type rule struct {
	entry Entry
	re    *regexp.Regexp
}

// Dictionary applies enabled entries sequentially in insertion order. The
// output of one entry is the input of the next.
type Dictionary struct {
	mu    sync.RWMutex
	rules []rule
}

// NewDictionary returns a Dictionary loaded with entries.
func NewDictionary(entries []Entry) *Dictionary {
	d := &Dictionary{}
	d.SetEntries(entries)
	return d
}

// SetEntries replaces the loaded entries. Disabled entries and entries with
// an empty pattern are dropped; the order of the rest is kept.
func (d *Dictionary) SetEntries(entries []Entry) {
	rules := make([]rule, 0, len(entries))
	for _, e := range entries {
		if !e.Enabled || e.Pattern == "" {
			continue
		}
		rules = append(rules, compileEntry(e))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = rules
}

// AddEntry appends a single entry after the existing ones.
func (d *Dictionary) AddEntry(e Entry) {
	if !e.Enabled || e.Pattern == "" {
		return
	}
	r := compileEntry(e)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, r)
}

// Entries returns a copy of the loaded entries in application order.
func (d *Dictionary) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.rules))
	for i, r := range d.rules {
		out[i] = r.entry
	}
	return out
}

// Len returns the number of loaded entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rules)
}

// Apply runs every entry over text in order and returns the result.
func (d *Dictionary) Apply(text string) string {
	if text == "" {
		return text
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rules {
		text = r.apply(text)
	}
	return text
}

func compileEntry(e Entry) rule {
	re, err := regexp.Compile(buildPattern(e.Pattern, e.CaseSensitive, e.WholeWord))
	if err != nil {
		slog.Warn("textproc: dictionary pattern rejected, using literal match", "id", e.ID, "pattern", e.Pattern, "err", err)
		return rule{entry: e}
	}
	return rule{entry: e, re: re}
}

func (r rule) apply(text string) string {
	if r.re != nil {
		return r.re.ReplaceAllLiteralString(text, r.entry.Replacement)
	}
	return literalReplace(text, r.entry.Pattern, r.entry.Replacement, r.entry.CaseSensitive)
}

// buildPattern escapes word, optionally anchors it on word boundaries and
// adds the case-insensitive flag.
func buildPattern(word string, caseSensitive, wholeWord bool) string {
	p := regexp.QuoteMeta(word)
	if wholeWord {
		p = `\b` + p + `\b`
	}
	if !caseSensitive {
		p = `(?i)` + p
	}
	return p
}

// literalReplace substitutes every occurrence of old without regex
// semantics. Case-insensitive replacement retries with a plain escaped
// pattern and gives up on the substitution if even that fails.
func literalReplace(text, old, repl string, caseSensitive bool) string {
	if caseSensitive {
		return strings.ReplaceAll(text, old, repl)
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(old))
	if err != nil {
		return text
	}
	return re.ReplaceAllLiteralString(text, repl)
}
