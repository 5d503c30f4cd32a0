package textproc

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"
)

// Bounds on the original phrase accepted by SuggestEntry, in characters.
const (
	minSuggestLen = 2
	maxSuggestLen = 50
)

// DefaultSimilarity is the Jaro-Winkler score at or above which an edited
// phrase counts as a mishearing of the transcribed one.
const DefaultSimilarity = 0.6

// SuggestEntry proposes a dictionary entry that rewrites original into
// corrected. It returns nil when the two are equal ignoring case and
// surrounding space, or when original is shorter than 2 or longer than 50
// characters. The proposed entry is enabled, whole-word and
// case-insensitive.
func SuggestEntry(original, corrected string) *Entry {
	original = strings.TrimSpace(original)
	corrected = strings.TrimSpace(corrected)
	if strings.EqualFold(original, corrected) {
		return nil
	}
	if n := utf8.RuneCountInString(original); n < minSuggestLen || n > maxSuggestLen {
		return nil
	}
	return &Entry{
		ID:            uuid.NewString(),
		Pattern:       original,
		Replacement:   corrected,
		CaseSensitive: false,
		WholeWord:     true,
		Enabled:       true,
	}
}

// LearnOption configures LearnFromEdit.
type LearnOption func(*learnConfig)

type learnConfig struct {
	similarity float64
}

// WithSimilarity overrides DefaultSimilarity.
func WithSimilarity(s float64) LearnOption {
	return func(c *learnConfig) {
		c.similarity = s
	}
}

// LearnFromEdit compares a transcript with the user's edited version of it
// and suggests dictionary entries for substitutions that look like
// mishearings. Words are aligned on their longest common subsequence; every
// replaced run is a candidate. A candidate is kept when its Jaro-Winkler
// similarity reaches the threshold or when both sides share a Double
// Metaphone code. Pure insertions, deletions and rewrites with no phonetic
// resemblance are ignored. Each pattern is suggested at most once.
func LearnFromEdit(transcript, edited string, opts ...LearnOption) []Entry {
	cfg := learnConfig{similarity: DefaultSimilarity}
	for _, o := range opts {
		o(&cfg)
	}

	from := strings.Fields(transcript)
	to := strings.Fields(edited)

	seen := make(map[string]struct{})
	var out []Entry
	for _, h := range diffWords(from, to) {
		orig := trimPunct(strings.Join(h.from, " "))
		corr := trimPunct(strings.Join(h.to, " "))
		if orig == "" || corr == "" {
			continue
		}
		if !soundsAlike(orig, corr, cfg.similarity) {
			continue
		}
		e := SuggestEntry(orig, corr)
		if e == nil {
			continue
		}
		key := strings.ToLower(e.Pattern)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, *e)
	}
	return out
}

// hunk is a run of replaced words.
type hunk struct {
	from, to []string
}

// diffWords aligns a and b on their longest common subsequence of
// normalised words and returns the runs where they differ.
func diffWords(a, b []string) []hunk {
	na := make([]string, len(a))
	for i, w := range a {
		na[i] = normWord(w)
	}
	nb := make([]string, len(b))
	for i, w := range b {
		nb[i] = normWord(w)
	}

	// lcs[i][j] is the LCS length of na[i:] and nb[j:].
	lcs := make([][]int, len(na)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(nb)+1)
	}
	for i := len(na) - 1; i >= 0; i-- {
		for j := len(nb) - 1; j >= 0; j-- {
			if na[i] == nb[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var (
		hunks []hunk
		cur   hunk
	)
	flush := func() {
		if len(cur.from) > 0 || len(cur.to) > 0 {
			hunks = append(hunks, cur)
		}
		cur = hunk{}
	}
	i, j := 0, 0
	for i < len(na) || j < len(nb) {
		switch {
		case i < len(na) && j < len(nb) && na[i] == nb[j]:
			flush()
			i++
			j++
		case j < len(nb) && (i == len(na) || lcs[i][j+1] >= lcs[i+1][j]):
			cur.to = append(cur.to, b[j])
			j++
		default:
			cur.from = append(cur.from, a[i])
			i++
		}
	}
	flush()
	return hunks
}

// soundsAlike reports whether a and b are similar enough to be a
// mishearing of one another.
func soundsAlike(a, b string, threshold float64) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if matchr.JaroWinkler(la, lb, false) >= threshold {
		return true
	}
	// Compare the run as a single token so "cuber netes" can match
	// "kubernetes".
	ca := strings.ReplaceAll(la, " ", "")
	cb := strings.ReplaceAll(lb, " ", "")
	if matchr.JaroWinkler(ca, cb, false) >= threshold {
		return true
	}
	pa, sa := matchr.DoubleMetaphone(ca)
	pb, sb := matchr.DoubleMetaphone(cb)
	for _, x := range []string{pa, sa} {
		if x == "" {
			continue
		}
		if x == pb || x == sb {
			return true
		}
	}
	return false
}

func normWord(w string) string {
	return strings.ToLower(trimPunct(w))
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
