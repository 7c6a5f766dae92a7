// Package search provides a simple, deterministic, concurrency-safe
// in-memory search index over message content. It doubles as the default
// implementation of the index collaborator consumed by the async indexing
// pipeline and as its test double:
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Incremental writes (IndexDocument) guarded by a RWMutex
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Result is a ranked document with its similarity score.
type Result struct {
	Text     string
	Metadata map[string]string
	Score    float64
}

// Writer is the minimal write-side contract consumed by the indexing
// pipeline: report true when the document was accepted.
type Writer interface {
	IndexDocument(text string, metadata map[string]string) bool
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minDocRunes int
	stopwords   map[string]struct{}
	maxDocs     int
}

func defaultConfig() config {
	return config{
		minDocRunes: 1,
		stopwords:   nil,
		maxDocs:     0,
	}
}

// WithMinDocRunes drops documents shorter than n runes.
func WithMinDocRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minDocRunes = n
		}
	}
}

// WithStopwords removes the given words from every token set.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of retained documents; once reached, further
// writes are rejected.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	text   string
	meta   map[string]string
	tokens map[string]struct{}
	tLen   int
}

// Index is an incremental in-memory document index, safe for concurrent use.
type Index struct {
	cfg  config
	mu   sync.RWMutex
	docs []doc
}

// NewIndex builds an empty Index.
func NewIndex(opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Index{cfg: cfg}
}

// IndexDocument adds one document. It returns false when the document is
// empty after normalization, below the minimum length, yields no tokens,
// or the index is full.
func (i *Index) IndexDocument(text string, metadata map[string]string) bool {
	t := strings.TrimSpace(normalizeWhitespace(text))
	if t == "" {
		return false
	}
	if i.cfg.minDocRunes > 0 && utf8.RuneCountInString(t) < i.cfg.minDocRunes {
		return false
	}
	toks := tokenize(t, i.cfg.stopwords)
	if len(toks) == 0 {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cfg.maxDocs > 0 && len(i.docs) >= i.cfg.maxDocs {
		return false
	}
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	i.docs = append(i.docs, doc{text: t, meta: meta, tokens: toks, tLen: len(toks)})
	return true
}

// Len reports the number of indexed documents.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// TopK returns up to k best-matching documents by Jaccard similarity.
func (i *Index) TopK(q string, k int) []Result {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.docs) == 0 {
		return nil
	}

	type scored struct {
		doc      *doc
		score    float64
		lenRunes int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for idx := range i.docs {
		d := &i.docs[idx]
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		buf = append(buf, scored{
			doc:      d,
			score:    score,
			lenRunes: utf8.RuneCountInString(d.text),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].doc.text < buf[b].doc.text
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = Result{Text: buf[j].doc.text, Metadata: buf[j].doc.meta, Score: buf[j].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
