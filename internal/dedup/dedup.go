// Package dedup implements a content-addressable duplicate detector for
// outbound notifications. Each candidate yields two fingerprints:
//
//   - an identity fingerprint built from the source plus the best available
//     unique contact field (email, then phone, then a hash of the text
//     itself) plus the title, and
//   - a content fingerprint over the normalized source, title, and body
//     prefix.
//
// A candidate is a duplicate when either fingerprint has been marked sent
// before. The source participates in both fingerprints, so byte-identical
// text arriving from two different origins is never suppressed.
//
// Both fingerprint sets are bounded: insertion past capacity evicts the
// oldest tenth of the set in one batch, trading strict LRU accuracy for
// zero per-insert bookkeeping.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

const (
	// DefaultCapacity bounds each fingerprint set when the caller passes a
	// non-positive capacity.
	DefaultCapacity = 1000

	// identityBodyPrefix and contentBodyPrefix are the rune counts of the
	// body fed into the respective fingerprints.
	identityBodyPrefix = 200
	contentBodyPrefix  = 500
)

// Candidate is an outbound notification awaiting dedup clearance.
type Candidate struct {
	Source string // originating channel, e.g. "email", "telegram"
	Title  string
	Body   string
	Email  string // optional contact field
	Phone  string // optional contact field
}

// Engine is the process-wide duplicate detector. Construct with New; the
// zero value is not usable.
type Engine struct {
	mu       sync.RWMutex
	identity *boundedSet
	content  *boundedSet
}

// New builds an Engine whose fingerprint sets hold at most capacity
// entries each.
func New(capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Engine{
		identity: newBoundedSet(capacity),
		content:  newBoundedSet(capacity),
	}
}

// IsDuplicate reports whether the candidate has been sent before, with a
// human-readable reason. A true result is a normal control-flow outcome
// ("do not send"), not an error.
func (e *Engine) IsDuplicate(c Candidate) (bool, string) {
	idFP := c.identityFingerprint()
	ctFP := c.contentFingerprint()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.identity.contains(idFP) {
		decisions.WithLabelValues("duplicate_identity").Inc()
		return true, "already sent to this recipient"
	}
	if e.content.contains(ctFP) {
		decisions.WithLabelValues("duplicate_content").Inc()
		return true, "similar content already sent"
	}
	decisions.WithLabelValues("unique").Inc()
	return false, ""
}

// MarkSent records both fingerprints of a dispatched candidate.
func (e *Engine) MarkSent(c Candidate) {
	idFP := c.identityFingerprint()
	ctFP := c.contentFingerprint()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.identity.insert(idFP)
	e.content.insert(ctFP)
}

// Sizes reports the current cardinality of the identity and content sets.
func (e *Engine) Sizes() (identity, content int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.identity.members), len(e.content.members)
}

// identityFingerprint prefers the strongest contact field available:
// email, then phone, then a digest of the text itself.
func (c Candidate) identityFingerprint() string {
	switch {
	case c.Email != "":
		return c.Source + "|" + c.Email + "|" + c.Title
	case c.Phone != "":
		return c.Source + "|" + c.Phone + "|" + c.Title
	default:
		return c.Source + "|" + digest(c.Source+c.Title+truncateRunes(c.Body, identityBodyPrefix))
	}
}

// contentFingerprint is computed the same way no matter which identity
// branch fired.
func (c Candidate) contentFingerprint() string {
	return digest(
		strings.ToLower(c.Source) +
			strings.ToLower(c.Title) +
			strings.ToLower(truncateRunes(c.Body, contentBodyPrefix)),
	)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// boundedSet is an insertion-ordered set with batch eviction. Not safe for
// concurrent use on its own; the Engine's mutex guards it.
type boundedSet struct {
	capacity int
	members  map[string]struct{}
	order    []string // insertion order approximates recency
}

func newBoundedSet(capacity int) *boundedSet {
	return &boundedSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
	}
}

func (s *boundedSet) contains(fp string) bool {
	_, ok := s.members[fp]
	return ok
}

// insert adds a fingerprint, evicting the oldest tenth of the set first
// when at capacity. The entry being inserted is never part of the evicted
// batch.
func (s *boundedSet) insert(fp string) {
	if s.contains(fp) {
		return
	}
	if len(s.members) >= s.capacity {
		batch := s.capacity / 10
		if batch < 1 {
			batch = 1
		}
		if batch > len(s.order) {
			batch = len(s.order)
		}
		for _, old := range s.order[:batch] {
			delete(s.members, old)
		}
		s.order = append(s.order[:0], s.order[batch:]...)
		evictions.Add(float64(batch))
	}
	s.members[fp] = struct{}{}
	s.order = append(s.order, fp)
}
