// Package fallback implements the in-process storage tier: a bounded ring
// buffer of turns per (user, platform) key. It exists so conversations keep
// limping along when both the cache and the durable tier are down, and it
// lives only as long as the process does.
//
// Buckets are guarded individually: writers to the same key serialize on
// that key's mutex, writers to different keys never block each other.
package fallback

import (
	"fmt"
	"sync"

	"github.com/tbourn/go-chat-state/internal/domain"
)

// DefaultCapacity bounds each ring when the caller passes a non-positive
// capacity.
const DefaultCapacity = 20

// Ring is the process-wide fallback tier. The zero value is not usable;
// construct with New.
type Ring struct {
	capacity int
	buckets  sync.Map // key string -> *bucket
}

type bucket struct {
	mu    sync.Mutex
	turns []domain.Turn
	head  int // index of the oldest entry
	count int
}

// New builds a Ring whose per-key buffers hold at most capacity turns.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

func key(userID int64, platform string) string {
	return fmt.Sprintf("%s:%d", platform, userID)
}

func (r *Ring) bucket(userID int64, platform string) *bucket {
	b, _ := r.buckets.LoadOrStore(key(userID, platform), &bucket{})
	return b.(*bucket)
}

// Append records a turn, overwriting the oldest entry once the ring is full.
func (r *Ring) Append(userID int64, platform string, turn domain.Turn) {
	b := r.bucket(userID, platform)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.turns == nil {
		b.turns = make([]domain.Turn, r.capacity)
	}
	b.turns[(b.head+b.count)%r.capacity] = turn
	if b.count < r.capacity {
		b.count++
	} else {
		b.head = (b.head + 1) % r.capacity
	}
}

// Recent returns up to limit retained turns in chronological order
// (most-recent-last). limit <= 0 returns the whole ring.
func (r *Ring) Recent(userID int64, platform string, limit int) []domain.Turn {
	b := r.bucket(userID, platform)
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.Turn, n)
	// take the n newest entries, oldest of those first
	for i := 0; i < n; i++ {
		idx := (b.head + b.count - n + i) % r.capacity
		out[i] = b.turns[idx]
	}
	return out
}

// Clear drops the ring for a (user, platform) key.
func (r *Ring) Clear(userID int64, platform string) {
	r.buckets.Delete(key(userID, platform))
}

// Len reports how many turns a key currently retains.
func (r *Ring) Len(userID int64, platform string) int {
	b, ok := r.buckets.Load(key(userID, platform))
	if !ok {
		return 0
	}
	bk := b.(*bucket)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	return bk.count
}
