package fallback

import (
	"fmt"
	"sync"
	"testing"

	"github.com/tbourn/go-chat-state/internal/domain"
)

func TestAppendRecent_ChronologicalOrder(t *testing.T) {
	r := New(10)

	for i := 0; i < 4; i++ {
		r.Append(1, "telegram", domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	got := r.Recent(1, "telegram", 0)
	if len(got) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(got))
	}
	for i := range got {
		if got[i].Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("order broken at %d: %+v", i, got)
		}
	}

	tail := r.Recent(1, "telegram", 2)
	if len(tail) != 2 || tail[0].Content != "m2" || tail[1].Content != "m3" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestAppend_OverflowDropsOldest(t *testing.T) {
	r := New(3)

	for i := 0; i < 5; i++ {
		r.Append(2, "telegram", domain.Turn{Content: fmt.Sprintf("m%d", i)})
	}

	got := r.Recent(2, "telegram", 0)
	if len(got) != 3 {
		t.Fatalf("ring not bounded: %d entries", len(got))
	}
	if got[0].Content != "m2" || got[2].Content != "m4" {
		t.Fatalf("wrong entries survived: %+v", got)
	}
	if r.Len(2, "telegram") != 3 {
		t.Fatalf("Len mismatch: %d", r.Len(2, "telegram"))
	}
}

func TestKeys_AreIsolated(t *testing.T) {
	r := New(5)

	r.Append(3, "telegram", domain.Turn{Content: "tg"})
	r.Append(3, "discord", domain.Turn{Content: "dc"})
	r.Append(4, "telegram", domain.Turn{Content: "other"})

	if got := r.Recent(3, "telegram", 0); len(got) != 1 || got[0].Content != "tg" {
		t.Fatalf("telegram bucket polluted: %+v", got)
	}
	if got := r.Recent(3, "discord", 0); len(got) != 1 || got[0].Content != "dc" {
		t.Fatalf("discord bucket polluted: %+v", got)
	}

	r.Clear(3, "telegram")
	if r.Len(3, "telegram") != 0 {
		t.Fatalf("Clear left entries behind")
	}
	if r.Len(3, "discord") != 1 {
		t.Fatalf("Clear crossed keys")
	}
}

func TestAppend_ConcurrentWriters(t *testing.T) {
	r := New(64)
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.Append(int64(w), "telegram", domain.Turn{Content: fmt.Sprintf("%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		if got := r.Len(int64(w), "telegram"); got != 64 {
			t.Fatalf("writer %d: expected full ring (64), got %d", w, got)
		}
		recent := r.Recent(int64(w), "telegram", 1)
		if len(recent) != 1 || recent[0].Content != fmt.Sprintf("%d-%d", w, perWriter-1) {
			t.Fatalf("writer %d: newest entry wrong: %+v", w, recent)
		}
	}
}
