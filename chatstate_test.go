package chatstate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	cfg.LogLevel = "error"
	cfg.DBPath = filepath.Join(t.TempDir(), "state.db")
	cfg.CacheTTL = time.Minute
	cfg.CacheMaxTurns = 10
	cfg.FallbackCapacity = 5
	cfg.ReadPreference = "cache-first"
	cfg.DedupCapacity = 100
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return svc
}

func TestServiceWriteRead(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := WriteRequest{
		UserID:   42,
		Platform: "telegram",
		ChatID:   42,
		Role:     "user",
		Content:  "hello from the public surface",
	}
	if _, err := svc.Store.Write(ctx, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	turns, err := svc.Store.Read(ctx, 42, "telegram", 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != req.Content {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestServiceIndexesUserText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := WriteRequest{
		UserID:   7,
		Platform: "telegram",
		ChatID:   7,
		Role:     "user",
		Content:  "the quick brown fox jumps over the lazy dog tonight",
	}
	if _, err := svc.Store.Write(ctx, req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	svc.pipeline.Wait()

	if svc.Index.Len() != 1 {
		t.Fatalf("Index.Len() = %d, want 1", svc.Index.Len())
	}
}

func TestServiceDispatcherSuppressesDuplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ch := &recordingChannel{}
	d := svc.Dispatcher(ch)

	c := Candidate{Source: "billing", Title: "Invoice ready", Body: "Your invoice is ready.", Email: "a@b.c"}
	if err := d.Dispatch(ctx, 1, c); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	err := d.Dispatch(ctx, 1, c)
	if !errors.Is(err, ErrDuplicateDetected) {
		t.Fatalf("second Dispatch err = %v, want ErrDuplicateDetected", err)
	}
	if ch.sent != 1 {
		t.Fatalf("sent = %d, want 1", ch.sent)
	}
}

type recordingChannel struct{ sent int }

func (r *recordingChannel) SendMessage(_ context.Context, _ int64, _ string) (bool, error) {
	r.sent++
	return true, nil
}
