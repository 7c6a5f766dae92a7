package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-chat-state/internal/domain"
)

func strptr(s string) *string { return &s }
func i64ptr(v int64) *int64   { return &v }

func TestInsertMessage_CreatesUserAndMessageAtomically(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg, err := InsertMessage(ctx, db, NewMessage{
		User:    UserUpdate{ID: 42, Username: strptr("alice")},
		ChatID:  42,
		Role:    domain.RoleUser,
		Kind:    domain.KindText,
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if msg.ID == 0 || msg.UserID != 42 || msg.Role != domain.RoleUser {
		t.Fatalf("unexpected message: %+v", msg)
	}

	u, err := GetUser(ctx, db, 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("user not created alongside message: %+v", u)
	}
}

func TestInsertMessage_RollsBackUserOnFailure(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// The role CHECK constraint rejects this row, which must also undo
	// the user upsert performed inside the same transaction.
	_, err := InsertMessage(ctx, db, NewMessage{
		User:    UserUpdate{ID: 99},
		ChatID:  99,
		Role:    "narrator",
		Content: "boom",
	})
	if err == nil {
		t.Fatalf("expected constraint error")
	}

	if _, err := GetUser(ctx, db, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user row leaked out of rolled-back transaction: %v", err)
	}
	var total int64
	if err := db.Model(&domain.Message{}).Where("user_id = ?", 99).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected zero message rows, got %d", total)
	}
}

func TestInsertMessage_WideChatIDRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Exceeds int32 range; truncation here caused a schema migration in a
	// previous life.
	const chatID int64 = 6215633721074831000

	msg, err := InsertMessage(ctx, db, NewMessage{
		User:      UserUpdate{ID: 7},
		MessageID: i64ptr(chatID + 1),
		ChatID:    chatID,
		Role:      domain.RoleUser,
		Content:   "wide ids",
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	got, err := GetMessage(ctx, db, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.ChatID != chatID {
		t.Fatalf("chat id truncated: want %d got %d", chatID, got.ChatID)
	}
	if got.MessageID == nil || *got.MessageID != chatID+1 {
		t.Fatalf("platform message id truncated: %+v", got.MessageID)
	}
}

func TestInsertMessage_RejectsInvalidMetadata(t *testing.T) {
	db := newTestDB(t)

	_, err := InsertMessage(context.Background(), db, NewMessage{
		User:     UserUpdate{ID: 5},
		ChatID:   5,
		Role:     domain.RoleUser,
		Content:  "x",
		Metadata: domain.Metadata{"nested": []string{"no"}},
	})
	if !errors.Is(err, domain.ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
}

func TestListRecentMessages_OrderLimitAndRoleFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	contents := []struct {
		role, text string
	}{
		{domain.RoleUser, "one"},
		{domain.RoleAssistant, "two"},
		{domain.RoleUser, "three"},
		{domain.RoleAssistant, "four"},
	}
	for _, c := range contents {
		if _, err := InsertMessage(ctx, db, NewMessage{
			User:    UserUpdate{ID: 1},
			ChatID:  1,
			Role:    c.role,
			Content: c.text,
		}); err != nil {
			t.Fatalf("seed %q: %v", c.text, err)
		}
	}

	all, err := ListRecentMessages(ctx, db, 1, "", 0)
	if err != nil {
		t.Fatalf("ListRecentMessages(all): %v", err)
	}
	if len(all) != 4 || all[0].Content != "one" || all[3].Content != "four" {
		t.Fatalf("unexpected chronological order: %+v", all)
	}

	// limit keeps the most recent rows, still chronological
	last2, err := ListRecentMessages(ctx, db, 1, "", 2)
	if err != nil {
		t.Fatalf("ListRecentMessages(limit): %v", err)
	}
	if len(last2) != 2 || last2[0].Content != "three" || last2[1].Content != "four" {
		t.Fatalf("unexpected tail: %+v", last2)
	}

	users, err := ListRecentMessages(ctx, db, 1, domain.RoleUser, 0)
	if err != nil {
		t.Fatalf("ListRecentMessages(role): %v", err)
	}
	if len(users) != 2 || users[0].Content != "one" || users[1].Content != "three" {
		t.Fatalf("unexpected role filter result: %+v", users)
	}
}

func TestSetMessageFlag_MonotonicAndValidated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg, err := InsertMessage(ctx, db, NewMessage{
		User: UserUpdate{ID: 2}, ChatID: 2, Role: domain.RoleUser, Content: "flag me",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := SetMessageFlag(ctx, db, msg.ID, FlagIndexedInSearch); err != nil {
		t.Fatalf("SetMessageFlag: %v", err)
	}
	got, err := GetMessage(ctx, db, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !got.IndexedInSearch || got.ProcessedByLLM {
		t.Fatalf("flags wrong after set: %+v", got)
	}
	if got.UpdatedAt.Before(msg.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v -> %v", msg.UpdatedAt, got.UpdatedAt)
	}

	// setting again is a no-op, not an error
	if err := SetMessageFlag(ctx, db, msg.ID, FlagIndexedInSearch); err != nil {
		t.Fatalf("re-set flag: %v", err)
	}

	if err := SetMessageFlag(ctx, db, msg.ID, "deleted"); !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
	if err := SetMessageFlag(ctx, db, 123456, FlagProcessedByLLM); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUnindexed_FlagSweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := []NewMessage{
		{User: UserUpdate{ID: 3}, ChatID: 3, Role: domain.RoleUser, Kind: domain.KindText, Content: "a"},
		{User: UserUpdate{ID: 3}, ChatID: 3, Role: domain.RoleAssistant, Kind: domain.KindText, Content: "b"},
		{User: UserUpdate{ID: 3}, ChatID: 3, Role: domain.RoleUser, Kind: domain.KindPhoto, Content: "c"},
		{User: UserUpdate{ID: 3}, ChatID: 3, Role: domain.RoleUser, Kind: domain.KindText, Content: "d"},
	}
	var ids []int64
	for _, in := range seed {
		m, err := InsertMessage(ctx, db, in)
		if err != nil {
			t.Fatalf("seed %q: %v", in.Content, err)
		}
		ids = append(ids, m.ID)
	}

	pending, err := ListUnindexed(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListUnindexed: %v", err)
	}
	if len(pending) != 2 || pending[0].Content != "a" || pending[1].Content != "d" {
		t.Fatalf("unexpected sweep result: %+v", pending)
	}

	if err := SetMessageFlag(ctx, db, ids[0], FlagIndexedInSearch); err != nil {
		t.Fatalf("flag: %v", err)
	}
	pending, err = ListUnindexed(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListUnindexed after flag: %v", err)
	}
	if len(pending) != 1 || pending[0].Content != "d" {
		t.Fatalf("flagged row still swept: %+v", pending)
	}
}

func TestDeleteMessages_LeavesUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := InsertMessage(ctx, db, NewMessage{
			User: UserUpdate{ID: 4}, ChatID: 4, Role: domain.RoleUser, Content: "x",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := DeleteMessages(ctx, db, 4)
	if err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if _, err := GetUser(ctx, db, 4); err != nil {
		t.Fatalf("user should survive message wipe: %v", err)
	}
}
