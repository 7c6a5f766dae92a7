// Package repo implements the durable storage tier for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: atomic ingestion, time-ordered history queries, the unindexed
// flag sweep, and monotonic flag updates.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-state/internal/domain"
)

// Completion flag column names accepted by SetMessageFlag.
const (
	FlagProcessedByLLM  = "processed_by_llm"
	FlagIndexedInSearch = "indexed_in_search"
)

// ErrUnknownFlag is returned when SetMessageFlag is asked to flip a column
// that is not one of the declared completion flags.
var ErrUnknownFlag = errors.New("unknown message flag")

// NewMessage is the ingestion payload for InsertMessage.
type NewMessage struct {
	User      UserUpdate
	MessageID *int64
	ChatID    int64
	Role      string
	Kind      string
	Content   string
	Metadata  domain.Metadata
}

// InsertMessage persists a message in a single transaction that also
// upserts the owning user, so a message from a never-seen user creates the
// user row and the message row indivisibly. On any failure the whole
// transaction rolls back and no partial state is visible.
func InsertMessage(ctx context.Context, db *gorm.DB, in NewMessage) (*domain.Message, error) {
	if err := in.Metadata.Validate(); err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
	}

	var out *domain.Message
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := UpsertUser(ctx, tx, in.User); err != nil {
			return err
		}
		m := &domain.Message{
			UserID:    in.User.ID,
			MessageID: in.MessageID,
			ChatID:    in.ChatID,
			Role:      in.Role,
			Kind:      kind,
			Content:   in.Content,
			Metadata:  in.Metadata,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecentMessages returns the limit most recent messages for a user in
// chronological order (most-recent-last). An empty role lists both roles;
// otherwise rows are filtered via the (role, created_at) index.
func ListRecentMessages(ctx context.Context, db *gorm.DB, userID int64, role string, limit int) ([]domain.Message, error) {
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Message
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages returns the number of stored messages for a user.
func CountMessages(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListUnindexed is the flag sweep over messages still awaiting search
// indexing, oldest first via the (indexed_in_search, created_at) index.
// Only user-authored text messages are eligible for indexing, so only
// those are returned.
func ListUnindexed(ctx context.Context, db *gorm.DB, limit int) ([]domain.Message, error) {
	q := db.WithContext(ctx).
		Where("indexed_in_search = ? AND role = ? AND kind = ?", false, domain.RoleUser, domain.KindText).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Message
	err := q.Find(&out).Error
	return out, err
}

// SetMessageFlag flips a completion flag to true and bumps updated_at.
// Flags are monotonic: there is no way to reset one through this API.
// Returns ErrUnknownFlag for an undeclared column name and ErrNotFound
// when the message does not exist.
func SetMessageFlag(ctx context.Context, db *gorm.DB, messageID int64, flag string) error {
	if flag != FlagProcessedByLLM && flag != FlagIndexedInSearch {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{flag: true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessages removes all stored messages for a user and returns the
// number of rows removed. The user row itself is left in place.
func DeleteMessages(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	res := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}
