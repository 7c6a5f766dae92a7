// Package repo implements the durable storage tier for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversationContext model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-state/internal/domain"
)

// SaveContext overwrites the rolling context window for a (user, chat)
// pair wholesale. There is no incremental append in the durable tier:
// each rebuild replaces the previous window in one upsert.
func SaveContext(ctx context.Context, db *gorm.DB, userID, chatID int64, turns []domain.Turn, lastMessageID int64) (*domain.ConversationContext, error) {
	encoded, err := domain.EncodeTurns(turns)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &domain.ConversationContext{
		UserID:        userID,
		ChatID:        chatID,
		Turns:         encoded,
		Size:          len(turns),
		LastMessageID: lastMessageID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"turns":           encoded,
				"size":            len(turns),
				"last_message_id": lastMessageID,
				"updated_at":      now,
			}),
		}).
		Create(c).Error
	if err != nil {
		return nil, err
	}
	return GetContext(ctx, db, userID, chatID)
}

// DeleteContexts removes every context window belonging to a user and
// returns the number of rows removed.
func DeleteContexts(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	res := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.ConversationContext{})
	return res.RowsAffected, res.Error
}

// GetContext fetches the current context window for a (user, chat) pair,
// or ErrNotFound when no window has been built yet.
func GetContext(ctx context.Context, db *gorm.DB, userID, chatID int64) (*domain.ConversationContext, error) {
	var c domain.ConversationContext
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ?", userID, chatID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}
