// Package repo implements the durable storage tier for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-state/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the store facade and its callers.
var ErrNotFound = gorm.ErrRecordNotFound

// UserUpdate carries the platform identifier plus the profile fields a
// caller wants written. Nil pointer fields are "not supplied" and leave
// the stored value untouched on update.
type UserUpdate struct {
	ID        int64
	Username  *string
	FirstName *string
	LastName  *string
	IsBot     *bool
}

// fields returns the column set explicitly supplied by the update.
func (u UserUpdate) fields(now time.Time) map[string]any {
	m := map[string]any{"updated_at": now}
	if u.Username != nil {
		m["username"] = *u.Username
	}
	if u.FirstName != nil {
		m["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		m["last_name"] = *u.LastName
	}
	if u.IsBot != nil {
		m["is_bot"] = *u.IsBot
	}
	return m
}

// UpsertUser inserts the user if the identifier has never been seen, or
// partially updates an existing row: only fields present in upd are
// overwritten, and updated_at is bumped either way.
func UpsertUser(ctx context.Context, db *gorm.DB, upd UserUpdate) (*domain.User, error) {
	now := time.Now().UTC()

	var existing domain.User
	err := db.WithContext(ctx).Where("id = ?", upd.ID).First(&existing).Error
	switch {
	case err == nil:
		if err := db.WithContext(ctx).
			Model(&domain.User{}).
			Where("id = ?", upd.ID).
			Updates(upd.fields(now)).Error; err != nil {
			return nil, err
		}
		return GetUser(ctx, db, upd.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		u := &domain.User{ID: upd.ID, CreatedAt: now, UpdatedAt: now}
		if upd.Username != nil {
			u.Username = *upd.Username
		}
		if upd.FirstName != nil {
			u.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			u.LastName = *upd.LastName
		}
		if upd.IsBot != nil {
			u.IsBot = *upd.IsBot
		}
		if err := db.WithContext(ctx).Create(u).Error; err != nil {
			return nil, err
		}
		return u, nil
	default:
		return nil, err
	}
}

// GetUser fetches a user by platform identifier, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes a user row. Messages and conversation contexts are
// cascade-deleted by the schema's foreign keys. Returns ErrNotFound when
// no row was removed.
func DeleteUser(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
