// Package domain defines the persistence models for users, messages, and
// conversation context. These types are mapped with GORM and form the core
// data layer of the conversation store.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message roles. Only these two values are accepted by the schema.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message kinds. Free-form beyond the common ones; KindText is the only
// kind eligible for search indexing.
const (
	KindText     = "text"
	KindPhoto    = "photo"
	KindDocument = "document"
	KindVoice    = "voice"
	KindSticker  = "sticker"
)

// User represents a chat-platform account seen by the bot. The primary key
// is the platform-assigned identifier, which is a 64-bit signed integer:
// modern platforms hand out IDs well past the 32-bit range, so narrowing
// this column is a correctness bug, not a style choice.
//
// A user row is created on the first message from an unseen identifier and
// partially updated whenever profile fields change. Rows are removed only
// via DeleteUser, which cascades to the user's messages and contexts.
type User struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement:false"`
	Username  string    `json:"username"   gorm:"type:varchar(64);index"`
	FirstName string    `json:"first_name" gorm:"type:varchar(128)"`
	LastName  string    `json:"last_name"  gorm:"type:varchar(128)"`
	IsBot     bool      `json:"is_bot"     gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message represents a single stored utterance, inbound or outbound.
//
// Fields:
//   - ID: auto-incrementing primary key.
//   - UserID: owning user (FK, cascade delete).
//   - MessageID: optional platform-native message identifier. 64-bit signed;
//     see ChatID.
//   - ChatID: platform chat identifier. Must be a 64-bit signed integer:
//     real chat IDs such as 6215633721074831000 overflow int32.
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Kind: payload kind ("text", "photo", "document", ...).
//   - Content: textual content of the message.
//   - Metadata: optional structured key/value payload, stored as JSON.
//   - ProcessedByLLM / IndexedInSearch: completion flags, mutated
//     monotonically false -> true and never reset.
//
// The three composite indexes below are the access patterns the store is
// built around: per-user history, role-filtered history, and the
// flag sweep over unindexed messages.
type Message struct {
	ID        int64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	UserID    int64    `json:"user_id"    gorm:"not null;index:idx_user_created,priority:1"`
	MessageID *int64   `json:"message_id,omitempty"`
	ChatID    int64    `json:"chat_id"    gorm:"not null;index"`
	Role      string   `json:"role"       gorm:"type:varchar(16);not null;index:idx_role_created,priority:1;check:role IN ('user','assistant')"`
	Kind      string   `json:"kind"       gorm:"type:varchar(32);not null;default:'text'"`
	Content   string   `json:"content"    gorm:"type:text;not null"`
	Metadata  Metadata `json:"metadata,omitempty" gorm:"type:text"`

	ProcessedByLLM  bool `json:"processed_by_llm" gorm:"not null;default:false"`
	IndexedInSearch bool `json:"indexed_in_search" gorm:"not null;default:false;index:idx_indexed_created,priority:1"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_created,priority:2;index:idx_role_created,priority:2;index:idx_indexed_created,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	// User is the owning account. Messages are cascade-deleted when the
	// user row is removed.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ConversationContext is the rolling window of recent turns retained per
// (user, chat) pair for downstream consumption. It is overwritten wholesale
// on every rebuild; the append-only list structure lives in the cache tier,
// not here.
type ConversationContext struct {
	ID            int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	UserID        int64     `json:"user_id"         gorm:"not null;uniqueIndex:ux_ctx_user_chat,priority:1"`
	ChatID        int64     `json:"chat_id"         gorm:"not null;uniqueIndex:ux_ctx_user_chat,priority:2"`
	Turns         string    `json:"turns"           gorm:"type:text;not null"`
	Size          int       `json:"size"            gorm:"not null"`
	LastMessageID int64     `json:"last_message_id" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ConversationContext.
func (ConversationContext) TableName() string { return "conversation_contexts" }

// Turn is the serialized unit exchanged with the cache and fallback tiers
// and the element type returned by facade reads.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeTurns serializes an ordered turn sequence for wholesale context
// storage. The inverse is DecodeTurns.
func EncodeTurns(turns []Turn) (string, error) {
	b, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTurns deserializes a turn sequence produced by EncodeTurns.
func DecodeTurns(s string) ([]Turn, error) {
	if s == "" {
		return nil, nil
	}
	var out []Turn
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ErrInvalidMetadata is returned when a metadata map contains a value that
// is not a JSON scalar.
var ErrInvalidMetadata = errors.New("metadata values must be JSON scalars")

// Metadata is an optional string-keyed map of JSON scalars attached to a
// message. It is validated at the boundary (Validate) rather than threaded
// untyped through the core, and stored as a JSON text column.
type Metadata map[string]any

// Validate rejects maps whose values are not JSON scalars (string, bool,
// numeric, or nil). Nested objects and arrays are not accepted.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case nil, string, bool,
			int, int32, int64, uint, uint32, uint64,
			float32, float64, json.Number:
			// ok
		default:
			return fmt.Errorf("%w: key %q has type %T", ErrInvalidMetadata, k, v)
		}
	}
	return nil
}

// Value implements driver.Valuer so GORM can persist the map as JSON text.
// A nil or empty map is stored as NULL.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading the JSON text column back.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}
