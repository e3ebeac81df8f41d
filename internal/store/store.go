// ABOUTME: Store interface and data types for zalo-gateway persistence
// ABOUTME: Defines Conversation, Message, User structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConversationType constants for conversation kinds
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Conversation represents a chat conversation mirrored from Zalo.
// Exactly one of ParticipantID (direct) or GroupID (group) is set,
// determining Type.
type Conversation struct {
	ID              string
	Type            string // "direct" or "group"
	ParticipantID   *string
	GroupID         *string
	LastMessageID   *string
	LastMessageTime *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Message represents a single chat message. ID is the platform-assigned
// (or locally synthesized) identifier; ClientID is the client-supplied
// correlation identifier. Together they form the dedup key: a message is
// a duplicate if either matches an existing row.
type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Content        string
	RawData        []byte // platform-native payload, used for attachment recovery
	SentAt         time.Time
	ReceivedAt     time.Time
	IsEdited       bool
	IsUndone       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// User represents a Zalo user (message sender or direct-chat counterpart)
type User struct {
	ID          string
	DisplayName string
	ZaloName    string
	AvatarURL   *string
}

// Group represents a Zalo group chat's display metadata
type Group struct {
	ID        string
	Name      string
	AvatarURL *string
}

// Session represents a persisted login session
type Session struct {
	UserID    string
	LoginTime time.Time
	IsActive  bool
}

// ConversationRow is a joined read-model row for the conversation list:
// the conversation plus its group/participant display fields and the
// content of its last message.
type ConversationRow struct {
	ID              string
	Type            string
	ParticipantID   *string
	LastMessageTime *time.Time
	GroupName       *string
	GroupAvatar     *string
	UserDisplayName *string
	UserZaloName    *string
	UserAvatar      *string
	LastMessage     *string
}

// Store defines the interface for conversation/message persistence
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
	ListConversationRows(ctx context.Context, limit int) ([]*ConversationRow, error)

	// Messages
	GetMessageByAnyID(ctx context.Context, messageID, clientID string) (*Message, error)
	InsertMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	UpsertUser(ctx context.Context, user *User) error

	// Sessions
	GetSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
