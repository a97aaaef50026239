// ABOUTME: Store interface and data types for nabu local persistence
// ABOUTME: Defines User, Conversation, Message, Setting structs and sentinel errors

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConversationNotFound is returned when a message references a conversation that does not exist
var ErrConversationNotFound = errors.New("conversation not found")

// ErrDuplicateUsername is returned when a username is already taken (case-insensitive)
var ErrDuplicateUsername = errors.New("username already taken")

// ErrStorageUnavailable is returned when the underlying database cannot be opened
var ErrStorageUnavailable = errors.New("storage unavailable")

// Delivery status constants for messages. There is no transport, so
// local sends always land as "sent".
const (
	DeliveryStatusSent = "sent"
)

// ContentTypeText is the default message content type
const ContentTypeText = "text"

// ConversationTypeLocal is the only conversation type on a single-device install
const ConversationTypeLocal = "local"

// User is a local identity record. The first user ever created on a
// device is the superuser; usernames are unique case-insensitively.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	Avatar       string
	PasswordHash string
	IsLocal      bool
	IsSuperuser  bool
	PublicKey    string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Conversation is a named local chat. LastMessagePreview, LastMessageAt
// and UpdatedAt are a derived cache over the message log and are only
// written inside the same transaction as the message append.
type Conversation struct {
	ID                 string
	Type               string
	Name               string
	Description        string
	Avatar             string
	Participants       []string
	LastMessagePreview string
	LastMessageAt      *time.Time
	UnreadCount        int
	IsArchived         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Message is a single chat message. Sender name is denormalized at
// write time. IsEncrypted is persisted but never enforced; content is
// plaintext at rest.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	ContentType    string
	IsEncrypted    bool
	ReplyToID      string
	Reactions      map[string][]string
	ReadBy         []string
	DeliveryStatus string
	CreatedAt      time.Time
}

// Setting is an arbitrary key/value preference, last-write-wins by key.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store defines the persistence operations the session and
// conversation layers depend on.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateUserProfile(ctx context.Context, userID, displayName, avatar string) error
	CountUsers(ctx context.Context) (int, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	ArchiveConversation(ctx context.Context, id string) error
	ResetUnread(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message, preview string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error

	// Close releases any resources held by the store
	Close() error
}
