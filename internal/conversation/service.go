// ABOUTME: Coordinator for message sends and conversation reads
// ABOUTME: The only write path into the message log; preview update and notify ride on every send

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nabu-im/nabu/internal/store"
)

// Validation errors
var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrEmptyName    = errors.New("conversation name is empty")
)

// DefaultPreviewLength is the maximum preview length stored on a
// conversation, in runes.
const DefaultPreviewLength = 100

// Store defines what the coordinator needs from storage
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]*store.Conversation, error)
	AppendMessage(ctx context.Context, msg *store.Message, preview string) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*store.Message, error)
	ArchiveConversation(ctx context.Context, id string) error
	ResetUnread(ctx context.Context, id string) error
}

// Sender identifies who a message is from; the name is denormalized
// into the message at write time.
type Sender struct {
	ID   string
	Name string
}

// Service is the coordinator every message flows through. Sends are
// persisted (message, preview cache, and unread counter in one
// transaction) before the message-persisted notification fires.
type Service struct {
	store       Store
	broadcaster *Broadcaster
	previewLen  int
	logger      *slog.Logger
}

// New creates a coordinator. A previewLen of 0 or less uses
// DefaultPreviewLength. Pass nil logger for default.
func New(st Store, b *Broadcaster, previewLen int, logger *slog.Logger) *Service {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		broadcaster: b,
		previewLen:  previewLen,
		logger:      logger.With("component", "conversation"),
	}
}

// Send validates, persists, and announces a message. Delivery status
// is always "sent" — there is no transport that could fail. Returns
// store.ErrConversationNotFound without writing anything if the
// conversation does not exist.
func (s *Service) Send(ctx context.Context, conversationID, content string, sender Sender) (*store.Message, error) {
	return s.post(ctx, conversationID, content, "", sender)
}

// Reply is Send with a reply-to reference attached.
func (s *Service) Reply(ctx context.Context, conversationID, content, replyToID string, sender Sender) (*store.Message, error) {
	return s.post(ctx, conversationID, content, replyToID, sender)
}

// post is the single persist-and-notify path behind Send and Reply.
// The message, preview cache, and unread counter commit in one store
// transaction; the notification fires only after that commit.
func (s *Service) post(ctx context.Context, conversationID, content, replyToID string, sender Sender) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		Content:        content,
		ContentType:    store.ContentTypeText,
		ReplyToID:      replyToID,
		DeliveryStatus: store.DeliveryStatusSent,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.AppendMessage(ctx, msg, truncate(content, s.previewLen)); err != nil {
		return nil, err
	}

	s.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender", sender.ID)

	// The write is durable before anyone hears about it.
	s.broadcaster.Publish(conversationID, msg, "")

	return msg, nil
}

// History returns messages in storage order — newest first, paged by
// limit/offset. Any re-ordering for display is the caller's concern.
func (s *Service) History(ctx context.Context, conversationID string, limit, offset int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

// MarkRead clears the unread counter for a conversation, typically
// when its chat view comes to the foreground.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	return s.store.ResetUnread(ctx, conversationID)
}

// CreateConversation creates a named local conversation with the
// creator as its only participant.
func (s *Service) CreateConversation(ctx context.Context, name, avatar, creatorID string) (*store.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if avatar == "" {
		avatar = "💬"
	}

	conv := &store.Conversation{
		ID:           uuid.New().String(),
		Type:         store.ConversationTypeLocal,
		Name:         name,
		Avatar:       avatar,
		Participants: []string{creatorID},
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "name", name)
	return conv, nil
}

// GetConversation returns a conversation with its preview cache.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// ListConversations returns non-archived conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Archive hides a conversation from ListConversations without
// touching its message history.
func (s *Service) Archive(ctx context.Context, id string) error {
	return s.store.ArchiveConversation(ctx, id)
}

// Subscribe registers for the message-persisted notification on one
// conversation, or SubscribeAll for every conversation.
func (s *Service) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	return s.broadcaster.Subscribe(ctx, conversationID)
}

// Unsubscribe removes a single subscription by its handle.
func (s *Service) Unsubscribe(conversationID, subID string) {
	s.broadcaster.Unsubscribe(conversationID, subID)
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
