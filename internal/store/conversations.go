// ABOUTME: Conversation persistence methods on SQLiteStore
// ABOUTME: Listing excludes archived conversations and orders by most recent activity

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `id, type, name, description, avatar, participants,
	last_message_preview, last_message_at, unread_count, is_archived, created_at, updated_at`

// CreateConversation inserts a new conversation. Type defaults to
// "local" and the participant list is serialized inline.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.Type == "" {
		conv.Type = ConversationTypeLocal
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, type, name, description, avatar, participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.Type,
		conv.Name,
		conv.Description,
		conv.Avatar,
		string(participants),
		conv.CreatedAt.UnixMilli(),
		conv.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "name", conv.Name)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// ListConversations returns all non-archived conversations, most
// recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE is_archived = 0 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// ArchiveConversation sets the soft archive flag. The conversation and
// its messages remain on disk.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	return requireRowAffected(result)
}

// ResetUnread clears the unread counter. The counter is bumped by
// AppendMessage inside the message transaction, never separately.
func (s *SQLiteStore) ResetUnread(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resetting unread count: %w", err)
	}
	return requireRowAffected(result)
}

// scanConversation works for both sql.Row and sql.Rows via the scan func
func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var conv Conversation
	var description, avatar, participants, preview sql.NullString
	var lastMessageAt sql.NullInt64
	var isArchived int
	var createdAt, updatedAt int64

	err := scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&description,
		&avatar,
		&participants,
		&preview,
		&lastMessageAt,
		&conv.UnreadCount,
		&isArchived,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.Description = description.String
	conv.Avatar = avatar.String
	conv.LastMessagePreview = preview.String
	conv.IsArchived = isArchived == 1
	conv.CreatedAt = millisToTime(createdAt)
	conv.UpdatedAt = millisToTime(updatedAt)
	if lastMessageAt.Valid {
		t := millisToTime(lastMessageAt.Int64)
		conv.LastMessageAt = &t
	}
	if participants.Valid && participants.String != "" {
		if err := json.Unmarshal([]byte(participants.String), &conv.Participants); err != nil {
			return nil, fmt.Errorf("decoding participants: %w", err)
		}
	}

	return &conv, nil
}
