// ABOUTME: Message persistence methods on SQLiteStore
// ABOUTME: AppendMessage writes the message and the conversation preview in one transaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendMessage inserts a message and updates the owning
// conversation's preview cache (last_message_preview, last_message_at,
// updated_at) and unread counter as a single transaction. If the
// conversation does not exist, nothing is written and
// ErrConversationNotFound is returned — there is no window in which an
// orphan message, a stale preview, or a stale counter is visible to
// readers.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message, preview string) error {
	if msg.ContentType == "" {
		msg.ContentType = ContentTypeText
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = DeliveryStatusSent
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return fmt.Errorf("encoding reactions: %w", err)
	}
	readBy, err := json.Marshal(msg.ReadBy)
	if err != nil {
		return fmt.Errorf("encoding read_by: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning message transaction: %w", err)
	}
	defer tx.Rollback()

	// Existence check inside the transaction so the insert cannot race
	// with a conversation removal.
	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, content, content_type,
			is_encrypted, reply_to_id, reactions, read_by, delivery_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		msg.Content,
		msg.ContentType,
		boolToInt(msg.IsEncrypted),
		nullString(msg.ReplyToID),
		string(reactions),
		string(readBy),
		msg.DeliveryStatus,
		msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_preview = ?, last_message_at = ?, updated_at = ?,
			unread_count = unread_count + 1
		WHERE id = ?
	`,
		preview,
		msg.CreatedAt.UnixMilli(),
		msg.CreatedAt.UnixMilli(),
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation preview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message transaction: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessages returns messages for a conversation in storage order
// (newest first), paged by limit and offset. A limit of 0 or less
// defaults to 50. Timestamps are millisecond-granular and sequential
// sends can share one, so rowid breaks ties by insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, content, content_type,
			is_encrypted, reply_to_id, reactions, read_by, delivery_status, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var senderName, content, replyToID, reactions, readBy sql.NullString
		var isEncrypted int
		var createdAt int64

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&senderName,
			&content,
			&msg.ContentType,
			&isEncrypted,
			&replyToID,
			&reactions,
			&readBy,
			&msg.DeliveryStatus,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.SenderName = senderName.String
		msg.Content = content.String
		msg.ReplyToID = replyToID.String
		msg.IsEncrypted = isEncrypted == 1
		msg.CreatedAt = millisToTime(createdAt)

		if reactions.Valid && reactions.String != "" && reactions.String != "null" {
			if err := json.Unmarshal([]byte(reactions.String), &msg.Reactions); err != nil {
				return nil, fmt.Errorf("decoding reactions: %w", err)
			}
		}
		if readBy.Valid && readBy.String != "" && readBy.String != "null" {
			if err := json.Unmarshal([]byte(readBy.String), &msg.ReadBy); err != nil {
				return nil, fmt.Errorf("decoding read_by: %w", err)
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
