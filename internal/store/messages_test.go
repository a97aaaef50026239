// ABOUTME: Tests for message persistence and the preview cache transaction
// ABOUTME: Covers append atomicity, orphan prevention, ordering, and paging

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testMessage(id, convID, content string, at time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       "user-1",
		SenderName:     "Alice",
		Content:        content,
		CreatedAt:      at,
	}
}

func TestAppendMessage_UpdatesPreview(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateConversation(ctx, testConversation("conv-1", "General")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	msg := testMessage("msg-1", "conv-1", "hello", at)
	if err := store.AppendMessage(ctx, msg, "hello"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	conv, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.LastMessagePreview != "hello" {
		t.Errorf("preview: got %q, want %q", conv.LastMessagePreview, "hello")
	}
	if conv.LastMessageAt == nil || !conv.LastMessageAt.Equal(at) {
		t.Errorf("last message at: got %v, want %v", conv.LastMessageAt, at)
	}
	if !conv.UpdatedAt.Equal(at) {
		t.Errorf("updated at: got %v, want %v", conv.UpdatedAt, at)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread count: got %d, want 1", conv.UnreadCount)
	}
}

func TestAppendMessage_ConversationNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	msg := testMessage("msg-orphan", "no-such-conv", "hello", time.Now())
	err := store.AppendMessage(ctx, msg, "hello")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	// No orphan message row may exist after the failure
	msgs, err := store.ListMessages(ctx, "no-such-conv", 10, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestListMessages_NewestFirstPaged(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateConversation(ctx, testConversation("conv-1", "General")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		msg := testMessage(fmt.Sprintf("msg-%d", i), "conv-1", fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.AppendMessage(ctx, msg, msg.Content); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	// limit=2: the two most recent, newest first
	msgs, err := store.ListMessages(ctx, "conv-1", 2, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "msg-2" || msgs[1].ID != "msg-1" {
		t.Errorf("order: got [%s %s], want [msg-2 msg-1]", msgs[0].ID, msgs[1].ID)
	}

	// offset=2: the oldest
	msgs, err = store.ListMessages(ctx, "conv-1", 2, 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg-0" {
		t.Errorf("offset page: got %v, want [msg-0]", msgs)
	}
}

func TestListMessages_SameTimestampOrderedByInsertion(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateConversation(ctx, testConversation("conv-1", "General")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	// Sequential sends routinely land in the same millisecond; insertion
	// order must still win within a tied timestamp.
	at := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		msg := testMessage(fmt.Sprintf("msg-%d", i), "conv-1", fmt.Sprintf("message %d", i), at)
		if err := store.AppendMessage(ctx, msg, msg.Content); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "conv-1", 2, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "msg-2" || msgs[1].ID != "msg-1" {
		t.Errorf("order: got [%s %s], want [msg-2 msg-1]", msgs[0].ID, msgs[1].ID)
	}
}

func TestAppendMessage_Defaults(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateConversation(ctx, testConversation("conv-1", "General")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	msg := &Message{
		ID:             "msg-min",
		ConversationID: "conv-1",
		SenderID:       "user-1",
		Content:        "minimal",
	}
	if err := store.AppendMessage(ctx, msg, "minimal"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "conv-1", 1, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.ContentType != ContentTypeText {
		t.Errorf("content type: got %q, want %q", got.ContentType, ContentTypeText)
	}
	if got.DeliveryStatus != DeliveryStatusSent {
		t.Errorf("delivery status: got %q, want %q", got.DeliveryStatus, DeliveryStatusSent)
	}
	if got.IsEncrypted {
		t.Error("messages are plaintext at rest")
	}
}

func TestAppendMessage_ConcurrentSendsKeepPreviewsConsistent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.CreateConversation(ctx, testConversation("conv-a", "A")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := store.CreateConversation(ctx, testConversation("conv-b", "B")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	var wg sync.WaitGroup
	errA := make(chan error, 1)
	errB := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errA <- store.AppendMessage(ctx, testMessage("msg-a", "conv-a", "to A", at), "to A")
	}()
	go func() {
		defer wg.Done()
		errB <- store.AppendMessage(ctx, testMessage("msg-b", "conv-b", "to B", at), "to B")
	}()
	wg.Wait()

	if err := <-errA; err != nil {
		t.Fatalf("append to conv-a failed: %v", err)
	}
	if err := <-errB; err != nil {
		t.Fatalf("append to conv-b failed: %v", err)
	}

	convA, err := store.GetConversation(ctx, "conv-a")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	convB, err := store.GetConversation(ctx, "conv-b")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	if convA.LastMessagePreview != "to A" {
		t.Errorf("conv-a preview: got %q, want %q", convA.LastMessagePreview, "to A")
	}
	if convB.LastMessagePreview != "to B" {
		t.Errorf("conv-b preview: got %q, want %q", convB.LastMessagePreview, "to B")
	}
}
