// ABOUTME: Tests for the message broadcaster
// ABOUTME: Covers subscribe/publish/unsubscribe, wildcard, exclusion, and ctx cleanup

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabu-im/nabu/internal/store"
)

func TestBroadcaster_SubscribePublish(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "conv-1")

	msg := &store.Message{ID: "msg-1", ConversationID: "conv-1", Content: "hello"}
	b.Publish("conv-1", msg, "")

	select {
	case got := <-ch:
		assert.Equal(t, "msg-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroadcaster_OnlyMatchingConversation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "conv-1")

	b.Publish("conv-2", &store.Message{ID: "msg-1", ConversationID: "conv-2"}, "")

	select {
	case got := <-ch:
		t.Fatalf("unexpected message %s for another conversation", got.ID)
	case <-time.After(50 * time.Millisecond):
		// No delivery, as expected
	}
}

func TestBroadcaster_WildcardReceivesAll(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), SubscribeAll)

	b.Publish("conv-1", &store.Message{ID: "msg-1", ConversationID: "conv-1"}, "")
	b.Publish("conv-2", &store.Message{ID: "msg-2", ConversationID: "conv-2"}, "")

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got = append(got, msg.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.ElementsMatch(t, []string{"msg-1", "msg-2"}, got)
}

func TestBroadcaster_ExcludeSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	chA, subA := b.Subscribe(ctx, "conv-1")
	chB, _ := b.Subscribe(ctx, "conv-1")

	b.Publish("conv-1", &store.Message{ID: "msg-1", ConversationID: "conv-1"}, subA)

	select {
	case got := <-chB:
		assert.Equal(t, "msg-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("other subscriber should still receive")
	}

	select {
	case got := <-chA:
		t.Fatalf("excluded subscriber received %s", got.ID)
	case <-time.After(50 * time.Millisecond):
		// Excluded, as expected
	}
}

func TestBroadcaster_UnsubscribeRemovesOnlyOne(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	chA, subA := b.Subscribe(ctx, "conv-1")
	chB, _ := b.Subscribe(ctx, "conv-1")

	b.Unsubscribe("conv-1", subA)

	// Unsubscribed channel is closed
	_, open := <-chA
	assert.False(t, open)

	// The other subscription keeps working
	b.Publish("conv-1", &store.Message{ID: "msg-1", ConversationID: "conv-1"}, "")
	select {
	case got := <-chB:
		assert.Equal(t, "msg-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber should still receive")
	}
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "channel should close after ctx cancel")
}

func TestBroadcaster_PublishDuringUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Subscribers churn (subscribe, then immediately unsubscribe and
	// close their channel) while publishes are in flight. A publish must
	// never send on a channel an unsubscribe has closed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			b.Publish("conv-1", &store.Message{ID: "msg", ConversationID: "conv-1"}, "")
		}
	}()

	for i := 0; i < 2000; i++ {
		_, subID := b.Subscribe(context.Background(), "conv-1")
		b.Unsubscribe("conv-1", subID)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("publisher did not finish")
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "conv-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish("conv-1", &store.Message{ID: "msg", ConversationID: "conv-1"}, "")
		}
	}()

	select {
	case <-done:
		// Publish never blocked even with a full buffer
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}
