// ABOUTME: In-memory fan-out broadcaster for the message-persisted notification
// ABOUTME: Subscribers get their own channel and cancellation handle; slow consumers never block a send

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nabu-im/nabu/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// SubscribeAll subscribes to persisted messages from every
	// conversation rather than a single one.
	SubscribeAll = "*"
)

// Broadcaster provides in-memory pub/sub for persisted messages.
// Subscribers register for one conversation (or SubscribeAll) and
// receive each message after it is durable in the store. Every
// subscriber has its own channel and subscription ID, so
// unsubscribing one listener never removes the others.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages in the given
// conversation (or SubscribeAll). Returns a receive channel and a
// subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *store.Message)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish delivers a persisted message to subscribers of its
// conversation and to SubscribeAll subscribers. If excludeSubID is
// non-empty, that subscriber is skipped (used to avoid echoing a
// message back to its originating view). Non-blocking: messages are
// dropped for subscribers whose channels are full.
//
// The read lock is held across the sends. Unsubscribe closes channels
// under the write lock, so releasing early would let a concurrent
// unsubscribe close a channel mid-publish and panic the sender. The
// sends cannot block, so the hold time is bounded.
func (b *Broadcaster) Publish(conversationID string, msg *store.Message, excludeSubID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{conversationID, SubscribeAll} {
		for id, ch := range b.subscribers[key] {
			if excludeSubID != "" && id == excludeSubID {
				continue
			}
			select {
			case ch <- msg:
				// Sent
			default:
				// Subscriber channel full — drop for this subscriber
				b.logger.Debug("dropped message for slow subscriber",
					"conversation_id", conversationID,
					"message_id", msg.ID)
			}
		}
	}
}

// Unsubscribe removes a single subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
}
