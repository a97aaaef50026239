// Package conversation coordinates the message flow.
//
// Every send goes through the Service: validate the content, persist
// the message together with the conversation's preview cache and
// unread counter in one store transaction, then announce the persisted
// message on the Broadcaster. Subscribers therefore never hear about a
// message that is not already readable from storage, and a failed send
// never leaves any side effect behind.
//
// The Broadcaster is in-memory pub/sub keyed by conversation ID, with
// a "*" wildcard for list views that need every conversation. Each
// subscription has its own buffered channel and its own ID, so
// removing one listener never disturbs another, and a slow consumer
// drops messages instead of blocking the send path.
package conversation
