// Package store provides persistent local storage for nabu using SQLite.
//
// # Architecture
//
// SQLiteStore implements the Store interface and owns the embedded
// database handle. All state — identity, conversations, messages,
// settings — lives in four tables; there is no network component.
//
// # Data Models
//
//   - User: local identity with case-insensitive unique username;
//     the first user ever created is the device superuser
//   - Conversation: named local chat with a denormalized preview cache
//     (last_message_preview, last_message_at) derived from its messages
//   - Message: immutable after creation except read/reaction state;
//     removed only by the conversation delete cascade
//   - Setting: key/value preference, last-write-wins
//
// # Transactions
//
// Any write touching more than one table runs inside a single
// transaction: user creation (first-user count + insert) and message
// append (existence check + insert + preview update). On failure the
// transaction rolls back completely; readers never observe partial
// state.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Schema changes are applied as numbered migrations recorded in the
// schema_version table; opening an existing database is idempotent.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConversationNotFound: message append targets a missing conversation
//   - ErrDuplicateUsername: username already taken (case-insensitive)
//   - ErrStorageUnavailable: database cannot be opened
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Point NewSQLiteStore at a file under t.TempDir() for tests; every
// open gets a fresh isolated database.
package store
