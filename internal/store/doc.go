// Package store provides persistent storage for conversations using SQLite.
//
// # Data Models
//
//   - Conversation: the owner and worker pinned to a conversation id
//   - Message: a confirmed chat entry, keyed by id and by
//     (conversation id, correlation id)
//   - Draft: the input of a persist call
//
// Message also doubles as the client-side buffer entry; the Optimistic flag
// is never stored.
//
// # SQLite Configuration
//
// Two drivers are supported and selected by name:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// Both open the database with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Topics
//
// TopicFor and ConversationFromTopic implement the "chat/{conversationId}"
// naming used by every push channel.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore on a t.TempDir()
// path for integration tests.
package store
