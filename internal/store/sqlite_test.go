// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation registration, message persistence, ordering and duplicates

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStoreWithDriver_RejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLiteStoreWithDriver("postgres", filepath.Join(t.TempDir(), "test.db"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	seedConversation(t, store, "conv-mem")
	if err := store.SaveMessage(ctx, testMessage("m1", "conv-mem", "hi", time.Now())); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "conv-mem")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestEnsureConversation_FirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first, err := store.EnsureConversation(ctx, &Conversation{ID: "app-1", OwnerID: "owner-1", WorkerID: "worker-1"})
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if first.OwnerID != "owner-1" || first.WorkerID != "worker-1" {
		t.Errorf("unexpected participants: %+v", first)
	}

	second, err := store.EnsureConversation(ctx, &Conversation{ID: "app-1", OwnerID: "intruder", WorkerID: "worker-1"})
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if second.OwnerID != "owner-1" {
		t.Errorf("expected registered owner to be kept, got %q", second.OwnerID)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndGetMessage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	seedConversation(t, store, "app-1")
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	msg := testMessage("msg-1", "app-1", "Is the job still open?", sentAt)
	msg.CorrelationID = "corr-1"

	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	got, err := store.GetMessage(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Body != msg.Body || got.SenderID != msg.SenderID || got.ReceiverID != msg.ReceiverID {
		t.Errorf("message mismatch: got %+v", got)
	}
	if got.SenderRole != RoleOwner {
		t.Errorf("expected role OWNER, got %q", got.SenderRole)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Errorf("expected sent_at %v, got %v", sentAt, got.SentAt)
	}

	byCorr, err := store.GetMessageByCorrelation(ctx, "app-1", "corr-1")
	if err != nil {
		t.Fatalf("GetMessageByCorrelation failed: %v", err)
	}
	if byCorr.ID != "msg-1" {
		t.Errorf("expected msg-1, got %s", byCorr.ID)
	}
}

func TestSaveMessage_DefaultsCorrelationToID(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	seedConversation(t, store, "app-1")
	msg := testMessage("msg-legacy", "app-1", "hello", time.Now())
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if msg.CorrelationID != "msg-legacy" {
		t.Errorf("expected correlation id to default to message id, got %q", msg.CorrelationID)
	}

	got, err := store.GetMessageByCorrelation(ctx, "app-1", "msg-legacy")
	if err != nil {
		t.Fatalf("GetMessageByCorrelation failed: %v", err)
	}
	if got.ID != "msg-legacy" {
		t.Errorf("expected msg-legacy, got %s", got.ID)
	}
}

func TestSaveMessage_DuplicateCorrelation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	seedConversation(t, store, "app-1")
	first := testMessage("msg-1", "app-1", "hello", time.Now())
	first.CorrelationID = "corr-1"
	if err := store.SaveMessage(ctx, first); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	retry := testMessage("msg-2", "app-1", "hello", time.Now())
	retry.CorrelationID = "corr-1"
	err := store.SaveMessage(ctx, retry)
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	// Same correlation id in another conversation is fine
	seedConversation(t, store, "app-2")
	other := testMessage("msg-3", "app-2", "hello", time.Now())
	other.CorrelationID = "corr-1"
	if err := store.SaveMessage(ctx, other); err != nil {
		t.Fatalf("SaveMessage in second conversation failed: %v", err)
	}
}

func TestSaveMessage_RequiresConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.SaveMessage(context.Background(), testMessage("msg-1", "ghost", "hello", time.Now()))
	if err == nil {
		t.Fatal("expected foreign key failure for unregistered conversation")
	}
}

func TestListMessages_Ordering(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	seedConversation(t, store, "app-1")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of time order; the two at base+1s tie and keep insertion order
	inserts := []*Message{
		testMessage("c", "app-1", "third", base.Add(2*time.Second)),
		testMessage("a", "app-1", "first", base),
		testMessage("b1", "app-1", "second-a", base.Add(time.Second)),
		testMessage("b2", "app-1", "second-b", base.Add(time.Second)),
	}
	for _, m := range inserts {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "app-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}

	want := []string{"a", "b1", "b2", "c"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestListMessages_UnknownConversationIsEmpty(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	msgs, err := store.ListMessages(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", msgs)
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

// newTestStore creates a new SQLite store in a temporary directory
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func seedConversation(t *testing.T, s Store, id string) {
	t.Helper()
	if _, err := s.EnsureConversation(context.Background(), &Conversation{ID: id, OwnerID: "owner-1", WorkerID: "worker-1"}); err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
}

func testMessage(id, conversationID, body string, sentAt time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "owner-1",
		ReceiverID:     "worker-1",
		Body:           body,
		SentAt:         sentAt,
		SenderRole:     RoleOwner,
	}
}
