package db

import (
	"context"
	"testing"
	"time"

	"github.com/felo/mail-indexer/internal/entity"
	"github.com/felo/mail-indexer/internal/parser"
	"github.com/felo/mail-indexer/internal/scoring"
)

// SetupTestDB creates an in-memory SQLite database for testing
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database
func CleanupTestDB(t *testing.T, db *DB) {
	t.Helper()

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close test database: %v", err)
	}
}

// CreateTestAdmission builds a multipart/alternative message from sender
// whose plain text part is body.
func CreateTestAdmission(messageID, sender, body string, received time.Time) *Admission {
	root := &parser.Part{Kind: parser.KindContainer, Order: 0, ParentOrder: parser.NoParent, MediaType: "multipart", SubType: "alternative"}
	plain := &parser.Part{Kind: parser.KindLeaf, Order: 1, ParentOrder: 0, MediaType: "text", SubType: "plain", Charset: "utf-8", Text: body}
	html := &parser.Part{Kind: parser.KindLeaf, Order: 2, ParentOrder: 0, MediaType: "text", SubType: "html", Charset: "utf-8", Text: "<p>" + body + "</p>"}
	root.Children = []*parser.Part{plain, html}

	msg := &parser.Message{
		MessageID: messageID,
		Subject:   "Subject of " + messageID,
		Received:  received,
		Root:      root,
	}

	var entries []entity.Entry
	if sender != "" {
		entries = append(entries, entity.Entry{Email: sender, Role: entity.RoleFrom})
	}

	return &Admission{
		Message: NewMessage(msg, "mbox", "INBOX", "test"),
		Parts:   parser.Flatten(root),
		Entries: entries,
		Words:   scoring.NewTokenizer(false, nil).Frequencies(body),
	}
}

// AdmitTestMessages admits messages and fails the test on error
func AdmitTestMessages(t *testing.T, db *DB, admissions ...*Admission) {
	t.Helper()

	for i, a := range admissions {
		if _, err := db.AdmitMessage(context.Background(), a); err != nil {
			t.Fatalf("Failed to admit test message %d: %v", i, err)
		}
	}
}
