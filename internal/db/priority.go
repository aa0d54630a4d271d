package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/felo/mail-indexer/internal/entity"
	"github.com/felo/mail-indexer/internal/scoring"
)

// Priority bounds for word and person rules.
const (
	MinPriority = 1
	MaxPriority = 100
)

// ErrPriorityOutOfRange is returned for priorities outside [MinPriority, MaxPriority].
var ErrPriorityOutOfRange = errors.New("priority out of range")

func checkPriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: %d", ErrPriorityOutOfRange, priority)
	}
	return nil
}

// SetWordPriority sets the dictionary priority of a word. The word is
// normalized the way the tokenizer normalizes body text.
func (db *DB) SetWordPriority(ctx context.Context, word string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	word = scoring.Normalize(strings.TrimSpace(word))
	if word == "" {
		return fmt.Errorf("empty priority word")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO priority_words (word, priority) VALUES (?, ?)
		ON CONFLICT(word) DO UPDATE SET priority = excluded.priority
	`, word, priority)
	if err != nil {
		return fmt.Errorf("failed to set word priority: %w", err)
	}
	return nil
}

// SetPersonPriority sets the priority of an address, creating the
// address when it is not known yet.
func (db *DB) SetPersonPriority(ctx context.Context, email string, priority int) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	email = entity.NormalizeEmail(email)
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := ensureAddress(ctx, tx, email, "")
		if err != nil {
			return fmt.Errorf("failed to ensure address: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO priority_persons (address_id, priority) VALUES (?, ?)
			ON CONFLICT(address_id) DO UPDATE SET priority = excluded.priority
		`, id, priority)
		if err != nil {
			return fmt.Errorf("failed to set person priority: %w", err)
		}
		return nil
	})
}

// sender returns the email of the first From address of a message.
func (db *DB) sender(ctx context.Context, messageID int64) (string, error) {
	var emails []string
	err := db.SelectContext(ctx, &emails, `
		SELECT a.email_address
		FROM message_addresses ma
		JOIN addresses a ON a.id = ma.address_id
		WHERE ma.message_id = ? AND ma.role = 'from'
		ORDER BY ma.position
		LIMIT 1
	`, messageID)
	if err != nil {
		return "", fmt.Errorf("failed to get sender: %w", err)
	}
	if len(emails) == 0 {
		return "", nil
	}
	return emails[0], nil
}

// Snapshot returns the rule entries relevant to one message: priorities
// of its indexed words and of its sender.
func (db *DB) Snapshot(ctx context.Context, messageID int64, sender string) (scoring.Snapshot, error) {
	snap := scoring.Snapshot{Words: map[string]int{}, People: map[string]int{}}

	var words []struct {
		Word     string `db:"word"`
		Priority int    `db:"priority"`
	}
	err := db.SelectContext(ctx, &words, `
		SELECT pw.word, pw.priority
		FROM priority_words pw
		JOIN message_words w ON w.word = pw.word
		WHERE w.message_id = ?
	`, messageID)
	if err != nil {
		return snap, fmt.Errorf("failed to load word priorities: %w", err)
	}
	for _, w := range words {
		snap.Words[w.Word] = w.Priority
	}

	if sender == "" {
		return snap, nil
	}
	var people []int
	err = db.SelectContext(ctx, &people, `
		SELECT pp.priority
		FROM priority_persons pp
		JOIN addresses a ON a.id = pp.address_id
		WHERE a.email_address = ?
	`, sender)
	if err != nil {
		return snap, fmt.Errorf("failed to load person priority: %w", err)
	}
	if len(people) > 0 {
		snap.People[sender] = people[0]
	}
	return snap, nil
}
