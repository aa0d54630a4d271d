package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
)

// replaceWords swaps the whole word index of a message.
func replaceWords(ctx context.Context, tx *sqlx.Tx, messageID int64, words map[string]int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM message_words WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("failed to clear word index: %w", err)
	}

	keys := make([]string, 0, len(words))
	for w, f := range words {
		if w != "" && f > 0 {
			keys = append(keys, w)
		}
	}
	sort.Strings(keys)

	for _, w := range keys {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO message_words (message_id, word, frequency) VALUES (?, ?, ?)", messageID, w, words[w])
		if err != nil {
			return fmt.Errorf("failed to insert word %q: %w", w, err)
		}
	}
	return nil
}

// ReplaceWordIndex regenerates the word index of a stored message.
func (db *DB) ReplaceWordIndex(ctx context.Context, messageID int64, words map[string]int) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		return replaceWords(ctx, tx, messageID, words)
	})
}

// WordIndex returns the word frequencies of a message.
func (db *DB) WordIndex(ctx context.Context, messageID int64) (map[string]int, error) {
	var rows []struct {
		Word      string `db:"word"`
		Frequency int    `db:"frequency"`
	}
	err := db.SelectContext(ctx, &rows, "SELECT word, frequency FROM message_words WHERE message_id = ?", messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get word index: %w", err)
	}
	freq := make(map[string]int, len(rows))
	for _, r := range rows {
		freq[r.Word] = r.Frequency
	}
	return freq, nil
}
