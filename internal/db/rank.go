package db

import (
	"context"
	"fmt"

	"github.com/felo/mail-indexer/internal/scoring"
)

// ScoredMessage is a message with its current priority score. Received is
// the tie-break key for equal scores.
type ScoredMessage struct {
	ID        int64    `db:"id"`
	MessageID string   `db:"rfc822_message_id"`
	Subject   string   `db:"subject"`
	Score     int      `db:"score"`
	Received  NullTime `db:"date_received"`
}

// Score computes the priority score of one message from the current rule
// tables.
func (db *DB) Score(ctx context.Context, messageID string) (*ScoredMessage, error) {
	m, err := db.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	freq, err := db.WordIndex(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	sender, err := db.sender(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	snap, err := db.Snapshot(ctx, m.ID, sender)
	if err != nil {
		return nil, err
	}

	return &ScoredMessage{
		ID:        m.ID,
		MessageID: m.MessageID,
		Subject:   m.Subject,
		Score:     scoring.Score(freq, sender, snap),
		Received:  m.DateReceived,
	}, nil
}

// rankQuery computes the same score as Score in SQL. The sender is the
// first From link.
const rankQuery = `
	SELECT m.id, m.rfc822_message_id, m.subject, m.date_received,
	       COALESCE((
	           SELECT SUM(w.frequency * pw.priority)
	           FROM message_words w
	           JOIN priority_words pw ON pw.word = w.word
	           WHERE w.message_id = m.id
	       ), 0) + COALESCE((
	           SELECT pp.priority
	           FROM priority_persons pp
	           WHERE pp.address_id = (
	               SELECT ma.address_id
	               FROM message_addresses ma
	               WHERE ma.message_id = m.id AND ma.role = 'from'
	               ORDER BY ma.position
	               LIMIT 1
	           )
	       ), 0) AS score
	FROM messages m
	ORDER BY score DESC, m.date_received DESC, m.rfc822_message_id ASC
	LIMIT ? OFFSET ?
`

// RankMessages lists messages by score, most recent first among equal
// scores. Message-ID breaks the remaining ties so pages are stable.
func (db *DB) RankMessages(ctx context.Context, limit, offset int) ([]*ScoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*ScoredMessage
	if err := db.SelectContext(ctx, &out, rankQuery, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to rank messages: %w", err)
	}
	return out, nil
}
