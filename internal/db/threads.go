package db

import (
	"context"
	"errors"
	"fmt"
)

// maxHops bounds how far Ancestors follows In-Reply-To links.
const maxHops = 100

// ErrCircularReference is returned when In-Reply-To links form a loop.
var ErrCircularReference = errors.New("circular reference")

// Ancestors follows In-Reply-To links upward from a message and returns
// the stored ancestors, nearest first. It stops at the first reference
// that is not stored.
func (db *DB) Ancestors(ctx context.Context, messageID string) ([]*Message, error) {
	current, err := db.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{current.MessageID: true}
	var chain []*Message
	for hops := 0; current.InReplyTo != "" && hops < maxHops; hops++ {
		if visited[current.InReplyTo] {
			return chain, fmt.Errorf("%w at %s", ErrCircularReference, current.InReplyTo)
		}
		parent, err := db.GetMessage(ctx, current.InReplyTo)
		if errors.Is(err, ErrMessageNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		visited[parent.MessageID] = true
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// Replies retrieves all messages that directly reply to the given Message-ID
func (db *DB) Replies(ctx context.Context, messageID string) ([]*Message, error) {
	var out []*Message
	err := db.SelectContext(ctx, &out, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE in_reply_to = ?
		ORDER BY date_received ASC, rfc822_message_id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct replies: %w", err)
	}
	return out, nil
}

// CountReplies counts the number of direct and indirect replies to a message
func (db *DB) CountReplies(ctx context.Context, messageID string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `
		WITH RECURSIVE replies(message_id) AS (
			SELECT rfc822_message_id FROM messages WHERE in_reply_to = ?
			UNION
			SELECT m.rfc822_message_id
			FROM messages m
			INNER JOIN replies r ON m.in_reply_to = r.message_id
		)
		SELECT COUNT(*) FROM replies
	`, messageID)
	if err != nil {
		return 0, fmt.Errorf("failed to count replies: %w", err)
	}
	return count, nil
}
