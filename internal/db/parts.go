package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/felo/mail-indexer/internal/parser"
)

// Part is a stored MIME part.
type Part struct {
	ID                 int64         `db:"id"`
	MessageID          int64         `db:"message_id"`
	ParentPartID       sql.NullInt64 `db:"parent_part_id"`
	PartOrder          int           `db:"part_order"`
	ParentPartOrder    sql.NullInt64 `db:"parent_part_order"`
	IsContainer        bool          `db:"is_container"`
	MimeType           string        `db:"mime_type"`
	MimeSubtype        string        `db:"mime_subtype"`
	Charset            string        `db:"charset"`
	Filename           string        `db:"filename"`
	ContentID          string        `db:"content_id"`
	ContentDisposition string        `db:"content_disposition"`
	Content            []byte        `db:"content"`
	IsAttachment       bool          `db:"is_attachment"`
	SizeBytes          int64         `db:"size_bytes"`
	Degraded           bool          `db:"degraded"`
	DegradedReason     string        `db:"degraded_reason"`
}

// ToPart converts the row back into a parser part without children.
// Text leaves get their normalized text, other leaves their bytes.
func (p *Part) ToPart() *parser.Part {
	out := &parser.Part{
		Kind:        parser.KindLeaf,
		Order:       p.PartOrder,
		ParentOrder: parser.NoParent,
		MediaType:   p.MimeType,
		SubType:     p.MimeSubtype,
		Charset:     p.Charset,
		Filename:    p.Filename,
		ContentID:   p.ContentID,
		Disposition: p.ContentDisposition,
		Attachment:  p.IsAttachment,
	}
	if p.IsContainer {
		out.Kind = parser.KindContainer
	}
	if p.ParentPartOrder.Valid {
		out.ParentOrder = int(p.ParentPartOrder.Int64)
	}
	if out.IsText() {
		out.Text = string(p.Content)
	} else {
		out.Body = p.Content
	}
	if p.Degraded {
		out.Degraded = strings.Split(p.DegradedReason, "; ")
	}
	return out
}

// insertParts stores parts in order. Each parent is stored before its
// children, so its row id is known when a child refers to it.
func insertParts(ctx context.Context, tx *sqlx.Tx, messageID int64, parts []*parser.Part) error {
	ids := make(map[int]int64, len(parts))
	for _, p := range parts {
		var parentID, parentOrder sql.NullInt64
		if p.ParentOrder != parser.NoParent {
			pid, ok := ids[p.ParentOrder]
			if !ok {
				return fmt.Errorf("part %d: parent %d not stored before it", p.Order, p.ParentOrder)
			}
			parentID = sql.NullInt64{Int64: pid, Valid: true}
			parentOrder = sql.NullInt64{Int64: int64(p.ParentOrder), Valid: true}
		}

		var content []byte
		switch {
		case p.Kind == parser.KindContainer:
		case p.IsText():
			content = []byte(p.Text)
		case p.Body == nil:
			content = []byte{}
		default:
			content = p.Body
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO message_parts (
				message_id, parent_part_id, part_order, parent_part_order, is_container,
				mime_type, mime_subtype, charset, filename, content_id, content_disposition,
				content, is_attachment, size_bytes, degraded, degraded_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, messageID, parentID, p.Order, parentOrder, p.Kind == parser.KindContainer,
			p.MediaType, p.SubType, p.Charset, p.Filename, p.ContentID, p.Disposition,
			content, p.Attachment, p.Size(), len(p.Degraded) > 0, strings.Join(p.Degraded, "; "))
		if err != nil {
			return fmt.Errorf("failed to insert part %d: %w", p.Order, err)
		}
		if ids[p.Order], err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get part id: %w", err)
		}
	}
	return nil
}

// GetParts returns the stored parts of a message ordered by part order
func (db *DB) GetParts(ctx context.Context, messageID int64) ([]*Part, error) {
	var parts []*Part
	err := db.SelectContext(ctx, &parts, `
		SELECT id, message_id, parent_part_id, part_order, parent_part_order, is_container,
		       mime_type, mime_subtype, charset, filename, content_id, content_disposition,
		       content, is_attachment, size_bytes, degraded, degraded_reason
		FROM message_parts
		WHERE message_id = ?
		ORDER BY part_order
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parts: %w", err)
	}
	return parts, nil
}

// LoadPartTree rebuilds the part tree of a message from stored order data.
func (db *DB) LoadPartTree(ctx context.Context, messageID int64) (*parser.Part, error) {
	rows, err := db.GetParts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	parts := make([]*parser.Part, len(rows))
	for i, r := range rows {
		parts[i] = r.ToPart()
	}
	root, err := parser.Rebuild(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild parts of message %d: %w", messageID, err)
	}
	return root, nil
}

// CountParts returns the total number of stored parts
func (db *DB) CountParts(ctx context.Context) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM message_parts"); err != nil {
		return 0, fmt.Errorf("failed to count parts: %w", err)
	}
	return count, nil
}
