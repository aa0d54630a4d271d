package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/felo/mail-indexer/internal/entity"
	"github.com/felo/mail-indexer/internal/parser"
)

var (
	// ErrConcurrentDuplicate is returned when another admission stored the
	// same Message-ID first.
	ErrConcurrentDuplicate = errors.New("message already admitted concurrently")
	// ErrMessageNotFound is returned for an unknown Message-ID.
	ErrMessageNotFound = errors.New("message not found")
)

// timeLayout is the stored timestamp format. All stored times are UTC, so
// lexical order is chronological order.
const timeLayout = "2006-01-02 15:04:05"

// NullTime is a custom type that handles both string and time.Time from SQLite
type NullTime struct {
	Time  time.Time
	Valid bool
}

// NewNullTime creates a NullTime, invalid for the zero time.
func NewNullTime(t time.Time) NullTime {
	return NullTime{Time: t.UTC().Truncate(time.Second), Valid: !t.IsZero()}
}

// Scan implements sql.Scanner for NullTime
func (nt *NullTime) Scan(value interface{}) error {
	if value == nil {
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	}

	switch v := value.(type) {
	case time.Time:
		nt.Time, nt.Valid = v.UTC(), true
		return nil
	case string:
		return nt.parse(v)
	case []byte:
		return nt.parse(string(v))
	default:
		return fmt.Errorf("unsupported Scan type for NullTime: %T", value)
	}
}

func (nt *NullTime) parse(v string) error {
	formats := []string{
		timeLayout,
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
	}

	var t time.Time
	var err error
	for _, format := range formats {
		t, err = time.Parse(format, v)
		if err == nil {
			nt.Time, nt.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("failed to parse time string %q: %w", v, err)
}

// Value implements driver.Valuer for NullTime
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return nil, nil
	}
	return nt.Time.UTC().Format(timeLayout), nil
}

// Message is a stored message.
type Message struct {
	ID             int64    `db:"id"`
	MessageID      string   `db:"rfc822_message_id"`
	Subject        string   `db:"subject"`
	DateSent       NullTime `db:"date_sent"`
	DateReceived   NullTime `db:"date_received"`
	InReplyTo      string   `db:"in_reply_to"`
	References     string   `db:"references_list"`
	IsRead         bool     `db:"is_read"`
	IsReplied      bool     `db:"is_replied"`
	IsFlagged      bool     `db:"is_flagged"`
	IsForwarded    bool     `db:"is_forwarded"`
	Vendor         string   `db:"vendor"`
	Folder         string   `db:"folder"`
	SourceLocation string   `db:"source_location"`
	IndexedAt      NullTime `db:"indexed_at"`
}

// Flags returns the state flags of the message.
func (m *Message) Flags() parser.Flags {
	return parser.Flags{Read: m.IsRead, Replied: m.IsReplied, Flagged: m.IsFlagged, Forwarded: m.IsForwarded}
}

// ReferencesList splits the stored references.
func (m *Message) ReferencesList() []string {
	return strings.Fields(m.References)
}

// NewMessage builds the stored row of a parsed message.
func NewMessage(msg *parser.Message, vendor, folder, location string) *Message {
	return &Message{
		MessageID:      msg.MessageID,
		Subject:        msg.Subject,
		DateSent:       NewNullTime(msg.Sent),
		DateReceived:   NewNullTime(msg.Received),
		InReplyTo:      msg.InReplyTo,
		References:     strings.Join(msg.References, " "),
		IsRead:         msg.Flags.Read,
		IsReplied:      msg.Flags.Replied,
		IsFlagged:      msg.Flags.Flagged,
		IsForwarded:    msg.Flags.Forwarded,
		Vendor:         vendor,
		Folder:         folder,
		SourceLocation: location,
	}
}

const messageColumns = `id, rfc822_message_id, subject, date_sent, date_received, in_reply_to,
	references_list, is_read, is_replied, is_flagged, is_forwarded, vendor, folder,
	source_location, indexed_at`

// Admission is everything stored for one new message.
type Admission struct {
	Message *Message
	Parts   []*parser.Part // in order, as returned by parser.Flatten
	Entries []entity.Entry
	Words   map[string]int
}

// MessageExists checks if a message with the given Message-ID is stored
func (db *DB) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM messages WHERE rfc822_message_id = ?)", messageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// AdmitMessage stores a new message with its parts, addresses and word
// index in one transaction. It returns ErrConcurrentDuplicate, and stores
// nothing, if the Message-ID is already present.
func (db *DB) AdmitMessage(ctx context.Context, a *Admission) (int64, error) {
	var id int64
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO messages (
				rfc822_message_id, subject, date_sent, date_received, in_reply_to,
				references_list, is_read, is_replied, is_flagged, is_forwarded,
				vendor, folder, source_location
			) VALUES (
				:rfc822_message_id, :subject, :date_sent, :date_received, :in_reply_to,
				:references_list, :is_read, :is_replied, :is_flagged, :is_forwarded,
				:vendor, :folder, :source_location
			)
			ON CONFLICT(rfc822_message_id) DO NOTHING
		`, a.Message)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrConcurrentDuplicate
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get message id: %w", err)
		}

		if err := insertParts(ctx, tx, id, a.Parts); err != nil {
			return err
		}

		links, err := entity.Resolve(ctx, &addressRepo{tx: tx}, a.Entries)
		if err != nil {
			return err
		}
		if err := insertLinks(ctx, tx, id, links); err != nil {
			return err
		}

		return replaceWords(ctx, tx, id, a.Words)
	})
	if err != nil {
		return 0, err
	}
	a.Message.ID = id
	return id, nil
}

// GetMessage retrieves a message by its Message-ID
func (db *DB) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	m := &Message{}
	err := db.GetContext(ctx, m, "SELECT "+messageColumns+" FROM messages WHERE rfc822_message_id = ?", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// CountMessages returns the total number of messages
func (db *DB) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages"); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// SetFlags replaces the state flags of a message.
func (db *DB) SetFlags(ctx context.Context, messageID string, f parser.Flags) error {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET is_read = ?, is_replied = ?, is_flagged = ?, is_forwarded = ?
		WHERE rfc822_message_id = ?
	`, f.Read, f.Replied, f.Flagged, f.Forwarded, messageID)
	if err != nil {
		return fmt.Errorf("failed to set flags: %w", err)
	}
	return expectRow(res, messageID)
}

// MoveToFolder changes the folder of a message.
func (db *DB) MoveToFolder(ctx context.Context, messageID, folder string) error {
	res, err := db.ExecContext(ctx, "UPDATE messages SET folder = ? WHERE rfc822_message_id = ?", folder, messageID)
	if err != nil {
		return fmt.Errorf("failed to move message: %w", err)
	}
	return expectRow(res, messageID)
}

func expectRow(res sql.Result, messageID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sqlx.Tx, messageID int64, links []entity.Link) error {
	for _, l := range links {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_addresses (message_id, address_id, role, position)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, messageID, l.AddressID, string(l.Role), l.Position)
		if err != nil {
			return fmt.Errorf("failed to link address: %w", err)
		}
	}
	return nil
}

// Recipient is an address linked to a message.
type Recipient struct {
	entity.Address
	Role     entity.Role `db:"role"`
	Position int         `db:"position"`
}

// GetMessageAddresses returns the addresses of a message by role and position.
func (db *DB) GetMessageAddresses(ctx context.Context, messageID string) ([]*Recipient, error) {
	var out []*Recipient
	err := db.SelectContext(ctx, &out, `
		SELECT a.id, a.email_address, a.display_name, ma.role, ma.position
		FROM message_addresses ma
		JOIN addresses a ON a.id = ma.address_id
		JOIN messages m ON m.id = ma.message_id
		WHERE m.rfc822_message_id = ?
		ORDER BY CASE ma.role WHEN 'from' THEN 0 WHEN 'to' THEN 1 WHEN 'cc' THEN 2 ELSE 3 END, ma.position
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message addresses: %w", err)
	}
	return out, nil
}
