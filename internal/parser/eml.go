package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// ErrMessageUnreadable marks a record that cannot be parsed as a message at all.
var ErrMessageUnreadable = errors.New("message unreadable")

// Mozilla status bits kept in the X-Mozilla-Status header by Thunderbird.
const (
	mozillaRead      = 0x0001
	mozillaReplied   = 0x0002
	mozillaFlagged   = 0x0004
	mozillaForwarded = 0x1000
)

// now is replaced in tests.
var now = time.Now

// Parse parses one raw message into its header fields and part tree.
func Parse(raw []byte) (*Message, error) {
	head, body, ok := splitHeader(stripFromLine(raw))
	if !ok {
		return nil, fmt.Errorf("%w: no blank line after header", ErrMessageUnreadable)
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %w", ErrMessageUnreadable, err)
	}

	msg := &Message{
		Header: mail.Header{Header: message.Header{Header: h}},
		Fields: orderedFields(h),
	}
	msg.MessageID = messageID(&msg.Header)
	msg.Subject = subject(&msg.Header)
	if sent, err := msg.Header.Date(); err == nil {
		msg.Sent = sent.UTC()
	}
	msg.Received = receivedAt(&msg.Header, msg.Sent)
	msg.InReplyTo = firstMsgID(&msg.Header, "In-Reply-To")
	msg.References = msgIDList(&msg.Header, "References")
	msg.Flags = flags(&msg.Header)

	b := &treeBuilder{}
	msg.Root = b.build(h, body, NoParent, "text/plain")

	return msg, nil
}

// splitHeader splits raw at the first empty line. The returned head
// includes the terminating empty line.
func splitHeader(raw []byte) (head, body []byte, ok bool) {
	off := 0
	for off < len(raw) {
		end := bytes.IndexByte(raw[off:], '\n')
		if end < 0 {
			return nil, nil, false
		}
		next := off + end + 1
		if len(bytes.TrimRight(raw[off:off+end], "\r")) == 0 {
			return raw[:next], raw[next:], true
		}
		off = next
	}
	return nil, nil, false
}

// stripFromLine drops a leading mbox "From " separator line, which some
// exporters leave on single-message files.
func stripFromLine(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// orderedFields lists header fields in document order, keeping the field
// name casing used in the message.
func orderedFields(h textproto.Header) []Field {
	var fields []Field
	fs := h.Fields()
	for fs.Next() {
		name := fs.Key()
		if raw, err := fs.Raw(); err == nil {
			if i := bytes.IndexByte(raw, ':'); i > 0 {
				name = string(bytes.TrimSpace(raw[:i]))
			}
		}
		fields = append(fields, Field{Name: name, Value: fs.Value()})
	}
	return fields
}

func messageID(h *mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return trimMsgID(h.Get("Message-Id"))
}

func subject(h *mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		// Undecodable encoded words; keep the raw value.
		return h.Get("Subject")
	}
	return s
}

func firstMsgID(h *mail.Header, key string) string {
	ids := msgIDList(h, key)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func msgIDList(h *mail.Header, key string) []string {
	if ids, err := h.MsgIDList(key); err == nil {
		return ids
	}
	var ids []string
	for _, f := range strings.Fields(h.Get(key)) {
		if id := trimMsgID(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func trimMsgID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}

// receivedAt takes the timestamp of the topmost Received header, which is
// the last hop and so the delivery time. It falls back to the sent date
// and then to the current time.
func receivedAt(h *mail.Header, sent time.Time) time.Time {
	for _, v := range h.Values("Received") {
		i := strings.LastIndexByte(v, ';')
		if i < 0 {
			continue
		}
		if t, err := netmail.ParseDate(strings.TrimSpace(v[i+1:])); err == nil {
			return t.UTC()
		}
		break
	}
	if !sent.IsZero() {
		return sent
	}
	return now().UTC()
}

func flags(h *mail.Header) Flags {
	var f Flags
	if v := strings.TrimSpace(h.Get("X-Mozilla-Status")); v != "" {
		if bits, err := strconv.ParseUint(v, 16, 32); err == nil {
			f.Read = bits&mozillaRead != 0
			f.Replied = bits&mozillaReplied != 0
			f.Flagged = bits&mozillaFlagged != 0
			f.Forwarded = bits&mozillaForwarded != 0
		}
	}
	// mbox Status/X-Status flags as written by mutt and friends.
	if strings.ContainsRune(h.Get("Status"), 'R') {
		f.Read = true
	}
	xs := h.Get("X-Status")
	if strings.ContainsRune(xs, 'A') {
		f.Replied = true
	}
	if strings.ContainsRune(xs, 'F') {
		f.Flagged = true
	}
	return f
}
