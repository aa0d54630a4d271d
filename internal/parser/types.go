package parser

import (
	"time"

	"github.com/emersion/go-message/mail"
)

// NoParent is the parent order recorded on a root part.
const NoParent = -1

// Kind tags a Part as a leaf with content or a container of child parts.
type Kind int

const (
	KindLeaf Kind = iota
	KindContainer
)

func (k Kind) String() string {
	if k == KindContainer {
		return "container"
	}
	return "leaf"
}

// Field is one header field as written in the message, with folded
// continuation lines joined.
type Field struct {
	Name  string
	Value string
}

// Flags holds the mutable state flags of a message.
type Flags struct {
	Read      bool
	Replied   bool
	Flagged   bool
	Forwarded bool
}

// Message is a parsed RFC 822 message.
type Message struct {
	// Header gives semantic access (addresses, dates, Message-IDs).
	Header mail.Header
	// Fields lists every header field in document order.
	Fields []Field

	MessageID  string // without angle brackets
	Subject    string
	Sent       time.Time // zero when the Date header is absent or invalid
	Received   time.Time
	InReplyTo  string
	References []string
	Flags      Flags

	Root *Part
}

// Part is one node of a message's MIME tree.
//
// Parts are addressed by Order, a depth-first document-order counter
// starting at 0 for the root. ParentOrder refers to the parent's Order
// (NoParent for the root), so a flat slice of parts is enough to rebuild
// the tree.
type Part struct {
	Kind        Kind
	Order       int
	ParentOrder int

	MediaType   string // "text", "image", "multipart", ...
	SubType     string // "plain", "html", "mixed", ...
	Params      map[string]string
	Charset     string
	Filename    string
	ContentID   string // without angle brackets
	Disposition string
	Attachment  bool

	// Body holds transfer-decoded bytes of a leaf.
	Body []byte
	// Text holds the UTF-8 content of a text leaf once normalized.
	Text string
	// Degraded lists the reasons this part was only decoded on a best
	// effort basis. Empty for cleanly parsed parts.
	Degraded []string

	Children []*Part
}

// ContentType returns "type/subtype".
func (p *Part) ContentType() string {
	return p.MediaType + "/" + p.SubType
}

// IsText reports whether p is a text leaf.
func (p *Part) IsText() bool {
	return p.Kind == KindLeaf && p.MediaType == "text"
}

// Size returns the size in bytes of the part's stored content.
func (p *Part) Size() int64 {
	if p.Kind == KindContainer {
		return 0
	}
	if p.IsText() && p.Text != "" {
		return int64(len(p.Text))
	}
	return int64(len(p.Body))
}

// MarkDegraded records a best-effort decode.
func (p *Part) MarkDegraded(reason string) {
	p.Degraded = append(p.Degraded, reason)
}
