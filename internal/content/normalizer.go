// Package content turns the raw leaves of a parsed message into
// displayable UTF-8 text.
package content

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message/charset"
	"github.com/microcosm-cc/bluemonday"

	"github.com/felo/mail-indexer/internal/parser"
)

// LocatorVersion identifies the shape of inline part locators
// ("{scope}/{message}/parts/{order}"). Bump it when the shape changes.
const LocatorVersion = 1

// DefaultScope prefixes locators when no scope is configured.
const DefaultScope = "messages"

// cidAttributes are the HTML attributes that may carry a cid: reference.
var cidAttributes = []string{"src", "href", "background"}

// Normalizer decodes text leaves, rewrites inline references and sanitizes
// HTML. It is safe for concurrent use.
type Normalizer struct {
	scope  string
	policy *bluemonday.Policy
}

// NewNormalizer creates a normalizer producing locators under scope.
func NewNormalizer(scope string) *Normalizer {
	scope = strings.TrimRight(scope, "/")
	if scope == "" {
		scope = DefaultScope
	}
	return &Normalizer{
		scope:  scope,
		policy: bluemonday.UGCPolicy(),
	}
}

// Locator returns the stable locator of part order within the message
// identified by key.
func (n *Normalizer) Locator(key string, order int) string {
	return n.scope + "/" + url.PathEscape(key) + "/parts/" + strconv.Itoa(order)
}

// Normalize fills Text for every text leaf of msg. Failures only mark the
// affected part as degraded.
func (n *Normalizer) Normalize(msg *parser.Message) {
	if msg.Root == nil {
		return
	}

	key := msg.MessageID
	if key == "" {
		key = strconv.Itoa(msg.Root.Order)
	}
	cids := contentIDs(msg.Root)

	parser.Walk(msg.Root, func(p *parser.Part) {
		if !p.IsText() {
			return
		}
		text, err := DecodeText(p.Charset, p.Body)
		if err != nil {
			p.MarkDegraded(err.Error())
		}
		text = strings.ReplaceAll(text, "\r\n", "\n")
		if p.SubType == "html" {
			text = n.sanitize(n.rewriteCIDs(text, key, cids))
		}
		p.Text = text
	})
}

// DecodeText converts body from the named charset to UTF-8. An absent
// charset means US-ASCII, which is read as UTF-8. When the charset is
// unknown or the bytes are invalid, the result is a lossy UTF-8 decode
// together with an error describing the problem.
func DecodeText(label string, body []byte) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		if utf8.Valid(body) {
			return string(body), nil
		}
		return lossy(body), fmt.Errorf("invalid %s bytes, decoded lossily", orDefault(label, "us-ascii"))
	}

	r, err := charset.Reader(label, bytes.NewReader(body))
	if err != nil {
		return lossy(body), fmt.Errorf("unknown charset %q, decoded lossily", label)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return lossy(body), fmt.Errorf("failed to decode %s: %w", label, err)
	}
	return string(out), nil
}

func lossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// contentIDs maps normalized Content-IDs of the message to part orders.
// The first part declaring an ID wins.
func contentIDs(root *parser.Part) map[string]int {
	ids := make(map[string]int)
	parser.Walk(root, func(p *parser.Part) {
		if p.ContentID == "" {
			return
		}
		id := normalizeCID(p.ContentID)
		if _, ok := ids[id]; !ok {
			ids[id] = p.Order
		}
	})
	return ids
}

// normalizeCID makes a Content-ID header value and a cid: URL comparable.
func normalizeCID(s string) string {
	s = strings.TrimSpace(s)
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.ToLower(strings.TrimSpace(s))
}

// rewriteCIDs replaces cid: references to parts of the same message with
// their locators. References without a matching part are left alone.
func (n *Normalizer) rewriteCIDs(html, key string, cids map[string]int) string {
	if len(cids) == 0 || !strings.Contains(strings.ToLower(html), "cid:") {
		return html
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	changed := false
	doc.Find("[src], [href], [background]").Each(func(i int, s *goquery.Selection) {
		for _, attr := range cidAttributes {
			v, ok := s.Attr(attr)
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if len(v) < 4 || !strings.EqualFold(v[:4], "cid:") {
				continue
			}
			if order, ok := cids[normalizeCID(v[4:])]; ok {
				s.SetAttr(attr, n.Locator(key, order))
				changed = true
			}
		}
	})
	if !changed {
		return html
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return html
	}
	return out
}

func (n *Normalizer) sanitize(html string) string {
	return n.policy.Sanitize(html)
}
