package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felo/mail-indexer/internal/parser"
)

func parse(t *testing.T, raw string) *parser.Message {
	t.Helper()
	msg, err := parser.Parse([]byte(strings.ReplaceAll(raw, "\n", "\r\n")))
	require.NoError(t, err)
	return msg
}

const inlineImageMessage = `Message-ID: <inline@example.com>
Content-Type: multipart/related; boundary=rel

--rel
Content-Type: text/html; charset=utf-8

<p>Logo: <img src="cid:Logo@Example" alt="logo"> missing: <img src="cid:nothing@here"></p>
<a href="CID:doc@example">doc</a>
--rel
Content-Type: image/png
Content-ID: <logo@example>
Content-Transfer-Encoding: base64

aGVsbG8=
--rel
Content-Type: application/pdf
Content-ID: <doc@example>

%PDF
--rel--
`

// TestDecodeText tests charset decoding and lossy fallbacks
func TestDecodeText(t *testing.T) {
	tests := []struct {
		name     string
		charset  string
		input    []byte
		want     string
		degraded bool
	}{
		{"utf-8", "UTF-8", []byte("café"), "café", false},
		{"absent charset", "", []byte("plain ascii"), "plain ascii", false},
		{"windows-1252", "windows-1252", []byte("caf\xe9 \x93quoted\x94"), "café “quoted”", false},
		{"iso-8859-1", "ISO-8859-1", []byte("na\xefve"), "naïve", false},
		{"invalid utf-8", "utf-8", []byte("bad \xff byte"), "bad � byte", true},
		{"unknown charset", "x-made-up", []byte("still \xfe readable"), "still � readable", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeText(tt.charset, tt.input)
			assert.Equal(t, tt.want, got)
			if tt.degraded {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestNormalize_Alternative tests plain and html leaves of an alternative message
func TestNormalize_Alternative(t *testing.T) {
	msg := parse(t, `Message-ID: <a@example.com>
Content-Type: multipart/alternative; boundary=b

--b
Content-Type: text/plain; charset=utf-8

Hello
world
--b
Content-Type: text/html; charset=utf-8

<b>Hello</b><script>alert(1)</script>
--b--
`)
	NewNormalizer("").Normalize(msg)

	plain, html := msg.Root.Children[0], msg.Root.Children[1]
	assert.Equal(t, "Hello\nworld", plain.Text, "line endings normalized to LF")
	assert.Equal(t, "<b>Hello</b>", html.Text)
	assert.Empty(t, plain.Degraded)
	assert.Empty(t, html.Degraded)
}

// TestNormalize_CIDRewrite tests that cid: references resolve to part locators
func TestNormalize_CIDRewrite(t *testing.T) {
	msg := parse(t, inlineImageMessage)
	NewNormalizer("/api/messages/").Normalize(msg)

	html := msg.Root.Children[0].Text
	assert.Contains(t, html, `src="/api/messages/inline@example.com/parts/2"`, "Content-ID matching ignores case and brackets")
	assert.Contains(t, html, `href="/api/messages/inline@example.com/parts/3"`)
	assert.Contains(t, html, `alt="logo"`)
	assert.NotContains(t, strings.ToLower(html), "cid:", "unmatched references are dropped by the sanitizer")

	// Non-text leaves keep their bytes and get no text.
	img := msg.Root.Children[1]
	assert.Equal(t, "hello", string(img.Body))
	assert.Empty(t, img.Text)
}

// TestNormalize_LocatorIsStable tests that re-normalizing the same message gives the same output
func TestNormalize_LocatorIsStable(t *testing.T) {
	n := NewNormalizer("messages")

	first := parse(t, inlineImageMessage)
	second := parse(t, inlineImageMessage)
	n.Normalize(first)
	n.Normalize(second)

	assert.Equal(t, first.Root.Children[0].Text, second.Root.Children[0].Text)
	assert.Equal(t, "messages/inline@example.com/parts/2", n.Locator("inline@example.com", 2))
	assert.Equal(t, "messages/a%2Fb/parts/0", n.Locator("a/b", 0), "message keys are path-escaped")
}

// TestNormalize_MissingMessageID tests that the root order stands in for the message key
func TestNormalize_MissingMessageID(t *testing.T) {
	raw := strings.Replace(inlineImageMessage, "Message-ID: <inline@example.com>\n", "", 1)
	msg := parse(t, raw)
	NewNormalizer("m").Normalize(msg)

	assert.Contains(t, msg.Root.Children[0].Text, `src="m/0/parts/2"`)
}

// TestNormalize_DegradedCharset tests that an unknown charset marks only that part
func TestNormalize_DegradedCharset(t *testing.T) {
	msg := parse(t, "Message-ID: <d@example.com>\nContent-Type: text/plain; charset=x-unknown\n\nabc\n")
	NewNormalizer("").Normalize(msg)

	assert.Equal(t, "abc\n", msg.Root.Text)
	require.NotEmpty(t, msg.Root.Degraded)
	assert.Contains(t, msg.Root.Degraded[0], "x-unknown")
}

// TestNormalize_Sanitization tests that active content is removed from html parts
func TestNormalize_Sanitization(t *testing.T) {
	tests := []struct {
		name             string
		input            string
		shouldContain    []string
		shouldNotContain []string
	}{
		{
			name:             "Script tag removal",
			input:            "<p>Hello</p><script>alert('XSS')</script>",
			shouldContain:    []string{"<p>Hello</p>"},
			shouldNotContain: []string{"<script>", "alert"},
		},
		{
			name:             "Event handler removal",
			input:            `<img src="https://example.com/x.png" onerror="alert('XSS')">`,
			shouldNotContain: []string{"onerror", "alert"},
		},
		{
			name:             "JavaScript protocol removal",
			input:            `<a href="javascript:alert('XSS')">Click</a>`,
			shouldContain:    []string{"Click"},
			shouldNotContain: []string{"javascript:"},
		},
		{
			name:             "Iframe removal",
			input:            `<iframe src="evil.com"></iframe>`,
			shouldNotContain: []string{"<iframe", "evil.com"},
		},
		{
			name:             "Safe content preservation",
			input:            `<p>Safe text</p><a href="https://example.com">Link</a><table><tr><td>cell</td></tr></table>`,
			shouldContain:    []string{"<p>Safe text</p>", "https://example.com", "Link", "<td>cell</td>"},
		},
	}

	n := NewNormalizer("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := parse(t, "Message-ID: <x@example.com>\nContent-Type: text/html\n\n"+tt.input+"\n")
			n.Normalize(msg)

			for _, s := range tt.shouldContain {
				assert.Contains(t, msg.Root.Text, s)
			}
			for _, s := range tt.shouldNotContain {
				assert.NotContains(t, msg.Root.Text, s)
			}
		})
	}
}
