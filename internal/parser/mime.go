package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

func init() {
	// Register additional charsets that are commonly used in emails
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
	charset.RegisterEncoding("shift_jis", japanese.ShiftJIS)
	charset.RegisterEncoding("iso-2022-jp", japanese.ISO2022JP)
	charset.RegisterEncoding("euc-jp", japanese.EUCJP)
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("big5", traditionalchinese.Big5)
	charset.RegisterEncoding("euc-kr", korean.EUCKR)
}

// treeBuilder assigns depth-first orders while building a part tree.
type treeBuilder struct {
	next int
}

// build parses one entity. defaultType applies when Content-Type is absent
// ("message/rfc822" inside multipart/digest, "text/plain" elsewhere).
func (b *treeBuilder) build(h textproto.Header, body []byte, parentOrder int, defaultType string) *Part {
	p := &Part{Order: b.next, ParentOrder: parentOrder}
	b.next++

	describe(p, h, defaultType)

	if p.MediaType == "multipart" {
		sections, err := splitMultipart(body, p.Params["boundary"])
		if err == nil || len(sections) > 0 {
			p.Kind = KindContainer
			if err != nil {
				p.MarkDegraded(err.Error())
			}
			childDefault := "text/plain"
			if p.SubType == "digest" {
				childDefault = "message/rfc822"
			}
			for _, s := range sections {
				p.Children = append(p.Children, b.build(s.header, s.body, p.Order, childDefault))
			}
			return p
		}
		// Keep the body as one opaque leaf so it can still be shown.
		p.Kind = KindLeaf
		p.Body = body
		p.MarkDegraded(err.Error())
		return p
	}

	p.Kind = KindLeaf
	decoded, err := decodeTransfer(h.Get("Content-Transfer-Encoding"), body)
	if err != nil {
		p.MarkDegraded(err.Error())
	}
	p.Body = decoded
	return p
}

// describe fills the content metadata of p from its header.
func describe(p *Part, h textproto.Header, defaultType string) {
	mh := message.Header{Header: h}

	mediaType, params, err := mh.ContentType()
	if h.Get("Content-Type") == "" {
		mediaType, params, err = defaultType, nil, nil
	}
	if err != nil {
		// Unparseable parameters; keep the media type when there is one.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(h.Get("Content-Type"), ";", 2)[0]))
		p.MarkDegraded("invalid content type: " + err.Error())
	}
	typ, sub, ok := strings.Cut(mediaType, "/")
	if !ok || typ == "" || sub == "" {
		typ, sub = "text", "plain"
	}
	p.MediaType, p.SubType = typ, sub
	if params == nil {
		params = map[string]string{}
	}
	p.Params = params
	p.Charset = strings.ToLower(params["charset"])

	disposition, _, _ := mh.ContentDisposition()
	p.Disposition = disposition
	ah := mail.AttachmentHeader{Header: mh}
	// Filename also reports a missing Content-Disposition as an error
	// after falling back to the Content-Type name parameter.
	p.Filename, _ = ah.Filename()
	p.ContentID = trimMsgID(h.Get("Content-Id"))
	p.Attachment = disposition == "attachment" || p.Filename != ""
}

type section struct {
	header textproto.Header
	body   []byte
}

var (
	errInvalidBoundary = errors.New("invalid multipart boundary")
	errNoBodyParts     = errors.New("multipart body has no delimiter")
)

// splitMultipart splits body on boundary. Sections read before an error
// are returned along with it.
func splitMultipart(body []byte, boundary string) ([]section, error) {
	if !validBoundary(boundary) {
		return nil, errInvalidBoundary
	}

	mr := textproto.NewMultipartReader(bytes.NewReader(body), boundary)
	var sections []section
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(sections) == 0 {
				return nil, errNoBodyParts
			}
			return sections, errors.New("unterminated multipart body")
		}
		data, err := io.ReadAll(part)
		sections = append(sections, section{header: part.Header, body: data})
		if err != nil {
			return sections, errors.New("unterminated multipart body")
		}
	}
	if len(sections) == 0 {
		return nil, errNoBodyParts
	}
	return sections, nil
}

// validBoundary checks the RFC 2046 boundary syntax.
func validBoundary(b string) bool {
	if b == "" || len(b) > 70 || strings.HasSuffix(b, " ") {
		return false
	}
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("'()+_,-./:=? ", c):
		default:
			return false
		}
	}
	return true
}

// decodeTransfer undoes the Content-Transfer-Encoding. Malformed input is
// decoded as far as possible and reported through the error.
func decodeTransfer(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return decodeBase64(body)
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body, errors.New("malformed quoted-printable, kept raw bytes")
		}
		return out, nil
	case "", "7bit", "8bit", "binary":
		return body, nil
	default:
		return body, errors.New("unknown transfer encoding " + encoding)
	}
}

// decodeBase64 drops characters outside the alphabet and any incomplete
// trailing quantum.
func decodeBase64(body []byte) ([]byte, error) {
	clean := make([]byte, 0, len(body))
	dirty := false
	for _, c := range body {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/':
			clean = append(clean, c)
		case c == '=', c == '\r', c == '\n', c == ' ', c == '\t':
		default:
			dirty = true
		}
	}
	if rem := len(clean) % 4; rem == 1 {
		clean = clean[:len(clean)-1]
		dirty = true
	}
	out, err := base64.RawStdEncoding.DecodeString(string(clean))
	if err != nil {
		return body, errors.New("malformed base64, kept raw bytes")
	}
	if dirty {
		return out, errors.New("malformed base64")
	}
	return out, nil
}
