package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/felo/mail-indexer/internal/parser"
)

// DefaultStopwords is used when stopword filtering is enabled without an
// explicit list.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
	"has", "have", "i", "if", "in", "is", "it", "its", "of", "on", "or",
	"so", "that", "the", "this", "to", "was", "we", "were", "will", "with",
	"you", "your",
}

// Tokenizer splits text into normalized words. The zero value keeps
// stopwords.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer returns a tokenizer. With filterStopwords set, words in
// stopwords (or DefaultStopwords when empty) are dropped.
func NewTokenizer(filterStopwords bool, stopwords []string) *Tokenizer {
	t := &Tokenizer{}
	if !filterStopwords {
		return t
	}
	if len(stopwords) == 0 {
		stopwords = DefaultStopwords
	}
	t.stopwords = make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		for _, n := range t.split(w) {
			t.stopwords[n] = struct{}{}
		}
	}
	return t
}

// Normalize applies NFKC and Unicode case folding.
func Normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// Tokens returns the normalized words of text in order. Anything that is
// not a letter or digit separates words.
func (t *Tokenizer) Tokens(text string) []string {
	words := t.split(text)
	if len(t.stopwords) == 0 {
		return words
	}
	kept := words[:0]
	for _, w := range words {
		if _, stop := t.stopwords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return kept
}

func (t *Tokenizer) split(text string) []string {
	return strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
}

// Frequencies counts the words of text.
func (t *Tokenizer) Frequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, w := range t.Tokens(text) {
		freq[w]++
	}
	return freq
}

// PlainText joins the text of every text/plain leaf that is not an
// attachment, in document order. HTML parts are left out.
func PlainText(root *parser.Part) string {
	var texts []string
	parser.Walk(root, func(p *parser.Part) {
		if !p.IsText() || p.SubType != "plain" || p.Attachment {
			return
		}
		texts = append(texts, p.Text)
	})
	return strings.Join(texts, "\n")
}
