// Package protect reversibly masks substrings that must survive a translation
// round trip unmodified: HTML/XML tags, fenced code blocks, inline code spans,
// URLs, template placeholders ({{var}}, %s-style verbs) and configured brand
// terms. Each protected substring is replaced with a numbered ⟦PH-n⟧ token;
// the LLM prompt instructs the model to leave the tokens intact, and Restore
// puts the originals back afterwards.
package protect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// fenced code blocks: ```...``` (non-greedy, may span lines)
	reFencedCode = regexp.MustCompile("(?s)```.*?```")

	// inline code spans: `...`
	reInlineCode = regexp.MustCompile("`[^`]+`")

	// HTML/XML tags: opening, closing, and self-closing
	reHTMLTag = regexp.MustCompile(`<[^>]+>`)

	// bare URLs
	reURL = regexp.MustCompile(`https?://[^\s<>"']+`)

	// template placeholders: {{var}}, {var}, %s, %d, %1$s
	reTemplate = regexp.MustCompile(`\{\{[^{}]*\}\}|\{[a-zA-Z_][a-zA-Z0-9_.]*\}|%(?:\d+\$)?[sdvfqxt]`)

	// protection token in translated text
	reToken = regexp.MustCompile(`\x{27E6}PH-(\d+)\x{27E7}`)
)

// Map records the substrings captured by Protect, keyed by token index.
// One Map is created per request and discarded after Restore.
type Map struct {
	originals []string
}

// Len reports how many substrings were protected.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.originals)
}

// Token returns the opaque token for index i.
func Token(i int) string {
	return fmt.Sprintf("⟦PH-%d⟧", i)
}

// Codec masks and restores protected substrings. The zero value protects
// markup, code, URLs and template placeholders; AddTerms extends it with
// literal terms such as brand names.
type Codec struct {
	terms []*regexp.Regexp
}

// NewCodec builds a codec that additionally protects the given literal terms
// (matched case-insensitively on word boundaries).
func NewCodec(terms []string) *Codec {
	c := &Codec{}
	c.AddTerms(terms)
	return c
}

// AddTerms registers literal terms to protect in subsequent Protect calls.
// Empty terms are ignored.
func (c *Codec) AddTerms(terms []string) {
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		c.terms = append(c.terms, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(t)+`\b`))
	}
}

// Protect replaces protectable substrings with ⟦PH-n⟧ tokens in the order
// they appear and returns the masked text with the Map needed to restore it.
// Ordering matters: fenced blocks first (longest match), then inline code,
// tags, URLs, templates, and finally configured terms.
func (c *Codec) Protect(text string) (string, *Map) {
	m := &Map{}

	replace := func(match string) string {
		token := Token(len(m.originals))
		m.originals = append(m.originals, match)
		return token
	}

	text = reFencedCode.ReplaceAllStringFunc(text, replace)
	text = reInlineCode.ReplaceAllStringFunc(text, replace)
	text = reHTMLTag.ReplaceAllStringFunc(text, replace)
	text = reURL.ReplaceAllStringFunc(text, replace)
	text = reTemplate.ReplaceAllStringFunc(text, replace)
	for _, re := range c.terms {
		text = re.ReplaceAllStringFunc(text, replace)
	}

	return text, m
}

// Restore substitutes ⟦PH-n⟧ tokens back with the originals captured by
// Protect. Restoration fails closed: tokens with out-of-range indices are
// left in place, and tokens the endpoint dropped or corrupted are reported
// through Missing, never guessed at.
func (c *Codec) Restore(text string, m *Map) string {
	if m == nil || len(m.originals) == 0 {
		return text
	}
	return reToken.ReplaceAllStringFunc(text, func(match string) string {
		sub := reToken.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(m.originals) {
			return match
		}
		return m.originals[idx]
	})
}

// Missing returns the indices of tokens created by Protect that no longer
// appear in text. A non-empty result means the endpoint altered or dropped
// protected content and the restoration is partial.
func (c *Codec) Missing(text string, m *Map) []int {
	var missing []int
	for i := range m.originals {
		if !strings.Contains(text, Token(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// InstructionHint returns the prompt sentence that tells the model to keep
// protection tokens verbatim.
func InstructionHint() string {
	return "Preserve all ⟦PH-n⟧ tokens exactly as they appear. Do not translate, move, or remove them."
}

// CountTokens reports how many protection tokens occur in text.
func CountTokens(text string) int {
	return len(reToken.FindAllString(text, -1))
}
