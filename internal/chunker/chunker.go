// Package chunker splits oversized texts into independently translatable,
// order-preserving segments. Splitting is lossless: concatenating segment
// texts in index order reproduces the original input byte for byte, so the
// orchestrator can reassemble per-segment translations without guessing at
// separators.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// Segment is one ordered piece of a split text.
type Segment struct {
	Index int
	Text  string
}

var (
	reTag = regexp.MustCompile(`<[^>]+>`)

	// Block-element edges are the preferred split boundaries in markup mode.
	reBlockEdge = regexp.MustCompile(`(?i)(</p>|</div>|</li>|</ul>|</ol>|</h[1-6]>|</tr>|</table>|<br\s*/?>)`)
)

// Protection tokens must never be split in half.
const (
	tokenOpen  = "⟦"
	tokenClose = "⟧"
)

// IsLikelyMarkup reports whether text appears to carry HTML/XML structure
// that chunk boundaries should respect.
func IsLikelyMarkup(text string) bool {
	tags := reTag.FindAllString(text, -1)
	if len(tags) == 0 {
		return false
	}
	if len(tags) >= 3 {
		return true
	}
	for _, tag := range tags {
		if strings.HasPrefix(tag, "</") || strings.HasSuffix(tag, "/>") {
			return true
		}
	}
	return false
}

// Chunk splits text into segments of at most maxChars unicode code points
// each. Boundaries are chosen (in order of preference) at:
//  1. Block-element edges, when the text looks like markup
//  2. Paragraph boundaries (\n\n)
//  3. Sentence-ending punctuation followed by whitespace
//  4. Whitespace (word boundary)
//  5. A hard cut at maxChars
//
// A boundary is never placed inside a ⟦PH-n⟧ protection token. If maxChars
// ≤ 0 or the text already fits, a single segment is returned.
func Chunk(text string, maxChars int) []Segment {
	if maxChars <= 0 || len([]rune(text)) <= maxChars {
		return []Segment{{Index: 0, Text: text}}
	}

	markup := IsLikelyMarkup(text)

	var segments []Segment
	remaining := text
	for len([]rune(remaining)) > maxChars {
		split := findSplit(remaining, maxChars, markup)
		split = avoidToken(remaining, split)
		segments = append(segments, Segment{Index: len(segments), Text: remaining[:split]})
		remaining = remaining[split:]
	}
	if remaining != "" {
		segments = append(segments, Segment{Index: len(segments), Text: remaining})
	}

	return segments
}

// Join reassembles per-segment texts in index order. Segments may be passed
// in any order; the result respects Segment.Index, not slice position.
func Join(segments []Segment) string {
	ordered := make([]string, len(segments))
	for _, seg := range segments {
		if seg.Index >= 0 && seg.Index < len(ordered) {
			ordered[seg.Index] = seg.Text
		}
	}
	return strings.Join(ordered, "")
}

// findSplit returns the byte offset at which to split text, aiming for at
// most maxChars runes. It searches backwards through the candidate prefix
// for the best boundary.
func findSplit(text string, maxChars int, markup bool) int {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return len(text)
	}
	candidate := string(runes[:maxChars])

	// 1. Block-element edge (markup mode only): split just after the tag.
	if markup {
		if locs := reBlockEdge.FindAllStringIndex(candidate, -1); len(locs) > 0 {
			last := locs[len(locs)-1]
			if last[1] > 0 && last[1] < len(candidate) {
				return last[1]
			}
		}
	}

	// 2. Paragraph boundary: include the blank line in the consumed part.
	if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
		return idx + 2
	}

	// 3. Sentence-ending punctuation followed by whitespace.
	cr := []rune(candidate)
	for i := len(cr) - 2; i > 0; i-- {
		r := cr[i]
		if (r == '.' || r == '!' || r == '?') && unicode.IsSpace(cr[i+1]) {
			return len(string(cr[:i+1]))
		}
	}

	// 4. Whitespace word boundary.
	for i := len(cr) - 1; i > 0; i-- {
		if unicode.IsSpace(cr[i]) {
			return len(string(cr[:i]))
		}
	}

	// 5. Hard cut.
	return len(candidate)
}

// avoidToken moves a split point that lands inside a ⟦PH-n⟧ token to the
// token's start, or past its end when the token begins the text.
func avoidToken(text string, split int) int {
	open := strings.LastIndex(text[:split], tokenOpen)
	if open == -1 {
		return split
	}
	closeIdx := strings.Index(text[open:], tokenClose)
	if closeIdx == -1 {
		return split
	}
	end := open + closeIdx + len(tokenClose)
	if end <= split {
		// Token closed before the split point; boundary is safe.
		return split
	}
	if open > 0 {
		return open
	}
	return end
}
