// Package postprocess strips common LLM artifacts from raw endpoint output
// before the quality gate sees it: reasoning blocks, echoed instructions,
// and wrapping quotes.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean normalizes raw model output and returns the trimmed result.
func Clean(text string) string {
	text = stripReasoningBlocks(text)
	text = stripEchoedPreamble(text)
	text = stripWrappingQuotes(text)
	return strings.TrimSpace(text)
}

// reReasoning matches complete <think>…</think> style blocks. Each tag
// variant is listed explicitly because RE2 has no backreferences.
var reReasoning = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>`,
)

// reTruncatedReasoning matches an opened reasoning tag whose closing tag
// never arrived (the model was cut off mid-thought).
var reTruncatedReasoning = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>).*$`,
)

func stripReasoningBlocks(text string) string {
	text = reReasoning.ReplaceAllString(text, "")
	text = reTruncatedReasoning.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// preamblePatterns match introductory phrases models prepend even when told
// not to. Anchored to the start and requiring a colon to avoid eating
// legitimate content.
var preamblePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:translation|translated text)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:translated )?(?:translation|text)\s*:`),
}

func stripEchoedPreamble(text string) string {
	for _, re := range preamblePatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// stripWrappingQuotes removes one matching pair of outer quotes when the
// whole text is wrapped in them. Supported pairs: "…" '…' «…» "…" '…'
func stripWrappingQuotes(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
