package translator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shoplingo/shoplingo/internal/protect"
)

// SimplePrompt is the minimal instruction used for short plain strings such
// as option names and configuration keys.
func SimplePrompt(sourceLang, targetLang string) string {
	src := sourceLang
	if src == "" || src == "auto" {
		src = "the detected language"
	}
	return fmt.Sprintf(
		"You are a professional translator. Translate the following text from %s to %s. "+
			"Only respond with the translation, nothing else. No explanations, no quotes, just the translation.",
		src, targetLang)
}

// EnhancedPrompt extends SimplePrompt with the placeholder-preservation
// instruction and optional terminology so masked markup survives the round
// trip.
func EnhancedPrompt(sourceLang, targetLang string, glossary map[string]string) string {
	var sb strings.Builder
	sb.WriteString(SimplePrompt(sourceLang, targetLang))
	sb.WriteString(" ")
	sb.WriteString(protect.InstructionHint())

	if len(glossary) > 0 {
		// Emit terms in sorted order: the prompt is part of the request
		// fingerprint, so identical inputs must yield identical prompts.
		keys := make([]string, 0, len(glossary))
		for src := range glossary {
			keys = append(keys, src)
		}
		sort.Strings(keys)

		sb.WriteString("\n\nTERMINOLOGY (use these exact translations):\n")
		for _, src := range keys {
			sb.WriteString(fmt.Sprintf("  %s → %s\n", src, glossary[src]))
		}
	}

	return sb.String()
}

// StrictPrompt is used for the single completeness retry. It repeats the
// placeholder rule and forbids partial output.
func StrictPrompt(sourceLang, targetLang string) string {
	return SimplePrompt(sourceLang, targetLang) + " " + protect.InstructionHint() +
		" Translate the ENTIRE text. Do not omit, summarize, or leave any part untranslated."
}
