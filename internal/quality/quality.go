// Package quality gates translation results after strategy execution and
// before they reach the caller. It also exposes the brand-word preflight the
// orchestrator consults before making any network call.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shoplingo/shoplingo/internal/detector"
	"github.com/shoplingo/shoplingo/internal/protect"
)

// ProtectionFailedSentinel is the reserved value an endpoint response can
// carry when the protection round trip was abandoned upstream. The gate never
// lets it reach a caller.
const ProtectionFailedSentinel = "__PROTECTION_FAILED__"

// minDistinctRunes is the source length above which an identical
// source/translation pair is treated as incomplete. Very short strings
// ("OK", "FAQ") legitimately survive translation unchanged.
const minDistinctRunes = 4

// minDetectableRunes mirrors the detector's reliability floor; shorter
// outputs skip the language check.
const minDetectableRunes = 20

// Completeness is the verdict of one evaluation. Reason is empty when
// Complete is true.
type Completeness struct {
	Complete bool
	Reason   string
}

// Gate bundles the brand-word preflight, the sentinel substitution and the
// completeness heuristics. Build once and reuse; the language detector it
// carries is expensive to construct.
type Gate struct {
	det          *detector.Detector
	brandPattern *regexp.Regexp
	fallbackText string
}

// New builds a gate for the given brand terms and degraded-result fallback
// text. Both may be empty, disabling the corresponding check.
func New(brandWords []string, fallbackText string) *Gate {
	return &Gate{
		det:          detector.Shared(),
		brandPattern: compileBrandPattern(brandWords),
		fallbackText: fallbackText,
	}
}

func compileBrandPattern(words []string) *regexp.Regexp {
	var quoted []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	// The whole text must be brand terms, separated only by spaces or
	// light punctuation.
	return regexp.MustCompile(`(?i)^\s*(?:` + strings.Join(quoted, "|") + `)(?:[\s\-–—&+/.,]+(?:` + strings.Join(quoted, "|") + `))*[\s.!?]*$`)
}

// IsBrandOnly reports whether the source text consists entirely of configured
// brand terms. Such texts are returned untranslated, before any network call.
func (g *Gate) IsBrandOnly(text string) bool {
	if g == nil || g.brandPattern == nil || strings.TrimSpace(text) == "" {
		return false
	}
	return g.brandPattern.MatchString(text)
}

// ApplyFallback replaces the protection-failed sentinel with the configured
// fallback text, or with the source text when none is configured, so the
// sentinel never leaks to a caller as an empty result. The second return
// reports whether a substitution happened; callers then mark the result as
// original-but-successful.
func (g *Gate) ApplyFallback(source, translated string) (string, bool) {
	if strings.TrimSpace(translated) != ProtectionFailedSentinel {
		return translated, false
	}
	if g != nil && g.fallbackText != "" {
		return g.fallbackText, true
	}
	return source, true
}

// Evaluate runs the completeness heuristics over one result. wantTokens is
// the protection-token count recorded before the call; targetLang may be
// empty to skip the language check.
func (g *Gate) Evaluate(source, translated, targetLang string, wantTokens int) Completeness {
	trimmed := strings.TrimSpace(translated)
	if trimmed == "" {
		return Completeness{Reason: "translation is empty"}
	}

	src := strings.TrimSpace(source)
	if len([]rune(src)) >= minDistinctRunes && strings.EqualFold(src, trimmed) {
		return Completeness{Reason: "translation is identical to source"}
	}

	if got := protect.CountTokens(translated); got != wantTokens {
		return Completeness{Reason: fmt.Sprintf("placeholder count mismatch: expected %d, found %d", wantTokens, got)}
	}

	if reason, ok := g.languageMismatch(trimmed, targetLang); ok {
		return Completeness{Reason: reason}
	}

	return Completeness{Complete: true}
}

// languageMismatch reports a reason when the output is confidently detected
// as a language other than targetLang. Short or ambiguous outputs pass.
func (g *Gate) languageMismatch(text, targetLang string) (string, bool) {
	if g == nil || g.det == nil || targetLang == "" {
		return "", false
	}
	if len([]rune(text)) < minDetectableRunes {
		return "", false
	}
	detected, ok := g.det.DetectReliableISO(text)
	if !ok {
		return "", false
	}
	if !strings.EqualFold(detected, targetLang) {
		return fmt.Sprintf("expected %s but detected %s", strings.ToLower(targetLang), detected), true
	}
	return "", false
}
