// Package detector wraps lingua-go language detection behind a small API
// returning ISO 639-1 codes. Building the detector is expensive; construct
// one Detector and share it.
package detector

import (
	"strings"
	"sync"

	lingua "github.com/pemistahl/lingua-go"
)

// minReliableRunes is the shortest text worth detecting. Below this the
// detector's confidence is too low to act on (short strings such as
// configuration keys or single words routinely misdetect).
const minReliableRunes = 20

type Detector struct {
	detector lingua.LanguageDetector
}

var (
	sharedOnce sync.Once
	shared     *Detector
)

// New builds a detector over all languages lingua supports.
func New() *Detector {
	det := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: det}
}

// Shared returns a lazily built process-wide detector. The model load costs
// hundreds of milliseconds, so callers on the request path use this.
func Shared() *Detector {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

// Detect returns the most likely language of text.
func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if d == nil || strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lowercase ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// DetectReliableISO is DetectISO restricted to texts long enough for the
// detection to be trustworthy; shorter texts report ok=false.
func (d *Detector) DetectReliableISO(text string) (string, bool) {
	if len([]rune(strings.TrimSpace(text))) < minReliableRunes {
		return "", false
	}
	return d.DetectISO(text)
}
