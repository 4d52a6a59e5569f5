package client

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint derives the deterministic cache/dedup key for a request. Text
// is NFC-normalized and trimmed first so visually identical inputs collapse
// to one key. Field values are length-prefix separated to rule out
// concatenation collisions.
func Fingerprint(text, targetLang, systemPrompt, strategy string) string {
	h := sha256.New()
	for _, field := range []string{
		norm.NFC.String(strings.TrimSpace(text)),
		strings.ToLower(strings.TrimSpace(targetLang)),
		systemPrompt,
		strategy,
	} {
		var lenBuf [8]byte
		n := len(field)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
