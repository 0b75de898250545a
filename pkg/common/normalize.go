package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CollapseWhitespace trims s and replaces every whitespace run with one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeName returns the identity form of an entity name: NFKC, case folded,
// whitespace collapsed.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return CollapseWhitespace(s)
}

// NormalizeContent applies the same normalization to highlight text before
// fingerprinting.
func NormalizeContent(s string) string {
	return NormalizeName(s)
}

// Fingerprint is the content address of a highlight.
type Fingerprint string

// FingerprintOf hashes the normalized content of a highlight text. Two texts
// differing only in case or whitespace share a fingerprint.
func FingerprintOf(content string) Fingerprint {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// BatchFingerprint hashes an ordered list of fingerprints into one key.
func BatchFingerprint(fps []Fingerprint) Fingerprint {
	h := sha256.New()
	for _, fp := range fps {
		h.Write([]byte(fp))
		h.Write([]byte{'\n'})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Fingerprint returns the content fingerprint of the highlight.
func (h Highlight) Fingerprint() Fingerprint {
	return FingerprintOf(h.Content)
}
