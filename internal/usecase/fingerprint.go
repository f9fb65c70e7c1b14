package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// fingerprintVersion is baked into the key derivation so a future change to
// the result schema or the tuple layout never collides with stale entries.
const fingerprintVersion = 1

// normalizeText lower-cases, trims and collapses runs of whitespace, so
// "Fever, cough" and " fever,  cough " fingerprint identically.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// fingerprint derives the deterministic cache key for a normalized request
// tuple. Everything that changes the answer — input, patient context, model
// and tuning — is part of the digest.
func fingerprint(prefix, symptoms string, age *int, sex, duration, model string, temperature float32, maxTokens int) string {
	ageField := "-"
	if age != nil {
		ageField = strconv.Itoa(*age)
	}
	tuple := fmt.Sprintf("v%d|symptoms=%s|age=%s|sex=%s|duration=%s|model=%s|temp=%s|max_tokens=%d",
		fingerprintVersion,
		normalizeText(symptoms),
		ageField,
		normalizeText(sex),
		normalizeText(duration),
		model,
		strconv.FormatFloat(float64(temperature), 'f', -1, 32),
		maxTokens,
	)
	digest := sha256.Sum256([]byte(tuple))
	return prefix + ":" + hex.EncodeToString(digest[:])
}
