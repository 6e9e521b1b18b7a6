package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	numericLiteral = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	stringLiteral  = regexp.MustCompile(`'[^']*'`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// Normalize reduces a query to its structural shape: literals become
// placeholders, whitespace collapses, case folds to upper. Queries that
// differ only in bound values normalize identically.
func Normalize(query string) string {
	q := stringLiteral.ReplaceAllString(query, "'?'")
	q = numericLiteral.ReplaceAllString(q, "?")
	q = whitespaceRun.ReplaceAllString(q, " ")
	return strings.ToUpper(strings.TrimSpace(q))
}

// Fingerprint hashes the normalized form for use as a cache and log key.
func Fingerprint(query string) string {
	return fingerprintNormalized(Normalize(query))
}

func fingerprintNormalized(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
