package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nebula-protocol/nebula/internal/types"
)

// HashLength is the number of hex characters kept from the SHA-256 digest (128 bits)
const HashLength = 32

// Placeholders substituted for volatile message fragments
const (
	PlaceholderUUID    = "<uuid>"
	PlaceholderTime    = "<ts>"
	PlaceholderAddr    = "<addr>"
	PlaceholderPath    = "<path>"
	PlaceholderNumber  = "<n>"
	maxSignatureLength = 2048
)

type substitution struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: timestamps before clock times, paths before bare numbers.
var substitutions = []substitution{
	{regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), PlaceholderUUID},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[t ]\d{2}:\d{2}(?::\d{2})?(?:[.,]\d+)?(?:z|[+-]\d{2}:?\d{2})?)?`), PlaceholderTime},
	{regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:[.,]\d+)?\b`), PlaceholderTime},
	{regexp.MustCompile(`\b0x[0-9a-f]+\b`), PlaceholderAddr},
	{regexp.MustCompile(`(?:[a-z]:)?(?:[\w.~-]*[/\\])+[\w.-]+(?::\d+){0,2}`), PlaceholderPath},
	{regexp.MustCompile(`\b[\w-]+\.[a-z]{1,6}:\d+(?::\d+)?\b`), PlaceholderPath},
	{regexp.MustCompile(`\bline \d+\b`), "line " + PlaceholderNumber},
	{regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), PlaceholderNumber},
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize returns the canonical signature of raw. It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return types.UnknownSignature
	}
	s = strings.ToLower(s)
	for _, sub := range substitutions {
		s = sub.re.ReplaceAllString(s, sub.repl)
	}
	s = whitespace.ReplaceAllString(s, " ")
	if len(s) > maxSignatureLength {
		n := maxSignatureLength
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return types.UnknownSignature
	}
	return s
}

// Hash returns the exact-match key for a canonical signature. It never
// returns the sentinel: a message that reads "unknown" is a real error.
func Hash(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Fingerprint returns the hash and canonical signature of a raw message.
// Only an empty or whitespace-only message gets the sentinel.
func Fingerprint(raw string) (hash, signature string) {
	if strings.TrimSpace(raw) == "" {
		return types.UnknownSignature, types.UnknownSignature
	}
	signature = Normalize(raw)
	return Hash(signature), signature
}

// IsUnknown reports whether hash is the empty-message sentinel
func IsUnknown(hash string) bool {
	return hash == types.UnknownSignature
}
