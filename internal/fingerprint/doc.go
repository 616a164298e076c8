// Package fingerprint reduces raw error messages to stable signatures.
//
// # Overview
//
// Fingerprint normalizes a message by lower-casing it and replacing the parts
// that vary between otherwise identical errors (UUIDs, timestamps, hex
// addresses, file paths with line numbers, bare integers) with placeholders.
// The normalized text is the canonical signature; its truncated SHA-256 is the
// exact-match key used by the store.
//
// # Matching
//
// Exact lookups hit the hash. When the hash misses, Matcher ranks stored
// canonical signatures by token-set Jaccard similarity and keeps the best
// matches at or above the configured floor (default 0.6).
//
// Empty or whitespace-only messages map to the "unknown" sentinel and are
// never aggregated into a pattern.
package fingerprint
