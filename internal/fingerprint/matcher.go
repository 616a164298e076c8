package fingerprint

import (
	"sort"
	"strings"
	"unicode"
)

// Candidate is a stored signature that a query may be compared against
type Candidate struct {
	Hash      string
	Signature string
}

// Match is a scored candidate
type Match struct {
	Candidate
	Score float64
	Exact bool
}

// Tokens splits a canonical signature into its token set
func Tokens(signature string) map[string]struct{} {
	fields := strings.FieldsFunc(signature, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '<' || r == '>')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b| for two token sets. Two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is Jaccard over the token sets of two canonical signatures
func Similarity(a, b string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}

// Matcher ranks stored signatures against a query
type Matcher struct {
	cfg Config
}

// NewMatcher creates a matcher. An invalid config falls back to defaults.
func NewMatcher(cfg Config) *Matcher {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &Matcher{cfg: cfg}
}

// Config returns the matcher's configuration
func (m *Matcher) Config() Config {
	return m.cfg
}

// Rank scores candidates against the query signature and returns at most
// limit matches at or above the similarity floor, best first. A candidate
// whose hash equals queryHash scores 1.0 and is flagged exact. The sentinel
// pattern never matches.
func (m *Matcher) Rank(queryHash, querySignature string, candidates []Candidate, limit int) []Match {
	limit = m.cfg.ClampLimit(limit)
	if IsUnknown(queryHash) {
		return nil
	}
	if len(candidates) > m.cfg.CandidateCap {
		candidates = candidates[:m.cfg.CandidateCap]
	}

	query := Tokens(querySignature)
	var out []Match
	for _, c := range candidates {
		if IsUnknown(c.Hash) {
			continue
		}
		if c.Hash == queryHash {
			out = append(out, Match{Candidate: c, Score: 1.0, Exact: true})
			continue
		}
		score := Jaccard(query, Tokens(c.Signature))
		if score >= m.cfg.SimilarityFloor {
			out = append(out, Match{Candidate: c, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Hash < out[j].Hash
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
