package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "path with line and column",
			in:   "TypeError: Cannot read property 'x' of undefined at /home/dev/app/src/index.js:42:13",
			want: "typeerror: cannot read property 'x' of undefined at <path>",
		},
		{
			name: "bare file and line",
			in:   "ReferenceError at main.go:17",
			want: "referenceerror at <path>",
		},
		{
			name: "hex address",
			in:   "segfault at 0x7ffd5e8c9a10",
			want: "segfault at <addr>",
		},
		{
			name: "uuid",
			in:   "request 123e4567-e89b-12d3-a456-426614174000 failed",
			want: "request <uuid> failed",
		},
		{
			name: "iso timestamp",
			in:   "deadline exceeded at 2024-03-01T10:22:33.123Z",
			want: "deadline exceeded at <ts>",
		},
		{
			name: "clock time and numbers",
			in:   "retry 3 of 5 at 10:22:33",
			want: "retry <n> of <n> at <ts>",
		},
		{
			name: "line keyword",
			in:   "syntax error on line 88",
			want: "syntax error on line <n>",
		},
		{
			name: "whitespace collapse",
			in:   "  Connection   refused\n\tby peer ",
			want: "connection refused by peer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"TypeError: x is undefined at /srv/app/a.js:1:2",
		"panic: runtime error: index out of range [5] with length 3",
		"ECONNREFUSED 127.0.0.1:5432 at 2023-01-01 12:00:00",
		"goroutine 17 [running]: main.main() /tmp/x/main.go:12 +0x1d",
		strings.Repeat("é long message ", 400),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestFingerprintStable(t *testing.T) {
	h1, s1 := Fingerprint("Module not found: ./components/Header.tsx:12")
	h2, s2 := Fingerprint("Module not found: ./components/Header.tsx:12")
	assert.Equal(t, h1, h2)
	assert.Equal(t, s1, s2)
	assert.Len(t, h1, HashLength)

	// Differing only by volatile parts yields the same key.
	h3, _ := Fingerprint("Module not found: ./widgets/Footer.tsx:99")
	assert.Equal(t, h1, h3)

	h4, _ := Fingerprint("Module parse failed: ./components/Header.tsx:12")
	assert.NotEqual(t, h1, h4)
}

func TestFingerprintEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		h, s := Fingerprint(in)
		assert.Equal(t, types.UnknownSignature, h)
		assert.Equal(t, types.UnknownSignature, s)
		assert.True(t, IsUnknown(h))
	}
}

func TestFingerprintUnknownTextIsNotSentinel(t *testing.T) {
	for _, in := range []string{"Unknown", "  UNKNOWN\n", "unknown"} {
		h, s := Fingerprint(in)
		assert.Equal(t, "unknown", s)
		assert.False(t, IsUnknown(h), "input %q", in)
		assert.Len(t, h, HashLength)
	}
	h1, _ := Fingerprint("Unknown")
	h2, _ := Fingerprint("unknown")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, types.UnknownSignature, Hash(types.UnknownSignature))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("a b c", "c b a"))
	assert.Equal(t, 0.0, Similarity("a b", "c d"))
	assert.InDelta(t, 0.5, Similarity("a b c", "a b d"), 1e-9)
	assert.Equal(t, 0.0, Similarity("", ""))
}

func TestMatcherRank(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	qh, qs := Fingerprint("cannot read property 'name' of undefined in render")
	candidates := []Candidate{
		{Hash: "h-near", Signature: Normalize("cannot read property 'title' of undefined in render")},
		{Hash: "h-far", Signature: Normalize("connection reset by peer")},
		{Hash: qh, Signature: qs},
		{Hash: types.UnknownSignature, Signature: types.UnknownSignature},
	}

	got := m.Rank(qh, qs, candidates, 10)
	require.Len(t, got, 2)
	assert.True(t, got[0].Exact)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "h-near", got[1].Hash)
	assert.GreaterOrEqual(t, got[1].Score, 0.6)

	limited := m.Rank(qh, qs, candidates, 1)
	assert.Len(t, limited, 1)
}

func TestMatcherFloorConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityFloor = 0.95
	m := NewMatcher(cfg)

	qh, qs := Fingerprint("cannot read property 'name' of undefined in render")
	got := m.Rank(qh, qs, []Candidate{
		{Hash: "h-near", Signature: Normalize("cannot read property 'title' of undefined in render")},
	}, 5)
	assert.Empty(t, got)
}

func TestMatcherUnknownQuery(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	got := m.Rank(types.UnknownSignature, types.UnknownSignature, []Candidate{{Hash: "x", Signature: "unknown"}}, 5)
	assert.Nil(t, got)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.SimilarityFloor = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.CandidateCap = -1
	assert.Error(t, bad.Validate())

	assert.Equal(t, 5, DefaultConfig().ClampLimit(0))
	assert.Equal(t, 50, DefaultConfig().ClampLimit(1000))
}
