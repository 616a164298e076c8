// Package aggregator is the contract between a project's sync engine and the
// central pattern aggregator: wire types, an HTTP client and an in-memory
// reference server.
//
// Only anonymized aggregates cross this boundary. A push carries pattern
// hashes, canonical signatures, occurrence counts and effectiveness
// statistics; never raw messages, stack traces or paths.
package aggregator

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
)

// Routes served by the aggregator
const (
	BatchPath    = "/v1/patterns/batch"
	PatternsPath = "/v1/patterns"
)

// ProjectIDHash is the only project identity the aggregator ever sees
func ProjectIDHash(projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return hex.EncodeToString(sum[:])
}

// EffectivenessStats summarizes a project's solutions for one pattern
type EffectivenessStats struct {
	Count int     `json:"count" binding:"min=0"`
	Mean  float64 `json:"mean" binding:"min=0,max=5"`
	Min   int     `json:"min" binding:"min=0,max=5"`
	Max   int     `json:"max" binding:"min=0,max=5"`
}

// PatternPayload is one pattern aggregate in a push
type PatternPayload struct {
	FingerprintHash    string             `json:"fingerprintHash" binding:"required,len=32,hexadecimal"`
	CanonicalSignature string             `json:"canonicalSignature" binding:"required,max=4096"`
	OccurrenceCount    int                `json:"occurrenceCount" binding:"min=1"`
	EffectivenessStats EffectivenessStats `json:"effectivenessStats"`
}

// PushRequest is the body of POST /v1/patterns/batch. Watermark is the
// highest local change sequence in the batch; replaying a watermark the
// aggregator already holds is a no-op.
type PushRequest struct {
	ProjectIDHash string           `json:"projectIdHash" binding:"required,len=64,hexadecimal"`
	Watermark     int64            `json:"watermark" binding:"min=1"`
	Patterns      []PatternPayload `json:"patterns" binding:"required,max=1000,dive"`
}

// PushResponse acknowledges a batch
type PushResponse struct {
	AckWatermark int64 `json:"ackWatermark"`
	Accepted     int   `json:"accepted"`
	Duplicates   int   `json:"duplicates"`
	Conflicts    int   `json:"conflicts"`
}

// GlobalPattern is a pattern as seen across all contributing projects
type GlobalPattern struct {
	FingerprintHash       string    `json:"fingerprintHash"`
	CanonicalSignature    string    `json:"canonicalSignature"`
	GlobalOccurrenceCount int       `json:"globalOccurrenceCount"`
	ProjectCount          int       `json:"projectCount"`
	AvgEffectiveness      float64   `json:"avgEffectiveness"`
	SuggestedSolutionRef  string    `json:"suggestedSolutionRef,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// PullResponse is the body of GET /v1/patterns
type PullResponse struct {
	Patterns   []GlobalPattern `json:"patterns"`
	ServerTime time.Time       `json:"serverTime"`
}

// PullQuery selects patterns positioned after (Since, AfterHash) in update
// order. Entries updated exactly at Since are kept when their hash sorts
// after AfterHash, so a page boundary inside a group of equal timestamps
// loses nothing.
type PullQuery struct {
	Since     time.Time
	AfterHash string
	Exclude   string // project hash whose sole contributions are left out
	Limit     int
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewPushRequest converts a local batch into its wire form
func NewPushRequest(projectIDHash string, batch *types.SyncBatch) *PushRequest {
	req := &PushRequest{
		ProjectIDHash: projectIDHash,
		Watermark:     batch.MaxSeq,
		Patterns:      make([]PatternPayload, 0, len(batch.Patterns)),
	}
	for _, p := range batch.Patterns {
		req.Patterns = append(req.Patterns, PatternPayload{
			FingerprintHash:    p.FingerprintHash,
			CanonicalSignature: p.CanonicalSignature,
			OccurrenceCount:    p.OccurrenceCount,
			EffectivenessStats: EffectivenessStats(p.Effectiveness),
		})
	}
	return req
}

// KnownPattern converts a pulled pattern into a catalogue entry
func (g GlobalPattern) KnownPattern() types.KnownPattern {
	return types.KnownPattern{
		FingerprintHash:       g.FingerprintHash,
		CanonicalSignature:    g.CanonicalSignature,
		Source:                types.SourceCentral,
		GlobalOccurrenceCount: g.GlobalOccurrenceCount,
		ProjectCount:          g.ProjectCount,
		AvgEffectiveness:      g.AvgEffectiveness,
		SuggestedSolutionRef:  g.SuggestedSolutionRef,
		UpdatedAt:             g.UpdatedAt,
	}
}
