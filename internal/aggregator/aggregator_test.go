package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func payload(msg string, occurrences int) PatternPayload {
	hash, sig := fingerprint.Fingerprint(msg)
	return PatternPayload{FingerprintHash: hash, CanonicalSignature: sig, OccurrenceCount: occurrences}
}

type fixture struct {
	server *Server
	client *Client
	clock  *time.Time
}

func newFixture(t *testing.T, opts ...ServerOption) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}
	opts = append(opts, WithServerClock(func() time.Time { return *f.clock }))
	f.server = NewServer(opts...)
	ts := httptest.NewServer(f.server.Router())
	t.Cleanup(ts.Close)

	var err error
	f.client, err = NewClient(ts.URL, WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return f
}

func (f *fixture) tick() {
	*f.clock = f.clock.Add(time.Minute)
}

func TestProjectIDHash(t *testing.T) {
	h := ProjectIDHash("web")
	assert.Len(t, h, 64)
	assert.Equal(t, h, ProjectIDHash("web"))
	assert.NotEqual(t, h, ProjectIDHash("api"))
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "   ", "ftp://central", "not a url"} {
		_, err := NewClient(endpoint)
		assert.ErrorIs(t, err, types.ErrFatalConfig, endpoint)
	}
	c, err := NewClient("https://central.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://central.example.com", c.Endpoint())
}

func TestNewPushRequest(t *testing.T) {
	batch := &types.SyncBatch{
		MaxSeq: 9,
		Patterns: []types.PatternAggregate{{
			Seq: 9, FingerprintHash: "abc", CanonicalSignature: "boom <n>", OccurrenceCount: 3,
			Effectiveness: types.EffectivenessStats{Count: 2, Mean: 4.5, Min: 4, Max: 5},
		}},
	}
	req := NewPushRequest("p", batch)
	assert.Equal(t, int64(9), req.Watermark)
	require.Len(t, req.Patterns, 1)
	assert.Equal(t, EffectivenessStats{Count: 2, Mean: 4.5, Min: 4, Max: 5}, req.Patterns[0].EffectivenessStats)
}

func TestPushIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := ProjectIDHash("web")

	req := &PushRequest{ProjectIDHash: project, Watermark: 3, Patterns: []PatternPayload{
		payload("disk full", 2),
		payload("connection reset by peer", 5),
	}}

	resp, err := f.client.PushBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, PushResponse{AckWatermark: 3, Accepted: 2}, *resp)

	resp, err = f.client.PushBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, PushResponse{AckWatermark: 3, Duplicates: 2}, *resp)

	g, ok := f.server.Pattern(req.Patterns[1].FingerprintHash)
	require.True(t, ok)
	assert.Equal(t, 5, g.GlobalOccurrenceCount, "replay does not double count")

	// Same counts under a newer watermark are duplicates too
	req.Watermark = 4
	resp, err = f.client.PushBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Duplicates)
	assert.Equal(t, int64(4), resp.AckWatermark)
}

func TestPushAggregatesAcrossProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := payload("context deadline exceeded", 4)
	a.EffectivenessStats = EffectivenessStats{Count: 1, Mean: 5, Min: 5, Max: 5}
	b := payload("context deadline exceeded", 6)
	b.EffectivenessStats = EffectivenessStats{Count: 3, Mean: 3, Min: 2, Max: 4}

	_, err := f.client.PushBatch(ctx, &PushRequest{ProjectIDHash: ProjectIDHash("a"), Watermark: 1, Patterns: []PatternPayload{a}})
	require.NoError(t, err)
	_, err = f.client.PushBatch(ctx, &PushRequest{ProjectIDHash: ProjectIDHash("b"), Watermark: 1, Patterns: []PatternPayload{b}})
	require.NoError(t, err)

	g, ok := f.server.Pattern(a.FingerprintHash)
	require.True(t, ok)
	assert.Equal(t, 10, g.GlobalOccurrenceCount)
	assert.Equal(t, 2, g.ProjectCount)
	assert.InDelta(t, 3.5, g.AvgEffectiveness, 1e-9)
}

func TestPushSignatureConflict(t *testing.T) {
	f := newFixture(t)
	p := payload("disk full", 1)
	f.server.Push(&PushRequest{ProjectIDHash: ProjectIDHash("a"), Watermark: 1, Patterns: []PatternPayload{p}})

	clash := p
	clash.CanonicalSignature = "something else entirely"
	resp := f.server.Push(&PushRequest{ProjectIDHash: ProjectIDHash("b"), Watermark: 1, Patterns: []PatternPayload{clash}})
	assert.Equal(t, 1, resp.Conflicts)

	g, _ := f.server.Pattern(p.FingerprintHash)
	assert.Equal(t, "disk full", g.CanonicalSignature)
	assert.Equal(t, 1, g.ProjectCount)
}

func TestPushValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.PushBatch(context.Background(), &PushRequest{ProjectIDHash: "short", Watermark: 1, Patterns: []PatternPayload{payload("x", 1)}})
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.False(t, types.IsRetryable(err))
}

func TestPull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	web, api := ProjectIDHash("web"), ProjectIDHash("api")

	f.server.Push(&PushRequest{ProjectIDHash: web, Watermark: 1, Patterns: []PatternPayload{payload("only web sees this", 1)}})
	f.tick()
	f.server.Push(&PushRequest{ProjectIDHash: api, Watermark: 1, Patterns: []PatternPayload{payload("shared failure", 2)}})
	f.tick()
	f.server.Push(&PushRequest{ProjectIDHash: web, Watermark: 2, Patterns: []PatternPayload{payload("shared failure", 3)}})
	firstRound := *f.clock

	resp, err := f.client.PullPatterns(ctx, PullQuery{Exclude: web})
	require.NoError(t, err)
	require.Len(t, resp.Patterns, 1, "patterns only web contributed are excluded")
	assert.Equal(t, "shared failure", resp.Patterns[0].CanonicalSignature)
	assert.Equal(t, 5, resp.Patterns[0].GlobalOccurrenceCount)
	assert.Equal(t, 2, resp.Patterns[0].ProjectCount)
	assert.True(t, resp.ServerTime.Equal(firstRound))

	resp, err = f.client.PullPatterns(ctx, PullQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Patterns, 1)
	assert.Equal(t, "only web sees this", resp.Patterns[0].CanonicalSignature, "oldest update first")

	resp, err = f.client.PullPatterns(ctx, PullQuery{Since: firstRound})
	require.NoError(t, err)
	assert.Empty(t, resp.Patterns)
}

func TestPullPagesThroughEqualTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Five patterns land in one push and share a single update time.
	batch := []PatternPayload{
		payload("cache miss storm", 1),
		payload("queue backlog exceeded", 1),
		payload("certificate expired", 1),
		payload("dns lookup timed out", 1),
		payload("replica lag too high", 1),
	}
	f.server.Push(&PushRequest{ProjectIDHash: ProjectIDHash("api"), Watermark: 1, Patterns: batch})

	tests := []struct {
		name  string
		limit int
	}{
		{"page of one", 1},
		{"page of two", 2},
		{"page of three", 3},
		{"single page", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := map[string]bool{}
			q := PullQuery{Limit: tt.limit}
			for pages := 0; pages < 10; pages++ {
				resp, err := f.client.PullPatterns(ctx, q)
				require.NoError(t, err)
				for _, p := range resp.Patterns {
					assert.False(t, seen[p.FingerprintHash], "pattern delivered twice")
					seen[p.FingerprintHash] = true
				}
				if len(resp.Patterns) < tt.limit {
					break
				}
				last := resp.Patterns[len(resp.Patterns)-1]
				q.Since, q.AfterHash = last.UpdatedAt, last.FingerprintHash
			}
			assert.Len(t, seen, len(batch))
		})
	}
}

func TestPullRejectsHashWithoutSince(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, PatternsPath+"?after=abc", nil)
	f.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthAndErrorMapping(t *testing.T) {
	f := newFixture(t, WithServerToken("central-token"))
	ctx := context.Background()

	_, err := f.client.PullPatterns(ctx, PullQuery{})
	assert.ErrorIs(t, err, types.ErrFatalConfig)

	f.client.token = "central-token"
	_, err = f.client.PullPatterns(ctx, PullQuery{})
	assert.NoError(t, err)
}

func TestTransientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded","message":"try later"}`))
	}))
	c, err := NewClient(ts.URL)
	require.NoError(t, err)

	_, err = c.PullPatterns(context.Background(), PullQuery{})
	assert.ErrorIs(t, err, types.ErrTransientNetwork)
	assert.Contains(t, err.Error(), "try later")

	ts.Close()
	_, err = c.PullPatterns(context.Background(), PullQuery{})
	assert.ErrorIs(t, err, types.ErrTransientNetwork, "connection refused is transient")
	assert.True(t, types.IsRetryable(err))
}

func TestGlobalPatternKnownPattern(t *testing.T) {
	g := GlobalPattern{FingerprintHash: "h", CanonicalSignature: "s", GlobalOccurrenceCount: 3, ProjectCount: 2}
	kp := g.KnownPattern()
	assert.Equal(t, types.SourceCentral, kp.Source)
	assert.Equal(t, 3, kp.GlobalOccurrenceCount)
}
