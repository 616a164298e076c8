package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/project"
	"github.com/nebula-protocol/nebula/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	registry *project.Registry
	router   *gin.Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := project.NewRegistry(t.TempDir())
	t.Cleanup(func() { _ = reg.Close() })
	return &fixture{registry: reg, router: NewServer(reg, opts...).Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func passing() map[string]interface{} {
	return map[string]interface{}{
		"tests_automated": 10, "tests_automated_passing": 10,
		"tests_manual": 2, "tests_manual_passing": 2,
		"performance_acceptable": true,
	}
}

func TestRoutesRegistered(t *testing.T) {
	f := newFixture(t, WithMetrics(observability.NewMetrics()))
	expected := []struct{ method, path string }{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/project/:id/error"},
		{"POST", "/project/:id/solution"},
		{"POST", "/project/:id/errors/similar"},
		{"GET", "/project/:id/patterns"},
		{"POST", "/project/:id/decision"},
		{"POST", "/project/:id/star-gate"},
		{"GET", "/project/:id/gates"},
		{"GET", "/project/:id/version"},
		{"PUT", "/project/:id/version"},
		{"POST", "/project/:id/version/bump"},
		{"GET", "/project/:id/stats"},
		{"GET", "/project/:id/context"},
		{"GET", "/project/:id/events"},
		{"POST", "/project/:id/sync"},
	}
	routes := f.router.Routes()
	for _, e := range expected {
		found := false
		for _, r := range routes {
			if r.Method == e.method && r.Path == e.path {
				found = true
				break
			}
		}
		assert.True(t, found, "%s %s not registered", e.method, e.path)
	}
}

func TestRecordErrorAndSolutionFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "TypeError: cannot read property 'id' of undefined", FilePath: "src/app.ts"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[types.RecordErrorResult](t, w)
	assert.False(t, first.IsRecurring)
	assert.Positive(t, first.LocalID)

	w = f.do(t, "POST", "/project/web/solution", RecordSolutionRequest{
		ErrorID: first.LocalID, Description: "guard optional user", AppliedBy: types.AppliedByAI, Effectiveness: 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "TypeError: cannot read property 'id' of undefined"})
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[types.RecordErrorResult](t, w)
	assert.True(t, second.IsRecurring)
	require.Len(t, second.Solutions, 1)
	assert.Equal(t, "guard optional user", second.Solutions[0].Description)

	w = f.do(t, "GET", "/project/web/patterns?min_occurrences=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	patterns := decode[PatternsResponse](t, w)
	require.Len(t, patterns.Patterns, 1)
	assert.Equal(t, 2, patterns.Patterns[0].OccurrenceCount)

	w = f.do(t, "GET", "/project/web/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.0.2", decode[VersionResponse](t, w).Version)

	w = f.do(t, "POST", "/project/web/errors/similar", FindSimilarRequest{Text: "TypeError: cannot read property 'name' of undefined"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[SimilarResponse](t, w).Matches)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed json", "POST", "/project/web/error", "{not json", http.StatusBadRequest, types.CodeValidation},
		{"bad level", "POST", "/project/web/error", RecordErrorRequest{Level: "WARN", Message: "x"}, http.StatusBadRequest, types.CodeValidation},
		{"oversized message", "POST", "/project/web/error", RecordErrorRequest{Message: strings.Repeat("a", types.MaxTextBytes+1)}, http.StatusBadRequest, types.CodeValidation},
		{"effectiveness out of range", "POST", "/project/web/solution", RecordSolutionRequest{ErrorID: 1, Description: "d", AppliedBy: "ai", Effectiveness: 9}, http.StatusBadRequest, types.CodeValidation},
		{"unknown error id", "POST", "/project/web/solution", RecordSolutionRequest{ErrorID: 99, Description: "d", AppliedBy: "human", Effectiveness: 3}, http.StatusNotFound, types.CodeNotFound},
		{"decision missing fields", "POST", "/project/web/decision", RecordDecisionRequest{Category: "arch"}, http.StatusBadRequest, types.CodeValidation},
		{"bad project id", "POST", "/project/..bad/error", RecordErrorRequest{Message: "x"}, http.StatusBadRequest, types.CodeValidation},
		{"bad version", "PUT", "/project/web/version", SetVersionRequest{Version: "one.two", Reason: "r"}, http.StatusBadRequest, types.CodeValidation},
		{"bad component", "POST", "/project/web/version/bump", BumpVersionRequest{Component: "micro"}, http.StatusBadRequest, types.CodeValidation},
		{"major without reason", "POST", "/project/web/version/bump", BumpVersionRequest{Component: "major"}, http.StatusBadRequest, types.CodeValidation},
		{"bad query", "GET", "/project/web/patterns?min_occurrences=lots", nil, http.StatusBadRequest, types.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestUnknownProjectReadsAre404(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/project/ghost/version", "/project/ghost/stats", "/project/ghost/patterns", "/project/ghost/context"} {
		w := f.do(t, "GET", path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, types.CodeNotFound, decode[ErrorResponse](t, w).Error)
	}
}

func TestGateTransitions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/project/web/star-gate", GateRequest{PhaseRef: "phase-1", PhaseNumber: 1, Results: types.GateResults{TestsAutomated: 10, TestsAutomatedPassing: 8}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, types.CodeGateCriteriaNotMet, decode[ErrorResponse](t, w).Error)

	w = f.do(t, "POST", "/project/web/star-gate", map[string]interface{}{
		"phase_ref": "phase-1", "phase_number": 1, "results": passing(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	gate := decode[types.QualityGate](t, w)
	assert.Equal(t, types.GatePassed, gate.Status)
	assert.Equal(t, "0.1.0", gate.VersionAtDecision)

	w = f.do(t, "POST", "/project/web/star-gate", map[string]interface{}{
		"phase_ref": "phase-1", "phase_number": 1, "results": passing(),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.CodeDuplicateGateBump, decode[ErrorResponse](t, w).Error)

	w = f.do(t, "GET", "/project/web/gates?phase_ref=phase-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Gates []types.QualityGate `json:"gates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.NotEmpty(t, listed.Gates)

	w = f.do(t, "GET", "/project/web/version", nil)
	assert.Equal(t, "0.1.0", decode[VersionResponse](t, w).Version)
}

func TestVersionRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/project/web/version/bump", BumpVersionRequest{Component: "major", Reason: "public API freeze", Reset: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1.0.0", decode[VersionResponse](t, w).Version)

	w = f.do(t, "PUT", "/project/web/version", SetVersionRequest{Version: "0.9.0", Reason: "oops"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, types.CodeVersionRegression, decode[ErrorResponse](t, w).Error)

	w = f.do(t, "PUT", "/project/web/version", SetVersionRequest{Version: "0.9.0", Reason: "rollback release", Force: true})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[VersionResponse](t, w)
	assert.Equal(t, "0.9.0", resp.Version)
	require.NotNil(t, resp.VersionState)
	assert.Equal(t, 9, resp.Minor)
}

func TestDecisionStatsContextEvents(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/project/web/decision", RecordDecisionRequest{
		Category: "architecture", Question: "Which store?", ChosenOption: "sqlite",
		Alternatives: []string{"postgres"}, Rationale: "embedded", MadeBy: "ai",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[DecisionResponse](t, w).ID)

	f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "segfault"})

	w = f.do(t, "GET", "/project/web/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[types.Statistics](t, w)
	assert.Equal(t, 1, st.TotalErrors)
	assert.Equal(t, 1, st.TotalDecisions)

	w = f.do(t, "GET", "/project/web/context", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[ContextResponse](t, w).Summary, "Project Status: ACTIVE")

	w = f.do(t, "GET", "/project/web/events?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var evs struct {
		Events []map[string]interface{} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evs))
	assert.Len(t, evs.Events, 1)
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []memory.Milestone
}

func (r *recordingNotifier) Notify(m memory.Milestone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m)
}

func TestSyncSignal(t *testing.T) {
	n := &recordingNotifier{}
	reg := project.NewRegistry(t.TempDir(), project.WithServiceOptions(memory.WithNotifier(n)))
	t.Cleanup(func() { _ = reg.Close() })
	f := &fixture{registry: reg, router: NewServer(reg).Router()}

	w := f.do(t, "POST", "/project/web/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "boom"})
	w = f.do(t, "POST", "/project/web/sync", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = f.do(t, "POST", "/project/web/sync", SyncRequest{Milestone: "release"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []memory.Milestone{memory.MilestoneErrorRecorded, memory.MilestoneManual, "release"}, n.seen)
}

func TestBearerAuthOnProjectRoutes(t *testing.T) {
	f := newFixture(t, WithToken("s3cret"))

	w := f.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "POST", "/project/web/error", RecordErrorRequest{Message: "x"}, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		types.CodeValidation:         http.StatusBadRequest,
		types.CodeNotFound:           http.StatusNotFound,
		types.CodeDuplicateGateBump:  http.StatusConflict,
		types.CodeVersionRegression:  http.StatusConflict,
		types.CodeGateClosed:         http.StatusConflict,
		types.CodeGateCriteriaNotMet: http.StatusUnprocessableEntity,
		types.CodeStorageUnavailable: http.StatusServiceUnavailable,
		types.CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), code)
	}
}
