package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/api"
	"github.com/nebula-protocol/nebula/internal/project"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestClient(t *testing.T, serverOpts []api.Option, opts ...Option) *Client {
	t.Helper()
	reg := project.NewRegistry(t.TempDir())
	t.Cleanup(func() { _ = reg.Close() })
	ts := httptest.NewServer(api.NewServer(reg, serverOpts...).Router())
	t.Cleanup(ts.Close)

	opts = append([]Option{WithHTTPClient(ts.Client())}, opts...)
	c, err := New(ts.URL, "web", opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesInputs(t *testing.T) {
	_, err := New("not a url", "web")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = New("http://localhost:7420", "../etc")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = New("http://localhost:7420/", "web")
	assert.NoError(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	res, err := c.RecordError(ctx, &types.ErrorEvent{Message: "ECONNREFUSED 127.0.0.1:5432", Level: types.LevelCritical})
	require.NoError(t, err)
	assert.False(t, res.IsRecurring)

	sol, err := c.RecordSolution(ctx, &types.Solution{
		ErrorID: res.LocalID, Description: "start postgres before tests", AppliedBy: types.AppliedByHuman, Effectiveness: 4,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sol.ID)

	res, err = c.RecordError(ctx, &types.ErrorEvent{Message: "ECONNREFUSED 127.0.0.1:5432"})
	require.NoError(t, err)
	assert.True(t, res.IsRecurring)
	require.Len(t, res.Solutions, 1)

	matches, err := c.FindSimilar(ctx, "ECONNREFUSED 10.0.0.7:5432", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, matches)

	patterns, err := c.GetPatterns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	id, err := c.RecordDecision(ctx, &types.Decision{
		Category: "testing", Question: "Run db in CI?", ChosenOption: "service container", MadeBy: "human",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	gate, err := c.TransitionGate(ctx, &types.GateDecision{
		PhaseRef: "phase-1", PhaseNumber: 1,
		Results: types.GateResults{
			TestsAutomated: 4, TestsAutomatedPassing: 4, TestsManual: 1, TestsManualPassing: 1,
			PerformanceAcceptable: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.GatePassed, gate.Status)

	v, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.Version{Major: 0, Minor: 1, Patch: 0}, version.FromState(*v))

	v, err = c.BumpVersion(ctx, version.ComponentPatch, "hotfix", version.BumpOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Patch)

	v, err = c.SetVersion(ctx, version.Version{Major: 2}, "rebrand", false)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Major)

	st, err := c.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalErrors)
	assert.Equal(t, 1, st.CriticalErrors)

	summary, err := c.ContextSummary(ctx)
	require.NoError(t, err)
	assert.Contains(t, summary, "Version: 2.0.0")

	require.NoError(t, c.Sync(ctx, "manual"))
}

func TestClientMapsErrors(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.GetVersion(ctx)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.RecordSolution(ctx, &types.Solution{ErrorID: 1, Description: "x", AppliedBy: types.AppliedByAI, Effectiveness: 7})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = c.BumpVersion(ctx, version.ComponentMajor, "", version.BumpOptions{})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = c.SetVersion(ctx, version.Version{Minor: 5}, "new", false)
	require.NoError(t, err)
	_, err = c.SetVersion(ctx, version.Version{Minor: 1}, "back", false)
	assert.ErrorIs(t, err, types.ErrVersionRegression)

	_, err = c.TransitionGate(ctx, &types.GateDecision{PhaseRef: "phase-2", Results: types.GateResults{TestsAutomated: 2, TestsAutomatedPassing: 1}})
	assert.ErrorIs(t, err, types.ErrGateCriteriaNotMet)
}

func TestClientAuth(t *testing.T) {
	c := newTestClient(t, []api.Option{api.WithToken("s3cret")})
	_, err := c.GetStatistics(context.Background())
	assert.ErrorIs(t, err, types.ErrFatalConfig)

	c = newTestClient(t, []api.Option{api.WithToken("s3cret")}, WithToken("s3cret"))
	_, err = c.RecordError(context.Background(), &types.ErrorEvent{Message: "ok"})
	assert.NoError(t, err)
}

func TestClientServerDown(t *testing.T) {
	ts := httptest.NewServer(gin.New())
	url := ts.URL
	ts.Close()

	c, err := New(url, "web")
	require.NoError(t, err)
	_, err = c.GetStatistics(context.Background())
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}
