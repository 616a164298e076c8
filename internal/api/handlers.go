package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

func (s *Server) handleRecordError(c *gin.Context) {
	var req RecordErrorRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	res, err := svc.RecordError(c.Request.Context(), req.Event())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleRecordSolution(c *gin.Context) {
	var req RecordSolutionRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	sol, err := svc.RecordSolution(c.Request.Context(), req.Solution())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sol)
}

func (s *Server) handleFindSimilar(c *gin.Context) {
	var req FindSimilarRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	matches, err := svc.FindSimilar(c.Request.Context(), req.Text, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if matches == nil {
		matches = []types.SimilarMatch{}
	}
	c.JSON(http.StatusOK, SimilarResponse{Matches: matches})
}

func (s *Server) handleGetPatterns(c *gin.Context) {
	minOcc, ok := intQuery(c, "min_occurrences", 1)
	if !ok {
		return
	}
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	patterns, err := svc.GetPatterns(c.Request.Context(), minOcc)
	if err != nil {
		writeError(c, err)
		return
	}
	if patterns == nil {
		patterns = []*types.ErrorPattern{}
	}
	c.JSON(http.StatusOK, PatternsResponse{Patterns: patterns})
}

func (s *Server) handleRecordDecision(c *gin.Context) {
	var req RecordDecisionRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	id, err := svc.RecordDecision(c.Request.Context(), req.Decision())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DecisionResponse{ID: id})
}

func (s *Server) handleGate(c *gin.Context) {
	var req GateRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	gate, err := svc.TransitionGate(c.Request.Context(), req.Decision())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gate)
}

func (s *Server) handleListGates(c *gin.Context) {
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	gates, err := svc.ListGates(c.Request.Context(), c.Query("phase_ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	if gates == nil {
		gates = []*types.QualityGate{}
	}
	c.JSON(http.StatusOK, gin.H{"gates": gates})
}

func (s *Server) handleGetVersion(c *gin.Context) {
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	st, err := svc.GetVersion(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse(st))
}

func (s *Server) handleSetVersion(c *gin.Context) {
	var req SetVersionRequest
	if !bind(c, &req) {
		return
	}
	target, err := version.Parse(req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	st, err := svc.SetVersion(c.Request.Context(), target, req.Reason, req.Force)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse(st))
}

func (s *Server) handleBumpVersion(c *gin.Context) {
	var req BumpVersionRequest
	if !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, true)
	if !ok {
		return
	}
	st, err := svc.BumpVersion(c.Request.Context(), req.Component, req.Reason,
		version.BumpOptions{Reset: req.Reset, PhaseRef: req.PhaseRef})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versionResponse(st))
}

func (s *Server) handleStats(c *gin.Context) {
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	st, err := svc.GetStatistics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleContext(c *gin.Context) {
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	summary, err := svc.ContextSummary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ContextResponse{Summary: summary})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	evs, err := svc.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// handleSync queues a milestone for the project's sync engine. It never
// waits for the push.
func (s *Server) handleSync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	svc, ok := s.project(c, false)
	if !ok {
		return
	}
	m := memory.MilestoneManual
	if req.Milestone != "" {
		m = memory.Milestone(req.Milestone)
	}
	svc.Signal(m)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "milestone": m})
}

func versionResponse(st *types.VersionState) VersionResponse {
	return VersionResponse{Version: version.FromState(*st).String(), VersionState: st}
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(c, types.Invalid(key, "must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
