// Package api is the HTTP façade over project memories: JSON over REST,
// one route per core operation, classified errors mapped to status codes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/middleware"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/project"
	"github.com/nebula-protocol/nebula/internal/types"
)

// Option configures a Server
type Option func(*Server)

// WithToken requires a bearer token on /project routes
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithMetrics records request metrics and serves /metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server routes requests to the project registry
type Server struct {
	registry *project.Registry
	token    string
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewServer creates the façade over reg
func NewServer(reg *project.Registry, opts ...Option) *Server {
	s := &Server{registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route mounted
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.logger), middleware.Metrics(s.metrics))
	s.SetupRoutes(r)
	return r
}

// SetupRoutes mounts the API on router
func (s *Server) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	p := router.Group("/project/:id", middleware.BearerAuth(s.token))
	{
		p.POST("/error", s.handleRecordError)
		p.POST("/solution", s.handleRecordSolution)
		p.POST("/errors/similar", s.handleFindSimilar)
		p.GET("/patterns", s.handleGetPatterns)
		p.POST("/decision", s.handleRecordDecision)
		p.POST("/star-gate", s.handleGate)
		p.GET("/gates", s.handleListGates)
		p.GET("/version", s.handleGetVersion)
		p.PUT("/version", s.handleSetVersion)
		p.POST("/version/bump", s.handleBumpVersion)
		p.GET("/stats", s.handleStats)
		p.GET("/context", s.handleContext)
		p.GET("/events", s.handleEvents)
		p.POST("/sync", s.handleSync)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ids, err := s.registry.Projects()
	if err != nil {
		writeError(c, errors.Join(types.ErrStorageUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "projects": len(ids)})
}

// project resolves :id. Writes create the project on first use; reads of an
// unknown project are 404.
func (s *Server) project(c *gin.Context, create bool) (*memory.Service, bool) {
	id := c.Param("id")
	var (
		svc *memory.Service
		err error
	)
	if create {
		svc, err = s.registry.Open(c.Request.Context(), id)
	} else {
		svc, err = s.registry.Get(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return svc, true
}

// bind decodes the JSON body into req and validates it
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, types.Invalid("body", "malformed JSON: %v", err))
		return false
	}
	if err := types.ValidateStruct(req); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// StatusFor maps a wire error code to its HTTP status
func StatusFor(code string) int {
	switch code {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeDuplicateGateBump, types.CodeVersionRegression, types.CodeGateClosed:
		return http.StatusConflict
	case types.CodeGateCriteriaNotMet:
		return http.StatusUnprocessableEntity
	case types.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := types.Code(err)
	status := StatusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: msg})
}
