package aggregator

import (
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nebula-protocol/nebula/internal/middleware"
	"github.com/nebula-protocol/nebula/internal/types"
)

const (
	defaultPullLimit = 100
	maxPullLimit     = 1000
)

type contribution struct {
	occurrences int
	stats       EffectivenessStats
}

type globalEntry struct {
	signature     string
	contributions map[string]contribution // keyed by project hash
	updatedAt     time.Time
}

// Server is an in-memory aggregator. It keeps each project's latest
// contribution per pattern, so replaying a batch never double counts.
type Server struct {
	mu         sync.RWMutex
	patterns   map[string]*globalEntry
	watermarks map[string]int64

	token  string
	logger *slog.Logger
	now    func() time.Time
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerToken requires clients to present token
func WithServerToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// WithServerLogger sets the logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServerClock overrides the time source
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates an empty aggregator
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		patterns:   map[string]*globalEntry{},
		watermarks: map[string]int64{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns a gin engine serving the aggregator routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.logger))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.RegisterRoutes(r.Group("", middleware.BearerAuth(s.token)))
	return r
}

// RegisterRoutes mounts the v1 routes on r
func (s *Server) RegisterRoutes(r gin.IRoutes) {
	r.POST(BatchPath, s.handlePush)
	r.GET(PatternsPath, s.handlePull)
}

func (s *Server) handlePush(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: types.CodeValidation, Message: err.Error()})
		return
	}
	resp := s.Push(&req)
	c.JSON(http.StatusOK, resp)
}

// Push applies one batch. A watermark at or below the last one seen for the
// project is acknowledged without changing anything.
func (s *Server) Push(req *PushRequest) PushResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.watermarks[req.ProjectIDHash]
	if req.Watermark <= last {
		s.logger.Debug("replayed batch", "project", short(req.ProjectIDHash), "watermark", req.Watermark, "held", last)
		return PushResponse{AckWatermark: last, Duplicates: len(req.Patterns)}
	}

	now := s.now().UTC()
	resp := PushResponse{AckWatermark: req.Watermark}
	for _, p := range req.Patterns {
		entry, ok := s.patterns[p.FingerprintHash]
		if !ok {
			entry = &globalEntry{signature: p.CanonicalSignature, contributions: map[string]contribution{}}
			s.patterns[p.FingerprintHash] = entry
		} else if entry.signature != p.CanonicalSignature {
			resp.Conflicts++
			continue
		}
		next := contribution{occurrences: p.OccurrenceCount, stats: p.EffectivenessStats}
		if prev, seen := entry.contributions[req.ProjectIDHash]; seen && prev == next {
			resp.Duplicates++
			continue
		}
		entry.contributions[req.ProjectIDHash] = next
		entry.updatedAt = now
		resp.Accepted++
	}
	s.watermarks[req.ProjectIDHash] = req.Watermark

	s.logger.Info("batch accepted", "project", short(req.ProjectIDHash), "watermark", req.Watermark,
		"accepted", resp.Accepted, "duplicates", resp.Duplicates, "conflicts", resp.Conflicts)
	return resp
}

func (s *Server) handlePull(c *gin.Context) {
	q := PullQuery{Limit: defaultPullLimit, AfterHash: c.Query("after"), Exclude: c.Query("exclude")}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: types.CodeValidation, Message: "since must be RFC 3339"})
			return
		}
		q.Since = t
	}
	if q.AfterHash != "" && q.Since.IsZero() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: types.CodeValidation, Message: "after requires since"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: types.CodeValidation, Message: "limit must be a positive integer"})
			return
		}
		q.Limit = min(n, maxPullLimit)
	}
	c.JSON(http.StatusOK, s.Pull(q))
}

// Pull lists patterns positioned after the query's (since, hash) pair,
// ordered by update time then hash. Patterns contributed only by the excluded
// project are left out.
func (s *Server) Pull(q PullQuery) PullResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := PullResponse{Patterns: []GlobalPattern{}, ServerTime: s.now().UTC()}
	for hash, e := range s.patterns {
		if !after(e.updatedAt, hash, q.Since, q.AfterHash) {
			continue
		}
		if q.Exclude != "" && !hasOtherContributor(e, q.Exclude) {
			continue
		}
		out.Patterns = append(out.Patterns, e.global(hash))
	}
	sort.Slice(out.Patterns, func(i, j int) bool {
		a, b := out.Patterns[i], out.Patterns[j]
		return after(b.UpdatedAt, b.FingerprintHash, a.UpdatedAt, a.FingerprintHash)
	})
	if q.Limit > 0 && len(out.Patterns) > q.Limit {
		out.Patterns = out.Patterns[:q.Limit]
	}
	return out
}

// after reports whether (t, hash) sorts strictly after (since, afterHash)
func after(t time.Time, hash string, since time.Time, afterHash string) bool {
	if !t.Equal(since) {
		return t.After(since)
	}
	return hash > afterHash
}

// Pattern returns the aggregate for one hash
func (s *Server) Pattern(hash string) (GlobalPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.patterns[hash]
	if !ok {
		return GlobalPattern{}, false
	}
	return e.global(hash), true
}

func (e *globalEntry) global(hash string) GlobalPattern {
	g := GlobalPattern{
		FingerprintHash:    hash,
		CanonicalSignature: e.signature,
		ProjectCount:       len(e.contributions),
		UpdatedAt:          e.updatedAt,
	}
	var weighted float64
	var rated int
	for _, c := range e.contributions {
		g.GlobalOccurrenceCount += c.occurrences
		weighted += c.stats.Mean * float64(c.stats.Count)
		rated += c.stats.Count
	}
	if rated > 0 {
		g.AvgEffectiveness = weighted / float64(rated)
	}
	return g
}

func hasOtherContributor(e *globalEntry, project string) bool {
	for p := range e.contributions {
		if p != project {
			return true
		}
	}
	return false
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
