// Package syncer moves anonymized pattern aggregates between a project's
// local store and the central aggregator. The local store is the source of
// truth: every push is replayable from the persisted watermark, and a missing
// or failing aggregator never blocks a local write.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nebula-protocol/nebula/internal/aggregator"
	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/types"
)

// Remote is the aggregator as seen by the engine
type Remote interface {
	PushBatch(ctx context.Context, req *aggregator.PushRequest) (*aggregator.PushResponse, error)
	PullPatterns(ctx context.Context, q aggregator.PullQuery) (*aggregator.PullResponse, error)
}

// Config holds sync engine configuration
type Config struct {
	Enabled        bool          // Run the engine at all (default: false)
	Endpoint       string        // Aggregator base URL, informational
	Interval       time.Duration // Time between background rounds (default: 5m)
	BatchSize      int           // Patterns per push (default: 100)
	MaxBatches     int           // Push batches per round (default: 50)
	PullLimit      int           // Patterns per pull (default: 500)
	QueueSize      int           // Buffered milestone notifications (default: 64)
	MilestoneRate  time.Duration // Minimum spacing of milestone-triggered rounds (default: 10s)
	MilestoneBurst int           // Milestone rounds allowed back to back (default: 3)
	ShutdownGrace  time.Duration // How long an in-flight round may outlive shutdown (default: 5s)
	Retry          RetryConfig
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		BatchSize:      100,
		MaxBatches:     50,
		PullLimit:      500,
		QueueSize:      64,
		MilestoneRate:  10 * time.Second,
		MilestoneBurst: 3,
		ShutdownGrace:  5 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive (got %v)", c.Interval)
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("batch_size must be between 1 and 1000 (got %d)", c.BatchSize)
	}
	if c.MaxBatches < 1 {
		return fmt.Errorf("max_batches must be positive (got %d)", c.MaxBatches)
	}
	if c.PullLimit < 1 || c.PullLimit > 1000 {
		return fmt.Errorf("pull_limit must be between 1 and 1000 (got %d)", c.PullLimit)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive (got %d)", c.QueueSize)
	}
	if c.MilestoneRate < 0 || c.MilestoneBurst < 1 {
		return fmt.Errorf("milestone_rate must be >= 0 and milestone_burst >= 1")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must be >= 0 (got %v)", c.ShutdownGrace)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// PushResult summarizes one PushPending call
type PushResult struct {
	Batches    int `json:"batches"`
	Pushed     int `json:"pushed"`
	Duplicates int `json:"duplicates"`
	Conflicts  int `json:"conflicts"`
}

// RoundResult summarizes one push-then-pull round
type RoundResult struct {
	Push   PushResult `json:"push"`
	Pulled int        `json:"pulled"`
}

// Status is a point-in-time view of the engine for operators
type Status struct {
	Enabled           bool       `json:"enabled"`
	Running           bool       `json:"running"`
	DisabledReason    string     `json:"disabled_reason,omitempty"`
	Endpoint          string     `json:"endpoint,omitempty"`
	Circuit           string     `json:"circuit"`
	Backlog           int        `json:"backlog"`
	LastPushedSeq     int64      `json:"last_pushed_seq"`
	PendingRetryCount int        `json:"pending_retry_count"`
	LastPushAt        *time.Time `json:"last_push_at,omitempty"`
	LastPullAt        *time.Time `json:"last_pull_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	MilestonePending  bool       `json:"milestone_pending"`
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records sync metrics on m
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHolder names the process in the store's sync lock
func WithHolder(holder, version string) Option {
	return func(e *Engine) { e.holder, e.version = holder, version }
}

// Engine pushes local pattern changes and pulls global ones for one project
type Engine struct {
	projectID string
	hash      string
	store     storage.Storage
	remote    Remote
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	holder    string
	version   string

	breaker *CircuitBreaker
	retry   *retrier
	limiter *rate.Limiter
	notify  chan memory.Milestone
	pending atomic.Bool
	running atomic.Bool

	// roundMu serializes rounds so a manual sync never races the loop
	roundMu sync.Mutex

	mu             sync.Mutex
	disabled       error
	disabledLogged bool
}

// NewEngine creates an engine for projectID. An enabled engine without a
// remote is created disabled with ErrFatalConfig.
func NewEngine(projectID string, store storage.Storage, remote Remote, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		projectID: projectID,
		hash:      aggregator.ProjectIDHash(projectID),
		store:     store,
		remote:    remote,
		cfg:       cfg,
		logger:    slog.Default(),
		holder:    "nebula",
		version:   "dev",
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "sync", "project", projectID)

	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	e.notify = make(chan memory.Milestone, cfg.QueueSize)

	limit := rate.Inf
	if cfg.MilestoneRate > 0 {
		limit = rate.Every(cfg.MilestoneRate)
	}
	e.limiter = rate.NewLimiter(limit, max(cfg.MilestoneBurst, 1))

	if cfg.Retry.CircuitBreakerEnabled {
		e.breaker = NewCircuitBreaker(cfg.Retry.FailureThreshold, cfg.Retry.SuccessThreshold, cfg.Retry.OpenTimeout, e.logger)
		e.breaker.onChange = func(s CircuitState) {
			if e.metrics != nil {
				e.metrics.CircuitState.WithLabelValues(e.projectID).Set(float64(s))
			}
		}
	}
	e.retry = &retrier{cfg: cfg.Retry, breaker: e.breaker, logger: e.logger, sleep: sleepCtx}

	if cfg.Enabled && remote == nil {
		e.disabled = fmt.Errorf("%w: sync enabled but no aggregator endpoint configured", types.ErrFatalConfig)
	}
	return e
}

// Notify queues a milestone without blocking. A full queue already
// guarantees a round, so the milestone is dropped.
func (e *Engine) Notify(m memory.Milestone) {
	select {
	case e.notify <- m:
	default:
		e.pending.Store(true)
	}
}

// Disabled returns the reason the engine refuses to sync, or nil
func (e *Engine) Disabled() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled
}

// Run drives background rounds until ctx is done. It returns nil when sync is
// off or disabled so a supervising errgroup keeps serving local operations.
func (e *Engine) Run(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.logger.Debug("sync engine off")
		return nil
	}
	if err := e.Disabled(); err != nil {
		e.disable(ctx, err)
		return nil
	}

	lockPath, err := storage.AcquireSyncLock(e.store.Path(), e.holder, e.version)
	if err != nil {
		if errors.Is(err, storage.ErrSyncLocked) {
			e.logger.Warn("another process owns this store's sync engine", "error", err)
			e.disable(ctx, err)
			return nil
		}
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	defer func() {
		if err := storage.ReleaseSyncLock(lockPath); err != nil {
			e.logger.Warn("failed to release sync lock", "path", lockPath, "error", err)
		}
	}()

	e.running.Store(true)
	defer e.running.Store(false)

	roundCtx, stop := graceContext(ctx, e.cfg.ShutdownGrace)
	defer stop()

	e.logger.Info("sync engine started", "endpoint", e.cfg.Endpoint, "interval", e.cfg.Interval)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	if e.runRound(ctx, roundCtx, "startup") {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopped")
			return nil
		case <-ticker.C:
			if e.runRound(ctx, roundCtx, "interval") {
				return nil
			}
		case m := <-e.notify:
			if !e.limiter.Allow() {
				e.pending.Store(true)
				continue
			}
			if e.runRound(ctx, roundCtx, string(m)) {
				return nil
			}
		}
	}
}

// runRound performs one round and reports whether the engine must stop
func (e *Engine) runRound(parent, ctx context.Context, trigger string) bool {
	if parent.Err() != nil {
		return true
	}
	e.pending.Store(false)
	res, err := e.SyncNow(ctx)
	if err != nil {
		if errors.Is(err, types.ErrFatalConfig) {
			e.disable(ctx, err)
			return true
		}
		e.logger.Warn("sync round incomplete", "trigger", trigger, "error", err)
		return false
	}
	if res.Push.Pushed > 0 || res.Pulled > 0 {
		e.logger.Info("sync round complete", "trigger", trigger,
			"pushed", res.Push.Pushed, "duplicates", res.Push.Duplicates, "conflicts", res.Push.Conflicts, "pulled", res.Pulled)
	}
	return false
}

// SyncNow pushes everything pending and then pulls global updates. A failed
// push does not prevent the pull.
func (e *Engine) SyncNow(ctx context.Context) (*RoundResult, error) {
	res := &RoundResult{}
	push, pushErr := e.PushPending(ctx)
	if push != nil {
		res.Push = *push
	}
	if errors.Is(pushErr, types.ErrFatalConfig) {
		return res, pushErr
	}
	pulled, pullErr := e.PullUpdates(ctx)
	res.Pulled = pulled
	return res, errors.Join(pushErr, pullErr)
}

// PushPending pushes changed patterns in watermark order until the backlog
// is empty, the round's batch budget is spent, or a batch fails. A failed
// batch leaves the watermark in place and bumps the pending retry count.
func (e *Engine) PushPending(ctx context.Context) (*PushResult, error) {
	if err := e.Disabled(); err != nil {
		return nil, err
	}
	if e.remote == nil {
		return nil, fmt.Errorf("%w: no aggregator configured", types.ErrFatalConfig)
	}
	e.roundMu.Lock()
	defer e.roundMu.Unlock()

	cursor, err := e.store.GetSyncCursor(ctx)
	if err != nil {
		return nil, err
	}
	after := cursor.LastPushedSeq
	res := &PushResult{}
	defer e.updateBacklog(ctx)

	for i := 0; i < e.cfg.MaxBatches; i++ {
		batch, err := e.store.PendingBatch(ctx, after, e.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(batch.Patterns) == 0 {
			break
		}

		req := aggregator.NewPushRequest(e.hash, batch)
		var resp *aggregator.PushResponse
		attempts, err := e.retry.do(ctx, "push batch", func(actx context.Context) error {
			r, err := e.remote.PushBatch(actx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err == nil && resp.AckWatermark < req.Watermark {
			err = fmt.Errorf("%w: aggregator acknowledged watermark %d, expected %d",
				types.ErrTransientNetwork, resp.AckWatermark, req.Watermark)
		}
		if err != nil {
			e.countPush("failed")
			if _, ferr := e.store.RecordSyncFailure(context.WithoutCancel(ctx), err, attempts); ferr != nil {
				e.logger.Error("failed to record sync failure", "error", ferr)
			}
			return res, err
		}

		if _, err := e.store.AckPush(ctx, types.PushAck{
			Seq:         batch.MaxSeq,
			PatternHash: batch.LastHash,
			EventID:     batch.MaxEventID,
			Pushed:      resp.Accepted,
			Duplicates:  resp.Duplicates,
			Conflicts:   resp.Conflicts,
		}); err != nil {
			return res, err
		}
		e.countPush("ok")
		if e.metrics != nil {
			e.metrics.SyncPatterns.WithLabelValues(e.projectID, "push").Add(float64(resp.Accepted))
		}

		res.Batches++
		res.Pushed += resp.Accepted
		res.Duplicates += resp.Duplicates
		res.Conflicts += resp.Conflicts
		after = batch.MaxSeq
		if len(batch.Patterns) < e.cfg.BatchSize {
			break
		}
	}
	return res, nil
}

// PullUpdates merges patterns other projects contributed since the last
// pull and returns how many were new to this project. Full pages are
// followed until the aggregator has nothing left after the cursor.
func (e *Engine) PullUpdates(ctx context.Context) (int, error) {
	if err := e.Disabled(); err != nil {
		return 0, err
	}
	if e.remote == nil {
		return 0, fmt.Errorf("%w: no aggregator configured", types.ErrFatalConfig)
	}

	cursor, err := e.store.GetSyncCursor(ctx)
	if err != nil {
		return 0, err
	}
	q := aggregator.PullQuery{Exclude: e.hash, Limit: e.cfg.PullLimit}
	if cursor.LastPullTimestamp != nil {
		q.Since, q.AfterHash = *cursor.LastPullTimestamp, cursor.LastPullHash
	}

	total := 0
	for {
		var resp *aggregator.PullResponse
		if _, err := e.retry.do(ctx, "pull patterns", func(actx context.Context) error {
			r, err := e.remote.PullPatterns(actx, q)
			if err != nil {
				return err
			}
			resp = r
			return nil
		}); err != nil {
			return total, err
		}
		if len(resp.Patterns) == 0 {
			return total, nil
		}

		known := make([]types.KnownPattern, 0, len(resp.Patterns))
		for _, p := range resp.Patterns {
			known = append(known, p.KnownPattern())
		}
		last := resp.Patterns[len(resp.Patterns)-1]
		pos := &types.PullPosition{UpdatedAt: last.UpdatedAt, FingerprintHash: last.FingerprintHash}

		added, err := e.store.MergeKnownPatterns(ctx, known, pos)
		if err != nil {
			return total, err
		}
		total += added
		if e.metrics != nil {
			e.metrics.SyncPatterns.WithLabelValues(e.projectID, "pull").Add(float64(len(known)))
		}
		if len(resp.Patterns) < q.Limit {
			return total, nil
		}
		q.Since, q.AfterHash = pos.UpdatedAt, pos.FingerprintHash
	}
}

// Status reports the engine and cursor state
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	cursor, err := e.store.GetSyncCursor(ctx)
	if err != nil {
		return nil, err
	}
	backlog, err := e.store.SyncBacklog(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Enabled:           e.cfg.Enabled,
		Running:           e.running.Load(),
		Endpoint:          e.cfg.Endpoint,
		Circuit:           CircuitClosed.String(),
		Backlog:           backlog,
		LastPushedSeq:     cursor.LastPushedSeq,
		PendingRetryCount: cursor.PendingRetryCount,
		LastPushAt:        cursor.LastPushAt,
		LastPullAt:        cursor.LastPullTimestamp,
		LastError:         cursor.LastError,
		MilestonePending:  e.pending.Load(),
	}
	if e.breaker != nil {
		st.Circuit = e.breaker.State().String()
	}
	if err := e.Disabled(); err != nil {
		st.DisabledReason = err.Error()
	}
	return st, nil
}

// disable stops syncing for the life of the process and records why
func (e *Engine) disable(ctx context.Context, cause error) {
	e.mu.Lock()
	if e.disabledLogged {
		e.mu.Unlock()
		return
	}
	e.disabled, e.disabledLogged = cause, true
	e.mu.Unlock()

	e.logger.Error("sync engine disabled", "error", cause)
	ev, err := events.NewSyncEvent(events.EventTypeSyncDisabled, events.SeverityError,
		"sync engine disabled", events.SyncData{Error: cause.Error()})
	if err == nil {
		err = e.store.StoreEvent(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		e.logger.Warn("failed to log sync_disabled event", "error", err)
	}
}

func (e *Engine) countPush(result string) {
	if e.metrics != nil {
		e.metrics.SyncPushes.WithLabelValues(e.projectID, result).Inc()
	}
}

func (e *Engine) updateBacklog(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	if n, err := e.store.SyncBacklog(context.WithoutCancel(ctx)); err == nil {
		e.metrics.SyncBacklog.WithLabelValues(e.projectID).Set(float64(n))
	}
}

// graceContext returns a context that outlives parent by grace, so an
// in-flight round can commit its cursor during shutdown.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		select {
		case <-parent.Done():
		case <-ctx.Done():
			return
		}
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
