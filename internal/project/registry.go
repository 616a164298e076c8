// Package project keeps several independent project memories open in one
// process. Each project owns its own store under
// <data_dir>/<project_id>/project_memory.db; nothing is shared between them.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/types"
)

// OpenHook runs once for every project the registry opens, before the
// service is handed to any caller.
type OpenHook func(ctx context.Context, svc *memory.Service) error

// Option configures a Registry
type Option func(*Registry)

// WithMatching sets the similarity configuration for every store
func WithMatching(cfg fingerprint.Config) Option {
	return func(r *Registry) { r.matching = cfg }
}

// WithServiceOptions applies opts to every service the registry creates
func WithServiceOptions(opts ...memory.Option) Option {
	return func(r *Registry) { r.serviceOpts = append(r.serviceOpts, opts...) }
}

// WithOpenHook registers a hook run for each newly opened project
func WithOpenHook(h OpenHook) Option {
	return func(r *Registry) { r.hooks = append(r.hooks, h) }
}

// WithLogger sets the registry logger
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry maps project ids to open services
type Registry struct {
	dataDir     string
	matching    fingerprint.Config
	serviceOpts []memory.Option
	hooks       []OpenHook
	logger      *slog.Logger

	mu       sync.Mutex
	services map[string]*memory.Service
	closed   bool
}

// NewRegistry creates a registry rooted at dataDir
func NewRegistry(dataDir string, opts ...Option) *Registry {
	r := &Registry{
		dataDir:  dataDir,
		matching: fingerprint.DefaultConfig(),
		logger:   slog.Default(),
		services: make(map[string]*memory.Service),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DataDir returns the registry root
func (r *Registry) DataDir() string { return r.dataDir }

// Open returns the project's service, creating its store on first use
func (r *Registry) Open(ctx context.Context, id string) (*memory.Service, error) {
	return r.open(ctx, id, true)
}

// Get returns the project's service if its store already exists
func (r *Registry) Get(ctx context.Context, id string) (*memory.Service, error) {
	return r.open(ctx, id, false)
}

func (r *Registry) open(ctx context.Context, id string, create bool) (*memory.Service, error) {
	path, err := storage.ProjectDBPath(r.dataDir, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: registry closed", types.ErrStorageUnavailable)
	}
	if svc, ok := r.services[id]; ok {
		return svc, nil
	}

	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("project %q: %w", id, types.ErrNotFound)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create project directory: %v", types.ErrStorageUnavailable, err)
	}

	store, err := storage.NewStorage(ctx, &storage.Config{Path: path, Matching: r.matching})
	if err != nil {
		return nil, fmt.Errorf("failed to open project %q: %w", id, err)
	}
	svc := memory.NewService(id, store, r.serviceOpts...)
	for _, hook := range r.hooks {
		if err := hook(ctx, svc); err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("failed to start project %q: %w", id, err)
		}
	}
	r.services[id] = svc
	r.logger.Info("project opened", "project", id, "path", path)
	return svc, nil
}

// Projects lists the ids of every project with a store under the data
// directory, open or not
func (r *Registry) Projects() ([]string, error) {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || storage.ValidateProjectID(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.dataDir, e.Name(), storage.DefaultDBName)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Each calls fn for every open project
func (r *Registry) Each(fn func(*memory.Service)) {
	r.mu.Lock()
	svcs := make([]*memory.Service, 0, len(r.services))
	for _, svc := range r.services {
		svcs = append(svcs, svc)
	}
	r.mu.Unlock()
	for _, svc := range svcs {
		fn(svc)
	}
}

// Close closes every open store. The registry refuses new opens afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	for id, svc := range r.services {
		if err := svc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("project %q: %w", id, err))
		}
		delete(r.services, id)
	}
	return errors.Join(errs...)
}
