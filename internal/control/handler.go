package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebula-protocol/nebula/internal/api"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/project"
	"github.com/nebula-protocol/nebula/internal/syncer"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// EngineLookup returns the sync engine serving a project, or nil
type EngineLookup func(projectID string) *syncer.Engine

// PatternsRequest is the payload of get_patterns
type PatternsRequest struct {
	MinOccurrences int `json:"min_occurrences,omitempty" validate:"min=0"`
}

// StatusData is the result of the status command
type StatusData struct {
	Project string         `json:"project"`
	Version string         `json:"version"`
	Sync    *syncer.Status `json:"sync,omitempty"`
}

// writeCommands open (and create) the project; the rest require it to exist
var writeCommands = map[string]bool{
	CmdRecordError:    true,
	CmdRecordSolution: true,
	CmdRecordDecision: true,
	CmdTransitionGate: true,
	CmdBumpVersion:    true,
	CmdSetVersion:     true,
}

// operation runs a decoded command against a project
type operation func(ctx context.Context, svc *memory.Service) (interface{}, error)

// NewHandler dispatches commands to project memories in reg. engines may be
// nil when sync is not configured. Payloads are decoded and validated before
// the project is resolved, so a rejected write never creates a store.
func NewHandler(reg *project.Registry, engines EngineLookup) Handler {
	return func(ctx context.Context, cmd Command) (interface{}, error) {
		op, err := prepare(cmd, engines)
		if err != nil {
			return nil, err
		}

		var svc *memory.Service
		if writeCommands[cmd.Type] {
			svc, err = reg.Open(ctx, cmd.Project)
		} else {
			svc, err = reg.Get(ctx, cmd.Project)
		}
		if err != nil {
			return nil, err
		}
		return op(ctx, svc)
	}
}

// prepare decodes the payload of cmd and returns the operation it names
func prepare(cmd Command, engines EngineLookup) (operation, error) {
	switch cmd.Type {
	case CmdRecordError:
		var req api.RecordErrorRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return svc.RecordError(ctx, req.Event())
		}, nil

	case CmdRecordSolution:
		var req api.RecordSolutionRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return svc.RecordSolution(ctx, req.Solution())
		}, nil

	case CmdFindSimilar:
		var req api.FindSimilarRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			matches, err := svc.FindSimilar(ctx, req.Text, req.Limit)
			if err != nil {
				return nil, err
			}
			if matches == nil {
				matches = []types.SimilarMatch{}
			}
			return api.SimilarResponse{Matches: matches}, nil
		}, nil

	case CmdGetPatterns:
		req := PatternsRequest{MinOccurrences: 1}
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			patterns, err := svc.GetPatterns(ctx, req.MinOccurrences)
			if err != nil {
				return nil, err
			}
			if patterns == nil {
				patterns = []*types.ErrorPattern{}
			}
			return api.PatternsResponse{Patterns: patterns}, nil
		}, nil

	case CmdRecordDecision:
		var req api.RecordDecisionRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			id, err := svc.RecordDecision(ctx, req.Decision())
			if err != nil {
				return nil, err
			}
			return api.DecisionResponse{ID: id}, nil
		}, nil

	case CmdTransitionGate:
		var req api.GateRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return svc.TransitionGate(ctx, req.Decision())
		}, nil

	case CmdGetVersion:
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return versionResult(svc.GetVersion(ctx))
		}, nil

	case CmdBumpVersion:
		var req api.BumpVersionRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return versionResult(svc.BumpVersion(ctx, req.Component, req.Reason,
				version.BumpOptions{Reset: req.Reset, PhaseRef: req.PhaseRef}))
		}, nil

	case CmdSetVersion:
		var req api.SetVersionRequest
		if err := decode(cmd, &req); err != nil {
			return nil, err
		}
		target, err := version.Parse(req.Version)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return versionResult(svc.SetVersion(ctx, target, req.Reason, req.Force))
		}, nil

	case CmdStats:
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			return svc.GetStatistics(ctx)
		}, nil

	case CmdContext:
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			summary, err := svc.ContextSummary(ctx)
			if err != nil {
				return nil, err
			}
			return api.ContextResponse{Summary: summary}, nil
		}, nil

	case CmdSyncNow:
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			engine := lookup(engines, svc.ProjectID())
			if engine == nil {
				return nil, fmt.Errorf("%w: sync is not configured for %s", types.ErrFatalConfig, svc.ProjectID())
			}
			return engine.SyncNow(ctx)
		}, nil

	case CmdStatus:
		return func(ctx context.Context, svc *memory.Service) (interface{}, error) {
			st, err := svc.GetVersion(ctx)
			if err != nil {
				return nil, err
			}
			data := StatusData{Project: svc.ProjectID(), Version: version.FromState(*st).String()}
			if engine := lookup(engines, svc.ProjectID()); engine != nil {
				if data.Sync, err = engine.Status(ctx); err != nil {
					return nil, err
				}
			}
			return data, nil
		}, nil

	default:
		return nil, types.Invalid("type", "unknown command type %q", cmd.Type)
	}
}

func lookup(engines EngineLookup, id string) *syncer.Engine {
	if engines == nil {
		return nil
	}
	return engines(id)
}

// decode unmarshals the payload into v and validates it. An empty payload
// leaves v at its defaults.
func decode(cmd Command, v interface{}) error {
	if len(cmd.Payload) > 0 && string(cmd.Payload) != "null" {
		if err := json.Unmarshal(cmd.Payload, v); err != nil {
			return types.Invalid("payload", "invalid %s payload: %v", cmd.Type, err)
		}
	}
	return types.ValidateStruct(v)
}

func versionResult(st *types.VersionState, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	return api.VersionResponse{Version: version.FromState(*st).String(), VersionState: st}, nil
}
