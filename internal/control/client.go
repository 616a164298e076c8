package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nebula-protocol/nebula/internal/api"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/syncer"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// Client sends commands for one project over the control socket
type Client struct {
	socketPath string
	projectID  string
	timeout    time.Duration
}

var _ memory.Client = (*Client)(nil)

// NewClient creates a control socket client bound to projectID
func NewClient(socketPath, projectID string) (*Client, error) {
	if err := storage.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	return &Client{
		socketPath: socketPath,
		projectID:  projectID,
		timeout:    10 * time.Second,
	}, nil
}

// SetTimeout sets the per-command timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send issues one command and decodes the result into out, which may be nil
func (c *Client) Send(ctx context.Context, cmdType string, payload, out interface{}) error {
	cmd := Command{Type: cmdType, Project: c.projectID, Timestamp: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		cmd.Payload = raw
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: failed to connect to control socket: %v", types.ErrStorageUnavailable, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return fmt.Errorf("%w: failed to send command: %v", types.ErrStorageUnavailable, err)
	}

	var resp Response
	dec := json.NewDecoder(bufio.NewReader(conn))
	if err := dec.Decode(&resp); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: control command %s timed out", types.ErrTransientNetwork, cmdType)
		}
		return fmt.Errorf("%w: failed to read response: %v", types.ErrStorageUnavailable, err)
	}

	if !resp.Success {
		return types.ErrorFromCode(resp.Code, resp.Error)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// RecordError stores an error event
func (c *Client) RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error) {
	if ev == nil {
		return nil, types.Invalid("", "error event is required")
	}
	var out types.RecordErrorResult
	if err := c.Send(ctx, CmdRecordError, api.NewRecordErrorRequest(ev), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordSolution links a solution to a stored error
func (c *Client) RecordSolution(ctx context.Context, sol *types.Solution) (*types.Solution, error) {
	if sol == nil {
		return nil, types.Invalid("", "solution is required")
	}
	req := api.RecordSolutionRequest{
		ErrorID:       sol.ErrorID,
		Description:   sol.Description,
		CodeChangeRef: sol.CodeChangeRef,
		AppliedBy:     sol.AppliedBy,
		Effectiveness: sol.Effectiveness,
	}
	var out types.Solution
	if err := c.Send(ctx, CmdRecordSolution, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindSimilar returns stored errors resembling text
func (c *Client) FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error) {
	var out api.SimilarResponse
	if err := c.Send(ctx, CmdFindSimilar, api.FindSimilarRequest{Text: text, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// GetPatterns lists patterns seen at least minOccurrences times
func (c *Client) GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error) {
	var out api.PatternsResponse
	if err := c.Send(ctx, CmdGetPatterns, PatternsRequest{MinOccurrences: minOccurrences}, &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// RecordDecision stores a decision and returns its id
func (c *Client) RecordDecision(ctx context.Context, d *types.Decision) (string, error) {
	if d == nil {
		return "", types.Invalid("", "decision is required")
	}
	req := api.RecordDecisionRequest{
		PhaseRef:     d.PhaseRef,
		Category:     d.Category,
		Question:     d.Question,
		ChosenOption: d.ChosenOption,
		Alternatives: d.Alternatives,
		Rationale:    d.Rationale,
		MadeBy:       d.MadeBy,
	}
	var out api.DecisionResponse
	if err := c.Send(ctx, CmdRecordDecision, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// TransitionGate moves a phase's gate out of pending
func (c *Client) TransitionGate(ctx context.Context, d *types.GateDecision) (*types.QualityGate, error) {
	if d == nil {
		return nil, types.Invalid("", "gate decision is required")
	}
	req := api.GateRequest{PhaseRef: d.PhaseRef, PhaseNumber: d.PhaseNumber, Status: d.Status, Results: d.Results}
	var out types.QualityGate
	if err := c.Send(ctx, CmdTransitionGate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion returns the project version and its history
func (c *Client) GetVersion(ctx context.Context) (*types.VersionState, error) {
	return c.version(ctx, CmdGetVersion, nil)
}

// BumpVersion increments one version component
func (c *Client) BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error) {
	req := api.BumpVersionRequest{Component: component, Reason: reason, PhaseRef: opts.PhaseRef, Reset: opts.Reset}
	return c.version(ctx, CmdBumpVersion, req)
}

// SetVersion sets the version explicitly
func (c *Client) SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error) {
	req := api.SetVersionRequest{Version: target.String(), Reason: reason, Force: force}
	return c.version(ctx, CmdSetVersion, req)
}

func (c *Client) version(ctx context.Context, cmdType string, payload interface{}) (*types.VersionState, error) {
	var out api.VersionResponse
	if err := c.Send(ctx, cmdType, payload, &out); err != nil {
		return nil, err
	}
	if out.VersionState == nil {
		return nil, fmt.Errorf("control server returned no version state")
	}
	return out.VersionState, nil
}

// GetStatistics returns aggregate counts
func (c *Client) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	var out types.Statistics
	if err := c.Send(ctx, CmdStats, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ContextSummary returns the one-line project status
func (c *Client) ContextSummary(ctx context.Context) (string, error) {
	var out api.ContextResponse
	if err := c.Send(ctx, CmdContext, nil, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// SyncNow runs a push and pull round on the server and waits for it
func (c *Client) SyncNow(ctx context.Context) (*syncer.RoundResult, error) {
	var out syncer.RoundResult
	if err := c.Send(ctx, CmdSyncNow, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the project version and sync engine state
func (c *Client) Status(ctx context.Context) (*StatusData, error) {
	var out StatusData
	if err := c.Send(ctx, CmdStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
