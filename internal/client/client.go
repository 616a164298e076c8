// Package client reaches a project memory served by `nebula serve` over
// HTTP. It implements memory.Client, so callers can swap it for the
// in-process service or the control socket client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nebula-protocol/nebula/internal/api"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// Client is an HTTP client bound to one project
type Client struct {
	base      string
	projectID string
	token     string
	http      *http.Client
}

var _ memory.Client = (*Client)(nil)

// New creates a client for projectID on the server at baseURL
func New(baseURL, projectID string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, types.Invalid("server", "invalid server URL %q", baseURL)
	}
	if err := storage.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	c := &Client{
		base:      baseURL,
		projectID: projectID,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RecordError stores an error event
func (c *Client) RecordError(ctx context.Context, ev *types.ErrorEvent) (*types.RecordErrorResult, error) {
	if ev == nil {
		return nil, types.Invalid("", "error event is required")
	}
	var out types.RecordErrorResult
	if err := c.do(ctx, http.MethodPost, "/error", nil, api.NewRecordErrorRequest(ev), &out); err != nil {
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
	if err := c.do(ctx, http.MethodPost, "/solution", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindSimilar returns stored errors resembling text
func (c *Client) FindSimilar(ctx context.Context, text string, limit int) ([]types.SimilarMatch, error) {
	var out api.SimilarResponse
	if err := c.do(ctx, http.MethodPost, "/errors/similar", nil, api.FindSimilarRequest{Text: text, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// GetPatterns lists patterns seen at least minOccurrences times
func (c *Client) GetPatterns(ctx context.Context, minOccurrences int) ([]*types.ErrorPattern, error) {
	q := url.Values{}
	if minOccurrences > 0 {
		q.Set("min_occurrences", strconv.Itoa(minOccurrences))
	}
	var out api.PatternsResponse
	if err := c.do(ctx, http.MethodGet, "/patterns", q, nil, &out); err != nil {
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
	if err := c.do(ctx, http.MethodPost, "/decision", nil, req, &out); err != nil {
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
	if err := c.do(ctx, http.MethodPost, "/star-gate", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion returns the project version and its history
func (c *Client) GetVersion(ctx context.Context) (*types.VersionState, error) {
	return c.version(ctx, http.MethodGet, "/version", nil)
}

// BumpVersion increments one version component
func (c *Client) BumpVersion(ctx context.Context, component version.Component, reason string, opts version.BumpOptions) (*types.VersionState, error) {
	req := api.BumpVersionRequest{Component: component, Reason: reason, PhaseRef: opts.PhaseRef, Reset: opts.Reset}
	return c.version(ctx, http.MethodPost, "/version/bump", req)
}

// SetVersion sets the version explicitly
func (c *Client) SetVersion(ctx context.Context, target version.Version, reason string, force bool) (*types.VersionState, error) {
	req := api.SetVersionRequest{Version: target.String(), Reason: reason, Force: force}
	return c.version(ctx, http.MethodPut, "/version", req)
}

func (c *Client) version(ctx context.Context, method, path string, body interface{}) (*types.VersionState, error) {
	var out api.VersionResponse
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	if out.VersionState == nil {
		return nil, fmt.Errorf("server returned no version state")
	}
	return out.VersionState, nil
}

// GetStatistics returns aggregate counts
func (c *Client) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	var out types.Statistics
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ContextSummary returns the one-line project status
func (c *Client) ContextSummary(ctx context.Context) (string, error) {
	var out api.ContextResponse
	if err := c.do(ctx, http.MethodGet, "/context", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// Sync asks the server to push the project's pending changes soon
func (c *Client) Sync(ctx context.Context, milestone memory.Milestone) error {
	return c.do(ctx, http.MethodPost, "/sync", nil, api.SyncRequest{Milestone: string(milestone)}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	target := c.base + "/project/" + url.PathEscape(c.projectID) + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", types.ErrStorageUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's classified error from its wire code
func decodeError(status int, body []byte) error {
	var er api.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		msg := strings.TrimSpace(string(body))
		switch {
		case status == http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", types.ErrStorageUnavailable, msg)
		default:
			return fmt.Errorf("server returned %d: %s", status, msg)
		}
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", types.ErrFatalConfig, er.Message)
	}
	return types.ErrorFromCode(er.Error, er.Message)
}
