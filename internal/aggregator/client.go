package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
)

// Client talks to a central aggregator over HTTP
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client for the aggregator at endpoint. A missing or
// malformed endpoint is a FatalConfig error.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: aggregator endpoint is not configured", types.ErrFatalConfig)
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid aggregator endpoint %q", types.ErrFatalConfig, endpoint)
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the base URL
func (c *Client) Endpoint() string { return c.endpoint }

// PushBatch sends one batch of pattern aggregates
func (c *Client) PushBatch(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint+BatchPath, bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullPatterns fetches the page of patterns after q's position, excluding
// those only q.Exclude contributed.
func (c *Client) PullPatterns(ctx context.Context, q PullQuery) (*PullResponse, error) {
	v := url.Values{}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
		if q.AfterHash != "" {
			v.Set("after", q.AfterHash)
		}
	}
	if q.Exclude != "" {
		v.Set("exclude", q.Exclude)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	target := c.endpoint + PatternsPath
	if len(v) > 0 {
		target += "?" + v.Encode()
	}
	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
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
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", types.ErrTransientNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode aggregator response: %w", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", types.ErrTransientNetwork, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", types.ErrTransientNetwork, err)
	}
	return fmt.Errorf("aggregator request failed: %w", err)
}

// statusError maps an HTTP failure onto the error taxonomy: overload and
// server errors are transient, credential problems are fatal, anything else
// is a rejected request.
func statusError(status int, body []byte) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: aggregator returned %d: %s", types.ErrTransientNetwork, status, msg)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: aggregator rejected credentials (%d): %s", types.ErrFatalConfig, status, msg)
	default:
		return fmt.Errorf("%w: aggregator returned %d: %s", types.ErrValidation, status, msg)
	}
}
