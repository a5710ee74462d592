package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// HTTPClient calls a remote action service:
//
//	GET  /api/actions                    → []Spec
//	POST /api/actions/{action}/generate  → {"code": "..."}
//	POST /api/actions/{action}/run       → []Call
//
// Both POST endpoints take {"step": Step}.
type HTTPClient struct {
	base   string
	client *retryablehttp.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithRetryMax sets how often a failed request is retried.
func WithRetryMax(n int) HTTPOption {
	return func(c *HTTPClient) { c.client.RetryMax = n }
}

// WithRetryWait bounds the backoff between retries.
func WithRetryWait(min, max time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.RetryWaitMin = min
		c.client.RetryWaitMax = max
	}
}

// WithLogger routes retry logging to logger.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(c *HTTPClient) { c.client.Logger = zapLeveled{logger.Sugar()} }
}

// NewHTTPClient returns a client for the service at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", baseURL)
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	c := &HTTPClient{base: strings.TrimRight(baseURL, "/"), client: rc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type stepRequest struct {
	Step schema.Step `json:"step"`
}

type generateResponse struct {
	Code string `json:"code"`
}

// List fetches the service's actions.
func (c *HTTPClient) List(ctx context.Context) ([]Spec, error) {
	var specs []Spec
	if err := c.do(ctx, http.MethodGet, "/api/actions", nil, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// Generate asks the service for the step's code.
func (c *HTTPClient) Generate(ctx context.Context, step schema.Step) (string, error) {
	var out generateResponse
	path := "/api/actions/" + url.PathEscape(step.Action) + "/generate"
	if err := c.do(ctx, http.MethodPost, path, stepRequest{Step: step}, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// Run asks the service for the calls that apply the step.
func (c *HTTPClient) Run(ctx context.Context, step schema.Step) ([]actions.Call, error) {
	var calls []actions.Call
	path := "/api/actions/" + url.PathEscape(step.Action) + "/run"
	if err := c.do(ctx, http.MethodPost, path, stepRequest{Step: step}, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body any
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotImplemented {
		return failure.New(failure.KindActionContractViolation, "%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// zapLeveled adapts zap to retryablehttp.LeveledLogger.
type zapLeveled struct {
	s *zap.SugaredLogger
}

func (l zapLeveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l zapLeveled) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l zapLeveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l zapLeveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
