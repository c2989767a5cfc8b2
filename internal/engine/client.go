// Package engine is the outbound client for the external review-analysis
// compute service. It classifies transport and HTTP failures into a stable
// taxonomy and retries transient classes with jittered backoff.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/marketpulse/review-analysis/internal/metrics"
)

const maxErrorBodyBytes = 4 << 10

// Config holds the knobs for the engine client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client issues start and poll calls against the analysis engine. It holds
// no state beyond configuration and is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  *RetryPolicy
	logger *zap.Logger
}

// StartJobRequest is the submission body sent to the engine.
type StartJobRequest struct {
	ProductID   string   `json:"product_id"`
	URL         string   `json:"url,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	CallbackURL string   `json:"callback_url"`
}

// StartJobResponse is the engine's acknowledgement of a new job.
type StartJobResponse struct {
	TaskID               string `json:"task_id"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// StatusResponse is the engine's live view of a job's progress.
type StatusResponse struct {
	Status               string `json:"status"`
	Progress             int    `json:"progress"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// NewClient creates a reusable engine client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		// The hard deadline is enforced per call via context so it always
		// classifies as a timeout; the transport itself stays unbounded.
		http:   &http.Client{},
		retry:  NewRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		logger: logger,
	}
}

// StartJob submits a new analysis job and returns the issued task ID.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (StartJobResponse, error) {
	var resp StartJobResponse
	err := c.withRetry(ctx, "start_job", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "start_job", "/analyze", req, &resp)
	})
	if err != nil {
		return StartJobResponse{}, err
	}
	return resp, nil
}

// PollStatus fetches the engine's live status for a product's job.
func (c *Client) PollStatus(ctx context.Context, productID string) (StatusResponse, error) {
	var resp StatusResponse
	path := "/analyze/status/" + url.PathEscape(productID)
	err := c.withRetry(ctx, "poll_status", func(callCtx context.Context) error {
		return c.getJSON(callCtx, "poll_status", path, &resp)
	})
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

func (c *Client) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return err
		}
		metrics.ObserveEngineRetry(op)
		delay := c.retry.Backoff(attempt)
		c.logger.Warn("engine call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &Error{Class: classifyTransport(ctx.Err()), Op: op, Err: ctx.Err()}
		}
	}
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Class: ClassValidation, Op: op, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Class: ClassValidation, Op: op, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return &Error{Class: ClassValidation, Op: op, Err: fmt.Errorf("new request: %w", err)}
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		class := classifyTransport(err)
		metrics.ObserveEngineRequest(op, string(class))
		return &Error{Class: class, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		metrics.ObserveEngineRequest(op, string(class))
		return &Error{
			Class:   class,
			Op:      op,
			Status:  resp.StatusCode,
			Message: upstreamMessage(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveEngineRequest(op, string(ClassUpstream))
		return &Error{Class: ClassUpstream, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	metrics.ObserveEngineRequest(op, "ok")
	return nil
}

// upstreamMessage pulls a short error description out of the response body.
func upstreamMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return ""
	}
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return string(data)
}
