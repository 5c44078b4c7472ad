package audience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/valyala/fasthttp"
)

// ErrResolverUnavailable is returned when the segment resolver cannot be
// reached after all retry attempts. ErrResolverRejected is returned when
// the resolver answered with a 4xx; the request is wrong, so it is not
// retried.
var (
	ErrResolverUnavailable = errors.New("segment resolver unavailable")
	ErrResolverRejected    = errors.New("segment resolver rejected request")
)

// Config for the segment-resolver client.
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxConns   int
}

// ResolveRequest carries the campaign's recipient selection criteria,
// passed through opaquely to the resolver service.
type ResolveRequest struct {
	SegmentIDs    []string               `json:"segment_ids"`
	CustomFilters map[string]interface{} `json:"custom_filters,omitempty"`
	Operator      model.SegmentOperator  `json:"operator,omitempty"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// ResolveResult is the resolved audience. Total is the full match count
// regardless of limit/offset.
type ResolveResult struct {
	Recipients []model.Recipient `json:"recipients"`
	Total      int               `json:"total"`
}

// Client talks to the segment resolver service. Resolution errors are
// surfaced to the caller; retry policy beyond transport-level retries
// belongs to the orchestrator.
type Client struct {
	config *Config
	client *fasthttp.Client
}

func NewClient(config *Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("resolver URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	if config.MaxConns == 0 {
		config.MaxConns = 100
	}

	return &Client{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost: config.MaxConns,
			ReadTimeout:     config.Timeout,
			WriteTimeout:    config.Timeout,
		},
	}, nil
}

// Resolve returns the recipients matching the campaign's criteria.
// Limit 0 means all matching recipients.
func (c *Client) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResult, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolve request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		start := time.Now()
		response, err := c.doRequest(ctx, "POST", "/api/v1/segments/resolve", reqBody)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			if errors.Is(err, ErrResolverRejected) {
				return nil, err
			}
			logger.Warn("Resolve request failed, retrying", "error", err, "attempt", attempt+1)
			lastErr = err
			continue
		}

		var result ResolveResult
		if err := json.Unmarshal(response, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolve response: %w", err)
		}

		logger.Info("Audience resolved", "total", result.Total, "returned", len(result.Recipients), "latency_ms", latency)

		return &result, nil
	}

	return nil, fmt.Errorf("%w: failed after %d attempts: %v", ErrResolverUnavailable, c.config.MaxRetries+1, lastErr)
}

// doRequest performs HTTP request with timeout
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.URL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode >= fasthttp.StatusBadRequest && statusCode < fasthttp.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status code: %d, body: %s", ErrResolverRejected, statusCode, resp.Body())
	}
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
