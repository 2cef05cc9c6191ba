package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/config"
	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/model"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// ErrResponseTooLarge rejects a response body over maxResponseBytes rather
// than returning it cut short.
var ErrResponseTooLarge = fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)

// httpRequest is one outbound call made by the api or webhook strategy.
type httpRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// httpResult is a completed HTTP exchange. Body holds parsed JSON when the
// payload is JSON, the raw text otherwise, and nil when empty.
type httpResult struct {
	status     int
	statusText string
	header     http.Header
	body       any
}

// httpCaller executes outbound requests with per-connector circuit breaking
// and retries with exponential backoff.
type httpCaller struct {
	client   *http.Client
	retry    config.RetryConfig
	breakers *breakerSet
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// do sends req, retrying transport errors and retryable statuses up to
// retries additional times. The last result is returned when every attempt
// gets a retryable status.
func (h *httpCaller) do(ctx context.Context, connectorID string, retries int, req httpRequest) (httpResult, error) {
	maxAttempts := retries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	var lastResult httpResult

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			h.metrics.RecordRetry(connectorID)
			delay := calculateBackoff(h.retry, attempt)
			select {
			case <-ctx.Done():
				return httpResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := h.executeOnce(ctx, connectorID, req)
		if err != nil {
			lastErr = err
			if !isRetryableError(ctx, err) {
				return httpResult{}, err
			}
			h.logger.Debug("retrying after error",
				zap.String("connector_id", connectorID),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(result.status) && attempt < maxAttempts-1 {
			lastResult = result
			lastErr = nil
			h.logger.Debug("retrying after status",
				zap.String("connector_id", connectorID),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", result.status),
			)
			continue
		}

		return result, nil
	}

	if lastErr != nil {
		return httpResult{}, lastErr
	}
	return lastResult, nil
}

// executeOnce performs a single request with circuit breaker protection.
func (h *httpCaller) executeOnce(ctx context.Context, connectorID string, req httpRequest) (httpResult, error) {
	breaker := h.breakers.get(connectorID)
	if err := breaker.Allow(); err != nil {
		return httpResult{}, err
	}
	defer func() { h.metrics.SetBreakerState(connectorID, int(breaker.State())) }()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return httpResult{}, fmt.Errorf("build request: %w", err)
	}
	if req.header != nil {
		httpReq.Header = req.header.Clone()
	}
	observability.InjectTraceHeaders(ctx, httpReq.Header)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		breaker.RecordFailure()
		return httpResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		breaker.RecordFailure()
		return httpResult{}, fmt.Errorf("read response: %w", err)
	}

	// 4xx are caller errors, not upstream failures.
	if isServerError(resp.StatusCode) {
		breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		breaker.RecordSuccess()
	}
	if len(raw) > maxResponseBytes {
		return httpResult{}, fmt.Errorf("%w: status %d", ErrResponseTooLarge, resp.StatusCode)
	}

	return httpResult{
		status:     resp.StatusCode,
		statusText: statusText(resp),
		header:     resp.Header,
		body:       parseBody(raw),
	}, nil
}

// parseBody decodes JSON payloads and falls back to the raw text.
func parseBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed
	}
	return string(raw)
}

func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// --- classification helpers ---

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError reports whether a failed attempt may be repeated. An open
// breaker or a finished context ends the attempts.
func isRetryableError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrBreakerOpen) && !errors.Is(err, ErrResponseTooLarge)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}

// httpFailure converts an error from httpCaller.do into a failed envelope.
func httpFailure(ctx context.Context, connectorID string, err error) model.Response {
	if resp, done := contextFailure(ctx, "request to "+connectorID); done {
		return resp
	}
	msg := strings.TrimSpace(err.Error())
	if isConnectionError(err) {
		msg = "unreachable: " + msg
	}
	return model.Fail(model.ErrDispatchFailure, fmt.Sprintf("connector %s: %s", connectorID, msg))
}
