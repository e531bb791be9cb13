package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrClientNotConfigured is returned when Do is called on a zero client.
var ErrClientNotConfigured = errors.New("resilience: http client not configured")

// HTTPClient wraps an http.Client with per-attempt timeouts, bounded retries
// and a circuit breaker shared by every request to one upstream.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// Retryable decides whether a failed attempt may be repeated. The default
	// retries transport errors and 5xx answers.
	Retryable func(*http.Response, error) bool
}

// Do sends req honouring ctx. The body is buffered so attempts can be
// replayed. When every attempt ends in a 5xx answer the last response is
// returned unread so callers can decode the upstream error body.
func (cl *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl == nil || cl.Client == nil {
		return nil, ErrClientNotConfigured
	}
	breaker := cl.Breaker
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}
	retryable := cl.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}
	target := "default"
	if breaker != nil {
		target = breaker.Target()
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if breaker != nil && !breaker.Allow(ctx) {
			countAttempt(target, "rejected")
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrOpenCircuit, lastErr)
			}
			return nil, ErrOpenCircuit
		}
		resp, err := cl.doOnce(ctx, cloneRequest(ctx, req, body))
		healthy := err == nil && resp.StatusCode < http.StatusInternalServerError
		if breaker != nil {
			breaker.Report(ctx, healthy)
		}
		if healthy {
			countAttempt(target, "ok")
			return resp, nil
		}
		if err != nil {
			countAttempt(target, "error")
			lastErr = err
		} else {
			countAttempt(target, "server_error")
			lastErr = fmt.Errorf("upstream status %s", resp.Status)
		}
		if attempt == maxAttempts || !retryable(resp, err) || ctx.Err() != nil {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if resp != nil {
			drain(resp)
		}

		timer := time.NewTimer(Backoff(baseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl *HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func defaultRetryable(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

func countAttempt(target, outcome string) {
	if UpstreamAttempts == nil {
		return
	}
	UpstreamAttempts.WithLabelValues(target, outcome).Inc()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// cancelOnClose keeps the attempt context alive until the caller is done
// reading the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	return clone
}
