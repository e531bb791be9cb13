// Package backend is the terminal's client for the store backend's command
// API. Every operation is a POST to /invoke/{command} with a JSON object of
// arguments; answers are {"data": ...} or {"error": {"code", "message"}}.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-pos/internal/resilience"
)

var (
	// ErrNotConfigured is returned by a zero Client.
	ErrNotConfigured = errors.New("backend: client not configured")
	// ErrUnavailable marks transport failures and 5xx answers.
	ErrUnavailable = errors.New("backend: unavailable")
)

// CommandError is an error answer from a command.
type CommandError struct {
	Command    string
	HTTPStatus int
	Code       string
	Message    string
}

func (e *CommandError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: %s failed (%s): %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: %s failed with HTTP %d: %s", e.Command, e.HTTPStatus, e.Message)
}

// Unwrap reports 5xx answers as ErrUnavailable.
func (e *CommandError) Unwrap() error {
	if e.HTTPStatus >= http.StatusInternalServerError {
		return ErrUnavailable
	}
	return nil
}

// Config groups Client dependencies.
type Config struct {
	BaseURL      string
	SessionToken string
	HTTP         *resilience.HTTPClient
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Client invokes backend commands.
type Client struct {
	baseURL *url.URL
	token   string
	http    *resilience.HTTPClient
	logger  zerolog.Logger
	now     func() time.Time
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}
	if cfg.HTTP == nil {
		return nil, errors.New("backend: http client is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{baseURL: base, token: cfg.SessionToken, http: cfg.HTTP, logger: cfg.Logger, now: now}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke runs command with args and decodes the data member into out. out
// may be nil. It reports whether data was present and not null.
func (c *Client) Invoke(ctx context.Context, command string, args map[string]any, out any) (bool, error) {
	return c.invoke(ctx, command, args, nil, out)
}

func (c *Client) invoke(ctx context.Context, command string, args map[string]any, header http.Header, out any) (bool, error) {
	if c == nil || c.http == nil {
		return false, ErrNotConfigured
	}
	body := make(map[string]any, len(args)+1)
	for k, v := range args {
		body[k] = v
	}
	if c.token != "" {
		body["sessionToken"] = c.token
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("backend: encode %s: %w", command, err)
	}

	endpoint := c.baseURL.JoinPath("invoke", command)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	started := c.now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.Warn().Err(err).Str("command", command).Msg("backend command failed")
		return false, fmt.Errorf("%w: %s: %w", ErrUnavailable, command, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrUnavailable, command, err)
	}
	c.logger.Debug().
		Str("command", command).
		Int("status", resp.StatusCode).
		Dur("duration", c.now().Sub(started)).
		Msg("backend command")

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return false, fmt.Errorf("backend: decode %s: %w", command, err)
		}
	}
	if env.Error != nil || resp.StatusCode >= 300 {
		cmdErr := &CommandError{Command: command, HTTPStatus: resp.StatusCode}
		if env.Error != nil {
			cmdErr.Code = env.Error.Code
			cmdErr.Message = env.Error.Message
		} else {
			cmdErr.Message = http.StatusText(resp.StatusCode)
		}
		return false, cmdErr
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return true, fmt.Errorf("backend: decode %s data: %w", command, err)
	}
	return true, nil
}

// Ping checks that the backend answers at all. Any non-5xx status counts.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.http == nil {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: health answered %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
