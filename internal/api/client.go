package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/syncwarden/internal/retry"
	"github.com/psantana5/syncwarden/internal/state"
	"github.com/psantana5/syncwarden/internal/store"
	"github.com/psantana5/syncwarden/internal/tracing"
)

// APIError is a non-2xx response from the control API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control API returned %d: %s", e.Status, e.Message)
}

// Client talks to a running daemon's control API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Config
}

// NewClient creates a client. addr may be host:port or a full URL.
func NewClient(addr, apiKey string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultConfig(),
	}
}

// SetRetryConfig overrides the retry policy.
func (c *Client) SetRetryConfig(cfg retry.Config) { c.retry = cfg }

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil)
}

// Status returns the daemon's current snapshot.
func (c *Client) Status(ctx context.Context) (state.Snapshot, error) {
	var snap state.Snapshot
	err := c.do(ctx, http.MethodGet, "/status", &snap)
	return snap, err
}

// Start asks the daemon to launch the sync program.
func (c *Client) Start(ctx context.Context) (ActionResult, error) {
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/start", &res)
	return res, err
}

// Stop asks the daemon to stop the sync program.
func (c *Client) Stop(ctx context.Context) (ActionResult, error) {
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/stop", &res)
	return res, err
}

// History returns up to limit journal entries, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]store.Transition, error) {
	var out []store.Transition
	err := c.do(ctx, http.MethodGet, "/history?limit="+strconv.Itoa(limit), &out)
	return out, err
}

// do sends one request. Transport errors are retried when retry.IsRetryable
// says so; HTTP error responses never are.
func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	return retry.Do(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		tracing.InjectHTTPHeaders(ctx, req)

		resp, err := c.http.Do(req)
		if err != nil {
			if retry.IsRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			var body struct {
				Error string `json:"error"`
			}
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if json.Unmarshal(raw, &body) != nil || body.Error == "" {
				body.Error = strings.TrimSpace(string(raw))
			}
			return retry.Permanent(&APIError{Status: resp.StatusCode, Message: body.Error})
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}
