package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/worker"
)

// Client talks to a daemon's control API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a control API client. An empty token sends no
// Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Error is a non-2xx answer from the control API.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("control error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Status fetches the worker status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/_offlog/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return &resp, nil
}

// Ready blocks until the worker is active. The server holds each request for
// a while; a not-ready answer is retried until ctx ends.
func (c *Client) Ready(ctx context.Context) error {
	for {
		var resp ReadyResponse
		err := c.doJSON(ctx, http.MethodGet, "/_offlog/ready", nil, &resp)
		if err == nil {
			return nil
		}
		var ce *Error
		if !errors.As(err, &ce) || ce.Status != http.StatusServiceUnavailable {
			return fmt.Errorf("wait for worker: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Send posts msg to the worker and returns the outcome of the drain it
// triggered.
func (c *Client) Send(ctx context.Context, msg worker.Message) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/_offlog/messages", msg, &resp); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return &resp, nil
}

// PostMessage posts msg, discarding the drain outcome.
func (c *Client) PostMessage(ctx context.Context, msg worker.Message) error {
	_, err := c.Send(ctx, msg)
	return err
}

// Retry sends the "retry now" message.
func (c *Client) Retry(ctx context.Context) (*MessageResponse, error) {
	return c.Send(ctx, worker.ReplayMessage())
}

// SetNetwork reports a connectivity change.
func (c *Client) SetNetwork(ctx context.Context, online bool) (*NetworkResponse, error) {
	var resp NetworkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/_offlog/network", &NetworkRequest{Online: online}, &resp); err != nil {
		return nil, fmt.Errorf("set network: %w", err)
	}
	return &resp, nil
}

// ListMutations returns the queued mutations in replay order.
func (c *Client) ListMutations(ctx context.Context) ([]*models.QueuedMutation, error) {
	var list []*models.QueuedMutation
	if err := c.doJSON(ctx, http.MethodGet, "/_offlog/mutations", nil, &list); err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	return list, nil
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Code: "unhealthy", Message: fmt.Sprintf("HTTP %d", resp.StatusCode), Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	headers := map[string]string{"Content-Type": "application/json"}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &Error{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	return &Error{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
