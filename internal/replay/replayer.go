package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilupskalvis/offlog/internal/models"
)

// Replayer re-issues one queued mutation. A nil error means the server
// answered with a 2xx status.
type Replayer interface {
	Replay(ctx context.Context, m *models.QueuedMutation) error
}

// HTTPReplayer replays mutations over HTTP as POST requests carrying the
// captured URL, headers and body unchanged.
type HTTPReplayer struct {
	httpClient *http.Client

	// IdempotencyHeader, when set, carries the mutation's RequestID so a
	// server can drop duplicate deliveries. Empty keeps replays identical to
	// the captured request.
	IdempotencyHeader string
}

// NewHTTPReplayer creates a replayer. A zero timeout leaves request duration
// to the transport's defaults.
func NewHTTPReplayer(transport http.RoundTripper, timeout time.Duration) *HTTPReplayer {
	return &HTTPReplayer{
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Replay sends m and reports a non-2xx response as *StatusError.
func (r *HTTPReplayer) Replay(ctx context.Context, m *models.QueuedMutation) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, strings.NewReader(m.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = m.HTTPHeader()
	if r.IdempotencyHeader != "" && m.RequestID != "" {
		req.Header.Set(r.IdempotencyHeader, m.RequestID)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
