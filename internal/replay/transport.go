package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/offlog/internal/models"
)

// QueuedHeader is set on synthetic responses so callers can tell "saved for
// later" apart from "saved now" without parsing the body.
const QueuedHeader = "X-Offlog-Queued"

const queuedBody = `{"queued":true}`

// DefaultSyncTag names the deferred-retry registration for queued mutations.
const DefaultSyncTag = "replay-queued-mutations"

// MutationStore persists captured mutations.
type MutationStore interface {
	AddMutation(ctx context.Context, m *models.QueuedMutation) (int64, error)
}

// SyncRegistrar schedules a deferred retry for a tag. Registration is best
// effort; failures are logged by the transport and never fail a request.
type SyncRegistrar interface {
	Register(tag string) error
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	Matcher Matcher
	Sync    SyncRegistrar // optional
	SyncTag string
}

// Transport is an http.RoundTripper that queues watched requests whose live
// attempt fails.
type Transport struct {
	next    http.RoundTripper
	store   MutationStore
	matcher Matcher
	sync    SyncRegistrar
	syncTag string
	logger  *slog.Logger
	now     func() time.Time
}

// NewTransport wraps next. A nil next uses http.DefaultTransport.
func NewTransport(next http.RoundTripper, st MutationStore, cfg TransportConfig, logger *slog.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Matcher.PathPrefix == "" {
		cfg.Matcher = DefaultMatcher()
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = DefaultSyncTag
	}
	return &Transport{
		next:    next,
		store:   st,
		matcher: cfg.Matcher,
		sync:    cfg.Sync,
		syncTag: cfg.SyncTag,
		logger:  logger.With("component", "replay-transport"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RoundTrip implements http.RoundTripper. Requests the matcher rejects pass
// through untouched. For watched requests a network error leads to the
// request being persisted and a synthetic 202 response being returned; any
// response from the network, whatever its status, is returned verbatim.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.matcher.Match(req) {
		return t.next.RoundTrip(req)
	}

	body, err := readBody(req)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	live := req.Clone(req.Context())
	live.Body = io.NopCloser(bytes.NewReader(body))
	live.ContentLength = int64(len(body))
	live.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, netErr := t.next.RoundTrip(live)
	if netErr == nil {
		return resp, nil
	}

	m := &models.QueuedMutation{
		URL:      req.URL.String(),
		Headers:  models.CaptureHeaders(req.Header),
		Body:     string(body),
		QueuedAt: t.now(),
	}
	if id, err := uuid.NewV7(); err == nil {
		m.RequestID = id.String()
	}

	// The caller's context may be what failed the request; the insert must
	// still happen.
	ctx := context.WithoutCancel(req.Context())
	if _, err := t.store.AddMutation(ctx, m); err != nil {
		t.logger.Error("failed to queue mutation after network error",
			"url", m.URL, "network_error", netErr, "error", err)
		return nil, fmt.Errorf("%w: %w (network error: %v)", ErrPersist, err, netErr)
	}

	t.logger.Info("mutation queued for replay", "id", m.ID, "url", m.URL, "network_error", netErr)

	if t.sync != nil {
		if err := t.sync.Register(t.syncTag); err != nil {
			t.logger.Warn("deferred retry registration failed", "tag", t.syncTag, "error", err)
		}
	}

	return queuedResponse(req), nil
}

// readBody consumes and closes the request body. The bytes are reused for the
// live attempt and, on failure, for the queued copy.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// queuedResponse builds the success-shaped response returned when a
// submission was stored for later instead of delivered.
func queuedResponse(req *http.Request) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set(QueuedHeader, "true")
	h.Set("Content-Length", strconv.Itoa(len(queuedBody)))
	return &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(queuedBody)),
		ContentLength: int64(len(queuedBody)),
		Request:       req,
	}
}

// IsQueued reports whether resp is a synthetic queued response.
func IsQueued(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusAccepted && resp.Header.Get(QueuedHeader) == "true"
}
