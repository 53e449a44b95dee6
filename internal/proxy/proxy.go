// Package proxy fronts the food-log backend. Watched write requests go
// through the replay transport, so a submission made while the backend is
// unreachable is queued and acknowledged instead of failing.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/kilupskalvis/offlog/internal/replay"
)

// New returns a reverse proxy to upstream whose outbound requests use rt.
func New(upstream string, rt http.RoundTripper, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream must be an absolute URL: %q", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "proxy")

	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			// SetURL prefixes the upstream's base path; watched routes are
			// matched against the path the client sent.
			r.Out = r.Out.WithContext(replay.WithMatchPath(r.Out.Context(), r.In.URL.Path))
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			handleError(w, r, err, logger)
		},
	}, nil
}

func handleError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status, code := http.StatusBadGateway, "upstream_unreachable"
	if errors.Is(err, replay.ErrPersist) {
		status, code = http.StatusInsufficientStorage, "queue_unavailable"
	}
	logger.Warn("proxy error", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&errorResponse{Error: code, Message: err.Error()})
}

// errorResponse mirrors the control API's error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
