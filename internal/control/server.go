package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kilupskalvis/offlog/internal/models"
	"github.com/kilupskalvis/offlog/internal/replay"
	"github.com/kilupskalvis/offlog/internal/worker"
)

// Worker is the worker surface the control API drives.
type Worker interface {
	State() worker.State
	Ready() <-chan struct{}
	PostMessage(ctx context.Context, msg worker.Message) (replay.DrainResult, error)
	LastDrain() *worker.DrainRecord
}

// Queue exposes the mutation queue read-only.
type Queue interface {
	List(ctx context.Context) ([]*models.QueuedMutation, error)
	Pending(ctx context.Context) (int, error)
}

// Network records connectivity signals.
type Network interface {
	Online() bool
	Set(online bool) bool
}

// SyncLister reports pending deferred-retry registrations.
type SyncLister interface {
	Pending() []string
}

// Deps are the components behind the control API.
type Deps struct {
	Worker  Worker
	Queue   Queue
	Network Network
	Syncs   SyncLister // optional
}

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	Token          string // empty disables auth
	MaxRequestBody int64
	ReadyTimeout   time.Duration
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody: 64 * 1024,
		ReadyTimeout:   30 * time.Second,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
func Handler(deps Deps, cfg *ServerConfig, logger *slog.Logger) http.Handler {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = DefaultServerConfig().MaxRequestBody
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultServerConfig().ReadyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "control")

	api := http.NewServeMux()
	api.HandleFunc("GET /_offlog/status", handleStatus(deps, logger))
	api.HandleFunc("GET /_offlog/ready", handleReady(deps, cfg))
	api.HandleFunc("POST /_offlog/messages", handleMessage(deps, cfg, logger))
	api.HandleFunc("POST /_offlog/network", handleNetwork(deps, cfg))
	api.HandleFunc("GET /_offlog/mutations", handleListMutations(deps, logger))

	var protected http.Handler = api
	if cfg.Token != "" {
		protected = requireToken(cfg.Token)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("/_offlog/", protected)

	return chain(mux, withRequestID, withAccessLog(logger))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleStatus(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := deps.Queue.Pending(r.Context())
		if err != nil {
			logger.Error("count pending mutations", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read queue")
			return
		}
		resp := &StatusResponse{
			State:     deps.Worker.State().String(),
			Online:    deps.Network.Online(),
			Pending:   pending,
			LastDrain: deps.Worker.LastDrain(),
		}
		if deps.Syncs != nil {
			resp.PendingSyncs = deps.Syncs.Pending()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleReady holds the request until the worker is active or the ready
// timeout passes.
func handleReady(deps Deps, cfg *ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := time.NewTimer(cfg.ReadyTimeout)
		defer t.Stop()
		select {
		case <-deps.Worker.Ready():
			writeJSON(w, http.StatusOK, &ReadyResponse{State: deps.Worker.State().String()})
		case <-t.C:
			writeError(w, http.StatusServiceUnavailable, "not_ready", "worker is still "+deps.Worker.State().String())
		case <-r.Context().Done():
		}
	}
}

func handleMessage(deps Deps, cfg *ServerConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg worker.Message
		if err := readJSON(r, cfg.MaxRequestBody, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		res, err := deps.Worker.PostMessage(r.Context(), msg)
		switch {
		case errors.Is(err, replay.ErrDrainInProgress):
			writeError(w, http.StatusConflict, "drain_in_progress", err.Error())
			return
		case errors.Is(err, worker.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "worker_stopped", err.Error())
			return
		case err != nil:
			logger.Error("message handling failed", "type", msg.Type, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, &MessageResponse{
			Removed: len(res.Removed),
			Failed:  len(res.Failed),
		})
	}
}

func handleNetwork(deps Deps, cfg *ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NetworkRequest
		if err := readJSON(r, cfg.MaxRequestBody, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		changed := deps.Network.Set(req.Online)
		writeJSON(w, http.StatusOK, &NetworkResponse{Online: req.Online, Changed: changed})
	}
}

func handleListMutations(deps Deps, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Queue.List(r.Context())
		if err != nil {
			logger.Error("list mutations", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read queue")
			return
		}
		if list == nil {
			list = []*models.QueuedMutation{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &ErrorResponse{Error: code, Message: message})
}

func readJSON(r *http.Request, maxSize int64, v interface{}) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
