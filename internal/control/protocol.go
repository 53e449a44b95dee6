// Package control implements the daemon's control API and its client. The API
// lets pages and the CLI talk to the worker: post messages, report
// connectivity and inspect the queue.
package control

import (
	"github.com/kilupskalvis/offlog/internal/worker"
)

// StatusResponse describes the worker and its queue.
type StatusResponse struct {
	State        string              `json:"state"`
	Online       bool                `json:"online"`
	Pending      int                 `json:"pending"`
	PendingSyncs []string            `json:"pending_syncs,omitempty"`
	LastDrain    *worker.DrainRecord `json:"last_drain,omitempty"`
}

// ReadyResponse is returned once the worker is active.
type ReadyResponse struct {
	State string `json:"state"`
}

// MessageResponse reports what the drain triggered by a message did.
type MessageResponse struct {
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// NetworkRequest signals a connectivity change.
type NetworkRequest struct {
	Online bool `json:"online"`
}

// NetworkResponse reports the recorded state and whether it changed.
type NetworkResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
