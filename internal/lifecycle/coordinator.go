// Package lifecycle drives the page side of replay: it makes sure the worker
// is up and tells it to retry whenever connectivity returns.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/offlog/internal/worker"
)

// WorkerClient is how a page reaches the worker.
type WorkerClient interface {
	// Ready blocks until the worker is active.
	Ready(ctx context.Context) error
	PostMessage(ctx context.Context, msg worker.Message) error
}

// Connectivity reports the online state and its transitions.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Coordinator sends "retry now" to the worker at startup when online and on
// every offline to online transition. It never polls the queue.
type Coordinator struct {
	worker WorkerClient
	net    Connectivity
	logger *slog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(w WorkerClient, net Connectivity, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		worker: w,
		net:    net,
		logger: logger.With("component", "lifecycle"),
	}
}

// Run registers with the worker and then reacts to connectivity changes until
// ctx is cancelled. Worker errors are logged and never end the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	// Subscribe before the first check so a transition in between is not lost.
	changes, unsubscribe := c.net.Subscribe()
	defer unsubscribe()

	if err := c.worker.Ready(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("worker registration failed", "error", err)
	} else if c.net.Online() {
		c.send(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-changes:
			if !ok {
				return nil
			}
			if !online {
				continue
			}
			if err := c.RetryNow(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("retry request failed", "error", err)
			}
		}
	}
}

// RetryNow waits for the worker to be ready and posts the replay message.
func (c *Coordinator) RetryNow(ctx context.Context) error {
	if err := c.worker.Ready(ctx); err != nil {
		return fmt.Errorf("wait for worker: %w", err)
	}
	if err := c.worker.PostMessage(ctx, worker.ReplayMessage()); err != nil {
		return fmt.Errorf("post retry message: %w", err)
	}
	c.logger.Debug("retry requested")
	return nil
}

func (c *Coordinator) send(ctx context.Context) {
	if err := c.worker.PostMessage(ctx, worker.ReplayMessage()); err != nil && ctx.Err() == nil {
		c.logger.Warn("retry request failed", "error", err)
	}
}

// LocalWorker adapts an in-process worker to WorkerClient.
type LocalWorker struct {
	W *worker.Worker
}

func (l LocalWorker) Ready(ctx context.Context) error {
	select {
	case <-l.W.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l LocalWorker) PostMessage(ctx context.Context, msg worker.Message) error {
	_, err := l.W.PostMessage(ctx, msg)
	return err
}
