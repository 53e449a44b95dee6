// Package worker hosts the background replay worker. The worker owns the
// mutation queue's drain and runs it in response to three events: its own
// activation, a "retry now" message from a page, and a deferred-retry (sync)
// firing. Events are handled one at a time by a single loop goroutine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kilupskalvis/offlog/internal/replay"
)

// State is the worker's lifecycle state.
type State int

const (
	StateInstalling State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReplayMessageType is the message type that asks the worker to drain.
const ReplayMessageType = "replay-queued-mutations"

// Message is a message posted to the worker by a page.
type Message struct {
	Type string `json:"type"`
}

// ReplayMessage returns the "retry now" message.
func ReplayMessage() Message {
	return Message{Type: ReplayMessageType}
}

// ErrNotActive is returned for sync events delivered before activation.
var ErrNotActive = errors.New("worker is not active")

// ErrStopped is returned when the event loop is no longer running.
var ErrStopped = errors.New("worker stopped")

// Drainer runs one pass over the mutation queue.
type Drainer interface {
	Drain(ctx context.Context) (replay.DrainResult, error)
}

// KV persists small bookkeeping values across restarts.
type KV interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

const lastDrainKey = "worker.last_drain"

// DrainRecord describes the most recent drain pass.
type DrainRecord struct {
	At      time.Time `json:"at"`
	Trigger string    `json:"trigger"`
	Removed int       `json:"removed"`
	Failed  int       `json:"failed"`
	Error   string    `json:"error,omitempty"`
}

// Config configures a Worker.
type Config struct {
	SyncTag string
	KV      KV                        // optional
	OnDrain func(replay.DrainResult) // optional, called after passes that did work
}

type eventKind int

const (
	eventActivate eventKind = iota
	eventMessage
	eventSync
)

func (k eventKind) String() string {
	switch k {
	case eventActivate:
		return "activate"
	case eventMessage:
		return "message"
	default:
		return "sync"
	}
}

type event struct {
	kind  eventKind
	msg   Message
	tag   string
	reply chan result
}

type result struct {
	res replay.DrainResult
	err error
}

// Worker is the background replay worker.
type Worker struct {
	drainer Drainer
	syncTag string
	kv      KV
	onDrain func(replay.DrainResult)
	logger  *slog.Logger

	events chan event
	ready  chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	state State
	last  *DrainRecord
}

// New creates a worker in the installing state. Call Run to start the event
// loop and Activate to bring it up.
func New(d Drainer, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = replay.DefaultSyncTag
	}
	w := &Worker{
		drainer: d,
		syncTag: cfg.SyncTag,
		kv:      cfg.KV,
		onDrain: cfg.OnDrain,
		logger:  logger.With("component", "worker"),
		events:  make(chan event),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.last = w.loadLastDrain()
	return w
}

// Run processes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.events:
			res, err := w.handle(ctx, ev)
			ev.reply <- result{res: res, err: err}
		}
	}
}

// Activate moves the worker to active and drains the queue.
func (w *Worker) Activate(ctx context.Context) (replay.DrainResult, error) {
	return w.send(ctx, event{kind: eventActivate})
}

// PostMessage delivers a page message. Only the replay message triggers a
// drain; anything else is ignored.
func (w *Worker) PostMessage(ctx context.Context, msg Message) (replay.DrainResult, error) {
	return w.send(ctx, event{kind: eventMessage, msg: msg})
}

// Sync delivers a deferred-retry firing for tag. It returns an error when the
// drain left mutations behind so the caller can try again later.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	_, err := w.send(ctx, event{kind: eventSync, tag: tag})
	return err
}

// Ready is closed once the worker is active.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastDrain returns the most recent drain record, or nil if none ran yet.
func (w *Worker) LastDrain() *DrainRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	rec := *w.last
	return &rec
}

func (w *Worker) send(ctx context.Context, ev event) (replay.DrainResult, error) {
	ev.reply = make(chan result, 1)
	select {
	case w.events <- ev:
	case <-w.done:
		return replay.DrainResult{}, ErrStopped
	case <-ctx.Done():
		return replay.DrainResult{}, ctx.Err()
	}
	select {
	case r := <-ev.reply:
		return r.res, r.err
	case <-ctx.Done():
		return replay.DrainResult{}, ctx.Err()
	}
}

func (w *Worker) handle(ctx context.Context, ev event) (replay.DrainResult, error) {
	switch ev.kind {
	case eventActivate:
		w.mu.Lock()
		wasActive := w.state == StateActive
		w.state = StateActive
		w.mu.Unlock()
		if !wasActive {
			close(w.ready)
			w.logger.Info("worker active")
		}
		return w.drain(ctx, ev.kind)

	case eventMessage:
		if ev.msg.Type != ReplayMessageType {
			w.logger.Debug("ignoring unknown message", "type", ev.msg.Type)
			return replay.DrainResult{}, nil
		}
		if w.State() != StateActive {
			w.logger.Debug("ignoring message before activation", "type", ev.msg.Type)
			return replay.DrainResult{}, nil
		}
		return w.drain(ctx, ev.kind)

	case eventSync:
		if ev.tag != w.syncTag {
			w.logger.Debug("ignoring sync for unknown tag", "tag", ev.tag)
			return replay.DrainResult{}, nil
		}
		if w.State() != StateActive {
			return replay.DrainResult{}, ErrNotActive
		}
		res, err := w.drain(ctx, ev.kind)
		if err != nil {
			return res, err
		}
		if len(res.Failed) > 0 {
			return res, fmt.Errorf("%d mutations still queued", len(res.Failed))
		}
		return res, nil
	}
	return replay.DrainResult{}, nil
}

func (w *Worker) drain(ctx context.Context, trigger eventKind) (replay.DrainResult, error) {
	res, err := w.drainer.Drain(ctx)
	if errors.Is(err, replay.ErrDrainInProgress) {
		w.logger.Debug("drain already running", "trigger", trigger.String())
		return res, err
	}

	rec := &DrainRecord{
		At:      time.Now().UTC(),
		Trigger: trigger.String(),
		Removed: len(res.Removed),
		Failed:  len(res.Failed),
	}
	if err != nil {
		rec.Error = err.Error()
		w.logger.Error("drain failed", "trigger", rec.Trigger, "error", err)
	}
	w.mu.Lock()
	w.last = rec
	w.mu.Unlock()
	w.saveLastDrain(rec)

	if res.Attempted() > 0 && w.onDrain != nil {
		w.onDrain(res)
	}
	return res, err
}

func (w *Worker) loadLastDrain() *DrainRecord {
	if w.kv == nil {
		return nil
	}
	raw, err := w.kv.GetValue(lastDrainKey)
	if err != nil || raw == "" {
		return nil
	}
	var rec DrainRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		w.logger.Warn("discarding unreadable drain record", "error", err)
		return nil
	}
	return &rec
}

func (w *Worker) saveLastDrain(rec *DrainRecord) {
	if w.kv == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := w.kv.SetValue(lastDrainKey, string(data)); err != nil {
		w.logger.Warn("failed to record drain", "error", err)
	}
}
