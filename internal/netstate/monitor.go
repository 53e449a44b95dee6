// Package netstate tracks whether the host is online.
//
// The primary source is the host application: it reports transitions with Set,
// which the daemon exposes as POST /_offlog/network. Kernel uevents are only a
// hint. udev emits SUBSYSTEM=net events when an interface appears, disappears
// or is renamed, not when its link or carrier changes, so a Wi-Fi reconnect
// usually produces no event at all. Each event that does arrive triggers one
// reachability probe.
package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"
)

// Prober checks whether the upstream can be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor holds the current online state and fans transitions out to
// subscribers.
type Monitor struct {
	prober       Prober
	probeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// NewMonitor creates a monitor with the given initial state. prober may be
// nil, in which case interface events are ignored and only Set changes state.
func NewMonitor(initial bool, prober Prober, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:       prober,
		probeTimeout: 5 * time.Second,
		logger:       logger.With("component", "netstate"),
		online:       initial,
		subs:         make(map[int]chan bool),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a new state and reports whether it was a transition.
// Subscribers only hear about transitions.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return false
	}
	m.online = online
	for _, ch := range m.subs {
		publish(ch, online)
	}
	m.logger.Info("connectivity changed", "online", online)
	return true
}

// Subscribe returns a channel that receives the new state after every
// transition. A slow subscriber only sees the latest state. The returned
// function unsubscribes and closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// publish replaces any unread value with v.
func publish(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// Check probes the upstream once and records the outcome.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	err := m.prober.Probe(ctx)
	if err != nil {
		m.logger.Debug("reachability probe failed", "error", err)
	}
	m.Set(err == nil)
	return err == nil
}

// Watch listens for network-interface uevents until ctx is cancelled. Each
// matching event triggers one probe. Interface add/remove is all it sees, so
// it supplements Set rather than replacing it. A missing netlink socket is not
// an error.
func (m *Monitor) Watch(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink unavailable; connectivity follows explicit signals only", "error", err)
		<-ctx.Done()
		return nil
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, buildMatcher())
	defer close(quit)

	m.logger.Info("netlink monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-queue:
			m.handleEvent(ctx, ev)
		case err := <-errs:
			m.logger.Warn("netlink monitor error", "error", err)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev netlink.UEvent) {
	iface := ev.Env["INTERFACE"]
	if iface == "lo" {
		return
	}
	m.logger.Debug("network interface event", "action", string(ev.Action), "interface", iface)
	m.Check(ctx)
}

// buildMatcher matches interface lifecycle events on the net subsystem.
func buildMatcher() netlink.Matcher {
	action := "add|remove|change|move|online|offline"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}
