package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilupskalvis/offlog/internal/config"
	"github.com/kilupskalvis/offlog/internal/control"
	"github.com/kilupskalvis/offlog/internal/lifecycle"
	"github.com/kilupskalvis/offlog/internal/netstate"
	"github.com/kilupskalvis/offlog/internal/proxy"
	"github.com/kilupskalvis/offlog/internal/replay"
	"github.com/kilupskalvis/offlog/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen        string
	serveControlListen string
	serveUpstream      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy, control API and replay worker",
	Long: `Run the offlog daemon.

The daemon fronts the food-log backend with a local proxy. Watched submissions
that fail to reach the backend are stored and answered with 202 Accepted; the
replay worker sends them again once the backend is reachable. The control API
accepts "retry now" messages and connectivity signals.

Only one daemon may run per data directory.

Examples:
  offlog serve
  offlog serve --upstream https://food.example.com --listen 127.0.0.1:8730`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Proxy listen address (env: OFFLOG_PROXY_LISTEN)")
	f.StringVar(&serveControlListen, "control-listen", "", "Control API listen address (env: OFFLOG_CONTROL_LISTEN)")
	f.StringVar(&serveUpstream, "upstream", "", "Food-log backend base URL (env: OFFLOG_UPSTREAM)")
}

func runServe(_ *cobra.Command, _ []string) {
	c := initContext()
	cfg, logger := c.Config, c.Logger
	if serveListen != "" {
		cfg.Proxy.Listen = serveListen
	}
	if serveControlListen != "" {
		cfg.Control.Listen = serveControlListen
	}
	if serveUpstream != "" {
		cfg.Proxy.Upstream = serveUpstream
	}
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}

	lock, err := worker.AcquireLock(cfg.DataDir())
	if err != nil {
		exitError("%v", err)
	}
	defer lock.Release()

	st, err := openStore(cfg)
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	c.Store = st
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx, cfg, st, logger); err != nil {
		logger.Error("daemon stopped with error", "error", err)
		c.Close()
		lock.Release()
		os.Exit(1)
	}
	logger.Info("daemon stopped")
}

// daemonStore is what the daemon needs from the store.
type daemonStore interface {
	replay.Store
	worker.KV
}

func runDaemon(ctx context.Context, cfg *config.Config, st daemonStore, logger *slog.Logger) error {
	replayer := replay.NewHTTPReplayer(nil, cfg.Replay.Timeout.Duration)
	replayer.IdempotencyHeader = cfg.Replay.IdempotencyHeader
	queue := replay.NewQueue(st, replayer, logger)

	notifier := control.NewWebhookNotifier(cfg.Webhooks.URLs, logger)
	if notifier != nil {
		logger.Info("webhooks configured", "count", len(cfg.Webhooks.URLs))
	}
	w := worker.New(queue, worker.Config{
		SyncTag: cfg.Sync.Tag,
		KV:      st,
		OnDrain: notifier.NotifyDrain,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	prober := netstate.NewHTTPProber(cfg.ProbeURL(), 0)
	network := netstate.NewMonitor(false, prober, logger)
	syncs := worker.NewSyncManager(gctx, prober, w.Sync, &worker.SyncConfig{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff.Duration,
		MaxBackoff:     cfg.Sync.MaxBackoff.Duration,
		JitterFraction: 0.25,
	}, logger)
	defer syncs.Wait()

	transport := replay.NewTransport(nil, st, replay.TransportConfig{
		Matcher: replay.Matcher{Method: http.MethodPost, PathPrefix: cfg.Proxy.PathPrefix},
		Sync:    syncs,
		SyncTag: cfg.Sync.Tag,
	}, logger)
	proxyHandler, err := proxy.New(cfg.Proxy.Upstream, transport, logger)
	if err != nil {
		return err
	}

	controlCfg := control.DefaultServerConfig()
	controlCfg.Token = cfg.Control.Token
	controlHandler := control.Handler(control.Deps{
		Worker:  w,
		Queue:   queue,
		Network: network,
		Syncs:   syncs,
	}, controlCfg, logger)

	coordinator := lifecycle.NewCoordinator(lifecycle.LocalWorker{W: w}, network, logger)

	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		if _, err := w.Activate(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("activation drain failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		network.Check(gctx)
		return network.Watch(gctx)
	})
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error {
		changes, unsubscribe := network.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case online := <-changes:
				if online {
					syncs.Nudge()
				}
			}
		}
	})
	g.Go(func() error {
		logger.Info("starting proxy", "listen", cfg.Proxy.Listen, "upstream", cfg.Proxy.Upstream)
		return serveHTTP(gctx, newHTTPServer(cfg.Proxy.Listen, proxyHandler), logger)
	})
	g.Go(func() error {
		logger.Info("starting control API", "listen", cfg.Control.Listen)
		return serveHTTP(gctx, newHTTPServer(cfg.Control.Listen, controlHandler), logger)
	})

	return g.Wait()
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}
}

// serveHTTP runs srv until ctx ends, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "addr", srv.Addr, "error", err)
	}
	return nil
}
