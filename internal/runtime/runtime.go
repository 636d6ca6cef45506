// Package runtime assembles the daemon: telemetry, the embedded bus, the
// governor, the three actors and the dispatch surface, with ordered startup
// and reverse-ordered shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openvoiced/voiced/internal/bus"
	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/corrections"
	"github.com/openvoiced/voiced/internal/dispatch"
	"github.com/openvoiced/voiced/internal/envctx"
	"github.com/openvoiced/voiced/internal/governor"
	"github.com/openvoiced/voiced/internal/input"
	"github.com/openvoiced/voiced/internal/natsserver"
	"github.com/openvoiced/voiced/internal/output"
	"github.com/openvoiced/voiced/internal/proactive"
	"github.com/openvoiced/voiced/internal/reason"
	"github.com/openvoiced/voiced/internal/recall"
)

// recallPruneInterval is how often retention is enforced while running.
const recallPruneInterval = time.Hour

// Runtime owns every long-lived component of the daemon.
type Runtime struct {
	cfg config.Config
	log *slog.Logger

	embedded *natsserver.EmbeddedServer
	busc     *bus.Client
	gov      *governor.Governor
	out      *output.Service
	in       *input.Service
	rsn      *reason.Service
	corr     *corrections.Store
	memory   *recall.Store
	pro      *proactive.Service
	disp     *dispatch.Service

	metricsSrv      *http.Server
	healthSrv       *http.Server
	traceShutdown   func(context.Context) error
	metricsShutdown func(context.Context) error
}

func New(cfg config.Config) (*Runtime, error) {
	return &Runtime{
		cfg: cfg,
		log: NewLogger(cfg.Telemetry),
	}, nil
}

// Run starts everything and blocks until ctx is cancelled or a component
// fails fatally.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.Info("starting voiced",
		slog.String("environment", r.cfg.Environment))

	var err error
	if r.traceShutdown, err = initTracing(ctx, r.cfg, r.log); err != nil {
		return err
	}
	if r.metricsSrv, r.metricsShutdown, err = initMetrics(r.cfg, r.log); err != nil {
		return err
	}

	if r.embedded, err = natsserver.Start(r.cfg.Bus, r.log.With("component", "natsserver")); err != nil {
		return err
	}
	servers := r.cfg.Bus.Servers
	if r.embedded != nil {
		servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", r.cfg.Bus.Port)}
	}
	busCfg := r.cfg.Bus
	busCfg.Servers = servers
	if r.busc, err = bus.Connect(ctx, busCfg, r.log.With("component", "bus")); err != nil {
		return err
	}

	r.gov = governor.New(r.cfg.Governor, r.log.With("component", "governor"))
	r.gov.Start(ctx)

	if r.cfg.Output.Enabled {
		if r.out, err = output.NewService(r.cfg.Output, r.gov, r.log.With("component", "output")); err != nil {
			return err
		}
		if err = r.out.Start(ctx); err != nil {
			return err
		}
	}
	if r.cfg.Input.Enabled {
		if r.in, err = input.NewService(r.cfg.Input, r.log.With("component", "input")); err != nil {
			return err
		}
	}
	if r.cfg.Reasoning.Enabled {
		if r.rsn, err = reason.NewService(r.cfg.Reasoning, r.log.With("component", "reason")); err != nil {
			return err
		}
		if r.out != nil {
			r.rsn.SetSpeaker(r.out)
		}
	}
	if r.cfg.Corrections.Enabled {
		if r.corr, err = corrections.Open(r.cfg.Corrections, r.log.With("component", "corrections")); err != nil {
			return err
		}
		if r.rsn != nil {
			r.rsn.SetHinter(r.corr)
			r.rsn.SetFailureReporter(r.corr)
		}
	}
	if r.cfg.Recall.Enabled {
		if r.memory, err = recall.Open(r.cfg.Recall, r.log.With("component", "recall")); err != nil {
			return err
		}
		if r.rsn != nil {
			r.rsn.SetRecaller(r.memory)
		}
	}
	if r.cfg.Context.Enabled && r.rsn != nil {
		env, err := envctx.New(r.cfg.Context, r.log.With("component", "envctx"))
		if err != nil {
			return err
		}
		r.rsn.SetEnvProvider(env)
	}

	if r.cfg.Proactive.Enabled && r.rsn != nil {
		r.pro = proactive.NewService(r.cfg.Proactive, r.rsn, r.log.With("component", "proactive"))
		if err := r.pro.Start(ctx); err != nil {
			return err
		}
	}

	r.disp = dispatch.NewService(r.busc, r.gov, r.out, r.in, r.rsn, r.corr, r.pro,
		r.log.With("component", "dispatch"))
	if err := r.disp.Start(ctx); err != nil {
		return err
	}

	r.healthSrv = r.newHealthServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.healthSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	if r.memory != nil {
		g.Go(func() error {
			ticker := time.NewTicker(recallPruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := r.memory.Prune(gctx); err != nil {
						r.log.Warn("recall prune failed", slog.String("error", err.Error()))
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.shutdown()
		return nil
	})

	r.log.Info("voiced ready",
		slog.String("http", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)))
	return g.Wait()
}

func (r *Runtime) newHealthServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !r.ready(req.Context()) {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ready requires the bus and every enabled actor to be healthy. The
// reasoning backend is advisory; the daemon still serves speech when the
// model is down.
func (r *Runtime) ready(ctx context.Context) bool {
	if !r.busc.Healthy() {
		return false
	}
	if r.out != nil && !r.out.Healthy() {
		return false
	}
	if r.in != nil && !r.in.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) shutdown() {
	r.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.healthSrv != nil {
		r.healthSrv.Shutdown(shutdownCtx)
	}
	if r.metricsSrv != nil {
		r.metricsSrv.Shutdown(shutdownCtx)
	}
	if r.disp != nil {
		r.disp.Close()
	}
	if r.pro != nil {
		r.pro.Close()
	}
	if r.out != nil {
		r.out.Close()
	}
	if r.memory != nil {
		r.memory.Close()
	}
	if r.gov != nil {
		r.gov.Close()
	}
	if r.busc != nil {
		r.busc.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.metricsShutdown != nil {
		r.metricsShutdown(shutdownCtx)
	}
	if r.traceShutdown != nil {
		r.traceShutdown(shutdownCtx)
	}
}
