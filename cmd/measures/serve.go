package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/measures"
	"github.com/loykin/measures/internal/schedule"
	"github.com/loykin/measures/internal/server"
	tlsx "github.com/loykin/measures/internal/tls"
)

// daemonUpdater applies the daemon's include_observatories setting to every
// update it runs, whether requested over HTTP or by the schedule.
type daemonUpdater struct {
	*measures.Updater
	includeObservatories bool
}

func (d daemonUpdater) Update(ctx context.Context, opts measures.Options) (*measures.Result, error) {
	if d.includeObservatories {
		opts.IncludeObservatories = true
	}
	return d.Updater.Update(ctx, opts)
}

// Serve runs the HTTP API, the metrics listener and the auto update schedule
// until ctx is canceled.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	s, err := c.open(f.ConfigPath, "")
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	cfg := s.cfg
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	path, err := s.updater.Path()
	if err != nil {
		return err
	}
	svc := daemonUpdater{Updater: s.updater, includeObservatories: cfg.IncludeObservatories}

	var opts []server.RouterOption
	if cfg.Metrics.Enabled {
		if err := measures.RegisterMetricsDefault(); err != nil {
			slog.Warn("Failed to register metrics", "error", err)
		}
		opts = append(opts, server.WithMetrics())
		if cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.Server.Listen {
			go func() {
				if err := measures.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("Metrics server error", "listen", cfg.Metrics.Listen, "error", err)
				}
			}()
		}
	}

	if cfg.Schedule.Enabled && !f.NoSchedule {
		sched, err := schedule.New(cfg.Schedule.Spec, svc)
		if err != nil {
			return err
		}
		if err := sched.Start(true); err != nil {
			return fmt.Errorf("failed to start schedule: %w", err)
		}
		defer sched.Stop()
		opts = append(opts, server.WithScheduler(sched))
	}

	tlsConfig, err := tlsx.SetupTLS(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("failed to set up TLS: %w", err)
	}
	protocol := "HTTP"
	if tlsConfig != nil {
		protocol = "HTTPS"
	}
	srv, err := server.NewTLSServer(cfg.Server.Listen, tlsConfig, server.NewRouter(svc, cfg.Server.BasePath, opts...))
	if err != nil {
		return fmt.Errorf("failed to create %s server: %w", protocol, err)
	}
	_, _ = fmt.Fprintf(c.out, "Starting measures %s server on %s%s\n", protocol, srv.Addr, cfg.Server.BasePath)
	slog.Info("Serving measures data", "path", path, "listen", srv.Addr, "base_path", cfg.Server.BasePath)

	<-ctx.Done()

	_, _ = fmt.Fprintln(c.out, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
