// Command thermactld runs the adaptive thermal management daemon: it loads
// the configured process tree, drives it with a runner, and exposes metrics
// and health over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thermactl/thermactl"
	"github.com/thermactl/thermactl/config"
	"github.com/thermactl/thermactl/telemetry/logging"
)

type opts struct {
	configPath string
	listenAddr string
	logLevel   string
	logFormat  string
	watch      bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "thermactld",
		Short: "Adaptive thermal management daemon",
		Long: `thermactld reads temperatures and related sensors, decides fan, pump,
and cooling actuator settings, and writes those settings back to hardware.
The control topology (pipelines, systems, controllers, environments) is
assembled from a YAML configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVarP(&o.configPath, "config", "c", "thermactl.yaml", "path to the configuration file")
	root.Flags().StringVar(&o.listenAddr, "listen", "", "metrics/health listen address (overrides config)")
	root.Flags().StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.Flags().StringVar(&o.logFormat, "log-format", "", "log format: text or json (overrides config)")
	root.Flags().BoolVar(&o.watch, "watch", true, "reload the daemon when the configuration file changes")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		f.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		f.Logging.Format = o.logFormat
	}
	if o.listenAddr != "" {
		f.Telemetry.ListenAddr = o.listenAddr
	}

	logger := logging.New(logging.Options{
		Level:   f.Logging.Level,
		Format:  f.Logging.Format,
		Service: "thermactld",
	})
	slog.SetDefault(logger)

	d, err := buildDaemon(f, logger)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	logger.Info("daemon running", slog.String("config", o.configPath))

	var srv *http.Server
	if f.Telemetry.ListenAddr != "" {
		srv = serveHTTP(f.Telemetry.ListenAddr, d, logger)
	}

	var watcher *config.Watcher
	if o.watch {
		watcher, err = config.Watch(o.configPath)
		if err != nil {
			logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	for {
		var changes <-chan config.Change
		var werrs <-chan error
		if watcher != nil {
			changes = watcher.Changes()
			werrs = watcher.Errors()
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = srv.Shutdown(shutdownCtx)
				cancel()
			}
			return d.Stop()
		case ch, ok := <-changes:
			if !ok {
				watcher = nil
				continue
			}
			logger.Info("configuration changed, reloading",
				slog.String("checksum", ch.Checksum))
			next, err := buildDaemon(ch.File, logger)
			if err != nil {
				logger.Error("reload failed, keeping previous configuration",
					slog.String("error", err.Error()))
				continue
			}
			if err := d.Stop(); err != nil {
				logger.Warn("stopping previous daemon", slog.String("error", err.Error()))
			}
			d = next
			if err := d.Start(); err != nil {
				return fmt.Errorf("restart after reload: %w", err)
			}
		case err, ok := <-werrs:
			if !ok {
				continue
			}
			logger.Warn("config watcher", slog.String("error", err.Error()))
		}
	}
}

func buildDaemon(f *config.File, logger *slog.Logger) (*thermactl.Daemon, error) {
	root, err := config.BuildRoot(f, logger)
	if err != nil {
		return nil, err
	}
	cfg := thermactl.Defaults()
	cfg.RunnerVariant = f.Runner.Variant
	cfg.StopTimeout = f.Runner.StopTimeout.Std()
	cfg.MetricsEnabled = f.Telemetry.MetricsEnabled
	cfg.MetricsBackend = f.Telemetry.MetricsBackend
	cfg.TracingEnabled = f.Telemetry.TracingEnabled
	cfg.HealthEnabled = f.Telemetry.HealthEnabled
	cfg.Logger = logger
	return thermactl.New(cfg, root)
}

func serveHTTP(addr string, d *thermactl.Daemon, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	if h := d.MetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := d.HealthSnapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snap.Overall == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			logger.Warn("health encode", slog.String("error", err.Error()))
		}
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Snapshot()); err != nil {
			logger.Warn("status encode", slog.String("error", err.Error()))
		}
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.String("error", err.Error()))
		}
	}()
	return srv
}
