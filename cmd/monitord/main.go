// Command monitord runs the monitor daemon: it loads its bootstrap
// configuration, seeds the registry on first boot, and drives the
// supervision loop, liveness prober, and Control API until signaled to
// stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/monitd/internal/api"
	"github.com/loykin/monitd/internal/config"
	"github.com/loykin/monitd/internal/history/factory"
	"github.com/loykin/monitd/internal/logger"
	"github.com/loykin/monitd/internal/metrics"
	"github.com/loykin/monitd/internal/partner"
	"github.com/loykin/monitd/internal/prober"
	"github.com/loykin/monitd/internal/registry"
	"github.com/loykin/monitd/internal/supervisor"
)

func main() {
	var configPath string
	var listenAddr string

	root := &cobra.Command{
		Use:   "monitord",
		Short: "Run the process monitor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, listenAddr)
		},
	}
	root.Flags().StringVar(&configPath, "config", "monitord.toml", "path to the bootstrap config file")
	root.Flags().StringVar(&listenAddr, "listen", fmt.Sprintf(":%d", registry.DefaultRemoteControlPort), "Control API listen address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string) error {
	log := slog.New(logger.NewColorTextHandler(os.Stderr, nil, true))
	slog.SetDefault(log)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := registry.NewStore(cfg.RegistryDirectory)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}

	firstBoot := !store.Exists()
	if err := store.Initialize(cfg.InstanceID, cfg.MonitorIntervalMs); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	if firstBoot {
		if err := seedServerConfig(store, cfg); err != nil {
			return fmt.Errorf("seed server config: %w", err)
		}
	}
	if err := seedProcesses(store, cfg); err != nil {
		return fmt.Errorf("seed processes: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if reg, err := store.Load(); err == nil && reg.PartnerDiscovery.DiscoverOnStartup && !reg.StandaloneMode {
		disc := partner.New(reg.PartnerDiscovery, prober.New(5*time.Second))
		status := disc.DiscoverOnStartup(ctx, 5*time.Second)
		log.Info("partner discovery", "endpoint", status.Endpoint, "reachable", status.Reachable)
	}

	controller := supervisor.NewController(cfg.LogDirectory, cfg.RegistryDirectory)
	interval := time.Duration(cfg.MonitorIntervalMs) * time.Millisecond
	loop := supervisor.New(store, controller, interval, log)

	if cfg.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			log.Warn("history sink disabled", "dsn", cfg.HistoryDSN, "error", err)
		} else {
			loop.SetHistorySink(sink)
			defer func() { _ = sink.Close() }()
		}
	}

	go loop.Run(ctx)

	router := api.NewRouter(store, controller, cfg.InstanceID, time.Now())
	server, err := api.NewServer(listenAddr, router)
	if err != nil {
		return fmt.Errorf("start control api: %w", err)
	}
	log.Info("monitord started", "instance_id", cfg.InstanceID, "listen", listenAddr)

	<-ctx.Done()
	log.Info("monitord shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Warn("control api shutdown error", "error", err)
	}
	return nil
}

// seedProcesses registers every process named in the bootstrap config
// that isn't already in the registry. It runs on every start, not only on
// first boot, and never overwrites an entry already present, so entries
// a prior run (or a remote client) has since registered are kept as-is.
func seedProcesses(store *registry.Store, cfg *config.Config) error {
	procs, err := cfg.ProcessConfigs()
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		return nil
	}
	return store.WithLock("seed_processes", func(r *registry.Registry) (*registry.Registry, error) {
		for _, p := range procs {
			if _, exists := r.Processes[p.ID]; exists {
				continue
			}
			r.Processes[p.ID] = registry.NewEntry(p, false, time.Now())
		}
		return r, nil
	})
}

// seedServerConfig writes the bootstrap document's embedded defaults
// into the freshly created registry. Callers must only invoke this on
// first boot; a later remote reconfiguration of remote_access or
// partner_discovery must survive a daemon restart untouched.
func seedServerConfig(store *registry.Store, cfg *config.Config) error {
	return store.WithLock("seed_server_config", func(r *registry.Registry) (*registry.Registry, error) {
		r.RemoteAccess = cfg.ToRegistryRemoteAccess()
		r.PartnerDiscovery = cfg.ToRegistryPartnerDiscovery()
		r.AlivenessServer = cfg.AlivenessServerDefaults()
		return r, nil
	})
}
