package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fw-proxy/internal/collector"
	"fw-proxy/internal/config"
	"fw-proxy/internal/conntrack"
	"fw-proxy/internal/fwctl"
	"fw-proxy/internal/logging"
	"fw-proxy/internal/relay"
	"fw-proxy/internal/sysfs"
	"fw-proxy/internal/web"
)

// Run wires the application together and blocks until termination.
func Run(cfg config.Config, version string) int {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.Info
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		format = logging.Logfmt
	}
	log := logging.New(os.Stderr, level, format)

	if cfg.ShowHelp {
		// We delegate help rendering to the flag package in main.
		return 0
	}
	if cfg.ShowVersion {
		log.Info("version", "version", version)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		return 2
	}
	listenAddrs, _ := cfg.ListenAddrs()

	sfs := sysfs.FS{Root: cfg.SysfsPath}

	if cfg.FirewallActivate {
		if err := fwctl.Activate(sfs, cfg.FirewallActivePath); err != nil {
			log.Warn("failed to activate firewall", "err", err)
		} else {
			log.Info("activated firewall", "path", sfs.Path(cfg.FirewallActivePath))
		}
	}

	active, err := fwctl.ReadActive(sfs, cfg.FirewallActivePath)
	switch {
	case err != nil:
		log.Warn("failed to read firewall state", "err", err)
	case !active:
		log.Warn("firewall is inactive; no traffic will be redirected to the proxy")
	}
	if cfg.FirewallRequireActive && !active {
		log.Error("firewall must be active, refusing to start")
		return 1
	}

	table := conntrack.NewTable(sfs, cfg.ConntabPath)

	reg := prometheus.NewRegistry()
	if !cfg.WebDisableExporterMetrics {
		reg.MustRegister(
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			prometheus.NewGoCollector(),
		)
	}

	metrics := relay.NewMetrics()
	metrics.MustRegister(reg)

	srv := relay.NewServer(relay.Config{
		ListenAddrs:          listenAddrs,
		Ports:                cfg.PortMap(),
		Backlog:              cfg.ListenBacklog,
		MaxChunk:             cfg.RelayMaxChunk,
		ConnectTimeout:       cfg.RelayConnectTimeout,
		ReadTimeout:          cfg.RelayReadTimeout,
		MaxHTTPContentLength: cfg.HTTPMaxContentLength,
		BlockSourceCode:      cfg.BlockSourceCode,
	}, table, log, metrics)

	if err := srv.Listen(); err != nil {
		log.Error("failed to bind listeners", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			log.Info("received signal, shutting down", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var ctCollector *collector.ConntabCollector
	if cfg.CollectorInterval > 0 {
		ctCollector = collector.NewConntabCollector(table, cfg.CollectorInterval)
		ctCollector.MustRegister(reg)
		ctCollector.Start(ctx)
	}

	webErr := make(chan error, 1)
	if len(cfg.WebListenAddresses) > 0 {
		ws := &web.Server{
			Logger:            log,
			Registry:          reg,
			TelemetryPath:     cfg.WebTelemetryPath,
			ListenAddrs:       cfg.WebListenAddresses,
			MaxRequests:       cfg.WebMaxRequests,
			DisableExpMetrics: cfg.WebDisableExporterMetrics,
			Health: func() error {
				on, err := fwctl.ReadActive(sfs, cfg.FirewallActivePath)
				if err != nil {
					return err
				}
				if !on {
					return fmt.Errorf("firewall inactive")
				}
				return nil
			},
		}
		go func() {
			err := ws.Start(ctx)
			if err != nil {
				cancel()
			}
			webErr <- err
		}()
	} else {
		webErr <- nil
	}

	// Relay (blocks). When it returns, stop the rest.
	_ = srv.Serve(ctx)
	cancel()

	err = <-webErr
	if ctCollector != nil {
		ctCollector.Stop()
	}

	if err != nil {
		log.Error("http server error", "err", err)
		return 1
	}

	log.Info("relay stopped")
	// Give background goroutines a tiny moment to flush logs (best-effort).
	time.Sleep(10 * time.Millisecond)
	return 0
}
