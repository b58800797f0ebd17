package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/obeone/traefik-network-connector/internal/config"
	"github.com/obeone/traefik-network-connector/internal/docker"
	"github.com/obeone/traefik-network-connector/internal/listener"
	"github.com/obeone/traefik-network-connector/internal/logging"
	"github.com/obeone/traefik-network-connector/internal/matcher"
	"github.com/obeone/traefik-network-connector/internal/metrics"
	"github.com/obeone/traefik-network-connector/internal/notify"
	"github.com/obeone/traefik-network-connector/internal/reconciler"
	"github.com/obeone/traefik-network-connector/internal/resolver"
)

func main() {
	cfgFile := flag.String("config", "", "Path to config file")
	runOnce := flag.Bool("run-once", false, "run one reconciliation pass and exit")
	dryRun := flag.Bool("dry-run", false, "log connect/disconnect decisions without applying them")
	flag.Parse()

	cfg := loadConfig(*cfgFile)

	// CLI flags have highest precedence (over env/file/defaults)
	if *dryRun {
		cfg.Connector.DryRun = true
	}

	cleanup := initLogging(cfg)
	defer cleanup()

	for _, w := range cfg.Validate() {
		logging.Get().Warn().Msg(w)
	}

	pattern, err := cfg.CompileMonitoredLabel()
	if err != nil {
		logging.Get().Fatal().Err(err).Str("pattern", cfg.Traefik.MonitoredLabel).Msg("invalid monitoredLabel pattern")
	}

	initMetricsAndInflux(cfg)
	ensureDockerSocketAccessible(cfg.Docker.Host)

	dCli := createDockerClientOrFatal(cfg)
	defer dCli.Close()

	notifier := notify.FromConfig(cfg.Notify)
	rec := reconciler.New(reconciler.Options{
		Client:     dCli,
		Matcher:    matcher.New(pattern, cfg.Traefik.RequireLabelValue),
		Resolver:   newResolver(cfg),
		ProxyName:  cfg.Traefik.ContainerName,
		APITimeout: cfg.Connector.APITimeout,
		DryRun:     cfg.Connector.DryRun,
		Notifier:   notifier,
	})

	runAndWait(cfg, rec, dCli, notifier, *runOnce)
}

// loadConfig layers defaults, the optional config file and env overrides.
func loadConfig(path string) *config.Config {
	cfg := config.DefaultConfig()
	if path != "" {
		c, err := config.LoadConfigFromFile(path)
		if err != nil {
			log.Fatalf("failed loading config: %v", err)
		}
		cfg = c
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		log.Fatalf("invalid environment configuration: %v", err)
	}
	return cfg
}

// initLogging initializes the log subsystem and returns a cleanup func
func initLogging(cfg *config.Config) func() {
	cleanup, err := logging.Init(cfg.LogFile, cfg.LogLevel.General, cfg.LogLevel.Application)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return cleanup
}

// initMetricsAndInflux starts the optional metrics server and Influx pusher
func initMetricsAndInflux(cfg *config.Config) {
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PromHandler())
			mux.Handle("/status", metrics.JSONHandler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logging.Get().Info().Str("addr", addr).Msg("starting metrics server")
			_ = http.ListenAndServe(addr, mux)
		}()
	}
	if cfg.Influx.URL != "" {
		go metrics.StartInfluxPusher(context.Background(), cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, cfg.Influx.Interval)
	}
}

// checkDockerSocketAccess verifies the socket exists and is openable for
// read/write. A missing socket is not fatal here; the client will report it.
func checkDockerSocketAccess(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		_ = f.Close()
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ensureDockerSocketAccessible warns early about the most common deployment
// pitfall: the socket is mounted but the container user cannot open it.
func ensureDockerSocketAccessible(host string) {
	path, ok := strings.CutPrefix(host, "unix://")
	if !ok {
		return
	}
	if err := checkDockerSocketAccess(path); err != nil {
		if os.IsPermission(err) {
			logging.Get().Fatal().Str("socket", path).Msg("permission denied accessing the Docker socket: ensure the container user has appropriate group access (e.g., --group-add docker)")
		} else {
			logging.Get().Warn().Err(err).Str("socket", path).Msg("problem accessing the Docker socket; continuing but operations may fail")
		}
	}
}

// createDockerClientOrFatal creates a docker client or exits
func createDockerClientOrFatal(cfg *config.Config) docker.Client {
	cli, err := docker.NewClient(cfg.Docker.Host, docker.TLSOptions{
		Enabled: cfg.Docker.TLS.Enabled,
		CA:      cfg.Docker.TLS.Verify,
		Cert:    cfg.Docker.TLS.Cert,
		Key:     cfg.Docker.TLS.Key,
	})
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to create docker client")
	}
	return cli
}

func newResolver(cfg *config.Config) *resolver.Resolver {
	return resolver.New(cfg.Traefik.NetworkLabel, config.DeprecatedNetworkLabel)
}

// notifyLifecycle reports a daemon lifecycle change to the configured
// endpoints. Uses a background context so a cancelled run context cannot
// abort the shutdown notice.
func notifyLifecycle(n *notify.MultiNotifier, title, message string) {
	n.Send(context.Background(), title, message)
}

// drainNotifications gives in-flight notification sends a bounded window to
// finish before the process exits.
func drainNotifications(n *notify.MultiNotifier) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for pending notifications")
	}
}

// runAndWait runs the startup pass (and, unless run-once, the event loop)
// and blocks until a shutdown signal or an unrecoverable listener error.
func runAndWait(cfg *config.Config, rec *reconciler.Reconciler, dCli docker.Client, notifier *notify.MultiNotifier, runOnce bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runOnce {
		logging.Get().Info().Msg("run-once: performing a single reconciliation pass")
		if err := rec.Sync(ctx); err != nil {
			logging.Get().Fatal().Err(err).Msg("reconciliation pass failed")
		}
		return
	}

	l := listener.New(rec, listener.Options{
		Client:       dCli,
		BackoffStart: cfg.Connector.EventBackoffStart,
		BackoffCap:   cfg.Connector.EventBackoffCap,
		RetryMax:     cfg.Connector.EventRetryMax,
	})

	notifyLifecycle(notifier, "traefik-network-connector started",
		fmt.Sprintf("watching proxy %q for containers matching %q", cfg.Traefik.ContainerName, cfg.Traefik.MonitoredLabel))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logging.Get().Info().Str("signal", s.String()).Msg("shutdown signal received, finishing in-flight work")
		cancel()
		<-done
		logging.Get().Info().Int("tracked", rec.Tracked()).Msg("event loop stopped")
		notifyLifecycle(notifier, "traefik-network-connector stopped",
			fmt.Sprintf("shut down on %s with %d tracked containers", s.String(), rec.Tracked()))
		drainNotifications(notifier)
	case err := <-done:
		if err != nil {
			notifyLifecycle(notifier, "traefik-network-connector failed", err.Error())
			drainNotifications(notifier)
			logging.Get().Fatal().Err(err).Msg("event loop failed")
		}
		drainNotifications(notifier)
	}
}
