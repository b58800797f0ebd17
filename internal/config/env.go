package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Variable names follow the flattened config structure with underscores, the
// same scheme used for yaml keys:
// - DOCKER_HOST, DOCKER_TLS_ENABLED, DOCKER_TLS_CERT, DOCKER_TLS_KEY, DOCKER_TLS_VERIFY
// - LOGLEVEL_GENERAL, LOGLEVEL_APPLICATION, LOGFILE
// - TRAEFIK_CONTAINERNAME, TRAEFIK_MONITOREDLABEL, TRAEFIK_NETWORKLABEL, TRAEFIK_REQUIRELABELVALUE
// - CONNECTOR_APITIMEOUT, CONNECTOR_EVENTRETRYMAX, CONNECTOR_DRYRUN
// - METRICS_ENABLED, METRICS_PORT
// - NOTIFY_*, INFLUX_*
func ApplyEnvOverrides(cfg *Config) error {
	if err := applyDockerEnv(cfg); err != nil {
		return err
	}
	applyLoggingEnv(cfg)
	if err := applyTraefikEnv(cfg); err != nil {
		return err
	}
	if err := applyConnectorEnv(cfg); err != nil {
		return err
	}
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}
	applyNotifyEnv(cfg)
	if err := applyInfluxEnv(cfg); err != nil {
		return err
	}
	return nil
}

func applyDockerEnv(cfg *Config) error {
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}
	if err := setBoolEnv("DOCKER_TLS_ENABLED", func(b bool) { cfg.Docker.TLS.Enabled = b }); err != nil {
		return err
	}
	if v := os.Getenv("DOCKER_TLS_CERT"); v != "" {
		cfg.Docker.TLS.Cert = v
	}
	if v := os.Getenv("DOCKER_TLS_KEY"); v != "" {
		cfg.Docker.TLS.Key = v
	}
	if v := os.Getenv("DOCKER_TLS_VERIFY"); v != "" {
		cfg.Docker.TLS.Verify = v
	}
	return nil
}

func applyLoggingEnv(cfg *Config) {
	if v := os.Getenv("LOGLEVEL_GENERAL"); v != "" {
		cfg.LogLevel.General = v
	}
	if v := os.Getenv("LOGLEVEL_APPLICATION"); v != "" {
		cfg.LogLevel.Application = v
	}
	if v := os.Getenv("LOGFILE"); v != "" {
		cfg.LogFile = v
	}
}

func applyTraefikEnv(cfg *Config) error {
	if v := os.Getenv("TRAEFIK_CONTAINERNAME"); v != "" {
		cfg.Traefik.ContainerName = v
	}
	if v := os.Getenv("TRAEFIK_MONITOREDLABEL"); v != "" {
		cfg.Traefik.MonitoredLabel = v
	}
	if v := os.Getenv("TRAEFIK_NETWORKLABEL"); v != "" {
		cfg.Traefik.NetworkLabel = v
	}
	return setBoolEnv("TRAEFIK_REQUIRELABELVALUE", func(b bool) { cfg.Traefik.RequireLabelValue = b })
}

func applyConnectorEnv(cfg *Config) error {
	if err := setDurationEnv("CONNECTOR_APITIMEOUT", func(d time.Duration) { cfg.Connector.APITimeout = d }); err != nil {
		return err
	}
	if err := setDurationEnv("CONNECTOR_EVENTBACKOFFSTART", func(d time.Duration) { cfg.Connector.EventBackoffStart = d }); err != nil {
		return err
	}
	if err := setDurationEnv("CONNECTOR_EVENTBACKOFFCAP", func(d time.Duration) { cfg.Connector.EventBackoffCap = d }); err != nil {
		return err
	}
	if v := os.Getenv("CONNECTOR_EVENTRETRYMAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CONNECTOR_EVENTRETRYMAX: %w", err)
		}
		cfg.Connector.EventRetryMax = n
	}
	return setBoolEnv("CONNECTOR_DRYRUN", func(b bool) { cfg.Connector.DryRun = b })
}

func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("METRICS_ENABLED", func(b bool) { cfg.Metrics.Enabled = b }); err != nil {
		return err
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_PORT: %w", err)
		}
		cfg.Metrics.Port = p
	}
	return nil
}

func applyNotifyEnv(cfg *Config) {
	if v := os.Getenv("NOTIFY_SLACK_WEBHOOK"); v != "" {
		cfg.Notify.SlackWebhook = v
	}
	if v := os.Getenv("NOTIFY_DISCORD_WEBHOOK"); v != "" {
		cfg.Notify.DiscordWebhook = v
	}
	if v := os.Getenv("NOTIFY_TEAMS_WEBHOOK"); v != "" {
		cfg.Notify.TeamsWebhook = v
	}
	if v := os.Getenv("NOTIFY_GENERIC_WEBHOOK_URL"); v != "" {
		cfg.Notify.GenericWebhookURL = v
	}
	if v := os.Getenv("NOTIFY_GOTIFY_URL"); v != "" {
		cfg.Notify.GotifyURL = v
	}
	if v := os.Getenv("NOTIFY_GOTIFY_TOKEN"); v != "" {
		cfg.Notify.GotifyToken = v
	}
}

func applyInfluxEnv(cfg *Config) error {
	if v := os.Getenv("INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		cfg.Influx.Org = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		cfg.Influx.Bucket = v
	}
	return setDurationEnv("INFLUX_INTERVAL", func(d time.Duration) { cfg.Influx.Interval = d })
}

// setBoolEnv is a small helper to parse boolean environment variables.
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}

// setDurationEnv is a small helper to parse duration environment variables.
func setDurationEnv(env string, setter func(time.Duration)) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(d)
	}
	return nil
}
