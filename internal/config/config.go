package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DeprecatedNetworkLabel is the legacy container label naming an explicit
// network scope. It is still honored so existing deployments keep working,
// but NetworkLabel (traefik.docker.network) is the canonical key.
const DeprecatedNetworkLabel = "traefik.network"

// TLSConfig holds the certificate material for a TLS-protected Docker socket.
type TLSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Cert    string `json:"cert" yaml:"cert"`
	Key     string `json:"key" yaml:"key"`
	// Verify is the CA bundle used to verify the daemon certificate.
	Verify string `json:"verify" yaml:"verify"`
}

// DockerConfig selects the Docker endpoint the connector talks to.
type DockerConfig struct {
	Host string    `json:"host" yaml:"host"`
	TLS  TLSConfig `json:"tls" yaml:"tls"`
}

// LogLevelConfig carries the two log levels: general applies process-wide,
// application only to the reconciliation decision log.
type LogLevelConfig struct {
	General     string `json:"general" yaml:"general"`
	Application string `json:"application" yaml:"application"`
}

// TraefikConfig identifies the proxy container and the labels that make a
// sibling container relevant for network reconciliation.
type TraefikConfig struct {
	ContainerName  string `json:"containerName" yaml:"containerName"`
	MonitoredLabel string `json:"monitoredLabel" yaml:"monitoredLabel"`
	NetworkLabel   string `json:"networkLabel" yaml:"networkLabel"`
	// RequireLabelValue makes the matcher additionally require the matched
	// label's value to be "true". Off by default: historically a key match
	// alone (even traefik.enable=false) counted as relevant.
	RequireLabelValue bool `json:"requireLabelValue" yaml:"requireLabelValue"`
}

// ConnectorConfig tunes the event loop and the adapter calls it makes.
type ConnectorConfig struct {
	// APITimeout bounds every synchronous Docker call (inspect, list,
	// connect, disconnect). The event feed read itself is unbounded.
	APITimeout time.Duration `json:"apiTimeout" yaml:"apiTimeout"`
	// EventBackoffStart/Cap shape the resubscription backoff after the
	// event feed drops. EventRetryMax consecutive failures abort the
	// process (0 = retry forever).
	EventBackoffStart time.Duration `json:"eventBackoffStart" yaml:"eventBackoffStart"`
	EventBackoffCap   time.Duration `json:"eventBackoffCap" yaml:"eventBackoffCap"`
	EventRetryMax     int           `json:"eventRetryMax" yaml:"eventRetryMax"`
	// DryRun logs connect/disconnect decisions without applying them.
	DryRun bool `json:"dryRun" yaml:"dryRun"`
}

// MetricsConfig enables the Prometheus/JSON status endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// NotifyConfig holds optional notification endpoints for operational alerts.
type NotifyConfig struct {
	SlackWebhook      string `json:"slackWebhook" yaml:"slackWebhook"`
	DiscordWebhook    string `json:"discordWebhook" yaml:"discordWebhook"`
	TeamsWebhook      string `json:"teamsWebhook" yaml:"teamsWebhook"`
	GenericWebhookURL string `json:"genericWebhookUrl" yaml:"genericWebhookUrl"`
	GotifyURL         string `json:"gotifyUrl" yaml:"gotifyUrl"`
	GotifyToken       string `json:"gotifyToken" yaml:"gotifyToken"`
}

// InfluxConfig configures the optional InfluxDB metrics pusher.
type InfluxConfig struct {
	URL      string        `json:"url" yaml:"url"`
	Token    string        `json:"token" yaml:"token"`
	Org      string        `json:"org" yaml:"org"`
	Bucket   string        `json:"bucket" yaml:"bucket"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Config holds runtime configuration for the connector.
type Config struct {
	Docker    DockerConfig    `json:"docker" yaml:"docker"`
	LogLevel  LogLevelConfig  `json:"logLevel" yaml:"logLevel"`
	LogFile   string          `json:"logFile" yaml:"logFile"`
	Traefik   TraefikConfig   `json:"traefik" yaml:"traefik"`
	Connector ConnectorConfig `json:"connector" yaml:"connector"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Influx    InfluxConfig    `json:"influx" yaml:"influx"`
}

// DefaultConfig returns a sane default configuration.
func DefaultConfig() *Config {
	return &Config{
		Docker: DockerConfig{
			Host: "unix:///var/run/docker.sock",
		},
		LogLevel: LogLevelConfig{
			General:     "warn",
			Application: "info",
		},
		Traefik: TraefikConfig{
			ContainerName:  "traefik",
			MonitoredLabel: "traefik.enable",
			NetworkLabel:   "traefik.docker.network",
		},
		Connector: ConnectorConfig{
			APITimeout:        30 * time.Second,
			EventBackoffStart: 1 * time.Second,
			EventBackoffCap:   30 * time.Second,
			EventRetryMax:     10,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Influx: InfluxConfig{
			Interval: 1 * time.Minute,
		},
	}
}

// CompileMonitoredLabel compiles the monitored-label pattern. An invalid
// pattern is a fatal configuration error, not a warning.
func (c *Config) CompileMonitoredLabel() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.Traefik.MonitoredLabel)
	if err != nil {
		return nil, fmt.Errorf("invalid traefik.monitoredLabel %q: %w", c.Traefik.MonitoredLabel, err)
	}
	return re, nil
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.Traefik.ContainerName == "", "traefik.containerName is empty; the proxy container cannot be resolved"},
		{c.Traefik.NetworkLabel == "", "traefik.networkLabel is empty; explicit network scoping is disabled"},
		{c.Notify.GotifyURL != "" && c.Notify.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.Notify.GotifyToken != "" && c.Notify.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.Influx.URL != "" && c.Influx.Bucket == "", "influx URL provided but bucket is missing"},
		{c.Docker.TLS.Enabled && (c.Docker.TLS.Cert == "" || c.Docker.TLS.Key == ""), "docker TLS enabled but cert/key paths are incomplete"},
		{c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535), fmt.Sprintf("metrics port %d is out of range", c.Metrics.Port)},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	return warnings
}

// LoadConfigFromFile loads config from a YAML file on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
