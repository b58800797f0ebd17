package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obeone/traefik-network-connector/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	c := config.DefaultConfig()
	if c.Traefik.ContainerName != "traefik" {
		t.Fatalf("unexpected default proxy name: %q", c.Traefik.ContainerName)
	}
	if c.Traefik.MonitoredLabel != "traefik.enable" {
		t.Fatalf("unexpected default monitored label: %q", c.Traefik.MonitoredLabel)
	}
	if c.Traefik.NetworkLabel != "traefik.docker.network" {
		t.Fatalf("unexpected default network label: %q", c.Traefik.NetworkLabel)
	}
	if c.Traefik.RequireLabelValue {
		t.Fatal("expected value-blind label matching by default")
	}
	if c.Connector.APITimeout == 0 {
		t.Fatal("expected a bounded API timeout by default")
	}
	if c.Connector.EventBackoffStart >= c.Connector.EventBackoffCap {
		t.Fatalf("backoff start %v should be below cap %v", c.Connector.EventBackoffStart, c.Connector.EventBackoffCap)
	}
}

func TestCompileMonitoredLabel(t *testing.T) {
	c := config.DefaultConfig()
	re, err := c.CompileMonitoredLabel()
	if err != nil {
		t.Fatalf("default pattern should compile: %v", err)
	}
	if !re.MatchString("traefik.enable") {
		t.Fatal("default pattern should match traefik.enable")
	}

	c.Traefik.MonitoredLabel = "("
	if _, err := c.CompileMonitoredLabel(); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := config.DefaultConfig()
	if w := cfg.Validate(); len(w) != 0 {
		t.Fatalf("default config should not warn, got %v", w)
	}

	cfg.Notify.GotifyURL = "https://gotify"
	if w := cfg.Validate(); len(w) == 0 {
		t.Fatal("expected warning for gotify URL without token")
	}

	cfg2 := config.DefaultConfig()
	cfg2.Docker.TLS.Enabled = true
	if w := cfg2.Validate(); len(w) == 0 {
		t.Fatal("expected warning for TLS without cert/key")
	}

	cfg3 := config.DefaultConfig()
	cfg3.Traefik.ContainerName = ""
	if w := cfg3.Validate(); len(w) == 0 {
		t.Fatal("expected warning for empty proxy name")
	}

	cfg4 := config.DefaultConfig()
	cfg4.Influx.URL = "http://influx:8086"
	if w := cfg4.Validate(); len(w) == 0 {
		t.Fatal("expected warning for influx URL without bucket")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
docker:
  host: tcp://docker.example.com:2376
  tls:
    enabled: true
    cert: /certs/cert.pem
    key: /certs/key.pem
    verify: /certs/ca.pem
traefik:
  containerName: edge-proxy
  monitoredLabel: traefik\.enable
connector:
  apiTimeout: 5s
  dryRun: true
metrics:
  enabled: true
  port: 9100
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Docker.Host != "tcp://docker.example.com:2376" {
		t.Fatalf("unexpected docker host: %q", cfg.Docker.Host)
	}
	if !cfg.Docker.TLS.Enabled || cfg.Docker.TLS.Verify != "/certs/ca.pem" {
		t.Fatalf("TLS config not applied: %+v", cfg.Docker.TLS)
	}
	if cfg.Traefik.ContainerName != "edge-proxy" {
		t.Fatalf("unexpected proxy name: %q", cfg.Traefik.ContainerName)
	}
	if cfg.Connector.APITimeout != 5*time.Second {
		t.Fatalf("unexpected api timeout: %v", cfg.Connector.APITimeout)
	}
	if !cfg.Connector.DryRun {
		t.Fatal("dryRun not applied")
	}
	// defaults survive when not overridden
	if cfg.Traefik.NetworkLabel != "traefik.docker.network" {
		t.Fatalf("default network label lost: %q", cfg.Traefik.NetworkLabel)
	}
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	if _, err := config.LoadConfigFromFile("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
