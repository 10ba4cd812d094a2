package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"DualSpectra/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.BindAddr != DefaultBindAddr {
		t.Errorf("expected default bind addr %q, got %q", DefaultBindAddr, cfg.Server.BindAddr)
	}
	if cfg.Server.HTTP2Port != DefaultHTTP2Port {
		t.Errorf("expected default HTTP/2 port %d, got %d", DefaultHTTP2Port, cfg.Server.HTTP2Port)
	}
	if cfg.Server.HTTP3Port != DefaultHTTP3Port {
		t.Errorf("expected default HTTP/3 port %d, got %d", DefaultHTTP3Port, cfg.Server.HTTP3Port)
	}
	if cfg.Server.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("expected default idle timeout %q, got %q", DefaultIdleTimeout, cfg.Server.IdleTimeout)
	}
	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("expected default log level %q, got %q", DefaultLogLevel, cfg.Server.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got: %v", err)
	}

	idle, err := cfg.ParseIdleTimeout()
	if err != nil {
		t.Fatalf("ParseIdleTimeout failed: %v", err)
	}
	if idle.Seconds() != 60 {
		t.Errorf("expected 60s idle timeout, got %s", idle)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing tls", `
server:
  content_root: "content"
`},
		{"missing content root", `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
`},
		{"bad idle timeout", `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
  idle_timeout: "soon"
`},
		{"negative grace", `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
  shutdown_grace: "-1s"
`},
		{"bad port", `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
  http2_port: 99999
`},
		{"bad log level", `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
  log_level: "loud"
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tc.body))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateWrapsConfigError(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); !errors.Is(err, model.ErrConfigError) {
		t.Errorf("expected ErrConfigError, got %v", err)
	}
}

func TestLoadConfigWriters(t *testing.T) {
	path := writeConfig(t, `
server:
  tls_cert_path: "server.crt"
  tls_key_path: "server.key"
  content_root: "content"
export:
  nats:
    enabled: true
    url: "nats://localhost:4222"
    subject: "dualspectra.samples"
  writers:
    - type: "gob"
      enabled: true
      snapshot_interval: "30s"
      gob:
        root_path: "snapshots"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Export.NATS.Enabled || cfg.Export.NATS.Subject != "dualspectra.samples" {
		t.Errorf("unexpected NATS config: %+v", cfg.Export.NATS)
	}
	if len(cfg.Export.Writers) != 1 {
		t.Fatalf("expected 1 writer, got %d", len(cfg.Export.Writers))
	}
	w := cfg.Export.Writers[0]
	if w.Type != "gob" || !w.Enabled || w.SnapshotInterval != "30s" || w.Gob.RootPath != "snapshots" {
		t.Errorf("unexpected writer config: %+v", w)
	}
}
