package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshcall.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeFile(t, `
identity: alice
signaling:
  url: wss://relay.example.com/ws
  reconnect_delay: 5s
media:
  max_width: 1280
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Identity != "alice" {
		t.Errorf("identity = %q", cfg.Identity)
	}
	if cfg.Signaling.URL != "wss://relay.example.com/ws" {
		t.Errorf("signaling url = %q", cfg.Signaling.URL)
	}
	if cfg.Signaling.ReconnectDelay != 5*time.Second {
		t.Errorf("reconnect delay = %v", cfg.Signaling.ReconnectDelay)
	}
	if cfg.Media.MaxWidth != 1280 || cfg.Media.MaxHeight != 480 {
		t.Errorf("media = %+v, want width from file and default height", cfg.Media)
	}
	if len(cfg.ICE.STUNServers) != 2 {
		t.Errorf("stun servers = %v, want defaults", cfg.ICE.STUNServers)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MESHCALL_IDENTITY", "bob")
	t.Setenv("MESHCALL_STUN_SERVERS", "stun:a.example.com:3478, ,stun:b.example.com:3478")
	t.Setenv("MESHCALL_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity != "bob" {
		t.Errorf("identity = %q", cfg.Identity)
	}
	if got := cfg.ICE.STUNServers; len(got) != 2 || got[1] != "stun:b.example.com:3478" {
		t.Errorf("stun servers = %v", got)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestInvalidBitRate(t *testing.T) {
	t.Setenv("MESHCALL_IDENTITY", "bob")
	t.Setenv("MESHCALL_VIDEO_BITRATE", "fast")
	if _, err := Load(""); err == nil {
		t.Fatal("Load accepted a non-numeric bitrate")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing identity", func(c *Config) { c.Identity = " " }, "identity is required"},
		{"http relay", func(c *Config) { c.Signaling.URL = "http://relay/ws" }, "scheme must be ws or wss"},
		{"relay without host", func(c *Config) { c.Signaling.URL = "ws:///ws" }, "missing host"},
		{"turn server", func(c *Config) { c.ICE.STUNServers = []string{"turn:turn.example.com"} }, "only stun"},
		{"turns server", func(c *Config) { c.ICE.STUNServers = []string{"turns:turn.example.com"} }, "only stun"},
		{"empty backlog", func(c *Config) { c.Render.Backlog = 0 }, "backlog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Identity = "alice"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
