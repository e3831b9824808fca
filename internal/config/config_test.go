package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromBytesAppliesDefaults(t *testing.T) {
	data := []byte(`
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    dhcp:
      enabled: true
api:
  security:
    enabled: true
    require_auth: false
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Address != ":8080" {
		t.Fatalf("expected default api address, got %q", cfg.API.Address)
	}
	if cfg.Metrics.Address != ":9090" {
		t.Fatalf("expected default metrics address, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected default metrics path, got %q", cfg.Metrics.Path)
	}
	if cfg.Stack.NicTickIntervalMs != 1000 || cfg.Stack.ProtocolTickIntervalMs != 200 {
		t.Fatalf("expected default tick intervals, got %+v", cfg.Stack)
	}
	if cfg.Stack.TxTimeoutMs != 100 {
		t.Fatalf("expected default tx timeout, got %d", cfg.Stack.TxTimeoutMs)
	}
	if cfg.Events.Limit != 1000 {
		t.Fatalf("expected default events limit, got %d", cfg.Events.Limit)
	}
	if cfg.Events.Alerts.IntervalSeconds != 10 {
		t.Fatalf("expected default alert interval, got %d", cfg.Events.Alerts.IntervalSeconds)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default logging level, got %q", cfg.Logging.Level)
	}
	iface := cfg.Interfaces[0]
	if iface.Driver != "sim" || iface.MTU != 1500 {
		t.Fatalf("expected sim driver with mtu 1500, got %q/%d", iface.Driver, iface.MTU)
	}
	if !iface.DHCP.Enabled || iface.DHCP.TimeoutMs != 60000 {
		t.Fatalf("expected dhcp enabled with default timeout, got %+v", iface.DHCP)
	}
	if !cfg.API.Security.RequireAuth {
		t.Fatalf("expected require_auth to be forced true when enabled")
	}
}

func TestLoadFromBytesRejectsBadInterfaces(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", `
interfaces:
  - mac: "02:00:00:00:00:01"
`},
		{"duplicate name", `
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
  - name: eth0
    mac: "02:00:00:00:00:02"
`},
		{"multicast station mac", `
interfaces:
  - name: eth0
    mac: "01:00:5e:00:00:01"
`},
		{"unknown driver", `
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    driver: pcap
`},
		{"unicast group", `
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    multicast: ["02:00:00:00:00:09"]
`},
		{"switch port", `
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    switch_port: 3
`},
	}
	for _, tc := range tests {
		if _, err := LoadFromBytes([]byte(tc.data)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateWrapper(t *testing.T) {
	cfg := &Config{
		Interfaces: []InterfaceConfig{{Name: "eth0", Driver: "sim", MAC: "02:00:00:00:00:01", MTU: 1500}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	data := []byte(`
stack:
  tx_timeout_ms: 250
interfaces:
  - name: eth0
    mac: "02:00:00:00:00:01"
    multicast: ["01:00:5e:00:00:fb"]
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Stack.TxTimeout().Milliseconds() != 250 {
		t.Fatalf("expected tx timeout 250ms, got %s", cfg.Stack.TxTimeout())
	}
	if len(cfg.Interfaces[0].Multicast) != 1 {
		t.Fatalf("expected one multicast group, got %v", cfg.Interfaces[0].Multicast)
	}
}

func TestTokensResolveSecrets(t *testing.T) {
	t.Setenv("ETHSTACK_TOKEN", "s3cret")
	data := []byte(`
api:
  security:
    enabled: true
    tokens:
      - value: env:ETHSTACK_TOKEN
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok := cfg.API.Security.Tokens[0]
	if tok.Value != "s3cret" || tok.Role != "read" {
		t.Fatalf("expected resolved token with read role, got %+v", tok)
	}
}

func TestPprofPathDefault(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("api:\n  pprof: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.PprofPath != "/debug/pprof" {
		t.Fatalf("expected default pprof path, got %q", cfg.API.PprofPath)
	}
}
