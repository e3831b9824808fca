package config

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Stack      StackConfig       `mapstructure:"stack"`
	Interfaces []InterfaceConfig `mapstructure:"interfaces"`
	API        APIConfig         `mapstructure:"api"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Events     EventsConfig      `mapstructure:"events"`
}

type StackConfig struct {
	TickIntervalMs         int `mapstructure:"tick_interval_ms"`
	NicTickIntervalMs      int `mapstructure:"nic_tick_interval_ms"`
	ProtocolTickIntervalMs int `mapstructure:"protocol_tick_interval_ms"`
	TxTimeoutMs            int `mapstructure:"tx_timeout_ms"`
}

type InterfaceConfig struct {
	Name               string     `mapstructure:"name"`
	Driver             string     `mapstructure:"driver"`
	MAC                string     `mapstructure:"mac"`
	MTU                int        `mapstructure:"mtu"`
	PhyAddr            int        `mapstructure:"phy_addr"`
	SwitchPort         int        `mapstructure:"switch_port"`
	Device             string     `mapstructure:"device"`
	Promiscuous        bool       `mapstructure:"promiscuous"`
	AcceptAllMulticast bool       `mapstructure:"accept_all_multicast"`
	Multicast          []string   `mapstructure:"multicast"`
	DHCP               DHCPConfig `mapstructure:"dhcp"`
}

type DHCPConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RapidCommit bool   `mapstructure:"rapid_commit"`
	ManualDNS   bool   `mapstructure:"manual_dns"`
	Hostname    string `mapstructure:"hostname"`
	ClientID    string `mapstructure:"client_id"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
}

type APIConfig struct {
	Address string `mapstructure:"address"`
	Pprof   bool   `mapstructure:"pprof"`
	// PprofPath is where the profiling endpoints are mounted.
	PprofPath string         `mapstructure:"pprof_path"`
	HTTP3     HTTP3Config    `mapstructure:"http3"`
	Security  SecurityConfig `mapstructure:"security"`
}

type HTTP3Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type SecurityConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RequireAuth bool          `mapstructure:"require_auth"`
	Tokens      []TokenConfig `mapstructure:"tokens"`
}

type TokenConfig struct {
	Value string `mapstructure:"value"`
	Role  string `mapstructure:"role"`
}

type MetricsConfig struct {
	Address string              `mapstructure:"address"`
	Path    string              `mapstructure:"path"`
	Export  MetricsExportConfig `mapstructure:"export"`
}

type MetricsExportConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RemoteWriteURL  string `mapstructure:"remote_write_url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	LokiURL    string `mapstructure:"loki_url"`
	ElasticURL string `mapstructure:"elastic_url"`
	QueueSize  int    `mapstructure:"queue_size"`
}

type EventsConfig struct {
	Limit  int          `mapstructure:"limit"`
	Alerts AlertsConfig `mapstructure:"alerts"`
}

type AlertsConfig struct {
	IntervalSeconds     int    `mapstructure:"interval_seconds"`
	DropsThreshold      uint64 `mapstructure:"drops_threshold"`
	RxErrorsThreshold   uint64 `mapstructure:"rx_errors_threshold"`
	RingResetsThreshold uint64 `mapstructure:"ring_resets_threshold"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

// LoadFromBytes parses a YAML document.
func LoadFromBytes(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs the checks performed by Load on an already built config.
func Validate(cfg *Config) error {
	return validate(cfg)
}

func (s StackConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

func (s StackConfig) NicTickInterval() time.Duration {
	return time.Duration(s.NicTickIntervalMs) * time.Millisecond
}

func (s StackConfig) ProtocolTickInterval() time.Duration {
	return time.Duration(s.ProtocolTickIntervalMs) * time.Millisecond
}

func (s StackConfig) TxTimeout() time.Duration {
	return time.Duration(s.TxTimeoutMs) * time.Millisecond
}

func (d DHCPConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

func applyDefaults(cfg *Config) {
	if cfg.Stack.TickIntervalMs <= 0 {
		cfg.Stack.TickIntervalMs = 100
	}
	if cfg.Stack.NicTickIntervalMs <= 0 {
		cfg.Stack.NicTickIntervalMs = 1000
	}
	if cfg.Stack.ProtocolTickIntervalMs <= 0 {
		cfg.Stack.ProtocolTickIntervalMs = 200
	}
	if cfg.Stack.TxTimeoutMs <= 0 {
		cfg.Stack.TxTimeoutMs = 100
	}
	for i := range cfg.Interfaces {
		iface := &cfg.Interfaces[i]
		if iface.Driver == "" {
			iface.Driver = "sim"
		}
		if iface.MTU == 0 {
			iface.MTU = 1500
		}
		if iface.DHCP.TimeoutMs <= 0 {
			iface.DHCP.TimeoutMs = 60000
		}
	}
	if cfg.API.Address == "" {
		cfg.API.Address = ":8080"
	}
	if cfg.API.Pprof && cfg.API.PprofPath == "" {
		cfg.API.PprofPath = "/debug/pprof"
	}
	if cfg.API.HTTP3.Enabled && cfg.API.HTTP3.Address == "" {
		cfg.API.HTTP3.Address = ":8443"
	}
	if cfg.API.Security.Enabled {
		cfg.API.Security.RequireAuth = true
	}
	for i := range cfg.API.Security.Tokens {
		if cfg.API.Security.Tokens[i].Role == "" {
			cfg.API.Security.Tokens[i].Role = "read"
		}
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Export.IntervalSeconds <= 0 {
		cfg.Metrics.Export.IntervalSeconds = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Events.Limit <= 0 {
		cfg.Events.Limit = 1000
	}
	if cfg.Events.Alerts.IntervalSeconds <= 0 {
		cfg.Events.Alerts.IntervalSeconds = 10
	}
}

func validate(cfg *Config) error {
	seen := map[string]bool{}
	for i, iface := range cfg.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("interfaces[%d].name is required", i)
		}
		if seen[iface.Name] {
			return fmt.Errorf("interfaces[%d].name %q is duplicated", i, iface.Name)
		}
		seen[iface.Name] = true
		switch iface.Driver {
		case "sim", "tap":
		default:
			return fmt.Errorf("interfaces[%d].driver %q is not supported", i, iface.Driver)
		}
		mac, err := net.ParseMAC(iface.MAC)
		if err != nil || len(mac) != 6 {
			return fmt.Errorf("interfaces[%d].mac %q is invalid", i, iface.MAC)
		}
		if mac[0]&0x01 != 0 {
			return fmt.Errorf("interfaces[%d].mac %q is not unicast", i, iface.MAC)
		}
		if iface.MTU < 68 || iface.MTU > 1500 {
			return fmt.Errorf("interfaces[%d].mtu %d out of range", i, iface.MTU)
		}
		if iface.PhyAddr < 0 || iface.PhyAddr > 31 {
			return fmt.Errorf("interfaces[%d].phy_addr %d out of range", i, iface.PhyAddr)
		}
		if iface.SwitchPort < 0 || iface.SwitchPort > 2 {
			return fmt.Errorf("interfaces[%d].switch_port %d out of range", i, iface.SwitchPort)
		}
		for j, group := range iface.Multicast {
			addr, err := net.ParseMAC(group)
			if err != nil || len(addr) != 6 || addr[0]&0x01 == 0 {
				return fmt.Errorf("interfaces[%d].multicast[%d] %q is not a multicast MAC", i, j, group)
			}
		}
	}
	for i, token := range cfg.API.Security.Tokens {
		switch token.Role {
		case "read", "ops", "admin":
		default:
			return fmt.Errorf("api.security.tokens[%d].role %q is invalid", i, token.Role)
		}
	}
	return nil
}
