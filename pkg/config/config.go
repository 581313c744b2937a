// Package config provides typed configuration with validation for proxymcpd.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"
)

// ProxyConfig is the top-level configuration, grouped into the three
// concerns the proxy cares about: listener behavior, capture behavior, and
// storage behavior.
type ProxyConfig struct {
	Proxy   ProxyGroup   `yaml:"proxy"`
	Capture CaptureGroup `yaml:"capture"`
	Storage StorageGroup `yaml:"storage"`
}

// ProxyGroup controls the listening sockets and TLS interception.
type ProxyGroup struct {
	HTTPPort              int    `yaml:"httpPort"`
	HTTPSPort             int    `yaml:"httpsPort,omitempty"`
	EnableWebSockets      bool   `yaml:"enableWebSockets"`
	EnableHTTPS           bool   `yaml:"enableHTTPS"`
	CertPath              string `yaml:"certPath"`
	KeyPath               string `yaml:"keyPath"`
	IgnoreHostHTTPSErrors bool   `yaml:"ignoreHostHttpsErrors"`
}

// CaptureGroup controls what is recorded for each transaction.
type CaptureGroup struct {
	CaptureHeaders           bool  `yaml:"captureHeaders"`
	CaptureBody              bool  `yaml:"captureBody"`
	MaxBodySize              int64 `yaml:"maxBodySize"`
	CaptureWebSocketMessages bool  `yaml:"captureWebSocketMessages"`
}

// StorageGroup controls the embedded store.
type StorageGroup struct {
	DBPath        string `yaml:"dbPath"`
	MaxEntries    int    `yaml:"maxEntries"`
	RetentionDays int    `yaml:"retentionDays"`
	EnableFTS     bool   `yaml:"enableFTS"`
}

// wellKnownPorts are flagged with a warning, not an error, per spec.
var wellKnownPorts = map[int]bool{80: true, 443: true, 3000: true, 8000: true, 8080: true, 9000: true}

const (
	maxBodySizeWarnThreshold = 100 * 1024 * 1024 // 100 MiB
	defaultMaxBodySize       = 1024 * 1024       // 1 MiB
)

// DefaultConfig returns the documented default configuration.
func DefaultConfig() *ProxyConfig {
	return &ProxyConfig{
		Proxy: ProxyGroup{
			HTTPPort:         8080,
			EnableWebSockets: true,
			EnableHTTPS:      true,
			CertPath:         "./certs/ca-cert.pem",
			KeyPath:          "./certs/ca-key.pem",
		},
		Capture: CaptureGroup{
			CaptureHeaders:           true,
			CaptureBody:              true,
			MaxBodySize:              defaultMaxBodySize,
			CaptureWebSocketMessages: true,
		},
		Storage: StorageGroup{
			DBPath:        "./traffic.db",
			MaxEntries:    100_000,
			RetentionDays: 7,
			EnableFTS:     true,
		},
	}
}

// Load reads a YAML config file, merges it onto the defaults, and validates
// the result. Validation warnings are returned alongside the config so
// callers can decide how to present them; on a validation error the config
// is nil and the warnings collected so far are still returned.
func Load(path string) (*ProxyConfig, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// LoadOrDefault loads configuration from a file, or returns (validated)
// defaults if no path is given or the file does not exist.
func LoadOrDefault(path string) (*ProxyConfig, []string, error) {
	if path == "" {
		cfg := DefaultConfig()
		warnings, err := Validate(cfg)
		return cfg, warnings, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		warnings, err := Validate(cfg)
		return cfg, warnings, err
	}

	return Load(path)
}

// Validate applies the fatal/warning rules from the specification. Errors
// are returned for constraint violations; warnings are collected and
// returned alongside a nil error.
func Validate(cfg *ProxyConfig) ([]string, error) {
	var warnings []string

	if cfg.Proxy.HTTPPort < 1 || cfg.Proxy.HTTPPort > 65535 {
		return warnings, fmt.Errorf("httpPort %d out of range [1, 65535]", cfg.Proxy.HTTPPort)
	}
	if cfg.Proxy.HTTPSPort != 0 {
		if cfg.Proxy.HTTPSPort < 1 || cfg.Proxy.HTTPSPort > 65535 {
			return warnings, fmt.Errorf("httpsPort %d out of range [1, 65535]", cfg.Proxy.HTTPSPort)
		}
		if cfg.Proxy.HTTPSPort == cfg.Proxy.HTTPPort {
			return warnings, fmt.Errorf("httpPort and httpsPort must differ (both %d)", cfg.Proxy.HTTPPort)
		}
	}
	if cfg.Storage.DBPath == "" {
		return warnings, fmt.Errorf("storage.dbPath must not be empty")
	}
	if cfg.Capture.MaxBodySize < 0 {
		return warnings, fmt.Errorf("capture.maxBodySize must not be negative")
	}

	if cfg.Proxy.EnableHTTPS {
		if _, err := os.Stat(cfg.Proxy.CertPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("cert file %q not found, a CA will be generated", cfg.Proxy.CertPath))
		}
		if _, err := os.Stat(cfg.Proxy.KeyPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("key file %q not found, a CA will be generated", cfg.Proxy.KeyPath))
		}
	}
	if cfg.Capture.MaxBodySize > maxBodySizeWarnThreshold {
		warnings = append(warnings, fmt.Sprintf("maxBodySize %d exceeds 100 MiB, capture will use significant memory", cfg.Capture.MaxBodySize))
	}
	if wellKnownPorts[cfg.Proxy.HTTPPort] {
		warnings = append(warnings, fmt.Sprintf("httpPort %d is a well-known port", cfg.Proxy.HTTPPort))
	}
	if cfg.Proxy.HTTPSPort != 0 && wellKnownPorts[cfg.Proxy.HTTPSPort] {
		warnings = append(warnings, fmt.Sprintf("httpsPort %d is a well-known port", cfg.Proxy.HTTPSPort))
	}

	return warnings, nil
}

// PortStatus is the result of a port-availability probe.
type PortStatus int

const (
	PortAvailable PortStatus = iota
	PortInUse
	PortProbeError
)

// ProbePort binds a transient listener on the given port to check
// availability. This is advisory only, not a TOCTOU guard: the port may be
// taken again between the probe and the real listen.
func ProbePort(port int) (PortStatus, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if isAddrInUse(err) {
			return PortInUse, nil
		}
		return PortProbeError, err
	}
	_ = l.Close()
	return PortAvailable, nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Save writes configuration to a YAML file, creating parent directories as
// needed.
func (c *ProxyConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "proxymcpd.yaml"
	}
	return filepath.Join(home, ".proxymcpd", "config.yaml")
}

// ExampleConfig returns an example configuration as a YAML string, printed
// by `config show`.
func ExampleConfig() string {
	cfg := DefaultConfig()
	cfg.Proxy.HTTPSPort = 8443
	data, _ := yaml.Marshal(cfg)
	return string(data)
}
