package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	warnings, err := Validate(cfg)
	if err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	// cert/key files don't exist by default, and the default httpPort 8080 is
	// a well-known port -> three warnings expected.
	if len(warnings) != 3 {
		t.Errorf("expected 3 warnings for missing cert/key and well-known httpPort, got %d: %v", len(warnings), warnings)
	}
}

func TestValidatePortRange(t *testing.T) {
	cases := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 70000, true},
		{"valid", 8080, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Proxy.HTTPPort = tc.port
			_, err := Validate(cfg)
			if (err != nil) != tc.wantErr {
				t.Errorf("port %d: err=%v, wantErr=%v", tc.port, err, tc.wantErr)
			}
		})
	}
}

func TestValidateEqualPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.HTTPPort = 8080
	cfg.Proxy.HTTPSPort = 8080
	if _, err := Validate(cfg); err == nil {
		t.Error("expected error when httpPort == httpsPort")
	}
}

func TestValidateEmptyDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DBPath = ""
	if _, err := Validate(cfg); err == nil {
		t.Error("expected error for empty dbPath")
	}
}

func TestValidateNegativeBodySize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.MaxBodySize = -1
	if _, err := Validate(cfg); err == nil {
		t.Error("expected error for negative maxBodySize")
	}
}

func TestValidateWellKnownPortWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.HTTPPort = 3000
	warnings, err := Validate(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range warnings {
		if w == "httpPort 3000 is a well-known port" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected well-known-port warning, got %v", warnings)
	}
}

func TestValidateLargeBodySizeWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capture.MaxBodySize = 200 * 1024 * 1024
	warnings, err := Validate(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) == 0 {
		t.Error("expected warning for large maxBodySize")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Proxy.HTTPPort = 9090
	cfg.Storage.DBPath = filepath.Join(dir, "traffic.db")
	// avoid the missing cert/key warnings for this round trip
	cfg.Proxy.EnableHTTPS = false

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	if loaded.Proxy.HTTPPort != 9090 {
		t.Errorf("expected httpPort 9090, got %d", loaded.Proxy.HTTPPort)
	}
	if loaded.Storage.DBPath != cfg.Storage.DBPath {
		t.Errorf("expected dbPath %q, got %q", cfg.Storage.DBPath, loaded.Storage.DBPath)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, _, err := LoadOrDefault(filepath.Join(os.TempDir(), "does-not-exist-proxymcpd.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Proxy.HTTPPort != 8080 {
		t.Errorf("expected default httpPort 8080, got %d", cfg.Proxy.HTTPPort)
	}
}

func TestProbePort(t *testing.T) {
	l, err := os.Hostname()
	if err != nil {
		t.Skip("cannot resolve hostname in this environment")
	}
	_ = l

	status, err := ProbePort(0)
	// port 0 is special-cased by the OS to mean "any free port", so this
	// always succeeds; it exercises the happy path without needing a fixed
	// free port number.
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != PortAvailable {
		t.Errorf("expected PortAvailable, got %v", status)
	}
}
