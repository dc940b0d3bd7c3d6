package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("Expected default scheduler workers 4, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Compiler.BinDir != "./data/compilers" {
		t.Errorf("Expected default compiler bin_dir './data/compilers', got %q", cfg.Compiler.BinDir)
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig()
		cfg.Chains = []ChainConfig{{ChainID: 1, Name: "mainnet", RPCEndpoint: "http://localhost:8545"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `invalid log level "verbose", must be one of: debug, info, warn, error`,
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store path is required",
		},
		{
			name:    "chain missing chain id",
			mutate:  func(c *Config) { c.Chains[0].ChainID = 0 },
			wantErr: `chain entry "mainnet": chain_id is required`,
		},
		{
			name: "duplicate chain id",
			mutate: func(c *Config) {
				c.Chains = append(c.Chains, ChainConfig{ChainID: 1, Name: "dup", RPCEndpoint: "http://localhost:8546"})
			},
			wantErr: "duplicate chain_id 1 in chains list",
		},
		{
			name:    "chain missing rpc endpoint",
			mutate:  func(c *Config) { c.Chains[0].RPCEndpoint = "" },
			wantErr: "chain 1: rpc_endpoint is required",
		},
		{
			name:    "invalid scheduler worker count",
			mutate:  func(c *Config) { c.Scheduler.Workers = 0 },
			wantErr: "scheduler worker count must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("VERIFY_LOG_LEVEL", "debug")
	os.Setenv("VERIFY_LOG_FORMAT", "console")
	os.Setenv("VERIFY_STORE_PATH", "/data/verify-test")
	os.Setenv("VERIFY_STORE_READONLY", "true")
	os.Setenv("VERIFY_SCHEDULER_WORKERS", "8")
	defer func() {
		os.Unsetenv("VERIFY_LOG_LEVEL")
		os.Unsetenv("VERIFY_LOG_FORMAT")
		os.Unsetenv("VERIFY_STORE_PATH")
		os.Unsetenv("VERIFY_STORE_READONLY")
		os.Unsetenv("VERIFY_SCHEDULER_WORKERS")
	}()

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Expected log format 'console', got %q", cfg.Log.Format)
	}
	if cfg.Store.Path != "/data/verify-test" {
		t.Errorf("Expected store path '/data/verify-test', got %q", cfg.Store.Path)
	}
	if !cfg.Store.ReadOnly {
		t.Errorf("Expected store readonly true")
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("Expected scheduler workers 8, got %d", cfg.Scheduler.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: warn
  format: json

store:
  path: /tmp/test-store
  readonly: false

chains:
  - chain_id: 1
    name: mainnet
    rpc_endpoint: http://localhost:9545
    rpc_timeout: 20s

compiler:
  bin_dir: /tmp/test-compilers

scheduler:
  workers: 6
  queue_size: 128
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Store.Path != "/tmp/test-store" {
		t.Errorf("Expected store path '/tmp/test-store', got %q", cfg.Store.Path)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].ChainID != 1 {
		t.Fatalf("Expected one chain with chain_id 1, got %+v", cfg.Chains)
	}
	if cfg.Chains[0].RPCTimeout != 20*time.Second {
		t.Errorf("Expected chain rpc_timeout 20s, got %v", cfg.Chains[0].RPCTimeout)
	}
	if cfg.Scheduler.Workers != 6 {
		t.Errorf("Expected scheduler workers 6, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.QueueSize != 128 {
		t.Errorf("Expected scheduler queue_size 128, got %d", cfg.Scheduler.QueueSize)
	}
}

func TestLoadEndToEnd(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	configContent := `
store:
  path: /tmp/e2e-store
chains:
  - chain_id: 11155111
    name: sepolia
    rpc_endpoint: http://localhost:8545
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info' to survive merge, got %q", cfg.Log.Level)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].ChainID != 11155111 {
		t.Fatalf("Expected one chain with chain_id 11155111, got %+v", cfg.Chains)
	}
}
