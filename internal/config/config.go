package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the verification engine.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Chains    []ChainConfig   `yaml:"chains"`
	Compiler  CompilerConfig  `yaml:"compiler"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig holds persistence configuration for the verified-contract store.
type StoreConfig struct {
	// Path is the directory backing the pebble database.
	Path string `yaml:"path"`
	// ReadOnly opens the store without allowing writes.
	ReadOnly bool `yaml:"readonly"`
}

// ChainConfig describes a single chain this instance can verify contracts on.
type ChainConfig struct {
	// ChainID is the numeric chain identifier used as the partition key
	// throughout the store (VerifiedContractMinimal.ChainID).
	ChainID uint64 `yaml:"chain_id"`
	// Name is a human-readable label for logging.
	Name string `yaml:"name"`
	// RPCEndpoint is the primary HTTP(S) JSON-RPC endpoint used to fetch
	// deployed bytecode and creation transactions.
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// RPCEndpoints lists additional JSON-RPC endpoints tried, in order,
	// after RPCEndpoint when a call fails. RPCURLs joins these with
	// RPCEndpoint into the single ordered list the chain dialer retries,
	// matching pkg/chain.DialEVMChain's failover behavior.
	RPCEndpoints []string `yaml:"rpc_endpoints,omitempty"`
	// RPCTimeout bounds any single RPC call.
	RPCTimeout time.Duration `yaml:"rpc_timeout,omitempty"`
}

// RPCURLs returns every configured JSON-RPC endpoint for this chain, primary
// endpoint first, in the order pkg/chain.DialEVMChain should try them.
func (c ChainConfig) RPCURLs() []string {
	if c.RPCEndpoint == "" {
		return append([]string(nil), c.RPCEndpoints...)
	}
	urls := make([]string, 0, 1+len(c.RPCEndpoints))
	urls = append(urls, c.RPCEndpoint)
	return append(urls, c.RPCEndpoints...)
}

// CompilerConfig holds compiler-acquisition configuration.
type CompilerConfig struct {
	// SolcBinRepo is the base URL for native solc binary releases
	// (mirrors binaries.soliditylang.org layout).
	SolcBinRepo string `yaml:"solc_bin_repo"`
	// SolcJSRepo is the base URL for solc-js (WASM/emscripten) builds. It is
	// defaulted and loaded but no component reads it; no solc-js fallback
	// compiler runs.
	SolcJSRepo string `yaml:"solc_js_repo"`
	// VyperRepo is the base URL for vyper release binaries.
	VyperRepo string `yaml:"vyper_repo"`
	// BinDir is where downloaded compiler binaries are cached on disk,
	// keyed by language/version/platform.
	BinDir string `yaml:"bin_dir"`
	// DownloadTimeout is the configured limit for a single compiler binary
	// download. It is defaulted and loaded but not passed to the compiler
	// package, so downloads are bounded only by the job's context.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// CompileTimeout is the configured limit for a single compiler
	// invocation. It is defaulted and loaded but not passed to the compiler
	// package, so invocations are bounded only by the job's context.
	CompileTimeout time.Duration `yaml:"compile_timeout"`
}

// SchedulerConfig holds worker-pool configuration for the verification
// job scheduler.
type SchedulerConfig struct {
	// Workers is the number of goroutines draining the job queue.
	Workers int `yaml:"workers"`
	// QueueSize is the capacity of the pending-job queue.
	QueueSize int `yaml:"queue_size"`
	// JobTimeout bounds a single verification job end to end.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Store.Path == "" {
		c.Store.Path = "./data/verify"
	}

	for i := range c.Chains {
		if c.Chains[i].RPCTimeout == 0 {
			c.Chains[i].RPCTimeout = 10 * time.Second
		}
	}

	if c.Compiler.SolcBinRepo == "" {
		c.Compiler.SolcBinRepo = "https://binaries.soliditylang.org"
	}
	if c.Compiler.SolcJSRepo == "" {
		c.Compiler.SolcJSRepo = "https://binaries.soliditylang.org/bin"
	}
	if c.Compiler.VyperRepo == "" {
		c.Compiler.VyperRepo = "https://github.com/vyperlang/vyper/releases/download"
	}
	if c.Compiler.BinDir == "" {
		c.Compiler.BinDir = "./data/compilers"
	}
	if c.Compiler.DownloadTimeout == 0 {
		c.Compiler.DownloadTimeout = 2 * time.Minute
	}
	if c.Compiler.CompileTimeout == 0 {
		c.Compiler.CompileTimeout = 30 * time.Second
	}

	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.QueueSize == 0 {
		c.Scheduler.QueueSize = 256
	}
	if c.Scheduler.JobTimeout == 0 {
		c.Scheduler.JobTimeout = 2 * time.Minute
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration.
func (c *Config) LoadFromEnv() error {
	if level := os.Getenv("VERIFY_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("VERIFY_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if path := os.Getenv("VERIFY_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if readonly := os.Getenv("VERIFY_STORE_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid VERIFY_STORE_READONLY: %w", err)
		}
		c.Store.ReadOnly = val
	}

	if binDir := os.Getenv("VERIFY_COMPILER_BIN_DIR"); binDir != "" {
		c.Compiler.BinDir = binDir
	}

	if workers := os.Getenv("VERIFY_SCHEDULER_WORKERS"); workers != "" {
		val, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid VERIFY_SCHEDULER_WORKERS: %w", err)
		}
		c.Scheduler.Workers = val
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file, merging onto whatever
// values are already set.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	seen := make(map[uint64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain entry %q: chain_id is required", chain.Name)
		}
		if seen[chain.ChainID] {
			return fmt.Errorf("duplicate chain_id %d in chains list", chain.ChainID)
		}
		seen[chain.ChainID] = true
		if chain.RPCEndpoint == "" {
			return fmt.Errorf("chain %d: rpc_endpoint is required", chain.ChainID)
		}
	}

	if c.Compiler.BinDir == "" {
		return fmt.Errorf("compiler bin_dir is required")
	}

	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler worker count must be positive")
	}
	if c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("scheduler queue size must be positive")
	}

	return nil
}

// Load is a convenience function that loads configuration in the following
// order:
//  1. Set defaults
//  2. Load from file (if provided)
//  3. Load from environment variables (override file)
//  4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
