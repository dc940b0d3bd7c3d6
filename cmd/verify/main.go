package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sourcify-go/verify/internal/config"
	"github.com/sourcify-go/verify/internal/logger"
	"github.com/sourcify-go/verify/pkg/chain"
	"github.com/sourcify-go/verify/pkg/compiler"
	"github.com/sourcify-go/verify/pkg/scheduler"
	"github.com/sourcify-go/verify/pkg/store"
	"github.com/sourcify-go/verify/pkg/verifier"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile      = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion     = flag.Bool("version", false, "Show version information and exit")
		dbPath          = flag.String("db", "", "Store path (overrides config)")
		logLevel        = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "", "Log format (json, console)")
		chainID         = flag.Uint64("chain", 0, "Chain id of the deployment to verify")
		address         = flag.String("address", "", "Address of the deployed contract")
		language        = flag.String("language", "solidity", "Source language (solidity, yul, vyper)")
		compilerVersion = flag.String("compiler-version", "", "Compiler version claimed for the submission")
		contractID      = flag.String("contract", "", "Target contract as path:name")
		inputFile       = flag.String("input", "", "Path to the standard-JSON compiler input")
		creationTx      = flag.String("creation-tx", "", "Creation transaction hash (optional)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("verify version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := initLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	req, err := parseVerifyRequest(*chainID, *address, *language, *compilerVersion, *contractID, *inputFile, *creationTx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	log.Info("starting verification engine",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("chains_configured", len(cfg.Chains)),
		zap.String("store_path", cfg.Store.Path),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	st, err := store.Open(cfg.Store.Path, cfg.Store.ReadOnly, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	chains, err := dialChains(ctx, cfg.Chains, log)
	if err != nil {
		log.Fatal("failed to dial configured chains", zap.Error(err))
	}

	driver := compiler.NewMultiDriverWithRepos(cfg.Compiler.BinDir, cfg.Compiler.SolcBinRepo, cfg.Compiler.VyperRepo)
	orchestrator := verifier.New(driver, chains, log)

	sched := scheduler.New(scheduler.Config{
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
		JobTimeout:  cfg.Scheduler.JobTimeout,
		IdleTimeout: scheduler.DefaultConfig().IdleTimeout,
	}, st, orchestrator, log)
	sched.Start()
	defer sched.Stop()

	jobID, err := sched.Submit(ctx, *req)
	if err != nil {
		log.Error("submit rejected", zap.Error(err))
		fmt.Fprintf(os.Stderr, "submit rejected: %v\n", err)
		os.Exit(1)
	}
	log.Info("verification job accepted", zap.String("job_id", jobID))

	job, err := awaitJob(ctx, st, jobID, cfg.Scheduler.JobTimeout+10*time.Second)
	if err != nil {
		log.Error("verification did not complete", zap.Error(err))
		fmt.Fprintf(os.Stderr, "verification did not complete: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		log.Fatal("failed to encode job result", zap.Error(err))
	}
	fmt.Println(string(out))

	if job.Error != nil {
		os.Exit(1)
	}
}

// parseVerifyRequest validates and assembles the one verification request
// this invocation submits.
func parseVerifyRequest(chainID uint64, address, language, compilerVersion, contractID, inputFile, creationTx string) (*scheduler.SubmitRequest, error) {
	if chainID == 0 {
		return nil, fmt.Errorf("-chain is required")
	}
	if address == "" {
		return nil, fmt.Errorf("-address is required")
	}
	if compilerVersion == "" {
		return nil, fmt.Errorf("-compiler-version is required")
	}
	path, name, ok := strings.Cut(contractID, ":")
	if !ok || path == "" || name == "" {
		return nil, fmt.Errorf("-contract must be of the form path:name, got %q", contractID)
	}
	if inputFile == "" {
		return nil, fmt.Errorf("-input is required")
	}

	lang, err := parseLanguage(language)
	if err != nil {
		return nil, err
	}

	stdJSON, err := os.ReadFile(inputFile)
	if err != nil {
		return nil, fmt.Errorf("reading -input: %w", err)
	}

	req := &scheduler.SubmitRequest{
		ChainID:            chainID,
		Address:            common.HexToAddress(address),
		Language:           lang,
		CompilerVersion:    compilerVersion,
		StandardJSONInput:  stdJSON,
		ContractIdentifier: compiler.Target{Path: path, Name: name},
		Endpoint:           "cmd/verify",
	}
	if creationTx != "" {
		hash := common.HexToHash(creationTx)
		req.CreationTransactionHash = &hash
	}
	return req, nil
}

func parseLanguage(s string) (compiler.Language, error) {
	switch strings.ToLower(s) {
	case "solidity", "":
		return compiler.LanguageSolidity, nil
	case "yul":
		return compiler.LanguageYul, nil
	case "vyper":
		return compiler.LanguageVyper, nil
	default:
		return "", fmt.Errorf("unknown -language %q", s)
	}
}

// dialChains connects to every configured chain up front; a chain this
// process cannot reach at startup is one no verification against it could
// ever succeed, so failing fast here is preferable to failing per-job.
func dialChains(ctx context.Context, chains []config.ChainConfig, log *zap.Logger) (map[uint64]chain.Chain, error) {
	out := make(map[uint64]chain.Chain, len(chains))
	for _, c := range chains {
		ch, err := chain.DialEVMChain(ctx, c.ChainID, c.RPCURLs(), c.RPCTimeout, log)
		if err != nil {
			return nil, fmt.Errorf("chain %d (%s): %w", c.ChainID, c.Name, err)
		}
		out[c.ChainID] = ch
		log.Info("dialed chain", zap.Uint64("chain_id", c.ChainID), zap.String("name", c.Name), zap.Int("endpoints", len(c.RPCURLs())))
	}
	return out, nil
}

// awaitJob polls the store for jobID's terminal state. The scheduler runs
// the job asynchronously on its worker pool; this is the synchronous view
// a one-shot CLI invocation needs.
func awaitJob(ctx context.Context, st store.Store, jobID string, timeout time.Duration) (*store.VerificationJob, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for job %s", jobID)
		case <-ticker.C:
			job, err := st.GetVerificationJobByID(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if job.IsJobCompleted() {
				return job, nil
			}
		}
	}
}

// initLogger builds the process logger from the resolved configuration.
func initLogger(level, format string) (*zap.Logger, error) {
	if format == "json" {
		return logger.NewWithConfig(&logger.Config{Level: level, Encoding: "json"})
	}
	return logger.NewWithConfig(&logger.Config{
		Level:       level,
		Development: true,
		Encoding:    "console",
	})
}
