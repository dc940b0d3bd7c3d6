// Package scheduler runs the fixed-size worker pool that accepts
// verification requests, deduplicates them against the Store, and drives
// each one through the verifier's state machine to a terminal job record.
package scheduler

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sourcify-go/verify/pkg/compiler"
)

var (
	// ErrAlreadyVerified is returned when the Store already holds a perfect
	// runtime and creation match for the requested (chainId, address).
	ErrAlreadyVerified = errors.New("already_verified")
	// ErrDuplicateRequest is returned when a not-yet-completed job already
	// exists for the requested (chainId, address).
	ErrDuplicateRequest = errors.New("duplicate_verification_request")
	// ErrQueueFull is returned when the pending-job queue is at capacity.
	ErrQueueFull = errors.New("queue_full")
)

// SubmitRequest is everything a caller provides when asking the scheduler
// to verify a contract.
type SubmitRequest struct {
	ChainID                 uint64
	Address                 common.Address
	Language                compiler.Language
	CompilerVersion         string
	StandardJSONInput       []byte
	ContractIdentifier      compiler.Target
	CreationTransactionHash *common.Hash

	// Endpoint and Hardware are recorded on the job purely for operator
	// diagnostics (which HTTP route accepted it, which worker ran it).
	Endpoint string
	Hardware string
}

// Config bounds the worker pool's size and per-job timeouts.
type Config struct {
	// Workers is the number of goroutines draining the job queue.
	Workers int
	// QueueSize is the capacity of the pending-job channel.
	QueueSize int
	// JobTimeout bounds one verification attempt end to end.
	JobTimeout time.Duration
	// IdleTimeout is defaulted by New but not read by the worker pool;
	// compiler acquisition is bounded only by JobTimeout.
	IdleTimeout time.Duration
}

// DefaultConfig returns the scheduler defaults: 5 workers, each running
// one job at a time, a 256-job queue, a 2 minute job timeout and a 30s
// IdleTimeout.
func DefaultConfig() Config {
	return Config{
		Workers:     5,
		QueueSize:   256,
		JobTimeout:  2 * time.Minute,
		IdleTimeout: 30 * time.Second,
	}
}

type queuedJob struct {
	id  string
	req SubmitRequest
}
