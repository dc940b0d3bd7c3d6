package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every read operation when the requested
// record does not exist.
var ErrNotFound = errors.New("not_found")

// Store is every persistence operation the verification engine's core
// needs. Any backend satisfying this contract is acceptable; the engine
// never depends on a concrete implementation.
type Store interface {
	GetVerifiedContractByChainAndAddress(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error)

	InsertCode(ctx context.Context, rec CodeRecord) error
	InsertContract(ctx context.Context, c Contract) error
	InsertContractDeployment(ctx context.Context, d ContractDeployment) error
	InsertCompiledContract(ctx context.Context, c CompiledContract) error
	InsertCompiledContractsSources(ctx context.Context, sources []CompiledContractSource) error

	InsertVerifiedContract(ctx context.Context, v VerifiedContract) error
	InsertSourcifyMatch(ctx context.Context, m SourcifyMatch) error
	UpdateSourcifyMatch(ctx context.Context, m SourcifyMatch) error

	// InsertVerificationSnapshot atomically persists every row produced by
	// one successful verification. If any part fails, none persist.
	InsertVerificationSnapshot(ctx context.Context, snap VerificationSnapshot) error

	InsertVerificationJob(ctx context.Context, job VerificationJob) error
	UpdateVerificationJob(ctx context.Context, job VerificationJob) error
	InsertVerificationJobEphemeral(ctx context.Context, jobID string, onchainCreation, onchainRuntime []byte, creationTxHash string) error
	GetVerificationJobByID(ctx context.Context, jobID string) (*VerificationJob, error)
	GetVerificationJobsByChainAndAddress(ctx context.Context, chainID uint64, address string) ([]VerificationJob, error)

	// ListVerifiedContracts supports the paginated contract listing
	// endpoint; afterMatchID is exclusive cursor, empty for the first page.
	ListVerifiedContracts(ctx context.Context, chainID uint64, limit int, ascending bool, afterMatchID string) ([]VerifiedContract, error)

	Close() error
}
