// Package store persists verification results. It is written against a
// Store interface so any backend satisfying the contract works; the
// concrete implementation here is pebble-backed, content-addressed the
// same way the rest of this project's on-disk state is.
package store

import (
	"time"

	"github.com/sourcify-go/verify/pkg/matcher"
)

// CodeRecord is one content-addressed bytecode blob.
type CodeRecord struct {
	HashSHA256    string `json:"hashSha256"`
	HashKeccak256 string `json:"hashKeccak256"`
	Code          []byte `json:"code"`
}

// Contract identifies the (creation, runtime) bytecode pair a deployment
// carries, independent of any particular address.
type Contract struct {
	ID                string `json:"id"`
	CreationCodeHash  string `json:"creationCodeHash,omitempty"`
	RuntimeCodeHash   string `json:"runtimeCodeHash"`
}

// ContractDeployment is one on-chain instance of a Contract.
type ContractDeployment struct {
	ID          string  `json:"id"`
	ChainID     uint64  `json:"chainId"`
	Address     string  `json:"address"`
	TxHash      string  `json:"txHash,omitempty"`
	ContractID  string  `json:"contractId"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
	TxIndex     *uint   `json:"txIndex,omitempty"`
	Deployer    string  `json:"deployer,omitempty"`
}

// CompiledContract is one successful compilation of a source set against a
// specific compiler version, independent of any deployment.
type CompiledContract struct {
	ID                  string `json:"id"`
	Compiler            string `json:"compiler"`
	Version             string `json:"version"`
	Language            string `json:"language"`
	Name                string `json:"name"`
	FullyQualifiedName  string `json:"fullyQualifiedName"`
	CompilerSettings    string `json:"compilerSettings"`
	CompilationArtifacts string `json:"compilationArtifacts"`
	CreationCodeHash    string `json:"creationCodeHash,omitempty"`
	CreationCodeArtifacts string `json:"creationCodeArtifacts,omitempty"`
	RuntimeCodeHash     string `json:"runtimeCodeHash"`
	RuntimeCodeArtifacts string `json:"runtimeCodeArtifacts"`
}

// CompiledContractSource is one source file contributing to a
// CompiledContract.
type CompiledContractSource struct {
	ID            string `json:"id"`
	CompilationID string `json:"compilationId"`
	SourceHash    string `json:"sourceHash"`
	Path          string `json:"path"`
}

// MatchOutcome mirrors one side (runtime or creation) of a VerifiedContract.
type MatchOutcome struct {
	Match                matcher.MatchLevel             `json:"match"`
	Values               matcher.TransformationValues   `json:"values,omitempty"`
	Transformations      []matcher.Transformation       `json:"transformations,omitempty"`
	MetadataMatch        *bool                           `json:"metadataMatch,omitempty"`
}

// VerifiedContract is the durable record of a successful verification: a
// compilation matched to a deployment.
type VerifiedContract struct {
	ID            string       `json:"id"`
	CompilationID string       `json:"compilationId"`
	DeploymentID  string       `json:"deploymentId"`
	Creation      MatchOutcome `json:"creation"`
	Runtime       MatchOutcome `json:"runtime"`
}

// SourcifyMatch is the externally-facing summary of a VerifiedContract,
// using the exact_match/match/null vocabulary the HTTP surface exposes.
type SourcifyMatch struct {
	ID                 string `json:"id"`
	VerifiedContractID string `json:"verifiedContractId"`
	CreationMatch      string `json:"creationMatch"`
	RuntimeMatch       string `json:"runtimeMatch"`
	Metadata           string `json:"metadata,omitempty"`
}

// JobErrorRecord captures a failed verification job's diagnostics.
type JobErrorRecord struct {
	CustomCode             string `json:"customCode"`
	ErrorID                string `json:"errorId"`
	Message                string `json:"message,omitempty"`
	RecompiledCreationCode string `json:"recompiledCreationCode,omitempty"`
	RecompiledRuntimeCode  string `json:"recompiledRuntimeCode,omitempty"`
	OnchainCreationCode    string `json:"onchainCreationCode,omitempty"`
	OnchainRuntimeCode     string `json:"onchainRuntimeCode,omitempty"`
}

// VerificationJob is the persisted envelope around one verification
// attempt, polled via the job-status HTTP endpoint.
type VerificationJob struct {
	ID                  string          `json:"id"`
	StartedAt           time.Time       `json:"startedAt"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	ChainID             uint64          `json:"chainId"`
	ContractAddress     string          `json:"contractAddress"`
	VerifiedContractID  string          `json:"verifiedContractId,omitempty"`
	Error               *JobErrorRecord `json:"error,omitempty"`
	VerificationEndpoint string         `json:"verificationEndpoint,omitempty"`
	Hardware            string          `json:"hardware,omitempty"`
	CompilationTimeMS   *int64          `json:"compilationTimeMs,omitempty"`
}

// IsJobCompleted reports the monotonic terminal flag the scheduler's
// dedup logic and the job-status endpoint both rely on.
func (j VerificationJob) IsJobCompleted() bool {
	return j.CompletedAt != nil
}

// VerificationSnapshot bundles every row one successful verification
// writes; the Store persists it atomically.
type VerificationSnapshot struct {
	Code               []CodeRecord
	Contract           Contract
	Deployment         ContractDeployment
	Compilation        CompiledContract
	CompilationSources []CompiledContractSource
	Verified           VerifiedContract
	SourcifyMatch      SourcifyMatch
	Job                VerificationJob
}
