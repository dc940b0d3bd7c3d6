// Package verifier implements the verification orchestrator: the
// INIT -> FETCH_RUNTIME -> COMPILE -> MATCH_RUNTIME -> FETCH_CREATION ->
// MATCH_CREATION -> DONE|FAIL state machine that ties the compiler,
// matcher, and chain packages together into one verification attempt.
package verifier

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sourcify-go/verify/pkg/compiler"
	"github.com/sourcify-go/verify/pkg/matcher"
)

// Request is everything the orchestrator needs to attempt one
// verification: which contract, which standard-JSON input compiled it,
// and (optionally) where to find its creation transaction.
type Request struct {
	ChainID                 uint64
	Address                 common.Address
	Language                compiler.Language
	CompilerVersion         string
	StandardJSONInput       []byte
	ContractIdentifier      compiler.Target
	CreationTransactionHash *common.Hash
}

// Deployment captures where and by whom a contract was deployed, resolved
// only when creation-transaction data is available.
type Deployment struct {
	BlockNumber *uint64
	TxIndex     *uint
	Deployer    *common.Address
}

// Export is the immutable snapshot produced on DONE: both the
// Compilation artifacts and the Verification results, ready for the Store
// to persist.
type Export struct {
	ChainID    uint64
	Address    common.Address
	Compiled   *compiler.Output
	Deployment Deployment

	RuntimeMatch  *matcher.Result
	CreationMatch *matcher.Result // nil if creation bytecode was unavailable
}
