// Package chain defines the read-only view onto an EVM chain the
// verification engine needs: fetching deployed bytecode, transactions,
// receipts, and (for factory-deployed contracts) the creation trace.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRPCExhausted is returned when every configured endpoint for a
	// chain has failed to answer a request.
	ErrRPCExhausted = errors.New("rpc_exhausted")
	// ErrTraceUnsupported is returned when a factory-deployed contract's
	// creation bytecode is requested but no configured endpoint answers
	// debug_traceTransaction with the callTracer (the trace_* API is not
	// tried).
	ErrTraceUnsupported = errors.New("trace_unsupported")
	// ErrTransactionNotFound is returned when a transaction hash cannot be
	// located on chain.
	ErrTransactionNotFound = errors.New("transaction_not_found")
)

// Transaction is the subset of an on-chain transaction the engine needs.
type Transaction struct {
	Hash        common.Hash
	BlockNumber uint64
	From        common.Address
	To          *common.Address // nil for a contract-creation transaction
	Data        []byte
}

// Receipt is the subset of a transaction receipt the engine needs.
type Receipt struct {
	TxHash          common.Hash
	ContractAddress *common.Address // set only for a creation transaction
	TransactionIndex uint
	Status          uint64
	BlockNumber     uint64
}

// CreationInfo is the resolved creation bytecode and receipt for a
// contract, however it was found (direct creation or factory deployment).
type CreationInfo struct {
	CreationBytecode []byte
	Receipt          Receipt
}

// Block is the subset of block data needed by the binary-search fallback
// for locating a contract's creation transaction.
type Block struct {
	Number       uint64
	Hash         common.Hash
	Timestamp    uint64
	Transactions []common.Hash
}

// Chain is the read-only interface the verification orchestrator uses to
// reach an EVM chain. Implementations try every configured RPC endpoint in
// turn and return ErrRPCExhausted only once all have failed.
type Chain interface {
	ChainID() uint64

	// GetBytecode returns the code currently deployed at address, or an
	// empty slice if none is deployed. blockNumber nil means "latest".
	GetBytecode(ctx context.Context, address common.Address, blockNumber *big.Int) ([]byte, error)

	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// GetContractCreationBytecodeAndReceipt resolves the init code used to
	// deploy address. When the creating transaction's receipt names
	// address directly, the bytecode is the transaction's input data.
	// Otherwise (factory deployment) it is extracted from the innermost
	// CREATE/CREATE2 trace frame whose resulting address matches.
	GetContractCreationBytecodeAndReceipt(ctx context.Context, address common.Address, txHash common.Hash) (*CreationInfo, error)

	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64, withTransactions bool) (*Block, error)
}
