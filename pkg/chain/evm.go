package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// endpoint pairs a dialed ethclient with the raw rpc.Client underneath it,
// since debug_traceTransaction has no ethclient wrapper.
type endpoint struct {
	url    string
	client *ethclient.Client
	rpc    *rpc.Client
}

// EVMChain implements Chain against one or more JSON-RPC endpoints of a
// single chain, retrying each in turn with exponential backoff before
// moving to the next and finally failing with ErrRPCExhausted.
type EVMChain struct {
	chainID   uint64
	endpoints []*endpoint
	timeout   time.Duration
	logger    *zap.Logger
}

// DialEVMChain connects to every rpcURL in turn; at least one must succeed
// or dialing fails outright (this happens once at startup, not per
// request, so it does not need the same retry treatment as GetBytecode).
func DialEVMChain(ctx context.Context, chainID uint64, rpcURLs []string, timeout time.Duration, logger *zap.Logger) (*EVMChain, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("chain %d: no rpc endpoints configured", chainID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	chain := &EVMChain{chainID: chainID, timeout: timeout, logger: logger}
	for _, url := range rpcURLs {
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			logger.Warn("chain endpoint dial failed", zap.Uint64("chain_id", chainID), zap.String("url", url), zap.Error(err))
			continue
		}
		chain.endpoints = append(chain.endpoints, &endpoint{
			url:    url,
			client: ethclient.NewClient(rpcClient),
			rpc:    rpcClient,
		})
	}
	if len(chain.endpoints) == 0 {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrRPCExhausted)
	}
	return chain, nil
}

func (c *EVMChain) ChainID() uint64 { return c.chainID }

// Close releases every underlying RPC connection.
func (c *EVMChain) Close() {
	for _, ep := range c.endpoints {
		ep.rpc.Close()
	}
}

// withEachEndpoint calls fn once per endpoint, retrying transient errors
// within an endpoint via exponential backoff before moving to the next
// endpoint. The first success wins; ErrRPCExhausted is returned only if
// every endpoint fails.
func (c *EVMChain) withEachEndpoint(ctx context.Context, fn func(context.Context, *endpoint) error) error {
	var lastErr error
	for _, ep := range c.endpoints {
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), opCtx)

		err := backoff.Retry(func() error {
			return fn(opCtx, ep)
		}, bo)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("chain endpoint request failed, trying next",
			zap.Uint64("chain_id", c.chainID), zap.String("url", ep.url), zap.Error(err))
	}
	return fmt.Errorf("chain %d: %w: %v", c.chainID, ErrRPCExhausted, lastErr)
}

func (c *EVMChain) GetBytecode(ctx context.Context, address common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		var err error
		code, err = ep.client.CodeAt(ctx, address, blockNumber)
		return err
	})
	return code, err
}

func (c *EVMChain) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var result *Transaction
	err := c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		tx, isPending, err := ep.client.TransactionByHash(ctx, hash)
		if err != nil {
			return err
		}
		if isPending {
			return fmt.Errorf("transaction %s is still pending", hash)
		}

		signer := types.LatestSignerForChainID(big.NewInt(0).SetUint64(c.chainID))
		from, err := types.Sender(signer, tx)
		if err != nil {
			from, err = types.Sender(types.HomesteadSigner{}, tx)
			if err != nil {
				return err
			}
		}

		receipt, err := ep.client.TransactionReceipt(ctx, hash)
		blockNumber := uint64(0)
		if err == nil && receipt != nil && receipt.BlockNumber != nil {
			blockNumber = receipt.BlockNumber.Uint64()
		}

		result = &Transaction{
			Hash:        hash,
			BlockNumber: blockNumber,
			From:        from,
			To:          tx.To(),
			Data:        tx.Data(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *EVMChain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var result *Receipt
	err := c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		receipt, err := ep.client.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		result = &Receipt{
			TxHash:           hash,
			TransactionIndex: uint(receipt.TransactionIndex),
			Status:           receipt.Status,
		}
		if receipt.BlockNumber != nil {
			result.BlockNumber = receipt.BlockNumber.Uint64()
		}
		if receipt.ContractAddress != (common.Address{}) {
			addr := receipt.ContractAddress
			result.ContractAddress = &addr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// callFrame mirrors the subset of debug_traceTransaction's callTracer
// output this package needs: nested CREATE
// frames and the address each one deployed to.
type callFrame struct {
	Type    string      `json:"type"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Input   string      `json:"input"`
	Output  string      `json:"output"`
	Calls   []callFrame `json:"calls"`
}

func findCreateFrame(frame callFrame, target common.Address) (*callFrame, bool) {
	if (frame.Type == "CREATE" || frame.Type == "CREATE2") &&
		common.HexToAddress(frame.To) == target {
		return &frame, true
	}
	for _, child := range frame.Calls {
		if found, ok := findCreateFrame(child, target); ok {
			return found, true
		}
	}
	return nil, false
}

func (c *EVMChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, address common.Address, txHash common.Hash) (*CreationInfo, error) {
	receipt, err := c.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	if receipt.ContractAddress != nil && *receipt.ContractAddress == address {
		tx, err := c.GetTransaction(ctx, txHash)
		if err != nil {
			return nil, err
		}
		return &CreationInfo{CreationBytecode: tx.Data, Receipt: *receipt}, nil
	}

	// Factory deployment: the target contract was created by an inner
	// CREATE/CREATE2 inside txHash, not by txHash's own top-level "to".
	var root callFrame
	err = c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		return ep.rpc.CallContext(ctx, &root, "debug_traceTransaction", txHash, map[string]string{"tracer": "callTracer"})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTraceUnsupported, err)
	}

	frame, ok := findCreateFrame(root, address)
	if !ok {
		return nil, fmt.Errorf("chain %d: no creation trace frame found for %s in tx %s", c.chainID, address, txHash)
	}

	init, err := hexToBytes(frame.Input)
	if err != nil {
		return nil, err
	}
	return &CreationInfo{CreationBytecode: init, Receipt: *receipt}, nil
}

func (c *EVMChain) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		var err error
		n, err = ep.client.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (c *EVMChain) GetBlock(ctx context.Context, number uint64, withTransactions bool) (*Block, error) {
	var result *Block
	err := c.withEachEndpoint(ctx, func(ctx context.Context, ep *endpoint) error {
		block, err := ep.client.BlockByNumber(ctx, big.NewInt(0).SetUint64(number))
		if err != nil {
			return err
		}
		b := &Block{Number: block.NumberU64(), Hash: block.Hash(), Timestamp: block.Time()}
		if withTransactions {
			for _, tx := range block.Transactions() {
				b.Transactions = append(b.Transactions, tx.Hash())
			}
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func hexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	return common.FromHex("0x" + s), nil
}
