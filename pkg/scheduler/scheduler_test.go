package scheduler

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcify-go/verify/pkg/chain"
	"github.com/sourcify-go/verify/pkg/compiler"
	"github.com/sourcify-go/verify/pkg/matcher"
	"github.com/sourcify-go/verify/pkg/store"
	"github.com/sourcify-go/verify/pkg/verifier"
)

type fakeChain struct {
	bytecode []byte
}

func (f *fakeChain) ChainID() uint64 { return 1 }

func (f *fakeChain) GetBytecode(ctx context.Context, address common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.bytecode, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, address common.Address, txHash common.Hash) (*chain.CreationInfo, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetBlockNumber(ctx context.Context) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeChain) GetBlock(ctx context.Context, number uint64, withTransactions bool) (*chain.Block, error) {
	return nil, errors.New("not implemented")
}

type fakeDriver struct {
	out *compiler.Output
}

func (f *fakeDriver) Compile(ctx context.Context, in compiler.Input) (*compiler.Output, error) {
	return f.out, nil
}

func (f *fakeDriver) IsVersionAvailable(ctx context.Context, version string) (bool, error) {
	return true, nil
}

func (f *fakeDriver) DownloadVersion(ctx context.Context, version string) error { return nil }

const runtimeHex = "6080604052"

func testScheduler(t *testing.T) (*Scheduler, store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ch := &fakeChain{bytecode: mustHexBytes(t, runtimeHex)}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageSolidity,
		CompilerVersion:  "0.8.19",
		RuntimeBytecode:  runtimeHex,
		CreationBytecode: runtimeHex,
	}}
	orch := verifier.New(driver, map[uint64]chain.Chain{1: ch}, nil)

	cfg := Config{Workers: 1, QueueSize: 4, JobTimeout: 5 * time.Second, IdleTimeout: time.Second}
	return New(cfg, st, orch, nil), st
}

func mustHexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestScheduler_SubmitAndProcessSuccess(t *testing.T) {
	sched, st := testScheduler(t)
	sched.Start()
	defer sched.Stop()

	req := SubmitRequest{
		ChainID:            1,
		Address:            common.HexToAddress("0x1"),
		Language:           compiler.LanguageSolidity,
		ContractIdentifier: compiler.Target{Path: "Token.sol", Name: "Token"},
		Endpoint:           "POST /verify/1/0x1",
	}

	id, err := sched.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		job, err := st.GetVerificationJobByID(context.Background(), id)
		return err == nil && job.IsJobCompleted()
	}, 2*time.Second, 10*time.Millisecond)

	job, err := st.GetVerificationJobByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job.Error)
	require.NotEmpty(t, job.VerifiedContractID)

	verified, err := st.GetVerifiedContractByChainAndAddress(context.Background(), 1, req.Address.Hex())
	require.NoError(t, err)
	assert.Equal(t, matcher.MatchPerfect, verified.Runtime.Match)
}

func TestScheduler_DuplicateRequestRejected(t *testing.T) {
	sched, _ := testScheduler(t)
	// Deliberately do not Start: the job stays pending in the queue, so a
	// second submission for the same (chainId, address) must be rejected.

	req := SubmitRequest{
		ChainID: 1,
		Address: common.HexToAddress("0x2"),
	}

	_, err := sched.Submit(context.Background(), req)
	require.NoError(t, err)

	_, err = sched.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestScheduler_AlreadyVerifiedRejected(t *testing.T) {
	sched, st := testScheduler(t)

	snap := store.VerificationSnapshot{
		Contract:   store.Contract{ID: "c1", RuntimeCodeHash: "h1"},
		Deployment: store.ContractDeployment{ID: "d1", ChainID: 1, Address: common.HexToAddress("0x3").Hex(), ContractID: "c1"},
		Compilation: store.CompiledContract{
			ID: "comp1", Compiler: "solc", Version: "0.8.19", Language: "Solidity",
			Name: "Token", FullyQualifiedName: "Token.sol:Token", RuntimeCodeHash: "h1",
		},
		Verified: store.VerifiedContract{
			ID: "v1", CompilationID: "comp1", DeploymentID: "d1",
			Runtime:  store.MatchOutcome{Match: matcher.MatchPerfect},
			Creation: store.MatchOutcome{Match: matcher.MatchPerfect},
		},
		SourcifyMatch: store.SourcifyMatch{ID: "v1", VerifiedContractID: "v1", RuntimeMatch: "exact_match", CreationMatch: "exact_match"},
		Job:           store.VerificationJob{ID: "j1", ChainID: 1, ContractAddress: common.HexToAddress("0x3").Hex()},
	}
	require.NoError(t, st.InsertVerificationSnapshot(context.Background(), snap))

	req := SubmitRequest{ChainID: 1, Address: common.HexToAddress("0x3")}
	_, err := sched.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}
