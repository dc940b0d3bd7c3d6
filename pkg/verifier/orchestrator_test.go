package verifier

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcify-go/verify/pkg/chain"
	"github.com/sourcify-go/verify/pkg/compiler"
	"github.com/sourcify-go/verify/pkg/matcher"
)

type fakeChain struct {
	chainID  uint64
	bytecode []byte
	getErr   error

	creationInfo *chain.CreationInfo
	creationErr  error
}

func (f *fakeChain) ChainID() uint64 { return f.chainID }

func (f *fakeChain) GetBytecode(ctx context.Context, address common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.bytecode, f.getErr
}

func (f *fakeChain) GetTransaction(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) GetContractCreationBytecodeAndReceipt(ctx context.Context, address common.Address, txHash common.Hash) (*chain.CreationInfo, error) {
	return f.creationInfo, f.creationErr
}

func (f *fakeChain) GetBlockNumber(ctx context.Context) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeChain) GetBlock(ctx context.Context, number uint64, withTransactions bool) (*chain.Block, error) {
	return nil, errors.New("not implemented")
}

var _ chain.Chain = (*fakeChain)(nil)

type fakeDriver struct {
	out    *compiler.Output
	outErr error
}

func (f *fakeDriver) Compile(ctx context.Context, in compiler.Input) (*compiler.Output, error) {
	return f.out, f.outErr
}

func (f *fakeDriver) IsVersionAvailable(ctx context.Context, version string) (bool, error) {
	return true, nil
}

func (f *fakeDriver) DownloadVersion(ctx context.Context, version string) error { return nil }

var _ compiler.Driver = (*fakeDriver)(nil)

const testRuntimeHex = "6080604052"

func TestVerify_PerfectRuntimeMatch(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, testRuntimeHex)}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageSolidity,
		CompilerVersion:  "0.8.19",
		RuntimeBytecode:  testRuntimeHex,
		CreationBytecode: testRuntimeHex,
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	export, err := o.Verify(context.Background(), Request{
		ChainID:            1,
		Address:            common.HexToAddress("0x1"),
		Language:           compiler.LanguageSolidity,
		ContractIdentifier: compiler.Target{Path: "Token.sol", Name: "Token"},
	})

	require.NoError(t, err)
	require.NotNil(t, export.RuntimeMatch)
	assert.Equal(t, matcher.MatchPerfect, export.RuntimeMatch.Match)
	assert.Nil(t, export.CreationMatch)
}

func TestVerify_ContractNotDeployed(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: nil}
	driver := &fakeDriver{}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrContractNotDeployed, verr.Code)
}

func TestVerify_CantFetchBytecode(t *testing.T) {
	ch := &fakeChain{chainID: 1, getErr: chain.ErrRPCExhausted}
	driver := &fakeDriver{}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCantFetchBytecode, verr.Code)
}

func TestVerify_CompiledBytecodeIsZero(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, testRuntimeHex)}
	driver := &fakeDriver{out: &compiler.Output{
		Language:        compiler.LanguageSolidity,
		CompilerVersion: "0.8.19",
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCompiledBytecodeIsZero, verr.Code)
}

func TestVerify_BytecodeLengthMismatch(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, testRuntimeHex+"00")}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageSolidity,
		CompilerVersion:  "0.8.19",
		RuntimeBytecode:  testRuntimeHex,
		CreationBytecode: testRuntimeHex,
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBytecodeLengthMismatch, verr.Code)
	assert.NotEmpty(t, verr.OnchainRuntimeCode)
}

func TestVerify_NoMatch(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, "6080604060")}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageSolidity,
		CompilerVersion:  "0.8.19",
		RuntimeBytecode:  testRuntimeHex,
		CreationBytecode: testRuntimeHex,
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrNoMatch, verr.Code)
}

func TestVerify_UnknownChain(t *testing.T) {
	o := New(&fakeDriver{}, map[uint64]chain.Chain{}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 99, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCantFetchBytecode, verr.Code)
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexDecode(s)
	require.NoError(t, err)
	return b
}

// cborAuxdataTail encodes m as a CBOR map followed by its 2-byte
// big-endian length footer, matching the trailing-auxdata layout every
// supported compiler style produces.
func cborAuxdataTail(t *testing.T, m map[string]interface{}) []byte {
	t.Helper()
	raw, err := cbor.Marshal(m)
	require.NoError(t, err)
	footer := make([]byte, 2)
	binary.BigEndian.PutUint16(footer, uint16(len(raw)))
	return append(raw, footer...)
}

func TestVerify_CompileErrorClassified(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, testRuntimeHex)}
	driver := &fakeDriver{outErr: compiler.ErrContractNotFoundInCompilerOutput}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrContractNotFoundInCompilerOutput, verr.Code)
}

func TestVerify_CompileErrorDefaultsToCompilerError(t *testing.T) {
	ch := &fakeChain{chainID: 1, bytecode: mustHex(t, testRuntimeHex)}
	driver := &fakeDriver{outErr: errors.New("boom")}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{ChainID: 1, Address: common.HexToAddress("0x1")})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCompilerError, verr.Code)
}

func TestVerify_ExtraFileInputBug(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40}
	tail := cborAuxdataTail(t, map[string]interface{}{"ipfs": []byte{0x01, 0x02, 0x03, 0x04}})

	recompiledBody := append(append([]byte{}, body...), 0x00)
	onchainBody := append(append([]byte{}, body...), 0x01)
	recompiled := append(recompiledBody, tail...)
	onchain := append(onchainBody, tail...)

	ch := &fakeChain{chainID: 1, bytecode: onchain}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageSolidity,
		CompilerVersion:  "0.8.19",
		RuntimeBytecode:  hex.EncodeToString(recompiled),
		CreationBytecode: hex.EncodeToString(recompiled),
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	_, err := o.Verify(context.Background(), Request{
		ChainID:           1,
		Address:           common.HexToAddress("0x1"),
		StandardJSONInput: []byte(`{"settings":{"optimizer":{"enabled":true}}}`),
	})

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrExtraFileInputBug, verr.Code)
}

func TestVerify_VyperImmutablesDerivedFromTrailingRegion(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40}
	tail := cborAuxdataTail(t, map[string]interface{}{"ipfs": []byte{0x01, 0x02, 0x03}})
	recompiled := append(append([]byte{}, body...), tail...)

	// Onchain runtime is the recompiled bytecode, a 32-byte gap up to the
	// (body + auxdata + 32) boundary, and one 32-byte immutable slot past it.
	gap := repeatByte(0x00, 32)
	immutableValue := repeatByte(0xAB, 32)
	onchain := append(append(append([]byte{}, recompiled...), gap...), immutableValue...)

	ch := &fakeChain{chainID: 1, bytecode: onchain}
	driver := &fakeDriver{out: &compiler.Output{
		Language:         compiler.LanguageVyper,
		CompilerVersion:  "0.4.1",
		RuntimeBytecode:  hex.EncodeToString(recompiled),
		CreationBytecode: hex.EncodeToString(recompiled),
	}}

	o := New(driver, map[uint64]chain.Chain{1: ch}, nil)
	export, err := o.Verify(context.Background(), Request{
		ChainID:  1,
		Address:  common.HexToAddress("0x1"),
		Language: compiler.LanguageVyper,
	})

	require.NoError(t, err)
	require.NotNil(t, export.RuntimeMatch)
	assert.NotEqual(t, matcher.MatchNull, export.RuntimeMatch.Match)
	require.Contains(t, export.RuntimeMatch.TransformationValues.Immutables, "1")
}

func repeatByte(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
