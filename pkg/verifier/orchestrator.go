package verifier

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"github.com/sourcify-go/verify/pkg/auxdata"
	"github.com/sourcify-go/verify/pkg/chain"
	"github.com/sourcify-go/verify/pkg/compiler"
	"github.com/sourcify-go/verify/pkg/matcher"
)

// Orchestrator drives one verification request through the
// INIT -> FETCH_RUNTIME -> COMPILE -> MATCH_RUNTIME -> FETCH_CREATION ->
// MATCH_CREATION -> DONE|FAIL state machine.
type Orchestrator struct {
	driver  compiler.Driver
	matcher *matcher.Matcher
	chains  map[uint64]chain.Chain
	logger  *zap.Logger
}

// New returns an Orchestrator wired to the given compiler driver and
// chain set. It is safe for concurrent use; verifications share no
// mutable state beyond the driver's own binary cache.
func New(driver compiler.Driver, chains map[uint64]chain.Chain, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		driver:  driver,
		matcher: matcher.New(),
		chains:  chains,
		logger:  logger,
	}
}

// Verify attempts one full verification. On success it returns a DONE
// Export; on failure it returns a *VerificationError describing which
// state the machine failed in.
func (o *Orchestrator) Verify(ctx context.Context, req Request) (*Export, error) {
	ch, ok := o.chains[req.ChainID]
	if !ok {
		return nil, fail(ErrCantFetchBytecode, "no chain configured for chain id %d", req.ChainID)
	}

	// FETCH_RUNTIME
	onchainRuntimeHex, err := ch.GetBytecode(ctx, req.Address, nil)
	if err != nil {
		if errors.Is(err, chain.ErrRPCExhausted) {
			return nil, fail(ErrCantFetchBytecode, "%v", err)
		}
		return nil, fail(ErrCantFetchBytecode, "%v", err)
	}
	if len(onchainRuntimeHex) == 0 {
		return nil, fail(ErrContractNotDeployed, "no code at %s on chain %d", req.Address, req.ChainID)
	}
	onchainRuntime := onchainRuntimeHex

	// COMPILE
	in := compiler.Input{
		Language: req.Language,
		Version:  req.CompilerVersion,
		JSON:     json.RawMessage(req.StandardJSONInput),
		Target:   req.ContractIdentifier,
	}
	compiled, err := o.driver.Compile(ctx, in)
	if err != nil {
		return nil, fail(classifyCompileErr(err), "%v", err)
	}

	recompiledRuntime, err := hexDecode(compiled.RuntimeBytecode)
	if err != nil {
		return nil, fail(ErrNoCompilerOutput, "invalid runtime bytecode: %v", err)
	}
	recompiledCreation, err := hexDecode(compiled.CreationBytecode)
	if err != nil {
		return nil, fail(ErrNoCompilerOutput, "invalid creation bytecode: %v", err)
	}
	if len(recompiledRuntime) == 0 && len(recompiledCreation) == 0 {
		return nil, fail(ErrCompiledBytecodeIsZero, "compiled bytecode empty for %s", req.ContractIdentifier.FullyQualifiedName())
	}

	// MATCH_RUNTIME
	style := auxdata.StyleFor(string(compiled.Language), compiled.CompilerVersion)
	runtimeAuxdata := o.resolveAuxdata(ctx, in, recompiledRuntime, style, compiled,
		compiled.RuntimeCborAuxdata, func(out *compiler.Output) string { return out.RuntimeBytecode })

	immutableRefs := toImmutableReferences(compiled.ImmutableReferences)
	runtimeLinkRefs := toLinkReferences(compiled.RuntimeLinkReferences)

	matchRuntime := recompiledRuntime
	if compiled.Language == compiler.LanguageVyper && style == auxdata.StyleVyperGE0_4_1 {
		if padded, derived := deriveVyperImmutables(recompiledRuntime, onchainRuntime); len(derived) > 0 {
			matchRuntime = padded
			immutableRefs = derived
		}
	}

	runtimeResult, err := o.matcher.MatchRuntime(matchRuntime, onchainRuntime, immutableRefs, runtimeLinkRefs, runtimeAuxdata, compiled.Language == compiler.LanguageVyper)
	if err != nil {
		if errors.Is(err, matcher.ErrBytecodeLengthMismatch) {
			verr := fail(ErrBytecodeLengthMismatch, "%v", err)
			verr.RecompiledRuntimeCode = hexPrefixed(recompiledRuntime)
			verr.OnchainRuntimeCode = hexPrefixed(onchainRuntime)
			return nil, verr
		}
		return nil, fail(ErrCompilerError, "runtime match: %v", err)
	}

	if runtimeResult.Match == matcher.MatchNull && compiled.Language == compiler.LanguageSolidity &&
		optimizerEnabled(req.StandardJSONInput) && auxdataRegionsIdentical(recompiledRuntime, onchainRuntime, runtimeAuxdata) {
		verr := fail(ErrExtraFileInputBug, "runtime bytecode differs outside auxdata regions with optimizer enabled (solidity #14250)")
		verr.RecompiledRuntimeCode = hexPrefixed(recompiledRuntime)
		verr.OnchainRuntimeCode = hexPrefixed(onchainRuntime)
		return nil, verr
	}

	export := &Export{
		ChainID:      req.ChainID,
		Address:      req.Address,
		Compiled:     compiled,
		RuntimeMatch: runtimeResult,
	}

	// FETCH_CREATION (optional)
	if req.CreationTransactionHash != nil {
		creationInfo, err := ch.GetContractCreationBytecodeAndReceipt(ctx, req.Address, *req.CreationTransactionHash)
		if err != nil {
			o.logger.Warn("creation bytecode unavailable, degrading to runtime-only verification",
				zap.Uint64("chain_id", req.ChainID), zap.String("address", req.Address.Hex()), zap.Error(err))
		} else {
			export.Deployment = Deployment{
				BlockNumber: ptrUint64(creationInfo.Receipt.BlockNumber),
				TxIndex:     ptrUint(creationInfo.Receipt.TransactionIndex),
			}
			if tx, err := ch.GetTransaction(ctx, *req.CreationTransactionHash); err == nil {
				deployer := tx.From
				export.Deployment.Deployer = &deployer
			}

			creationAuxdata := o.resolveAuxdata(ctx, in, recompiledCreation, style, compiled,
				compiled.CreationCborAuxdata, func(out *compiler.Output) string { return out.CreationBytecode })
			creationLinkRefs := toLinkReferences(compiled.CreationLinkReferences)
			constructorArgs := constructorArgumentsFromABI(compiled.ABI)

			creationResult, err := o.matcher.MatchCreation(recompiledCreation, creationInfo.CreationBytecode, creationLinkRefs, creationAuxdata, constructorArgs)
			if err != nil {
				o.logger.Warn("creation match failed", zap.Error(err))
			} else {
				export.CreationMatch = creationResult
			}
		}
	}

	// DONE | FAIL
	runtimeOK := export.RuntimeMatch != nil && export.RuntimeMatch.Match != matcher.MatchNull
	creationOK := export.CreationMatch != nil && export.CreationMatch.Match != matcher.MatchNull
	if !runtimeOK && !creationOK {
		verr := fail(ErrNoMatch, "neither runtime nor creation bytecode matched")
		verr.RecompiledRuntimeCode = hexPrefixed(recompiledRuntime)
		verr.OnchainRuntimeCode = hexPrefixed(onchainRuntime)
		verr.RecompiledCreationCode = hexPrefixed(recompiledCreation)
		return nil, verr
	}

	return export, nil
}

// classifyCompileErr maps a compiler driver failure to its closed-taxonomy
// code, carrying through whichever typed sentinel pkg/compiler itself
// wrapped the failure in rather than collapsing every compile error into
// one generic code.
func classifyCompileErr(err error) ErrorCode {
	switch {
	case errors.Is(err, compiler.ErrNoCompilerOutput):
		return ErrNoCompilerOutput
	case errors.Is(err, compiler.ErrContractNotFoundInCompilerOutput):
		return ErrContractNotFoundInCompilerOutput
	case errors.Is(err, compiler.ErrMetadataNotSet):
		return ErrMetadataNotSet
	case errors.Is(err, compiler.ErrCompilerOutputTooLarge):
		return ErrCompilerOutputTooLarge
	case errors.Is(err, compiler.ErrInvalidCompilerVersion):
		return ErrInvalidCompilerVersion
	case errors.Is(err, compiler.ErrUnsupportedLanguage):
		return ErrUnsupportedLanguage
	default:
		// compiler_error, timeout, and compiler-binary-acquisition
		// failures (compiler_not_found) have no more specific §7 code;
		// compiler_error is the closest bucket for all of them.
		return ErrCompilerError
	}
}

// resolveAuxdata finds the CBOR auxdata positions for one bytecode buffer,
// trying in order: the compiler's own reported positions, a mutate-and-diff
// probe for Solidity builds that reported none (pre-0.8.x solc never emits
// cborAuxdata), and finally heuristic location by style.
func (o *Orchestrator) resolveAuxdata(
	ctx context.Context,
	in compiler.Input,
	code []byte,
	style auxdata.Style,
	compiled *compiler.Output,
	reported map[string]compiler.CborAuxdataPosition,
	selectBytecode func(*compiler.Output) string,
) auxdata.Positions {
	if positions, err := auxdata.FromCompilerOutput(code, toAuxdataRaw(reported)); err == nil && len(positions) > 0 {
		return positions
	}
	if compiled.Language == compiler.LanguageSolidity {
		if positions, err := o.probeAuxdataByDiff(ctx, in, code, selectBytecode); err == nil && len(positions) > 0 {
			return positions
		}
	}
	positions, err := auxdata.Locate(code, style)
	if err != nil {
		return nil
	}
	return positions
}

// probeAuxdataByDiff recompiles in with every source file mutated (see
// compiler.MutateSourcesForAuxdataProbe) and diffs the result against the
// original bytecode: every byte that changed lies inside an auxdata
// region, since the mutation only perturbs the embedded metadata hash.
func (o *Orchestrator) probeAuxdataByDiff(ctx context.Context, in compiler.Input, original []byte, selectBytecode func(*compiler.Output) string) (auxdata.Positions, error) {
	mutatedJSON, err := compiler.MutateSourcesForAuxdataProbe(in.JSON)
	if err != nil {
		return nil, err
	}
	probeIn := in
	probeIn.JSON = mutatedJSON
	probeOut, err := o.driver.Compile(ctx, probeIn)
	if err != nil {
		return nil, err
	}
	mutated, err := hexDecode(selectBytecode(probeOut))
	if err != nil {
		return nil, err
	}
	return auxdata.Diff(original, mutated)
}

// optimizerEnabled reports whether a standard-JSON input requested the
// optimizer, as recorded by settings.optimizer.enabled.
func optimizerEnabled(standardJSON []byte) bool {
	var doc struct {
		Settings struct {
			Optimizer struct {
				Enabled bool `json:"enabled"`
			} `json:"optimizer"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(standardJSON, &doc); err != nil {
		return false
	}
	return doc.Settings.Optimizer.Enabled
}

// auxdataRegionsIdentical reports whether every located auxdata region
// already has identical bytes between recompiled and onchain -- i.e. the
// matcher's auxdata-substitution step would be a no-op, so any remaining
// divergence lies outside auxdata entirely.
func auxdataRegionsIdentical(recompiled, onchain []byte, positions auxdata.Positions) bool {
	if len(positions) == 0 {
		return false
	}
	for _, pos := range positions {
		length := len(pos.Value) / 2
		if pos.Offset < 0 || length < 0 || pos.Offset+length > len(recompiled) || pos.Offset+length > len(onchain) {
			return false
		}
		if !bytes.Equal(recompiled[pos.Offset:pos.Offset+length], onchain[pos.Offset:pos.Offset+length]) {
			return false
		}
	}
	return true
}

// deriveVyperImmutables computes immutableReferences for Vyper >= 0.4.1,
// which never reports them in compiler output: everything in the on-chain
// runtime bytecode past (len(body) + len(auxdata) + 32) bytes is the
// immutable area, one 32-byte slot per id. It returns a copy of
// recompiledRuntime zero-padded out to onchain's length (the slots the
// matcher's immutable-normalization step will then fill in) together with
// the derived references; derived is nil if no auxdata trailer or no
// trailing region was found.
func deriveVyperImmutables(recompiledRuntime, onchainRuntime []byte) ([]byte, matcher.ImmutableReferences) {
	body, raw, ok := auxdata.SplitTrailing(recompiledRuntime)
	if !ok {
		return recompiledRuntime, nil
	}
	immutableStart := len(body) + len(raw) + 2 + 32
	if immutableStart >= len(onchainRuntime) {
		return recompiledRuntime, nil
	}

	slots := (len(onchainRuntime) - immutableStart) / 32
	if slots == 0 {
		return recompiledRuntime, nil
	}

	padded := make([]byte, len(onchainRuntime))
	copy(padded, recompiledRuntime)

	refs := make(matcher.ImmutableReferences, slots)
	for i := 0; i < slots; i++ {
		refs[strconv.Itoa(i+1)] = []matcher.Range{{Start: immutableStart + i*32, Length: 32}}
	}
	return padded, refs
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func hexPrefixed(b []byte) string {
	if len(b) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(b)
}

func toAuxdataRaw(in map[string]compiler.CborAuxdataPosition) map[string]struct {
	Offset int    `json:"offset"`
	Value  string `json:"value"`
} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]struct {
		Offset int    `json:"offset"`
		Value  string `json:"value"`
	}, len(in))
	for id, pos := range in {
		out[id] = struct {
			Offset int    `json:"offset"`
			Value  string `json:"value"`
		}{Offset: pos.Offset, Value: pos.Value}
	}
	return out
}

func toImmutableReferences(in map[string][]compiler.ImmutableReference) matcher.ImmutableReferences {
	if len(in) == 0 {
		return nil
	}
	out := make(matcher.ImmutableReferences, len(in))
	for id, refs := range in {
		ranges := make([]matcher.Range, 0, len(refs))
		for _, r := range refs {
			ranges = append(ranges, matcher.Range{Start: r.Start, Length: r.Length})
		}
		out[id] = ranges
	}
	return out
}

func toLinkReferences(in map[string]map[string][]compiler.LinkReference) matcher.LinkReferences {
	if len(in) == 0 {
		return nil
	}
	out := make(matcher.LinkReferences, len(in))
	for path, libs := range in {
		out[path] = make(map[string][]matcher.Range, len(libs))
		for name, refs := range libs {
			ranges := make([]matcher.Range, 0, len(refs))
			for _, r := range refs {
				ranges = append(ranges, matcher.Range{Start: r.Start, Length: r.Length})
			}
			out[path][name] = ranges
		}
	}
	return out
}

// constructorArgumentsFromABI extracts the constructor's input types from
// a contract's ABI JSON, returning an empty abi.Arguments if the contract
// declares no constructor (common for simple contracts).
func constructorArgumentsFromABI(rawABI json.RawMessage) abi.Arguments {
	if len(rawABI) == 0 {
		return nil
	}
	parsed, err := abi.JSON(strings.NewReader(string(rawABI)))
	if err != nil {
		return nil
	}
	return parsed.Constructor.Inputs
}

func ptrUint64(v uint64) *uint64 { return &v }
func ptrUint(v uint) *uint       { return &v }
