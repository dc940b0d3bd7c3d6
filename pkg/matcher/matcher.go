package matcher

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/sourcify-go/verify/pkg/auxdata"
)

// Matcher compares recompiled bytecode against on-chain bytecode and
// classifies the result as perfect, partial, or null.
type Matcher struct{}

// New returns a ready-to-use Matcher. It holds no state; a single instance
// may be shared across concurrent verification jobs.
func New() *Matcher {
	return &Matcher{}
}

// MatchRuntime compares a recompiled runtime bytecode against the bytecode
// observed on chain for the same address.
func (m *Matcher) MatchRuntime(
	recompiled, onchain []byte,
	immutableRefs ImmutableReferences,
	linkRefs LinkReferences,
	auxdataPositions auxdata.Positions,
	isVyper bool,
) (*Result, error) {
	if isVyper {
		if len(recompiled) > len(onchain) {
			return nil, fmt.Errorf("%w: recompiled runtime (%d) longer than onchain (%d)", ErrBytecodeLengthMismatch, len(recompiled), len(onchain))
		}
	} else if len(recompiled) != len(onchain) {
		return nil, fmt.Errorf("%w: recompiled %d, onchain %d", ErrBytecodeLengthMismatch, len(recompiled), len(onchain))
	}

	return m.runPipeline(recompiled, onchain, immutableRefs, linkRefs, auxdataPositions, false)
}

// MatchCreation compares a recompiled creation bytecode against the
// creation transaction's input data, accounting for ABI-encoded
// constructor arguments appended after the contract's own init code.
func (m *Matcher) MatchCreation(
	recompiled, onchain []byte,
	linkRefs LinkReferences,
	auxdataPositions auxdata.Positions,
	constructorArgs abi.Arguments,
) (*Result, error) {
	result, err := m.runPipeline(recompiled, onchain, nil, linkRefs, auxdataPositions, true)
	if err != nil {
		return nil, err
	}
	if result.Match == MatchNull {
		return result, nil
	}

	trailing := onchain[len(result.PopulatedRecompiledBytecode):]
	if len(trailing) == 0 {
		return result, nil
	}

	if len(constructorArgs) == 0 {
		result.Match = MatchNull
		return result, nil
	}
	if _, err := constructorArgs.Unpack(trailing); err != nil {
		result.Match = MatchNull
		return result, nil
	}

	result.Transformations = append(result.Transformations, Transformation{
		Type:   TransformInsert,
		Offset: len(result.PopulatedRecompiledBytecode),
		Reason: ReasonConstructorArguments,
	})
	result.Transformations = sortTransformations(result.Transformations)
	result.TransformationValues.ConstructorArguments = hexPrefix(trailing)
	return result, nil
}

// runPipeline implements §4.2 steps 1-6, shared between the runtime and
// creation pipelines. prefixMatch selects exact equality (runtime) versus
// "onchain starts with populated" (creation, where trailing bytes are
// constructor arguments).
func (m *Matcher) runPipeline(
	recompiled, onchain []byte,
	immutableRefs ImmutableReferences,
	linkRefs LinkReferences,
	auxdataPositions auxdata.Positions,
	prefixMatch bool,
) (*Result, error) {
	populated := append([]byte(nil), recompiled...)
	var transformations []Transformation
	values := TransformationValues{}
	libraryMap := map[string]string{}

	if t, ok := normalizeCallProtection(populated, onchain); ok {
		transformations = append(transformations, t)
		values.CallProtection = hexPrefix(onchain[1:21])
	}

	immTransforms, immValues, err := normalizeImmutables(populated, onchain, immutableRefs)
	if err != nil {
		return nil, err
	}
	transformations = append(transformations, immTransforms...)
	if len(immValues) > 0 {
		values.Immutables = immValues
	}

	libTransforms, libValues, err := normalizeLibraries(populated, onchain, linkRefs)
	if err != nil {
		return nil, err
	}
	transformations = append(transformations, libTransforms...)
	if len(libValues) > 0 {
		values.Libraries = libValues
		for k, v := range libValues {
			libraryMap[k] = v
		}
	}

	if compareEqual(populated, onchain, prefixMatch) {
		perfect, err := classifyAuxdataHashes(populated, auxdataPositions)
		if err != nil {
			return nil, err
		}
		match := MatchPartial
		if perfect {
			match = MatchPerfect
		}
		return &Result{
			Match:                       match,
			Transformations:             sortTransformations(transformations),
			TransformationValues:        values,
			LibraryMap:                  libraryMap,
			PopulatedRecompiledBytecode: populated,
		}, nil
	}

	auxTransforms, auxValues, err := substituteAuxdata(populated, onchain, auxdataPositions)
	if err != nil {
		return nil, err
	}
	transformations = append(transformations, auxTransforms...)
	if len(auxValues) > 0 {
		values.CborAuxdata = auxValues
	}

	match := MatchNull
	if compareEqual(populated, onchain, prefixMatch) {
		match = MatchPartial
	}

	return &Result{
		Match:                       match,
		Transformations:             sortTransformations(transformations),
		TransformationValues:        values,
		LibraryMap:                  libraryMap,
		PopulatedRecompiledBytecode: populated,
	}, nil
}

func compareEqual(populated, onchain []byte, prefixMatch bool) bool {
	if prefixMatch {
		return bytes.HasPrefix(onchain, populated)
	}
	return bytes.Equal(populated, onchain)
}
