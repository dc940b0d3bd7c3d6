package matcher

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcify-go/verify/pkg/auxdata"
)

func auxdataTail(t *testing.T, hash []byte) []byte {
	t.Helper()
	raw, err := cbor.Marshal(map[string]interface{}{"ipfs": hash})
	require.NoError(t, err)
	footer := []byte{byte(len(raw) >> 8), byte(len(raw))}
	return append(raw, footer...)
}

func buildRuntimeWithAuxdata(t *testing.T, body []byte, hash []byte) ([]byte, auxdata.Positions) {
	t.Helper()
	tail := auxdataTail(t, hash)
	code := append(append([]byte{}, body...), tail...)
	positions, err := auxdata.Locate(code, auxdata.StyleSolidityStandard)
	require.NoError(t, err)
	return code, positions
}

func TestMatchRuntime_Perfect(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	code, positions := buildRuntimeWithAuxdata(t, body, []byte{0xaa, 0xbb, 0xcc})

	m := New()
	result, err := m.MatchRuntime(code, code, nil, nil, positions, false)
	require.NoError(t, err)
	assert.Equal(t, MatchPerfect, result.Match)
	assert.Empty(t, result.Transformations)
}

func TestMatchRuntime_PartialViaAuxdataSubstitution(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01, 0x02, 0x03})
	onchain, _ := buildRuntimeWithAuxdata(t, body, []byte{0xff, 0xee, 0xdd})
	require.Equal(t, len(recompiled), len(onchain))

	m := New()
	result, err := m.MatchRuntime(recompiled, onchain, nil, nil, positions, false)
	require.NoError(t, err)
	assert.Equal(t, MatchPartial, result.Match)
	require.Len(t, result.Transformations, 1)
	assert.Equal(t, ReasonCborAuxdata, result.Transformations[0].Reason)
	assert.Equal(t, result.PopulatedRecompiledBytecode, onchain)
}

func TestMatchRuntime_Null(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01, 0x02, 0x03})
	onchain := append([]byte(nil), recompiled...)
	onchain[0] = 0x61 // diverge outside the auxdata region entirely

	m := New()
	result, err := m.MatchRuntime(recompiled, onchain, nil, nil, positions, false)
	require.NoError(t, err)
	assert.Equal(t, MatchNull, result.Match)
}

func TestMatchRuntime_LengthMismatch(t *testing.T) {
	m := New()
	_, err := m.MatchRuntime([]byte{0x60, 0x80}, []byte{0x60, 0x80, 0x60}, nil, nil, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBytecodeLengthMismatch)
}

func TestMatchRuntime_Immutables(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00, 0x00, 0x00, 0x00}
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01})
	onchain := append([]byte(nil), recompiled...)
	// immutable slot at offset 5, length 4: onchain carries 0x0000002a
	copy(onchain[5:9], []byte{0x00, 0x00, 0x00, 0x2a})

	refs := ImmutableReferences{"42": []Range{{Start: 5, Length: 4}}}

	m := New()
	result, err := m.MatchRuntime(recompiled, onchain, refs, nil, positions, false)
	require.NoError(t, err)
	require.Len(t, result.Transformations, 1)
	assert.Equal(t, ReasonImmutable, result.Transformations[0].Reason)
	assert.Equal(t, "42", result.Transformations[0].ID)
	assert.Equal(t, 5, result.Transformations[0].Offset)
	assert.Equal(t, "0x0000002a", result.TransformationValues.Immutables["42"])
	assert.Equal(t, MatchPerfect, result.Match)
}

func TestMatchRuntime_LibraryLinking(t *testing.T) {
	body := make([]byte, 30)
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01})
	onchain := append([]byte(nil), recompiled...)
	addr := []byte{
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
	}
	copy(onchain[0:20], addr)

	refs := LinkReferences{
		"X.sol": {
			"Math": []Range{{Start: 0, Length: 20}},
		},
	}

	m := New()
	result, err := m.MatchRuntime(recompiled, onchain, nil, refs, positions, false)
	require.NoError(t, err)
	require.Len(t, result.Transformations, 1)
	assert.Equal(t, ReasonLibrary, result.Transformations[0].Reason)
	assert.Equal(t, "X.sol:Math", result.Transformations[0].ID)
	assert.Equal(t, "0x"+hex.EncodeToString(addr), result.LibraryMap["X.sol:Math"])
}

func TestMatchRuntime_CallProtection(t *testing.T) {
	body := make([]byte, 23)
	body[0] = callProtectionPush20
	body[21] = callProtectionADDRESS
	body[22] = callProtectionEQ
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01})
	onchain := append([]byte(nil), recompiled...)
	selfAddr := []byte{
		0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22,
		0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22, 0x22,
	}
	copy(onchain[1:21], selfAddr)

	m := New()
	result, err := m.MatchRuntime(recompiled, onchain, nil, nil, positions, false)
	require.NoError(t, err)
	require.NotEmpty(t, result.Transformations)
	assert.Equal(t, ReasonCallProtection, result.Transformations[0].Reason)
	assert.Equal(t, "0x"+hex.EncodeToString(selfAddr), result.TransformationValues.CallProtection)
}

func TestMatchCreation_ConstructorArguments(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01})

	uint256Type, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	args := abi.Arguments{{Type: uint256Type}}
	encoded, err := args.Pack(big.NewInt(123))
	require.NoError(t, err)

	onchain := append(append([]byte{}, recompiled...), encoded...)

	m := New()
	result, err := m.MatchCreation(recompiled, onchain, nil, positions, args)
	require.NoError(t, err)
	assert.Equal(t, MatchPerfect, result.Match)
	last := result.Transformations[len(result.Transformations)-1]
	assert.Equal(t, ReasonConstructorArguments, last.Reason)
	assert.Equal(t, len(recompiled), last.Offset)
	assert.True(t, strings.HasPrefix(result.TransformationValues.ConstructorArguments, "0x"))
}

func TestMatchCreation_BadConstructorArgumentsInvalidatesMatch(t *testing.T) {
	body := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	recompiled, positions := buildRuntimeWithAuxdata(t, body, []byte{0x01})

	uint256Type, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	args := abi.Arguments{{Type: uint256Type}}

	onchain := append(append([]byte{}, recompiled...), []byte{0x01, 0x02}...) // not 32 bytes

	m := New()
	result, err := m.MatchCreation(recompiled, onchain, nil, positions, args)
	require.NoError(t, err)
	assert.Equal(t, MatchNull, result.Match)
}
