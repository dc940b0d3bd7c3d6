package auxdata

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxUnprefixedScan bounds how far back from the end of the bytecode we
// probe for a length-prefix-less Vyper auxdata region (style 0.3.5-0.3.9).
// Real-world CBOR auxdata for that style tops out well under this.
const maxUnprefixedScan = 256

// Locate finds the CBOR auxdata region(s) of a single bytecode buffer
// (runtime or creation, recompiled form -- i.e. with no onchain-only
// trailing immutables) according to style. Solidity's own output already
// names its auxdata positions directly; callers should prefer
// FromCompilerOutput for that case and only fall back to Locate (or Diff)
// when the compiler did not report them.
func Locate(code []byte, style Style) (Positions, error) {
	switch style {
	case StyleNone, StyleVyperPre0_3_5:
		return Positions{}, nil

	case StyleVyper0_3_5To9:
		return locateUnprefixed(code)

	case StyleSolidityStandard, StyleVyperGE0_3_10, StyleVyperGE0_4_1:
		_, raw, ok := SplitTrailing(code)
		if !ok {
			return Positions{}, nil
		}
		offset := len(code) - 2 - len(raw)
		return Positions{
			"1": {Offset: offset, Value: hex.EncodeToString(raw)},
		}, nil

	default:
		return nil, fmt.Errorf("auxdata: unknown style %q", style)
	}
}

// locateUnprefixed finds a single trailing CBOR map with no length-prefix
// footer by scanning candidate start offsets from the end of the buffer
// and accepting the first one that decodes a well-formed map consuming
// every remaining byte.
func locateUnprefixed(code []byte) (Positions, error) {
	lo := len(code) - maxUnprefixedScan
	if lo < 0 {
		lo = 0
	}
	for start := len(code) - 1; start >= lo; start-- {
		candidate := code[start:]
		if candidate[0]>>5 != 5 { // must open as a CBOR map
			continue
		}
		var probe map[string]cbor.RawMessage
		dec := cbor.NewDecoder(bytes.NewReader(candidate))
		if err := dec.Decode(&probe); err != nil {
			continue
		}
		if dec.NumBytesRead() != len(candidate) {
			continue
		}
		return Positions{
			"1": {Offset: start, Value: hex.EncodeToString(candidate)},
		}, nil
	}
	return Positions{}, nil
}

// FromCompilerOutput wraps auxdata positions reported directly by a
// standard-JSON compiler output (`evm.bytecode.cborAuxdata` /
// `evm.deployedBytecode.cborAuxdata`) into Positions, validating the
// invariant that `value` reproduces the bytecode bytes at its offset.
func FromCompilerOutput(code []byte, raw map[string]struct {
	Offset int    `json:"offset"`
	Value  string `json:"value"`
}) (Positions, error) {
	out := make(Positions, len(raw))
	for id, p := range raw {
		valueBytes, err := hex.DecodeString(trimHexPrefix(p.Value))
		if err != nil {
			return nil, fmt.Errorf("auxdata: id %s: decode value: %w", id, err)
		}
		end := p.Offset + len(valueBytes)
		if p.Offset < 0 || end > len(code) {
			return nil, fmt.Errorf("auxdata: id %s: offset %d+%d out of bounds (len %d)", id, p.Offset, len(valueBytes), len(code))
		}
		if !bytes.Equal(code[p.Offset:end], valueBytes) {
			return nil, fmt.Errorf("auxdata: id %s: value does not match bytecode at offset %d", id, p.Offset)
		}
		out[id] = Position{Offset: p.Offset, Value: p.Value}
	}
	return out, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
