// Package auxdata locates and decodes the CBOR-encoded metadata block that
// Solidity and Vyper compilers append to EVM bytecode.
package auxdata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Style identifies how a compiler lays out its trailing CBOR auxdata,
// which governs how many regions to expect and how to locate them.
type Style string

const (
	StyleSolidityStandard Style = "solidity-standard"
	StyleVyperPre0_3_5    Style = "vyper-pre-0.3.5"
	StyleVyper0_3_5To9    Style = "vyper-0.3.5-0.3.9"
	StyleVyperGE0_3_10    Style = "vyper-ge-0.3.10"
	StyleVyperGE0_4_1     Style = "vyper-ge-0.4.1"
	StyleNone             Style = "none"
)

// Position describes one located auxdata region: a byte offset into the
// bytecode and the exact hex bytes observed there.
type Position struct {
	Offset int    `json:"offset"`
	Value  string `json:"value"`
}

// Positions maps an auxdata id ("1", "2", ...) to its located region.
// Invariant: regions are non-overlapping and, when iterated in id order,
// offsets are ascending.
type Positions map[string]Position

// Metadata is the decoded shape of one CBOR auxdata map. Solidity emits at
// most one content hash (ipfs or the older bzzr0/bzzr1 swarm hashes) plus
// the compiler version; Vyper's layout is looser, and keys not listed here
// are ignored on decode.
type Metadata struct {
	IPFS         []byte `cbor:"ipfs,omitempty"`
	Bzzr0        []byte `cbor:"bzzr0,omitempty"`
	Bzzr1        []byte `cbor:"bzzr1,omitempty"`
	Solc         []byte `cbor:"solc,omitempty"`
	Experimental bool   `cbor:"experimental,omitempty"`
}

// HasHash reports whether the decoded metadata carries a non-empty content
// hash of any recognized kind. A perfect match requires this to be true for
// every located auxdata region.
func (m Metadata) HasHash() bool {
	return len(m.IPFS) > 0 || len(m.Bzzr0) > 0 || len(m.Bzzr1) > 0
}

// Decode parses the CBOR bytes of a single auxdata value (without its
// 2-byte length-prefix footer) into a Metadata map.
func Decode(raw []byte) (Metadata, error) {
	var m Metadata
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("auxdata: decode cbor: %w", err)
	}
	return m, nil
}

// SplitTrailing splits a bytecode blob that ends with `<cbor bytes><2-byte
// big-endian length of the cbor bytes>` into the code before the auxdata
// and the raw CBOR bytes themselves. This is the layout Solidity and
// Vyper >= 0.3.10 both use for their final (or only) auxdata region.
func SplitTrailing(code []byte) (body []byte, raw []byte, ok bool) {
	if len(code) < 2 {
		return nil, nil, false
	}
	cborLen := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	if cborLen <= 0 || cborLen+2 > len(code) {
		return nil, nil, false
	}
	start := len(code) - 2 - cborLen
	raw = code[start : len(code)-2]

	if !isWellFormedCBORMap(raw) {
		return nil, nil, false
	}
	return code[:start], raw, true
}

// isWellFormedCBORMap reports whether raw decodes, in its entirety, as a
// single CBOR map value -- the shape every supported auxdata style uses.
func isWellFormedCBORMap(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	major := raw[0] >> 5
	if major != 5 { // major type 5 == map
		return false
	}
	var probe map[string]cbor.RawMessage
	dec := cbor.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&probe); err != nil {
		return false
	}
	return dec.NumBytesRead() == len(raw)
}
