package auxdata

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// diffRange is a half-open byte range [Start, End) over which two equal
// length bytecode buffers disagree.
type diffRange struct {
	Start, End int
}

// Diff locates auxdata positions for compilers that do not report them
// directly (Solidity < 0.8.x, or any version for which the compiler
// output omitted `cborAuxdata`). Callers compile the same input twice --
// once unmodified, once with a fixed marker comment appended to every
// source file -- and hand both resulting
// bytecodes here. Because only the embedded metadata hash depends on
// source content, every byte that differs between the two bytecodes lies
// inside a CBOR auxdata region; contiguous differing spans are expanded
// to the smallest enclosing well-formed CBOR value and recorded as one
// auxdata id each, numbered in offset order.
func Diff(normal, mutated []byte) (Positions, error) {
	if len(normal) != len(mutated) {
		return nil, fmt.Errorf("auxdata: diff requires equal-length bytecode, got %d and %d", len(normal), len(mutated))
	}

	ranges := diffRanges(normal, mutated)
	positions := make(Positions, len(ranges))
	id := 1
	for _, r := range ranges {
		pos, ok := expandToCBORValue(normal, r.Start, r.End)
		if !ok {
			// A differing region whose CBOR head cannot be validated is
			// not an auxdata region -- ignore it per the documented
			// tie-break rule.
			continue
		}
		positions[strconv.Itoa(id)] = pos
		id++
	}
	return positions, nil
}

// diffRanges groups byte-level differences between two equal-length
// buffers into contiguous half-open ranges.
func diffRanges(a, b []byte) []diffRange {
	var ranges []diffRange
	inRange := false
	start := 0
	for i := range a {
		differs := a[i] != b[i]
		switch {
		case differs && !inRange:
			inRange = true
			start = i
		case !differs && inRange:
			inRange = false
			ranges = append(ranges, diffRange{Start: start, End: i})
		}
	}
	if inRange {
		ranges = append(ranges, diffRange{Start: start, End: len(a)})
	}
	return ranges
}

// maxCBORHeaderBacktrack bounds how far before a differing region we look
// for the opening byte of its enclosing CBOR map.
const maxCBORHeaderBacktrack = 64

// expandToCBORValue searches backward from rStart for a byte that opens a
// well-formed CBOR map value whose decoded length reaches at least rEnd,
// i.e. one that fully encloses the differing span [rStart, rEnd).
func expandToCBORValue(code []byte, rStart, rEnd int) (Position, bool) {
	lo := rStart - maxCBORHeaderBacktrack
	if lo < 0 {
		lo = 0
	}
	for start := rStart; start >= lo; start-- {
		if code[start]>>5 != 5 { // major type 5 == map
			continue
		}
		dec := cbor.NewDecoder(bytes.NewReader(code[start:]))
		var probe interface{}
		if err := dec.Decode(&probe); err != nil {
			continue
		}
		n := dec.NumBytesRead()
		end := start + n
		if end < rEnd || end > len(code) {
			continue
		}
		return Position{Offset: start, Value: hex.EncodeToString(code[start:end])}, true
	}
	return Position{}, false
}
