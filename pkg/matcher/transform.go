package matcher

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/sourcify-go/verify/pkg/auxdata"
)

// callProtectionPrologue is the shape of the prologue Solidity prepends to
// library runtime bytecode: PUSH20 <self-address> ADDRESS EQ.
const (
	callProtectionLen     = 23 // 1 (PUSH20 opcode) + 20 (address) + 2 (ADDRESS, EQ)
	callProtectionPush20  = 0x73
	callProtectionADDRESS = 0x30
	callProtectionEQ      = 0x14
)

func checkRange(buf []byte, start, length int) error {
	if start < 0 || length < 0 || start+length > len(buf) {
		return fmt.Errorf("%w: start=%d length=%d bufLen=%d", ErrInvalidRange, start, length, len(buf))
	}
	return nil
}

func hexPrefix(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// normalizeCallProtection rewrites the library call-protection prologue in
// populated (if present) to the self-address observed on chain.
func normalizeCallProtection(populated, onchain []byte) (Transformation, bool) {
	if len(populated) < callProtectionLen || len(onchain) < callProtectionLen {
		return Transformation{}, false
	}
	if populated[0] != callProtectionPush20 ||
		populated[21] != callProtectionADDRESS ||
		populated[22] != callProtectionEQ {
		return Transformation{}, false
	}
	copy(populated[1:21], onchain[1:21])
	return Transformation{Type: TransformReplace, Offset: 1, Reason: ReasonCallProtection}, true
}

// normalizeImmutables fills every immutable slot in populated with the
// value observed at its first occurrence on chain.
func normalizeImmutables(populated, onchain []byte, refs ImmutableReferences) ([]Transformation, map[string]string, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make(map[string]string, len(ids))
	var transforms []Transformation
	for _, id := range ids {
		ranges := refs[id]
		if len(ranges) == 0 {
			continue
		}
		first := ranges[0]
		if err := checkRange(onchain, first.Start, first.Length); err != nil {
			return nil, nil, fmt.Errorf("matcher: immutable %s: %w", id, err)
		}
		value := append([]byte(nil), onchain[first.Start:first.Start+first.Length]...)
		values[id] = hexPrefix(value)

		for _, r := range ranges {
			if err := checkRange(populated, r.Start, r.Length); err != nil {
				return nil, nil, fmt.Errorf("matcher: immutable %s: %w", id, err)
			}
			copy(populated[r.Start:r.Start+r.Length], value)
			transforms = append(transforms, Transformation{Type: TransformReplace, Offset: r.Start, Reason: ReasonImmutable, ID: id})
		}
	}
	sort.SliceStable(transforms, func(i, j int) bool { return transforms[i].Offset < transforms[j].Offset })
	return transforms, values, nil
}

// normalizeLibraries fills every library placeholder in populated with the
// 20-byte address observed at its first occurrence on chain.
func normalizeLibraries(populated, onchain []byte, refs LinkReferences) ([]Transformation, map[string]string, error) {
	if len(refs) == 0 {
		return nil, nil, nil
	}

	type libKey struct{ path, name string }
	var keys []libKey
	for path, libs := range refs {
		for name := range libs {
			keys = append(keys, libKey{path, name})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		return keys[i].name < keys[j].name
	})

	values := make(map[string]string, len(keys))
	var transforms []Transformation
	for _, k := range keys {
		id := k.path + ":" + k.name
		ranges := refs[k.path][k.name]
		if len(ranges) == 0 {
			continue
		}
		first := ranges[0]
		if err := checkRange(onchain, first.Start, first.Length); err != nil {
			return nil, nil, fmt.Errorf("matcher: library %s: %w", id, err)
		}
		addr := append([]byte(nil), onchain[first.Start:first.Start+first.Length]...)
		values[id] = hexPrefix(addr)

		for _, r := range ranges {
			if err := checkRange(populated, r.Start, r.Length); err != nil {
				return nil, nil, fmt.Errorf("matcher: library %s: %w", id, err)
			}
			copy(populated[r.Start:r.Start+r.Length], addr)
			transforms = append(transforms, Transformation{Type: TransformReplace, Offset: r.Start, Reason: ReasonLibrary, ID: id})
		}
	}
	sort.SliceStable(transforms, func(i, j int) bool { return transforms[i].Offset < transforms[j].Offset })
	return transforms, values, nil
}

// substituteAuxdata copies every known CBOR auxdata region from onchain
// into populated. Called only once direct equality has already failed.
func substituteAuxdata(populated, onchain []byte, positions auxdata.Positions) ([]Transformation, map[string]string, error) {
	if len(positions) == 0 {
		return nil, nil, nil
	}

	ids := sortedPositionIDs(positions)
	values := make(map[string]string, len(ids))
	var transforms []Transformation
	for _, id := range ids {
		pos := positions[id]
		length := len(pos.Value) / 2
		if err := checkRange(populated, pos.Offset, length); err != nil {
			return nil, nil, fmt.Errorf("matcher: auxdata %s: %w", id, err)
		}
		if err := checkRange(onchain, pos.Offset, length); err != nil {
			return nil, nil, fmt.Errorf("matcher: auxdata %s: %w", id, err)
		}
		replacement := onchain[pos.Offset : pos.Offset+length]
		copy(populated[pos.Offset:pos.Offset+length], replacement)
		values[id] = hexPrefix(replacement)
		transforms = append(transforms, Transformation{Type: TransformReplace, Offset: pos.Offset, Reason: ReasonCborAuxdata, ID: id})
	}
	sort.SliceStable(transforms, func(i, j int) bool { return transforms[i].Offset < transforms[j].Offset })
	return transforms, values, nil
}

// classifyAuxdataHashes reports whether every known auxdata region of
// populated decodes to a CBOR map carrying a non-empty content hash. Only
// meaningful when called before any substitution has taken place (i.e.
// populated already equals onchain byte for byte).
func classifyAuxdataHashes(populated []byte, positions auxdata.Positions) (bool, error) {
	if len(positions) == 0 {
		return true, nil
	}
	for _, id := range sortedPositionIDs(positions) {
		pos := positions[id]
		length := len(pos.Value) / 2
		if err := checkRange(populated, pos.Offset, length); err != nil {
			return false, fmt.Errorf("matcher: auxdata %s: %w", id, err)
		}
		raw := populated[pos.Offset : pos.Offset+length]
		meta, err := auxdata.Decode(raw)
		if err != nil || !meta.HasHash() {
			return false, nil
		}
	}
	return true, nil
}

func sortedPositionIDs(positions auxdata.Positions) []string {
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortTransformations(ts []Transformation) []Transformation {
	sort.SliceStable(ts, func(i, j int) bool {
		ri, rj := reasonRank[ts[i].Reason], reasonRank[ts[j].Reason]
		if ri != rj {
			return ri < rj
		}
		return ts[i].Offset < ts[j].Offset
	})
	return ts
}
