package compiler

import "encoding/json"

// BuildYulStandardJSON assembles the standard-JSON input solc expects for a
// single Yul object. Yul has no import graph and no metadata hash, so the
// document is far smaller than a Solidity one: one source, one requested
// output selection.
func BuildYulStandardJSON(source string, evmVersion string, target Target) (json.RawMessage, error) {
	doc := map[string]interface{}{
		"language": "Yul",
		"sources": map[string]interface{}{
			target.Path: map[string]interface{}{"content": source},
		},
		"settings": map[string]interface{}{
			"outputSelection": map[string]interface{}{
				"*": map[string]interface{}{
					"*": []string{"abi", "evm.bytecode", "evm.deployedBytecode"},
				},
			},
		},
	}
	if evmVersion != "" {
		doc["settings"].(map[string]interface{})["evmVersion"] = evmVersion
	}
	return json.Marshal(doc)
}
