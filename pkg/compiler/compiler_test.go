package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetFullyQualifiedName(t *testing.T) {
	target := Target{Path: "contracts/Token.sol", Name: "Token"}
	assert.Equal(t, "contracts/Token.sol:Token", target.FullyQualifiedName())
}

func TestParseStandardJSONOutput_Success(t *testing.T) {
	raw := []byte(`{
		"contracts": {
			"Token.sol": {
				"Token": {
					"abi": [],
					"metadata": "{\"version\":1}",
					"evm": {
						"bytecode": {"object": "6001"},
						"deployedBytecode": {
							"object": "6002",
							"linkReferences": {
								"Lib.sol": {"Math": [{"start": 1, "length": 20}]}
							},
							"immutableReferences": {
								"3": [{"start": 5, "length": 32}]
							},
							"cborAuxdata": {
								"1": {"offset": 10, "value": "a264..."}
							}
						}
					}
				}
			}
		}
	}`)

	out, err := parseStandardJSONOutput(raw, Target{Path: "Token.sol", Name: "Token"})
	require.NoError(t, err)
	assert.Equal(t, "6001", out.CreationBytecode)
	assert.Equal(t, "6002", out.RuntimeBytecode)
	assert.Equal(t, "{\"version\":1}", out.Metadata)
	assert.Equal(t, 20, out.RuntimeLinkReferences["Lib.sol"]["Math"][0].Length)
	assert.Equal(t, 32, out.ImmutableReferences["3"][0].Length)
	assert.Equal(t, 10, out.RuntimeCborAuxdata["1"].Offset)
}

func TestParseStandardJSONOutput_CompilerError(t *testing.T) {
	raw := []byte(`{"errors": [{"severity": "error", "message": "boom"}], "contracts": {}}`)
	_, err := parseStandardJSONOutput(raw, Target{Path: "A.sol", Name: "A"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompilerError)
}

func TestParseStandardJSONOutput_ContractNotFound(t *testing.T) {
	raw := []byte(`{"contracts": {"A.sol": {"A": {"evm": {"bytecode": {"object": ""}, "deployedBytecode": {"object": ""}}}}}}`)
	_, err := parseStandardJSONOutput(raw, Target{Path: "A.sol", Name: "B"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractNotFoundInCompilerOutput)
}

func TestBinaryCache_PathNaming(t *testing.T) {
	c := newBinaryCache(t.TempDir())
	path := c.path("solc", "0.8.19")
	assert.Contains(t, path, "solc-0.8.19")
}
