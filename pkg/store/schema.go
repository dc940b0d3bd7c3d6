package store

import "fmt"

// Key prefixes, following the same "/meta|data|index/" convention the
// chain indexer's own key-value schema uses.
const (
	prefixCode               = "/data/code/"
	prefixContract           = "/data/contract/"
	prefixDeployment         = "/data/deployment/"
	prefixDeploymentByChainAddr = "/index/deployment/chainaddr/"
	prefixCompiledContract   = "/data/compiled/"
	prefixCompiledSource     = "/data/compiledsrc/"
	prefixVerifiedContract   = "/data/verified/"
	prefixVerifiedByChainAddr = "/index/verified/chainaddr/"
	prefixVerifiedSeq        = "/index/verified/seq/"
	prefixSourcifyMatch      = "/data/sourcifymatch/"
	prefixJob                = "/data/job/"
	prefixJobEphemeral       = "/data/jobephemeral/"
	prefixJobByChainAddr     = "/index/job/chainaddr/"

	keyVerifiedSeqCounter = "/meta/verifiedseq"
)

func codeKey(hashSHA256 string) []byte {
	return []byte(prefixCode + hashSHA256)
}

func contractKey(id string) []byte {
	return []byte(prefixContract + id)
}

func deploymentKey(id string) []byte {
	return []byte(prefixDeployment + id)
}

func deploymentByChainAddrKey(chainID uint64, address string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixDeploymentByChainAddr, chainID, address))
}

func compiledContractKey(id string) []byte {
	return []byte(prefixCompiledContract + id)
}

func compiledSourceKey(compilationID, path string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixCompiledSource, compilationID, path))
}

func verifiedContractKey(id string) []byte {
	return []byte(prefixVerifiedContract + id)
}

func verifiedByChainAddrKey(chainID uint64, address string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixVerifiedByChainAddr, chainID, address))
}

// verifiedSeqKey gives verified contracts a monotonic, lexicographically
// sortable key for the chainId-scoped paginated listing endpoint.
func verifiedSeqKey(chainID uint64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%d/%020d", prefixVerifiedSeq, chainID, seq))
}

func verifiedSeqPrefix(chainID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d/", prefixVerifiedSeq, chainID))
}

func sourcifyMatchKey(id string) []byte {
	return []byte(prefixSourcifyMatch + id)
}

func jobKey(id string) []byte {
	return []byte(prefixJob + id)
}

func jobEphemeralKey(id string) []byte {
	return []byte(prefixJobEphemeral + id)
}

func jobByChainAddrPrefix(chainID uint64, address string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s/", prefixJobByChainAddr, chainID, address))
}

func jobByChainAddrKey(chainID uint64, address, jobID string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s/%s", prefixJobByChainAddr, chainID, address, jobID))
}
