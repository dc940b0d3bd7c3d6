package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sourcify-go/verify/pkg/matcher"
	"github.com/sourcify-go/verify/pkg/store"
	"github.com/sourcify-go/verify/pkg/verifier"
)

// codeRecord content-addresses a bytecode blob by both hash families the
// persistence layout names, so either can be used as a lookup key.
func codeRecord(code []byte) store.CodeRecord {
	sum := sha256.Sum256(code)
	keccak := crypto.Keccak256Hash(code)
	return store.CodeRecord{
		HashSHA256:    hex.EncodeToString(sum[:]),
		HashKeccak256: keccak.Hex(),
		Code:          code,
	}
}

func matchOutcome(r *matcher.Result) store.MatchOutcome {
	if r == nil {
		return store.MatchOutcome{Match: matcher.MatchNull}
	}
	return store.MatchOutcome{
		Match:           r.Match,
		Values:          r.TransformationValues,
		Transformations: r.Transformations,
	}
}

// buildSnapshot assembles the atomic write a successful verification
// produces: content-addressed code, the contract/deployment/compilation
// rows, the verified-contract record, its externally-facing summary, and
// the completed job.
func buildSnapshot(jobID, verifiedID string, req SubmitRequest, export *verifier.Export, startedAt time.Time, compileMS int64) store.VerificationSnapshot {
	address := req.Address.Hex()

	runtimeCode := export.RuntimeMatch.PopulatedRecompiledBytecode
	runtimeRec := codeRecord(runtimeCode)

	var codes = []store.CodeRecord{runtimeRec}
	creationCodeHash := ""
	creationArtifacts := ""
	if export.CreationMatch != nil && len(export.CreationMatch.PopulatedRecompiledBytecode) > 0 {
		creationRec := codeRecord(export.CreationMatch.PopulatedRecompiledBytecode)
		codes = append(codes, creationRec)
		creationCodeHash = creationRec.HashSHA256
		creationArtifacts = artifactsJSON(export.CreationMatch)
	}

	contractID := runtimeRec.HashSHA256
	if creationCodeHash != "" {
		contractID = creationCodeHash + ":" + runtimeRec.HashSHA256
	}

	deploymentID := fmt.Sprintf("%d:%s", req.ChainID, address)
	compilationID := fmt.Sprintf("%x", crypto.Keccak256([]byte(
		fmt.Sprintf("%s|%s|%s", export.Compiled.Language, export.Compiled.CompilerVersion, req.ContractIdentifier.FullyQualifiedName()),
	)))

	deployer := ""
	if export.Deployment.Deployer != nil {
		deployer = export.Deployment.Deployer.Hex()
	}

	verified := store.VerifiedContract{
		ID:            verifiedID,
		CompilationID: compilationID,
		DeploymentID:  deploymentID,
		Runtime:       matchOutcome(export.RuntimeMatch),
		Creation:      matchOutcome(export.CreationMatch),
	}

	sourcifyMatch := store.SourcifyMatch{
		ID:                 verifiedID,
		VerifiedContractID: verifiedID,
		RuntimeMatch:        externalMatchLevel(export.RuntimeMatch),
		CreationMatch:       externalMatchLevel(export.CreationMatch),
		Metadata:            export.Compiled.Metadata,
	}

	now := time.Now()
	job := store.VerificationJob{
		ID:                   jobID,
		StartedAt:            startedAt,
		CompletedAt:          &now,
		ChainID:              req.ChainID,
		ContractAddress:      address,
		VerifiedContractID:   verifiedID,
		VerificationEndpoint: req.Endpoint,
		Hardware:             req.Hardware,
		CompilationTimeMS:    &compileMS,
	}

	return store.VerificationSnapshot{
		Code:    codes,
		Contract: store.Contract{
			ID:               contractID,
			CreationCodeHash: creationCodeHash,
			RuntimeCodeHash:  runtimeRec.HashSHA256,
		},
		Deployment: store.ContractDeployment{
			ID:          deploymentID,
			ChainID:     req.ChainID,
			Address:     address,
			ContractID:  contractID,
			BlockNumber: export.Deployment.BlockNumber,
			TxIndex:     export.Deployment.TxIndex,
			Deployer:    deployer,
		},
		Compilation: store.CompiledContract{
			ID:                    compilationID,
			Compiler:              string(export.Compiled.Language),
			Version:               export.Compiled.CompilerVersion,
			Language:              string(export.Compiled.Language),
			Name:                  req.ContractIdentifier.Name,
			FullyQualifiedName:    req.ContractIdentifier.FullyQualifiedName(),
			CompilationArtifacts:  artifactsJSON(export.RuntimeMatch),
			CreationCodeHash:      creationCodeHash,
			CreationCodeArtifacts: creationArtifacts,
			RuntimeCodeHash:       runtimeRec.HashSHA256,
			RuntimeCodeArtifacts:  artifactsJSON(export.RuntimeMatch),
		},
		Verified:      verified,
		SourcifyMatch: sourcifyMatch,
		Job:           job,
	}
}

// externalMatchLevel translates the internal perfect/partial/null
// vocabulary into the exact_match/match/null vocabulary the HTTP surface
// and sourcify_matches table expose.
func externalMatchLevel(r *matcher.Result) string {
	if r == nil {
		return "null"
	}
	switch r.Match {
	case matcher.MatchPerfect:
		return "exact_match"
	case matcher.MatchPartial:
		return "match"
	default:
		return "null"
	}
}

func artifactsJSON(r *matcher.Result) string {
	if r == nil {
		return ""
	}
	raw, err := json.Marshal(r.TransformationValues)
	if err != nil {
		return ""
	}
	return string(raw)
}

func jobErrorRecord(errorID string, verr *verifier.VerificationError) *store.JobErrorRecord {
	return &store.JobErrorRecord{
		CustomCode:             string(verr.Code),
		ErrorID:                errorID,
		Message:                verr.Message,
		RecompiledCreationCode: verr.RecompiledCreationCode,
		RecompiledRuntimeCode:  verr.RecompiledRuntimeCode,
		OnchainCreationCode:    verr.OnchainCreationCode,
		OnchainRuntimeCode:     verr.OnchainRuntimeCode,
	}
}
