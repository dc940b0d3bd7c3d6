package verifier

import "fmt"

// ErrorCode enumerates the terminal failure reasons the orchestrator's
// state machine can land on.
type ErrorCode string

const (
	ErrContractNotDeployed    ErrorCode = "contract_not_deployed"
	ErrCantFetchBytecode      ErrorCode = "cant_fetch_bytecode"
	ErrCompiledBytecodeIsZero ErrorCode = "compiled_bytecode_is_zero"
	ErrBytecodeLengthMismatch ErrorCode = "bytecode_length_mismatch"
	ErrExtraFileInputBug      ErrorCode = "extra_file_input_bug"
	ErrNoMatch                ErrorCode = "no_match"

	// Compilation-stage codes, carried through verbatim from the matching
	// pkg/compiler sentinel rather than collapsed into one generic code.
	ErrCompilerError                    ErrorCode = "compiler_error"
	ErrNoCompilerOutput                 ErrorCode = "no_compiler_output"
	ErrContractNotFoundInCompilerOutput ErrorCode = "contract_not_found_in_compiler_output"
	ErrMetadataNotSet                   ErrorCode = "metadata_not_set"
	ErrInvalidCompilerVersion           ErrorCode = "invalid_compiler_version"
	ErrCompilerOutputTooLarge           ErrorCode = "compiler_output_too_large"
	ErrUnsupportedLanguage              ErrorCode = "unsupported_language"
)

// VerificationError is a terminal FAIL state, carrying enough diagnostic
// bytecode to populate a job-status error record without the caller
// needing to re-derive it.
type VerificationError struct {
	Code    ErrorCode
	Message string

	RecompiledCreationCode string
	RecompiledRuntimeCode  string
	OnchainCreationCode    string
	OnchainRuntimeCode     string
}

func (e *VerificationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func fail(code ErrorCode, format string, args ...interface{}) *VerificationError {
	return &VerificationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
