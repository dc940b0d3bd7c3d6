package matcher

import "errors"

// ErrBytecodeLengthMismatch is returned when the early length rule of the
// runtime pipeline fails: recompiled and on-chain runtime bytecode differ
// in length in a way no documented normalization can explain.
var ErrBytecodeLengthMismatch = errors.New("bytecode_length_mismatch")

// ErrInvalidRange signals a structurally invalid link/immutable/auxdata
// reference (negative offset, or a span past the end of the buffer). This
// is always a programmer error in the caller's compiler artifacts, never a
// legitimate "no match" outcome.
var ErrInvalidRange = errors.New("matcher: invalid byte range")
