package lantern

import "errors"

// Error kinds surfaced by the index. Callers test with errors.Is; every
// propagation point wraps with fmt.Errorf("...: %w", err) so the kind
// survives through the call chain.
var (
	// ErrCorruptIndex indicates a structural invariant was violated while
	// reading index files: bad magic, an over-long VInt, a term dictionary
	// out of order, or a checksum mismatch. The operation that observed it
	// must not be retried against the same bytes.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrLockObtainFailed indicates write.lock could not be acquired
	// within the configured timeout.
	ErrLockObtainFailed = errors.New("lock obtain failed")

	// ErrStaleReader indicates an operation on a reader whose underlying
	// segment files have been deleted by a later commit.
	ErrStaleReader = errors.New("stale reader")

	// ErrInvalidArgument indicates a document id out of range, an unknown
	// field, or malformed query input.
	ErrInvalidArgument = errors.New("invalid argument")
)
