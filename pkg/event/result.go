package event

// Kind classifies an error by how the caller should react, so a caller
// can decide "surface to user", "retry", or "treat as fatal" without
// string-matching error messages.
type Kind uint8

const (
	// KindOK marks a successful Result; Err is always nil.
	KindOK Kind = iota
	// KindInvalidArgument: malformed input, surfaced to the caller.
	KindInvalidArgument
	// KindInvalidState: operation invalid in the current state,
	// surfaced to the caller.
	KindInvalidState
	// KindAddressClaimFailed: terminal for the affected control
	// function.
	KindAddressClaimFailed
	// KindTransportAborted: TP/ETP session aborted, surfaced to the
	// sender with a reason.
	KindTransportAborted
	// KindPoolValidation: VT object pool invariant violation.
	KindPoolValidation
	// KindFSError: one of the 21 ISO 11783-13 file-server codes.
	KindFSError
	// KindBusError: the CAN driver reported a failure; logged, frame
	// dropped.
	KindBusError
	// KindFatal: process-level condition (OutOfMemory, NotInitialized,
	// MediaNotPresent); reported, never auto-retried.
	KindFatal
	// KindRetryable: condition where retry is the caller's
	// responsibility (TooManyOpen, MaxHandles, WriteFail).
	KindRetryable
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindAddressClaimFailed:
		return "address_claim_failed"
	case KindTransportAborted:
		return "transport_aborted"
	case KindPoolValidation:
		return "pool_validation"
	case KindFSError:
		return "fs_error"
	case KindBusError:
		return "bus_error"
	case KindFatal:
		return "fatal"
	case KindRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// Result is a tagged success/error wrapper. It is built over the
// standard error interface (Err), not a replacement for it: callers
// that only want the error can read .Err directly.
type Result[T any] struct {
	Value T
	Err   error
	Kind  Kind
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, Kind: KindOK}
}

// Fail wraps an error with its Kind classification.
func Fail[T any](kind Kind, err error) Result[T] {
	return Result[T]{Err: err, Kind: kind}
}

// IsOK reports whether the operation succeeded.
func (r Result[T]) IsOK() bool {
	return r.Err == nil
}
