package types

import "errors"

// Error taxonomy shared by the builder, the client and the backends. Callers
// match them with errors.Is; wrapped errors keep the sentinel in their chain.
var (
	// ErrNotInitialized is returned by any gated operation invoked before the
	// client session completed its initialization.
	ErrNotInitialized = errors.New("client not initialized")
	// ErrInvalidAddress is returned for malformed contract, user or value
	// addresses.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrValueOutOfRange is returned when a value does not fit its kind.
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrAlreadyFinalized is returned when a consumed builder is reused.
	ErrAlreadyFinalized = errors.New("encrypted input already finalized")
	// ErrUnauthorized is returned when the requesting identity lacks the
	// grant or signature needed to decrypt.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBackendFailure tags opaque failures of the cryptographic backend.
	ErrBackendFailure = errors.New("backend failure")

	ErrInvalidHandle   = errors.New("invalid handle")
	ErrUnknownHandle   = errors.New("unknown handle")
	ErrUnsupportedType = errors.New("unsupported encrypted type")
)

// IsTaxonomyError reports whether err carries one of the sentinels above.
func IsTaxonomyError(err error) bool {
	for _, target := range []error{
		ErrNotInitialized, ErrInvalidAddress, ErrValueOutOfRange,
		ErrAlreadyFinalized, ErrUnauthorized, ErrBackendFailure,
		ErrInvalidHandle, ErrUnknownHandle, ErrUnsupportedType,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
