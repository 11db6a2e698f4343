package wbh

import (
	"errors"
	"fmt"
)

// Error kinds. Components tag failures with one of these so the queue
// driver can decide between retry on the next pass and terminal failure.
var (
	// ErrTransport is a network or remote API failure.
	ErrTransport = errors.New("transport error")
	// ErrAuthentication is an AEAD tag failure: wrong secret or corrupted ciphertext.
	ErrAuthentication = errors.New("authentication failed")
	// ErrChecksumMismatch means reconstructed bytes do not match the cataloged checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrCatalog is a local persistence failure.
	ErrCatalog = errors.New("catalog error")
	// ErrSerialization is a malformed queue document or recovery code.
	ErrSerialization = errors.New("serialization error")
	// ErrCrypto is misuse of the AEAD primitives, such as a key of the wrong length.
	ErrCrypto = errors.New("crypto error")
)

// ChecksumMismatchError reports which object failed verification.
type ChecksumMismatchError struct {
	Name string
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Name, e.Want, e.Got)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

// IsRetryable reports whether a failure may succeed on a later pass
// without operator intervention.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrSerialization),
		errors.Is(err, ErrCrypto):
		return false
	default:
		return true
	}
}
