package store

import (
	"errors"
	"fmt"

	"github.com/jrife/kvault/codec"
	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/utils/filelock"
)

var (
	// ErrConfig is returned for invalid or incomplete configuration
	ErrConfig = errors.New("invalid configuration")
	// ErrState is returned when an instance was never initialized
	// or was closed
	ErrState = errors.New("instance is not available")
	// ErrAlreadyEncrypted is returned by Encrypt on an encrypted instance
	ErrAlreadyEncrypted = errors.New("instance is already encrypted")
	// ErrNotEncrypted is returned by Decrypt and ChangeEncryptionKey
	// on an unencrypted instance
	ErrNotEncrypted = errors.New("instance is not encrypted")
	// ErrCrypto is returned when a key can't be generated, found
	// or used, or when a stored value fails to decrypt
	ErrCrypto = errors.New("encryption failure")
	// ErrTypeMismatch is returned by typed getters when the
	// stored value has a different type
	ErrTypeMismatch = codec.ErrTypeMismatch
	// ErrIO is returned when the storage backend fails
	ErrIO = errors.New("storage failure")
	// ErrLockTimeout is returned when another process held
	// the instance for longer than the configured lock timeout
	ErrLockTimeout = errors.New("timed out waiting for instance lock")
	// ErrNotFound is returned by getters for keys that don't exist
	ErrNotFound = errors.New("key not found")
	// ErrInvalidKey is returned for empty keys
	ErrInvalidKey = errors.New("key must not be empty")
)

var kinds = []error{
	ErrConfig,
	ErrState,
	ErrAlreadyEncrypted,
	ErrNotEncrypted,
	ErrCrypto,
	ErrTypeMismatch,
	ErrIO,
	ErrLockTimeout,
	ErrNotFound,
	ErrInvalidKey,
}

func hasKind(err error) bool {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// wrapError maps errors from the storage layer onto the error kinds
// of this package. Errors that already carry a kind pass through.
func wrapError(wrap string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrClosed), errors.Is(err, filelock.ErrClosed):
		return fmt.Errorf("%w: %s", ErrState, wrap)
	case errors.Is(err, kv.ErrLockTimeout), errors.Is(err, filelock.ErrTimeout):
		return fmt.Errorf("%w: %s", ErrLockTimeout, wrap)
	case hasKind(err):
		return err
	}

	return fmt.Errorf("%w: %s: %s", ErrIO, wrap, err)
}

func cryptoError(wrap string, err error) error {
	if hasKind(err) {
		return err
	}

	return fmt.Errorf("%w: %s: %s", ErrCrypto, wrap, err)
}
