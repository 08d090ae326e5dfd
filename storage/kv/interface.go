package kv

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed indicates that the store was closed
	ErrClosed = errors.New("store was closed")
	// ErrLockTimeout indicates that the store could not be locked
	// within the configured timeout because another process holds it
	ErrLockTimeout = errors.New("timed out waiting for store lock")
	// ErrEmptyKey is returned by Put and Delete for nil or empty keys
	ErrEmptyKey = errors.New("key must not be empty")
	// ErrNotStaged indicates that Swap was given a store that
	// was not created by Stage on the same store
	ErrNotStaged = errors.New("store was not staged from this store")
	// ErrReopen is returned by Swap when the shadow already replaced
	// the store's contents but the store could not be reopened
	ErrReopen = errors.New("store was swapped but could not be reopened")
)

// PluginOptions is a set of driver specific options
type PluginOptions map[string]interface{}

const (
	// OptionPath is the location of the store. File backed
	// drivers require it.
	OptionPath = "path"
	// OptionMultiProcess is a bool that tells the driver other
	// processes may open the same path concurrently.
	OptionMultiProcess = "multiProcess"
	// OptionLockTimeout is a time.Duration bounding how long the driver
	// waits for file locks. Zero means wait forever.
	OptionLockTimeout = "lockTimeout"
)

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// Durable returns true if stores created by this plugin
	// persist across process restarts and may be shared between
	// processes.
	Durable() bool
	// NewStore returns an instance of the plugin store
	NewStore(options PluginOptions) (Store, error)
	// NewTempStore returns an instance of the plugin store
	// initialized with some sane defaults. It is meant for
	// tests that need an initialized instance of the plugin's
	// store without knowing how to initialize it
	NewTempStore() (Store, error)
}

// Store is the storage for a single instance
type Store interface {
	// Begin starts a transaction. writable should be true for
	// read-write transactions and false for read-only transactions.
	// Read-only transactions see a consistent snapshot of the store.
	// It must return ErrClosed if called after Close.
	Begin(writable bool) (Transaction, error)
	// Stage creates an empty shadow store that can later replace the
	// contents of this store through Swap. The shadow is independent of
	// this store until swapped in.
	Stage() (Store, error)
	// Swap atomically replaces the contents of this store with the contents
	// of shadow, which must have been created by Stage on this store and
	// must have no open transactions. shadow is consumed by Swap whether or
	// not it succeeds. If Swap fails the contents of this store are unchanged,
	// except for ErrReopen which means the shadow's contents are in place but
	// the store is closed.
	// The caller must ensure no transactions are open on this store.
	Swap(shadow Store) error
	// Close closes the store. Calls to any other method after
	// Close returns must return ErrClosed.
	Close() error
	// Delete closes then deletes this store and all its contents.
	Delete() error
}

// MapUpdater is an interface for updating a key-value map
type MapUpdater interface {
	// Put puts a key. Put must return ErrEmptyKey
	// if key is nil or empty. A nil value is stored
	// as an empty value.
	Put(key, value []byte) error
	// Delete deletes a key. It must return ErrEmptyKey if the key
	// is nil or empty. If the key doesn't exist it has no effect
	// and returns nil.
	Delete(key []byte) error
}

// MapReader is an interface for reading a key-value map
type MapReader interface {
	// Get gets a key. It must observe updates to that key made
	// previously by this transation. It must return nil if the
	// requested key does not exist. The returned slice is only
	// valid for the life of the transaction.
	Get(key []byte) ([]byte, error)
	// ForEach calls fn for every key in ascending lexicographical
	// order. Iteration stops at the first error returned by fn.
	// Slices passed to fn are only valid for the duration of the call.
	ForEach(fn func(key, value []byte) error) error
}

// Map combines MapReader and MapUpdater
type Map interface {
	MapUpdater
	MapReader
}

// Transaction is a transaction for a store. It must only be
// used by one goroutine at a time.
type Transaction interface {
	Map
	// Clear deletes every value. Metadata is untouched.
	Clear() error
	// Metadata returns the metadata value for key or nil
	Metadata(key []byte) ([]byte, error)
	// SetMetadata sets a metadata value. A nil value deletes it.
	SetMetadata(key, value []byte) error
	// Commit commits the transaction
	Commit() error
	// Rollback rolls back the transaction. It is safe to call
	// Rollback after Commit.
	Rollback() error
}

// Duration extracts a time.Duration option. Missing options yield zero.
func (options PluginOptions) Duration(name string) (time.Duration, error) {
	raw, ok := options[name]

	if !ok || raw == nil {
		return 0, nil
	}

	d, ok := raw.(time.Duration)

	if !ok {
		return 0, fmt.Errorf("%q must be a time.Duration", name)
	}

	return d, nil
}

// Bool extracts a bool option. Missing options yield false.
func (options PluginOptions) Bool(name string) (bool, error) {
	raw, ok := options[name]

	if !ok || raw == nil {
		return false, nil
	}

	b, ok := raw.(bool)

	if !ok {
		return false, fmt.Errorf("%q must be a bool", name)
	}

	return b, nil
}

// String extracts a string option. Missing options yield "".
func (options PluginOptions) String(name string) (string, error) {
	raw, ok := options[name]

	if !ok || raw == nil {
		return "", nil
	}

	s, ok := raw.(string)

	if !ok {
		return "", fmt.Errorf("%q must be a string", name)
	}

	return s, nil
}
