package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jrife/kvault/encryption"
	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/utils/filelock"
	"github.com/jrife/kvault/utils/log"
	"github.com/jrife/kvault/utils/taskqueue"
	"github.com/jrife/kvault/vault"
	"go.uber.org/zap"
)

const (
	dataFile = "data.db"
	lockFile = "lock"
)

// Instance is one independently configured store. Reads run
// concurrently with each other while writes and encryption
// changes have the instance to themselves. In MultiProcess mode
// the same rules extend to other processes through a lock file.
type Instance struct {
	config Config
	vault  vault.Vault
	logger *zap.Logger
	queue  *taskqueue.Queue
	// mu guards store, lock and closed. Encryption changes
	// hold it exclusively for their whole duration.
	mu     sync.RWMutex
	store  kv.Store
	lock   *filelock.Lock
	closed bool
	state  atomic.Pointer[keyState]
	// failpoint is consulted between migration stages
	failpoint func(stage string) error
}

// keyState is the encryption state of an instance. A nil
// cipher means values are stored in plaintext.
type keyState struct {
	cipher *encryption.Cipher
	alias  string
}

var plaintext = &keyState{}

// Values are bound to their key so a sealed value can't be
// moved to another key without failing to open.
func (state *keyState) seal(key string, value []byte) ([]byte, error) {
	if state.cipher == nil {
		return value, nil
	}

	sealed, err := state.cipher.Seal(value, []byte(key))

	if err != nil {
		return nil, cryptoError("could not seal value", err)
	}

	return sealed, nil
}

func (state *keyState) open(key string, stored []byte) ([]byte, error) {
	if state.cipher == nil {
		return stored, nil
	}

	value, err := state.cipher.Open(stored, []byte(key))

	if err != nil {
		return nil, fmt.Errorf("%w: could not open value of %q: %s", ErrCrypto, key, err)
	}

	return value, nil
}

func openInstance(settings RegistryConfig, logger *zap.Logger, config Config) (*Instance, error) {
	plugin := settings.Plugin

	if config.processMode == MultiProcess && !plugin.Durable() {
		return nil, fmt.Errorf("%w: the %s driver can't be shared between processes", ErrConfig, plugin.Name())
	}

	if config.encryption && config.secureKeyStorage && settings.Vault == nil {
		return nil, fmt.Errorf("%w: secure key storage requires a vault", ErrConfig)
	}

	instance := &Instance{
		config: config,
		vault:  settings.Vault,
		logger: logger.With(zap.String("instance", config.id)),
		queue:  taskqueue.New(),
	}

	instance.state.Store(plaintext)
	options := kv.PluginOptions{kv.OptionLockTimeout: settings.LockTimeout}

	if plugin.Durable() {
		dir := filepath.Join(settings.Root, config.id)

		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: could not create instance directory: %s", ErrIO, err)
		}

		options[kv.OptionPath] = filepath.Join(dir, dataFile)

		if config.processMode == MultiProcess {
			lock, err := filelock.New(filepath.Join(dir, lockFile), settings.LockTimeout)

			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrIO, err)
			}

			options[kv.OptionMultiProcess] = true
			instance.lock = lock
		}
	}

	if err := instance.setup(plugin, options); err != nil {
		if instance.store != nil {
			instance.store.Close()
		}

		if instance.lock != nil {
			instance.lock.Close()
		}

		return nil, err
	}

	return instance, nil
}

func (instance *Instance) setup(plugin kv.Plugin, options kv.PluginOptions) error {
	if instance.lock != nil {
		if err := instance.lock.Lock(); err != nil {
			return wrapError("could not lock instance", err)
		}

		defer instance.lock.Unlock()
	}

	store, err := plugin.NewStore(options)

	if err != nil {
		return wrapError("could not open store", err)
	}

	instance.store = store

	return instance.setupEncryption()
}

// acquire takes the instance for reading, or for writing if
// exclusive is true, and returns the function that releases it
func (instance *Instance) acquire(exclusive bool) (func(), error) {
	unlock := instance.mu.RUnlock

	if exclusive {
		instance.mu.Lock()
		unlock = instance.mu.Unlock
	} else {
		instance.mu.RLock()
	}

	if instance.closed {
		unlock()

		return nil, fmt.Errorf("%w: instance %q was closed", ErrState, instance.config.id)
	}

	if instance.lock == nil {
		return unlock, nil
	}

	lock, release := instance.lock.RLock, instance.lock.RUnlock

	if exclusive {
		lock, release = instance.lock.Lock, instance.lock.Unlock
	}

	if err := lock(); err != nil {
		unlock()

		return nil, wrapError("could not lock instance", err)
	}

	return func() {
		if err := release(); err != nil {
			instance.logger.Warn("could not release instance lock", zap.Error(err))
		}

		unlock()
	}, nil
}

// currentKey returns the encryption state that applies to tx. In
// MultiProcess mode another process may have changed the key since
// this instance last looked, so the stored fingerprint is compared
// with the cached key on every transaction.
func (instance *Instance) currentKey(tx kv.Transaction) (*keyState, error) {
	state := instance.state.Load()

	if instance.lock == nil {
		return state, nil
	}

	meta, err := readCipherMeta(tx)

	if err != nil {
		return nil, err
	}

	if meta.fingerprint == nil {
		if state.cipher != nil {
			instance.logger.Info("instance was decrypted by another process")
			instance.state.Store(plaintext)
		}

		return plaintext, nil
	}

	if state.cipher != nil && bytes.Equal(state.cipher.Fingerprint(), meta.fingerprint) {
		return state, nil
	}

	next, err := instance.keyFromVault(meta)

	if err != nil {
		return nil, err
	}

	instance.logger.Info("reloaded key changed by another process", zap.String("alias", next.alias))
	instance.state.Store(next)

	return next, nil
}

// ID returns the instance ID
func (instance *Instance) ID() string {
	return instance.config.id
}

// Config returns the config the instance was opened with
func (instance *Instance) Config() Config {
	return instance.config
}

// Encrypted reports whether values are encrypted as last
// observed by this process
func (instance *Instance) Encrypted() bool {
	return instance.state.Load().cipher != nil
}

// Alias returns the vault alias of the current key. It is
// empty for unencrypted instances and caller-held keys.
func (instance *Instance) Alias() string {
	return instance.state.Load().alias
}

// operationLogger prefers a logger carried by ctx over the
// instance's own
func (instance *Instance) operationLogger(ctx context.Context, operation string) *zap.Logger {
	if logger := log.Logger(ctx); logger != nil {
		return log.WithContext(ctx, logger).With(zap.String("instance", instance.config.id), zap.String("operation", operation))
	}

	return log.WithContext(ctx, instance.logger).With(zap.String("operation", operation))
}

func (instance *Instance) close() error {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.closed {
		return nil
	}

	instance.closed = true
	err := instance.store.Close()

	if instance.lock != nil {
		if lockErr := instance.lock.Close(); err == nil {
			err = lockErr
		}
	}

	instance.state.Store(plaintext)

	return err
}
