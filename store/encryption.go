package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jrife/kvault/encryption"
	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/vault"
	"go.uber.org/zap"
)

var (
	metaCheck       = []byte("cipher.check")
	metaFingerprint = []byte("cipher.fingerprint")
	metaAlias       = []byte("cipher.alias")
)

// cipherMeta is the encryption state recorded in a store.
// A nil fingerprint means the store is not encrypted.
type cipherMeta struct {
	check       []byte
	fingerprint []byte
	alias       string
}

func readCipherMeta(tx kv.Transaction) (cipherMeta, error) {
	var meta cipherMeta

	for key, value := range map[string]*[]byte{string(metaCheck): &meta.check, string(metaFingerprint): &meta.fingerprint} {
		raw, err := tx.Metadata([]byte(key))

		if err != nil {
			return cipherMeta{}, wrapError("could not read encryption metadata", err)
		}

		if raw != nil {
			*value = append([]byte(nil), raw...)
		}
	}

	alias, err := tx.Metadata(metaAlias)

	if err != nil {
		return cipherMeta{}, wrapError("could not read encryption metadata", err)
	}

	meta.alias = string(alias)

	return meta, nil
}

func writeCipherMeta(tx kv.Transaction, state *keyState) error {
	var check, fingerprint, alias []byte

	if state.cipher != nil {
		var err error

		if check, err = state.cipher.KeyCheck(); err != nil {
			return cryptoError("could not create key check", err)
		}

		fingerprint = state.cipher.Fingerprint()
	}

	if state.alias != "" {
		alias = []byte(state.alias)
	}

	for _, entry := range []struct{ key, value []byte }{{metaCheck, check}, {metaFingerprint, fingerprint}, {metaAlias, alias}} {
		if err := tx.SetMetadata(entry.key, entry.value); err != nil {
			return wrapError("could not write encryption metadata", err)
		}
	}

	return nil
}

// readMeta reads the encryption metadata in its own transaction
func (instance *Instance) readMeta() (cipherMeta, error) {
	tx, err := instance.store.Begin(false)

	if err != nil {
		return cipherMeta{}, wrapError("could not begin transaction", err)
	}

	defer tx.Rollback()

	return readCipherMeta(tx)
}

// refreshKey brings the cached key up to date with the store
func (instance *Instance) refreshKey() (*keyState, error) {
	tx, err := instance.store.Begin(false)

	if err != nil {
		return nil, wrapError("could not begin transaction", err)
	}

	defer tx.Rollback()

	return instance.currentKey(tx)
}

// vaultRecord returns the record kept for alias whose key has the
// given fingerprint. It looks under the backup alias as well, where
// a migration that never finished leaves the key the store still uses.
func (instance *Instance) vaultRecord(alias string, fingerprint []byte) (vault.Record, bool, error) {
	for _, candidate := range []string{alias, backupAlias(alias)} {
		record, ok, err := instance.vault.Get(candidate)

		if err != nil {
			return vault.Record{}, false, cryptoError("could not read vault", err)
		}

		if !ok {
			continue
		}

		if bytes.Equal(encryption.Fingerprint(record.Key), fingerprint) {
			return record, true, nil
		}

		encryption.Zero(record.Key)
	}

	return vault.Record{}, false, nil
}

// keyFromVault loads the key recorded in meta from the vault
// and proves it against the stored key check
func (instance *Instance) keyFromVault(meta cipherMeta) (*keyState, error) {
	if meta.alias == "" {
		return nil, fmt.Errorf("%w: store is encrypted with a key that is not kept in the vault", ErrCrypto)
	}

	if instance.vault == nil {
		return nil, fmt.Errorf("%w: store is encrypted and no vault is configured", ErrCrypto)
	}

	record, ok, err := instance.vaultRecord(meta.alias, meta.fingerprint)

	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: no key under %q matches the store", ErrCrypto, meta.alias)
	}

	defer encryption.Zero(record.Key)

	cipher, err := encryption.New(record.Key)

	if err != nil {
		return nil, cryptoError("could not use key from vault", err)
	}

	if err := cipher.VerifyKeyCheck(meta.check); err != nil {
		return nil, fmt.Errorf("%w: key %q does not match the store", ErrCrypto, meta.alias)
	}

	return &keyState{cipher: cipher, alias: meta.alias}, nil
}

// setupEncryption reconciles a freshly opened store with the
// instance config. The caller holds the instance exclusively.
func (instance *Instance) setupEncryption() error {
	meta, err := instance.readMeta()

	if err != nil {
		return err
	}

	config := instance.config

	if !config.encryption {
		if meta.fingerprint == nil {
			return nil
		}

		state, err := instance.keyFromVault(meta)

		if err != nil {
			return err
		}

		instance.state.Store(state)

		return nil
	}

	var alias string

	if config.secureKeyStorage {
		alias = config.Alias()
	}

	key := config.Key()

	if key == nil {
		var record vault.Record
		var ok bool
		var err error

		if meta.fingerprint != nil {
			record, ok, err = instance.vaultRecord(alias, meta.fingerprint)
		} else if record, ok, err = instance.vault.Get(alias); err != nil {
			err = cryptoError("could not read vault", err)
		}

		if err != nil {
			return err
		}

		switch {
		case ok:
			key = record.Key
		case meta.fingerprint != nil:
			return fmt.Errorf("%w: store is encrypted and key %q is not in the vault", ErrCrypto, alias)
		default:
			if key, err = encryption.GenerateKey(); err != nil {
				return cryptoError("could not generate key", err)
			}
		}
	}

	defer encryption.Zero(key)

	cipher, err := encryption.New(key)

	if err != nil {
		return cryptoError("could not use key", err)
	}

	next := &keyState{cipher: cipher, alias: alias}

	if meta.fingerprint == nil {
		return instance.transition(instance.logger, next, key)
	}

	if err := cipher.VerifyKeyCheck(meta.check); err != nil {
		return fmt.Errorf("%w: key does not match the store", ErrCrypto)
	}

	if alias != "" {
		if err := instance.vault.Put(vault.Record{Alias: alias, Key: key, InstanceID: config.id}); err != nil {
			return cryptoError("could not store key in vault", err)
		}

		// The key is back under its own alias
		if err := instance.vault.Delete(backupAlias(alias)); err != nil {
			instance.logger.Warn("could not delete backup key from vault", zap.String("alias", backupAlias(alias)), zap.Error(err))
		}
	}

	if meta.alias != alias {
		if err := instance.recordAlias(alias); err != nil {
			return err
		}
	}

	instance.state.Store(next)

	return nil
}

func (instance *Instance) recordAlias(alias string) error {
	tx, err := instance.store.Begin(true)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer tx.Rollback()

	var value []byte

	if alias != "" {
		value = []byte(alias)
	}

	if err := tx.SetMetadata(metaAlias, value); err != nil {
		return wrapError("could not write encryption metadata", err)
	}

	return wrapError("could not commit transaction", tx.Commit())
}

// backupAlias is where transition keeps the key a store is still
// sealed with while a new key under the same alias is migrated in
func backupAlias(alias string) string {
	return alias + ".previous"
}

// transition rewrites the store under next. The new key goes into
// the vault before the swap. A key it replaces stays under the
// backup alias until the swap succeeded, so a process that dies
// mid-migration leaves the old key recoverable. If the migration
// fails the vault is put back the way it was. The previous key
// leaves the vault only after the swap succeeded.
func (instance *Instance) transition(logger *zap.Logger, next *keyState, key []byte) error {
	previous := instance.state.Load()
	restore := func() {}
	commit := func() {}

	if next.alias != "" {
		old, hadOld, err := instance.vault.Get(next.alias)

		if err != nil {
			return cryptoError("could not read vault", err)
		}

		// An earlier interrupted migration may have left the key the
		// store actually uses under the backup alias
		if previous.cipher != nil && previous.alias == next.alias {
			current, ok, err := instance.vaultRecord(next.alias, previous.cipher.Fingerprint())

			if err != nil {
				return err
			} else if ok {
				old, hadOld = current, true
			}
		}

		backup := backupAlias(next.alias)

		if hadOld {
			if err := instance.vault.Put(vault.Record{Alias: backup, Key: old.Key, InstanceID: old.InstanceID}); err != nil {
				return cryptoError("could not back up key in vault", err)
			}
		}

		if err := instance.vault.Put(vault.Record{Alias: next.alias, Key: key, InstanceID: instance.config.id}); err != nil {
			if hadOld {
				instance.vault.Delete(backup)
			}

			return cryptoError("could not store key in vault", err)
		}

		restore = func() {
			var err error

			if hadOld {
				old.Alias = next.alias

				if err = instance.vault.Put(old); err == nil {
					err = instance.vault.Delete(backup)
				}
			} else {
				err = instance.vault.Delete(next.alias)
			}

			if err != nil {
				logger.Error("could not restore vault after failed migration", zap.String("alias", next.alias), zap.Error(err))
			}
		}

		commit = func() {
			if !hadOld {
				return
			}

			if err := instance.vault.Delete(backup); err != nil {
				logger.Warn("could not delete backup key from vault", zap.String("alias", backup), zap.Error(err))
			}
		}
	}

	if err := instance.migrate(previous, next); err != nil {
		// The store is already sealed under next
		if !errors.Is(err, kv.ErrReopen) {
			restore()

			return err
		}

		logger.Error("store could not be reopened after migration", zap.Error(err))
		instance.finishTransition(logger, previous, next, commit)

		return err
	}

	instance.finishTransition(logger, previous, next, commit)

	return nil
}

func (instance *Instance) finishTransition(logger *zap.Logger, previous, next *keyState, commit func()) {
	instance.state.Store(next)
	commit()

	if previous.alias != "" && previous.alias != next.alias {
		if err := instance.vault.Delete(previous.alias); err != nil {
			logger.Warn("could not delete previous key from vault", zap.String("alias", previous.alias), zap.Error(err))
		}
	}
}

// KeyInfo describes the key an instance is encrypted with
type KeyInfo struct {
	// Key is the raw key. Callers that don't keep the key in the
	// vault must supply it again on every start.
	Key []byte
	// Alias is the vault alias, empty if the key isn't in the vault
	Alias string
}

type keyOptions struct {
	key    []byte
	secure bool
	alias  string
}

// KeyOption customizes the key used by Encrypt
// and ChangeEncryptionKey
type KeyOption func(options *keyOptions)

// UseKey encrypts with key instead of a generated key
func UseKey(key []byte) KeyOption {
	return func(options *keyOptions) {
		options.key = key
	}
}

// StoreKeySecurely controls whether the key is kept in the
// vault. It defaults to true.
func StoreKeySecurely(secure bool) KeyOption {
	return func(options *keyOptions) {
		options.secure = secure
	}
}

// KeyAlias sets the vault alias of the key
func KeyAlias(alias string) KeyOption {
	return func(options *keyOptions) {
		options.alias = alias
	}
}

func resolveKeyOptions(opts []KeyOption) keyOptions {
	options := keyOptions{secure: true}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}

func (instance *Instance) newKey(options keyOptions, defaultAlias string) (*keyState, []byte, error) {
	var key []byte

	if options.key == nil {
		var err error

		if key, err = encryption.GenerateKey(); err != nil {
			return nil, nil, cryptoError("could not generate key", err)
		}
	} else if len(options.key) != encryption.KeySize {
		return nil, nil, fmt.Errorf("%w: %s", ErrConfig, encryption.ErrInvalidKey)
	} else {
		key = append([]byte(nil), options.key...)
	}

	cipher, err := encryption.New(key)

	if err != nil {
		return nil, nil, cryptoError("could not use key", err)
	}

	next := &keyState{cipher: cipher}

	if options.secure {
		if instance.vault == nil {
			return nil, nil, fmt.Errorf("%w: secure key storage requires a vault", ErrConfig)
		}

		next.alias = aliasFor(instance.config.id, options.alias)

		if options.alias == "" && defaultAlias != "" {
			next.alias = defaultAlias
		}
	}

	return next, key, nil
}

// Encrypt encrypts every value of an unencrypted instance. Without
// UseKey a random key is generated. The default instance can't be
// encrypted.
func (instance *Instance) Encrypt(ctx context.Context, opts ...KeyOption) (KeyInfo, error) {
	logger := instance.operationLogger(ctx, "Encrypt")
	logger.Debug("start Encrypt()")

	info, err := instance.encrypt(logger, resolveKeyOptions(opts))

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return info, err
	}

	logger.Debug("return from Encrypt()", zap.String("alias", info.Alias))

	return info, nil
}

func (instance *Instance) encrypt(logger *zap.Logger, options keyOptions) (KeyInfo, error) {
	if instance.config.id == DefaultID {
		return KeyInfo{}, fmt.Errorf("%w: encryption requires an explicit instance ID", ErrConfig)
	}

	release, err := instance.acquire(true)

	if err != nil {
		return KeyInfo{}, err
	}

	defer release()

	previous, err := instance.refreshKey()

	if err != nil {
		return KeyInfo{}, err
	}

	if previous.cipher != nil {
		return KeyInfo{}, ErrAlreadyEncrypted
	}

	next, key, err := instance.newKey(options, "")

	if err != nil {
		return KeyInfo{}, err
	}

	if err := instance.transition(logger, next, key); errors.Is(err, kv.ErrReopen) {
		// Values are already sealed with key
		return KeyInfo{Key: key, Alias: next.alias}, err
	} else if err != nil {
		return KeyInfo{}, err
	}

	return KeyInfo{Key: key, Alias: next.alias}, nil
}

// Decrypt rewrites every value in plaintext and removes the
// key from the vault
func (instance *Instance) Decrypt(ctx context.Context) error {
	logger := instance.operationLogger(ctx, "Decrypt")
	logger.Debug("start Decrypt()")

	if err := instance.decrypt(logger); err != nil {
		logger.Debug("error", zap.Error(err))

		return err
	}

	logger.Debug("return from Decrypt()")

	return nil
}

func (instance *Instance) decrypt(logger *zap.Logger) error {
	release, err := instance.acquire(true)

	if err != nil {
		return err
	}

	defer release()

	previous, err := instance.refreshKey()

	if err != nil {
		return err
	}

	if previous.cipher == nil {
		return ErrNotEncrypted
	}

	return instance.transition(logger, plaintext, nil)
}

// ChangeEncryptionKey re-encrypts every value with a new key. The
// store is rewritten into a shadow store that replaces the live store
// in one step, so if anything fails the store is still readable with
// the previous key. The alias defaults to the current alias. An
// error wrapping kv.ErrReopen means the new key is already in use
// and the returned KeyInfo describes it.
func (instance *Instance) ChangeEncryptionKey(ctx context.Context, opts ...KeyOption) (KeyInfo, error) {
	logger := instance.operationLogger(ctx, "ChangeEncryptionKey")
	logger.Debug("start ChangeEncryptionKey()")

	info, err := instance.changeEncryptionKey(logger, resolveKeyOptions(opts))

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return info, err
	}

	logger.Debug("return from ChangeEncryptionKey()", zap.String("alias", info.Alias))

	return info, nil
}

func (instance *Instance) changeEncryptionKey(logger *zap.Logger, options keyOptions) (KeyInfo, error) {
	release, err := instance.acquire(true)

	if err != nil {
		return KeyInfo{}, err
	}

	defer release()

	previous, err := instance.refreshKey()

	if err != nil {
		return KeyInfo{}, err
	}

	if previous.cipher == nil {
		return KeyInfo{}, ErrNotEncrypted
	}

	next, key, err := instance.newKey(options, previous.alias)

	if err != nil {
		return KeyInfo{}, err
	}

	if err := instance.transition(logger, next, key); errors.Is(err, kv.ErrReopen) {
		// Values are already sealed with key
		return KeyInfo{Key: key, Alias: next.alias}, err
	} else if err != nil {
		return KeyInfo{}, err
	}

	return KeyInfo{Key: key, Alias: next.alias}, nil
}
