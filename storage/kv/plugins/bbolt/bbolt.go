package bbolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	DriverName = "bbolt"
)

var (
	valuesBucket   = []byte("values")
	metadataBucket = []byte("meta")
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

type BBoltPlugin struct {
}

func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

func (plugin *BBoltPlugin) Durable() bool {
	return true
}

func (plugin *BBoltPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config BBoltStoreConfig
	var err error

	if config.Path, err = options.String(kv.OptionPath); err != nil {
		return nil, err
	} else if config.Path == "" {
		return nil, fmt.Errorf("%q is required", kv.OptionPath)
	}

	if config.MultiProcess, err = options.Bool(kv.OptionMultiProcess); err != nil {
		return nil, err
	}

	if config.LockTimeout, err = options.Duration(kv.OptionLockTimeout); err != nil {
		return nil, err
	}

	store, err := New(config)

	if err != nil {
		return nil, err
	}

	return store, nil
}

func (plugin *BBoltPlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		kv.OptionPath: filepath.Join(os.TempDir(), fmt.Sprintf("bbolt-%s", uuid.MustUUID())),
	})
}

// BBoltStoreConfig configures a BBoltStore
type BBoltStoreConfig struct {
	// Path is the database file
	Path string
	// MultiProcess opens the database for the duration of
	// each transaction instead of holding it open so that
	// other processes can take turns with the file.
	MultiProcess bool
	// LockTimeout bounds how long opening the database waits
	// for another process to release it. Zero waits forever.
	LockTimeout time.Duration
}

var _ kv.Store = (*BBoltStore)(nil)

// New opens or creates a bbolt backed store at config.Path
func New(config BBoltStoreConfig) (*BBoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0700); err != nil {
		return nil, fmt.Errorf("could not create directory for %s: %s", config.Path, err)
	}

	store := &BBoltStore{config: config}

	db, err := store.open(false)

	if err != nil {
		return nil, err
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		if _, err := txn.CreateBucketIfNotExists(valuesBucket); err != nil {
			return err
		}

		_, err := txn.CreateBucketIfNotExists(metadataBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure buckets exist: %s", err)
	}

	if config.MultiProcess {
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("could not close %s: %s", config.Path, err)
		}
	} else {
		store.db = db
	}

	return store, nil
}

// BBoltStore implements kv.Store on top of a
// single bbolt database file
type BBoltStore struct {
	config BBoltStoreConfig
	// mu guards db and closed. Transactions hold it
	// for reading until they conclude so that Close
	// and Swap wait for them.
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
	parent *BBoltStore
}

func (store *BBoltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(store.config.Path, 0600, &bolt.Options{
		Timeout:  store.config.LockTimeout,
		ReadOnly: readOnly,
	})

	if err == bolt.ErrTimeout {
		return nil, kv.ErrLockTimeout
	} else if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %s", store.config.Path, err)
	}

	return db, nil
}

// Path returns the database file path
func (store *BBoltStore) Path() string {
	return store.config.Path
}

// Begin implements kv.Store.Begin
func (store *BBoltStore) Begin(writable bool) (kv.Transaction, error) {
	store.mu.RLock()

	if store.closed {
		store.mu.RUnlock()

		return nil, kv.ErrClosed
	}

	db := store.db
	closeDB := false

	if db == nil {
		var err error

		if db, err = store.open(!writable); err != nil {
			store.mu.RUnlock()

			return nil, err
		}

		closeDB = true
	}

	transaction, err := db.Begin(writable)

	if err != nil {
		if closeDB {
			db.Close()
		}

		store.mu.RUnlock()

		return nil, fmt.Errorf("could not begin transaction: %s", err)
	}

	return &BBoltTransaction{
		transaction: transaction,
		release: func() error {
			defer store.mu.RUnlock()

			if closeDB {
				return db.Close()
			}

			return nil
		},
	}, nil
}

// Stage implements kv.Store.Stage
func (store *BBoltStore) Stage() (kv.Store, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.closed {
		return nil, kv.ErrClosed
	}

	shadow, err := New(BBoltStoreConfig{
		Path:        fmt.Sprintf("%s.staging-%s", store.config.Path, uuid.MustUUID()),
		LockTimeout: store.config.LockTimeout,
	})

	if err != nil {
		return nil, fmt.Errorf("could not create staging store: %s", err)
	}

	shadow.parent = store

	return shadow, nil
}

// Swap implements kv.Store.Swap. The shadow file is synced by
// its last commit and then renamed over the live file, which is
// atomic on POSIX filesystems.
func (store *BBoltStore) Swap(shadow kv.Store) error {
	staged, ok := shadow.(*BBoltStore)

	if !ok || staged.parent != store {
		shadow.Delete()

		return kv.ErrNotStaged
	}

	if err := staged.Close(); err != nil {
		os.Remove(staged.config.Path)

		return fmt.Errorf("could not close staging store: %s", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		os.Remove(staged.config.Path)

		return kv.ErrClosed
	}

	if store.db != nil {
		if err := store.db.Close(); err != nil {
			os.Remove(staged.config.Path)

			return fmt.Errorf("could not close live store: %s", err)
		}

		store.db = nil
	}

	renameErr := os.Rename(staged.config.Path, store.config.Path)

	if renameErr != nil {
		os.Remove(staged.config.Path)
	}

	if !store.config.MultiProcess {
		db, err := store.open(false)

		if err != nil {
			// Nothing can be served from this store anymore
			store.closed = true

			if renameErr != nil {
				return fmt.Errorf("could not swap in staging store: %s (reopen failed: %s)", renameErr, err)
			}

			return fmt.Errorf("%w: %s", kv.ErrReopen, err)
		}

		store.db = db
	}

	if renameErr != nil {
		return fmt.Errorf("could not swap in staging store: %s", renameErr)
	}

	return nil
}

// Close implements kv.Store.Close
func (store *BBoltStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil
	}

	store.closed = true

	if store.db == nil {
		return nil
	}

	err := store.db.Close()
	store.db = nil

	return err
}

// Delete implements kv.Store.Delete
func (store *BBoltStore) Delete() error {
	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err)
	}

	if err := os.Remove(store.config.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove path %s: %s", store.config.Path, err)
	}

	return nil
}

var _ kv.Transaction = (*BBoltTransaction)(nil)

// BBoltTransaction implements kv.Transaction
type BBoltTransaction struct {
	transaction *bolt.Tx
	release     func() error
	done        bool
}

func (transaction *BBoltTransaction) values() *bolt.Bucket {
	return transaction.transaction.Bucket(valuesBucket)
}

func (transaction *BBoltTransaction) metadata() *bolt.Bucket {
	return transaction.transaction.Bucket(metadataBucket)
}

// Get implements kv.Transaction.Get
func (transaction *BBoltTransaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, kv.ErrEmptyKey
	}

	return transaction.values().Get(key), nil
}

// ForEach implements kv.Transaction.ForEach
func (transaction *BBoltTransaction) ForEach(fn func(key, value []byte) error) error {
	return transaction.values().ForEach(fn)
}

// Put implements kv.Transaction.Put
func (transaction *BBoltTransaction) Put(key, value []byte) error {
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if value == nil {
		value = []byte{}
	}

	return transaction.values().Put(key, value)
}

// Delete implements kv.Transaction.Delete
func (transaction *BBoltTransaction) Delete(key []byte) error {
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	return transaction.values().Delete(key)
}

// Clear implements kv.Transaction.Clear
func (transaction *BBoltTransaction) Clear() error {
	if err := transaction.transaction.DeleteBucket(valuesBucket); err != nil {
		return fmt.Errorf("could not delete values bucket: %s", err)
	}

	if _, err := transaction.transaction.CreateBucket(valuesBucket); err != nil {
		return fmt.Errorf("could not recreate values bucket: %s", err)
	}

	return nil
}

// Metadata implements kv.Transaction.Metadata
func (transaction *BBoltTransaction) Metadata(key []byte) ([]byte, error) {
	return transaction.metadata().Get(key), nil
}

// SetMetadata implements kv.Transaction.SetMetadata
func (transaction *BBoltTransaction) SetMetadata(key, value []byte) error {
	if value == nil {
		return transaction.metadata().Delete(key)
	}

	return transaction.metadata().Put(key, value)
}

// Commit implements kv.Transaction.Commit
func (transaction *BBoltTransaction) Commit() error {
	if transaction.done {
		return bolt.ErrTxClosed
	}

	transaction.done = true
	err := transaction.transaction.Commit()

	if releaseErr := transaction.release(); err == nil {
		err = releaseErr
	}

	return err
}

// Rollback implements kv.Transaction.Rollback
func (transaction *BBoltTransaction) Rollback() error {
	if transaction.done {
		return nil
	}

	transaction.done = true
	err := transaction.transaction.Rollback()

	if releaseErr := transaction.release(); err == nil {
		err = releaseErr
	}

	return err
}
