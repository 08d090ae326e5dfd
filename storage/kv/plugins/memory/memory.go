package memory

import (
	"bytes"
	"errors"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/kvault/storage/kv"
)

const (
	DriverName = "memory"
)

var (
	errReadOnly = errors.New("transaction is read-only")
	errTxClosed = errors.New("transaction already concluded")
)

func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&MemoryPlugin{},
	}
}

// MemoryPlugin creates stores that live only as long as the
// process. Their contents can't be shared with other processes.
type MemoryPlugin struct {
}

func (plugin *MemoryPlugin) Name() string {
	return DriverName
}

func (plugin *MemoryPlugin) Durable() bool {
	return false
}

func (plugin *MemoryPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	return New(), nil
}

func (plugin *MemoryPlugin) NewTempStore() (kv.Store, error) {
	return New(), nil
}

func newTree() *treemap.Map {
	return treemap.NewWith(func(a, b interface{}) int {
		return bytes.Compare(a.([]byte), b.([]byte))
	})
}

func copyTree(tree *treemap.Map) *treemap.Map {
	c := newTree()
	iter := tree.Iterator()

	for iter.Next() {
		c.Put(iter.Key(), iter.Value())
	}

	return c
}

// contents is one committed version of a store. readers counts the
// read transactions still looking at it and is guarded by the
// store's mu.
type contents struct {
	values   *treemap.Map
	metadata map[string][]byte
	readers  int
}

func emptyContents() *contents {
	return &contents{values: newTree(), metadata: map[string][]byte{}}
}

var _ kv.Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of kv.Store.
// Read transactions see the contents as of Begin. Write
// transactions are serialized and collect their changes in an
// overlay. Commit applies the overlay in place when no read
// transaction still sees the committed contents, and to a copy
// otherwise.
type MemoryStore struct {
	mu       sync.Mutex
	writer   sync.Mutex
	contents *contents
	closed   bool
	parent   *MemoryStore
}

// New creates an empty MemoryStore
func New() *MemoryStore {
	return &MemoryStore{contents: emptyContents()}
}

func (store *MemoryStore) current() (*contents, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return nil, kv.ErrClosed
	}

	return store.contents, nil
}

// Begin implements kv.Store.Begin
func (store *MemoryStore) Begin(writable bool) (kv.Transaction, error) {
	if !writable {
		store.mu.Lock()
		defer store.mu.Unlock()

		if store.closed {
			return nil, kv.ErrClosed
		}

		store.contents.readers++

		return &MemoryTransaction{store: store, base: store.contents}, nil
	}

	store.writer.Lock()

	c, err := store.current()

	if err != nil {
		store.writer.Unlock()

		return nil, err
	}

	return &MemoryTransaction{
		store:    store,
		base:     c,
		writable: true,
		pending:  newTree(),
		metadata: map[string][]byte{},
	}, nil
}

// Stage implements kv.Store.Stage
func (store *MemoryStore) Stage() (kv.Store, error) {
	if _, err := store.current(); err != nil {
		return nil, err
	}

	shadow := New()
	shadow.parent = store

	return shadow, nil
}

// Swap implements kv.Store.Swap
func (store *MemoryStore) Swap(shadow kv.Store) error {
	staged, ok := shadow.(*MemoryStore)

	if !ok || staged.parent != store {
		shadow.Delete()

		return kv.ErrNotStaged
	}

	c, err := staged.current()

	if err != nil {
		return err
	}

	staged.Close()

	store.mu.Lock()
	defer store.mu.Unlock()

	if store.closed {
		return kv.ErrClosed
	}

	store.contents = c

	return nil
}

// Close implements kv.Store.Close
func (store *MemoryStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.closed = true

	return nil
}

// Delete implements kv.Store.Delete
func (store *MemoryStore) Delete() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.closed = true
	store.contents = emptyContents()

	return nil
}

var _ kv.Transaction = (*MemoryTransaction)(nil)

// MemoryTransaction implements kv.Transaction for MemoryStore.
// A write transaction never modifies base. Its puts live in pending
// and its deletes are nil entries in pending.
type MemoryTransaction struct {
	store    *MemoryStore
	base     *contents
	writable bool
	pending  *treemap.Map
	cleared  bool
	metadata map[string][]byte
	done     bool
}

// Get implements kv.Transaction.Get
func (transaction *MemoryTransaction) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, kv.ErrEmptyKey
	}

	if transaction.writable {
		if v, ok := transaction.pending.Get(key); ok {
			if v == nil {
				return nil, nil
			}

			return v.([]byte), nil
		}

		if transaction.cleared {
			return nil, nil
		}
	}

	v, ok := transaction.base.values.Get(key)

	if !ok {
		return nil, nil
	}

	return v.([]byte), nil
}

// ForEach implements kv.Transaction.ForEach
func (transaction *MemoryTransaction) ForEach(fn func(key, value []byte) error) error {
	if !transaction.writable {
		iter := transaction.base.values.Iterator()

		for iter.Next() {
			if err := fn(iter.Key().([]byte), iter.Value().([]byte)); err != nil {
				return err
			}
		}

		return nil
	}

	base := newTree().Iterator()

	if !transaction.cleared {
		base = transaction.base.values.Iterator()
	}

	pending := transaction.pending.Iterator()
	hasBase := base.Next()
	hasPending := pending.Next()

	for hasBase || hasPending {
		var key []byte
		var value interface{}

		switch {
		case !hasPending:
			key, value = base.Key().([]byte), base.Value()
			hasBase = base.Next()
		case !hasBase:
			key, value = pending.Key().([]byte), pending.Value()
			hasPending = pending.Next()
		default:
			order := bytes.Compare(base.Key().([]byte), pending.Key().([]byte))

			if order < 0 {
				key, value = base.Key().([]byte), base.Value()
				hasBase = base.Next()

				break
			}

			// The overlay shadows the base entry for the same key
			if order == 0 {
				hasBase = base.Next()
			}

			key, value = pending.Key().([]byte), pending.Value()
			hasPending = pending.Next()
		}

		if value == nil {
			continue
		}

		if err := fn(key, value.([]byte)); err != nil {
			return err
		}
	}

	return nil
}

// Put implements kv.Transaction.Put
func (transaction *MemoryTransaction) Put(key, value []byte) error {
	if !transaction.writable {
		return errReadOnly
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	transaction.pending.Put(append([]byte{}, key...), append([]byte{}, value...))

	return nil
}

// Delete implements kv.Transaction.Delete
func (transaction *MemoryTransaction) Delete(key []byte) error {
	if !transaction.writable {
		return errReadOnly
	}

	if len(key) == 0 {
		return kv.ErrEmptyKey
	}

	if transaction.cleared {
		transaction.pending.Remove(key)
	} else {
		transaction.pending.Put(append([]byte{}, key...), nil)
	}

	return nil
}

// Clear implements kv.Transaction.Clear
func (transaction *MemoryTransaction) Clear() error {
	if !transaction.writable {
		return errReadOnly
	}

	transaction.cleared = true
	transaction.pending.Clear()

	return nil
}

// Metadata implements kv.Transaction.Metadata
func (transaction *MemoryTransaction) Metadata(key []byte) ([]byte, error) {
	if transaction.writable {
		if v, ok := transaction.metadata[string(key)]; ok {
			return v, nil
		}
	}

	return transaction.base.metadata[string(key)], nil
}

// SetMetadata implements kv.Transaction.SetMetadata
func (transaction *MemoryTransaction) SetMetadata(key, value []byte) error {
	if !transaction.writable {
		return errReadOnly
	}

	if value != nil {
		value = append([]byte{}, value...)
	}

	transaction.metadata[string(key)] = value

	return nil
}

// apply writes the overlay into c
func (transaction *MemoryTransaction) apply(c *contents) {
	if transaction.cleared {
		c.values.Clear()
	}

	iter := transaction.pending.Iterator()

	for iter.Next() {
		if iter.Value() == nil {
			c.values.Remove(iter.Key())
		} else {
			c.values.Put(iter.Key(), iter.Value())
		}
	}

	for k, v := range transaction.metadata {
		if v == nil {
			delete(c.metadata, k)
		} else {
			c.metadata[k] = v
		}
	}
}

// release ends a read transaction
func (transaction *MemoryTransaction) release() {
	transaction.store.mu.Lock()
	defer transaction.store.mu.Unlock()

	transaction.base.readers--
}

// Commit implements kv.Transaction.Commit
func (transaction *MemoryTransaction) Commit() error {
	if transaction.done {
		return errTxClosed
	}

	transaction.done = true

	if !transaction.writable {
		transaction.release()

		return errReadOnly
	}

	defer transaction.store.writer.Unlock()

	transaction.store.mu.Lock()
	defer transaction.store.mu.Unlock()

	if transaction.store.closed {
		return kv.ErrClosed
	}

	target := transaction.store.contents

	// Copy only when a reader could observe the change
	if target != transaction.base || target.readers > 0 {
		metadata := make(map[string][]byte, len(transaction.base.metadata))

		for k, v := range transaction.base.metadata {
			metadata[k] = v
		}

		values := newTree()

		if !transaction.cleared {
			values = copyTree(transaction.base.values)
		}

		target = &contents{values: values, metadata: metadata}
	}

	transaction.apply(target)
	transaction.store.contents = target

	return nil
}

// Rollback implements kv.Transaction.Rollback
func (transaction *MemoryTransaction) Rollback() error {
	if transaction.done {
		return nil
	}

	transaction.done = true

	if transaction.writable {
		transaction.store.writer.Unlock()
	} else {
		transaction.release()
	}

	return nil
}
