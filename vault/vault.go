// Package vault stores encryption keys on behalf of kvault
// instances. A key is stored under an alias and can be fetched
// back with the same alias on a later run.
package vault

import (
	"errors"
	"sync"
)

var (
	// ErrEmptyAlias is returned for records and lookups without an alias
	ErrEmptyAlias = errors.New("alias must not be empty")
	// ErrWrongPassphrase is returned when a vault can't be opened
	// with the given passphrase or its contents were modified
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted vault")
)

// Record is a key held in a vault
type Record struct {
	Alias      string
	Key        []byte
	InstanceID string
}

func (record Record) clone() Record {
	record.Key = append([]byte(nil), record.Key...)

	return record
}

// Vault is secret storage for encryption keys
type Vault interface {
	// Put stores record under record.Alias, replacing
	// any record with the same alias
	Put(record Record) error
	// Get returns the record stored under alias. The bool
	// is false if there is none.
	Get(alias string) (Record, bool, error)
	// Delete removes the record stored under alias. Deleting
	// a missing alias has no effect.
	Delete(alias string) error
}

var _ Vault = (*MemoryVault)(nil)

// MemoryVault keeps records in memory for the life of the process
type MemoryVault struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryVault creates an empty MemoryVault
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{records: map[string]Record{}}
}

// Put implements Vault.Put
func (v *MemoryVault) Put(record Record) error {
	if record.Alias == "" {
		return ErrEmptyAlias
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.records[record.Alias] = record.clone()

	return nil
}

// Get implements Vault.Get
func (v *MemoryVault) Get(alias string) (Record, bool, error) {
	if alias == "" {
		return Record{}, false, ErrEmptyAlias
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	record, ok := v.records[alias]

	if !ok {
		return Record{}, false, nil
	}

	return record.clone(), true, nil
}

// Delete implements Vault.Delete
func (v *MemoryVault) Delete(alias string) error {
	if alias == "" {
		return ErrEmptyAlias
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.records, alias)

	return nil
}

// Aliases lists the aliases currently stored
func (v *MemoryVault) Aliases() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	aliases := make([]string, 0, len(v.records))

	for alias := range v.records {
		aliases = append(aliases, alias)
	}

	return aliases
}
