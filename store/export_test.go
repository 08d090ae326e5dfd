package store

import (
	"github.com/jrife/kvault/storage/kv"
)

const (
	StageCopy = stageCopy
	StageSwap = stageSwap
)

// SetFailpoint makes migrations of instance call fn between stages
func SetFailpoint(instance *Instance, fn func(stage string) error) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	instance.failpoint = fn
}

// RawValue returns the bytes stored under key as they are in the backend
func RawValue(instance *Instance, key string) ([]byte, error) {
	tx, err := instance.store.Begin(false)

	if err != nil {
		return nil, err
	}

	defer tx.Rollback()

	raw, err := tx.Get([]byte(key))

	return append([]byte(nil), raw...), err
}

// Hold takes instance exclusively until the returned function is called
func Hold(instance *Instance) func() {
	instance.mu.Lock()

	return instance.mu.Unlock
}

// WrapStore replaces the backend of instance with wrap's result
func WrapStore(instance *Instance, wrap func(kv.Store) kv.Store) {
	instance.mu.Lock()
	defer instance.mu.Unlock()

	instance.store = wrap(instance.store)
}
