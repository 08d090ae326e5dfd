package store

import (
	"errors"
	"fmt"

	"github.com/jrife/kvault/storage/kv"
)

// Migration stages passed to the failpoint
const (
	stageCopy = "copy"
	stageSwap = "swap"
)

func (instance *Instance) fail(stage string) error {
	if instance.failpoint == nil {
		return nil
	}

	return instance.failpoint(stage)
}

// migrate rewrites every value from the encryption state from to
// the state to. Values are copied into a staged shadow store which
// then replaces the live store. If migrate fails the live store is
// left as it was unless the error wraps kv.ErrReopen.
func (instance *Instance) migrate(from, to *keyState) error {
	shadow, err := instance.store.Stage()

	if err != nil {
		return wrapError("could not stage store", err)
	}

	if err := instance.copyTo(shadow, from, to); err != nil {
		shadow.Delete()

		return err
	}

	if err := instance.fail(stageSwap); err != nil {
		shadow.Delete()

		return err
	}

	if err := instance.store.Swap(shadow); errors.Is(err, kv.ErrReopen) {
		return fmt.Errorf("%w: migrated store is in place but could not be reopened: %w", ErrIO, err)
	} else if err != nil {
		return wrapError("could not swap in migrated store", err)
	}

	return nil
}

// copyTo fills shadow with every value of the live store. The source
// transaction is released before returning so that Swap doesn't wait
// on it.
func (instance *Instance) copyTo(shadow kv.Store, from, to *keyState) error {
	source, err := instance.store.Begin(false)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer source.Rollback()

	target, err := shadow.Begin(true)

	if err != nil {
		return wrapError("could not begin staging transaction", err)
	}

	defer target.Rollback()

	err = source.ForEach(func(key, stored []byte) error {
		value, err := from.open(string(key), stored)

		if err != nil {
			return err
		}

		sealed, err := to.seal(string(key), value)

		if err != nil {
			return err
		}

		return target.Put(key, sealed)
	})

	if err != nil {
		return wrapError("could not copy values", err)
	}

	if err := writeCipherMeta(target, to); err != nil {
		return err
	}

	if err := instance.fail(stageCopy); err != nil {
		return err
	}

	return wrapError("could not commit staging store", target.Commit())
}
