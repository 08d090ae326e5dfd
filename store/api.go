package store

import (
	"fmt"

	"github.com/jrife/kvault/codec"
	"github.com/jrife/kvault/storage/kv"
	"go.uber.org/zap"
)

// Item is one result of GetMultipleItems. Err is set instead
// of Value when that key could not be read.
type Item struct {
	Key   string
	Value interface{}
	Err   error
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	return nil
}

// view runs fn in a read transaction
func (instance *Instance) view(fn func(tx kv.Transaction, state *keyState) error) error {
	release, err := instance.acquire(false)

	if err != nil {
		return err
	}

	defer release()

	tx, err := instance.store.Begin(false)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer tx.Rollback()

	state, err := instance.currentKey(tx)

	if err != nil {
		return err
	}

	return fn(tx, state)
}

// update runs fn in a write transaction and commits it if fn succeeds
func (instance *Instance) update(fn func(tx kv.Transaction, state *keyState) error) error {
	release, err := instance.acquire(true)

	if err != nil {
		return err
	}

	defer release()

	tx, err := instance.store.Begin(true)

	if err != nil {
		return wrapError("could not begin transaction", err)
	}

	defer tx.Rollback()

	state, err := instance.currentKey(tx)

	if err != nil {
		return err
	}

	if err := fn(tx, state); err != nil {
		return err
	}

	return wrapError("could not commit transaction", tx.Commit())
}

// decode turns a stored entry back into a value. Its errors
// only concern this one key.
func decode(state *keyState, key string, stored []byte) (codec.Value, error) {
	data, err := state.open(key, stored)

	if err != nil {
		return codec.Value{}, err
	}

	value, err := codec.Unmarshal(data)

	if err != nil {
		return codec.Value{}, fmt.Errorf("%w: value of %q: %w", ErrIO, key, err)
	}

	return value, nil
}

// GetValue returns the value stored under key
func (instance *Instance) GetValue(key string) (codec.Value, error) {
	if err := validateKey(key); err != nil {
		return codec.Value{}, err
	}

	var value codec.Value

	err := instance.view(func(tx kv.Transaction, state *keyState) error {
		stored, err := tx.Get([]byte(key))

		if err != nil {
			return wrapError("could not read value", err)
		} else if stored == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, key)
		}

		value, err = decode(state, key, stored)

		return err
	})

	return value, err
}

func (instance *Instance) setValue(key string, value codec.Value) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := codec.Marshal(value)

	if err != nil {
		return err
	}

	return instance.update(func(tx kv.Transaction, state *keyState) error {
		sealed, err := state.seal(key, data)

		if err != nil {
			return err
		}

		return wrapError("could not write value", tx.Put([]byte(key), sealed))
	})
}

// trySet stores value and reports failures through the log as
// well as the returned error
func (instance *Instance) trySet(operation, key string, native interface{}) (bool, error) {
	value, err := codec.FromGo(native)

	return instance.storeConverted(operation, key, value, err)
}

// storeConverted stores a value already converted by codec.FromGo.
// convertErr is the conversion error, if any.
func (instance *Instance) storeConverted(operation, key string, value codec.Value, convertErr error) (bool, error) {
	err := convertErr

	if err == nil {
		err = instance.setValue(key, value)
	}

	if err != nil {
		instance.logger.Warn("could not store value", zap.String("operation", operation), zap.String("key", key), zap.Error(err))

		return false, err
	}

	return true, nil
}

// SetValue stores value under key and reports whether it succeeded
func (instance *Instance) SetValue(key string, value codec.Value) bool {
	ok, _ := instance.trySet("SetValue", key, value)

	return ok
}

// SetString stores a string under key and reports whether it succeeded
func (instance *Instance) SetString(key string, value string) bool {
	ok, _ := instance.trySet("SetString", key, value)

	return ok
}

// SetInt stores an integer under key and reports whether it succeeded
func (instance *Instance) SetInt(key string, value int64) bool {
	ok, _ := instance.trySet("SetInt", key, value)

	return ok
}

// SetBool stores a boolean under key and reports whether it succeeded
func (instance *Instance) SetBool(key string, value bool) bool {
	ok, _ := instance.trySet("SetBool", key, value)

	return ok
}

// SetMap stores a map under key and reports whether it succeeded.
// See codec.FromGo for the values it may hold.
func (instance *Instance) SetMap(key string, value map[string]interface{}) bool {
	ok, _ := instance.trySet("SetMap", key, value)

	return ok
}

// SetArray stores an array under key and reports whether it succeeded.
// See codec.FromGo for the values it may hold.
func (instance *Instance) SetArray(key string, value []interface{}) bool {
	ok, _ := instance.trySet("SetArray", key, value)

	return ok
}

// GetString returns the string stored under key
func (instance *Instance) GetString(key string) (string, error) {
	value, err := instance.GetValue(key)

	if err != nil {
		return "", err
	}

	return value.AsString()
}

// GetInt returns the integer stored under key
func (instance *Instance) GetInt(key string) (int64, error) {
	value, err := instance.GetValue(key)

	if err != nil {
		return 0, err
	}

	return value.AsInt()
}

// GetBool returns the boolean stored under key
func (instance *Instance) GetBool(key string) (bool, error) {
	value, err := instance.GetValue(key)

	if err != nil {
		return false, err
	}

	return value.AsBool()
}

// GetMap returns the map stored under key
func (instance *Instance) GetMap(key string) (map[string]interface{}, error) {
	value, err := instance.GetValue(key)

	if err != nil {
		return nil, err
	}

	if _, err := value.AsMap(); err != nil {
		return nil, err
	}

	return value.Interface().(map[string]interface{}), nil
}

// GetArray returns the array stored under key
func (instance *Instance) GetArray(key string) ([]interface{}, error) {
	value, err := instance.GetValue(key)

	if err != nil {
		return nil, err
	}

	if _, err := value.AsArray(); err != nil {
		return nil, err
	}

	return value.Interface().([]interface{}), nil
}

// GetMultipleItems reads maps and arrays for several keys at once
// from one snapshot. Each key gets its own Item in request order.
// Missing keys and keys holding scalars are reported through
// Item.Err, only failures of the instance itself fail the call.
func (instance *Instance) GetMultipleItems(keys []string) ([]Item, error) {
	items := make([]Item, len(keys))

	err := instance.view(func(tx kv.Transaction, state *keyState) error {
		for i, key := range keys {
			items[i].Key = key

			if err := validateKey(key); err != nil {
				items[i].Err = err

				continue
			}

			stored, err := tx.Get([]byte(key))

			if err != nil {
				return wrapError("could not read value", err)
			} else if stored == nil {
				items[i].Err = fmt.Errorf("%w: %q", ErrNotFound, key)

				continue
			}

			value, err := decode(state, key, stored)

			if err != nil {
				items[i].Err = err

				continue
			}

			if tag := value.Tag(); tag != codec.TagMap && tag != codec.TagArray {
				items[i].Err = fmt.Errorf("%w: %q holds a %s, want map or array", ErrTypeMismatch, key, tag)

				continue
			}

			items[i].Value = value.Interface()
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return items, nil
}

// GetKeys returns every key in ascending order as of one
// point in time
func (instance *Instance) GetKeys() ([]string, error) {
	keys := []string{}

	err := instance.view(func(tx kv.Transaction, state *keyState) error {
		return wrapError("could not list keys", tx.ForEach(func(key, value []byte) error {
			keys = append(keys, string(key))

			return nil
		}))
	})

	if err != nil {
		return nil, err
	}

	return keys, nil
}

// HasKey reports whether anything is stored under key. Nothing is
// ever stored under the empty key so it is reported missing.
func (instance *Instance) HasKey(key string) (bool, error) {
	var found bool

	err := instance.view(func(tx kv.Transaction, state *keyState) error {
		if key == "" {
			return nil
		}

		stored, err := tx.Get([]byte(key))
		found = stored != nil

		return wrapError("could not read value", err)
	})

	return found, err
}

// RemoveItem deletes key. Removing a missing key succeeds.
func (instance *Instance) RemoveItem(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	return instance.update(func(tx kv.Transaction, state *keyState) error {
		return wrapError("could not delete value", tx.Delete([]byte(key)))
	})
}

// ClearStore deletes every key
func (instance *Instance) ClearStore() error {
	return instance.update(func(tx kv.Transaction, state *keyState) error {
		return wrapError("could not clear store", tx.Clear())
	})
}
