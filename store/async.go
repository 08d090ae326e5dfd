package store

import (
	"github.com/jrife/kvault/codec"
	"github.com/jrife/kvault/utils/taskqueue"
)

// Every instance owns one task queue. Asynchronous operations on an
// instance run one at a time in the order they were submitted, and
// the returned future reports the same result as the synchronous form.
func submit[T any](instance *Instance, fn func() (T, error)) *taskqueue.Future[T] {
	return taskqueue.Submit(instance.queue, fn)
}

// setAsync converts native before it is queued so that the caller
// may reuse it as soon as setAsync returns
func (instance *Instance) setAsync(operation, key string, native interface{}) *taskqueue.Future[bool] {
	value, err := codec.FromGo(native)

	return submit(instance, func() (bool, error) { return instance.storeConverted(operation, key, value, err) })
}

// SetValueAsync is the asynchronous form of SetValue. The future's
// error says why the value wasn't stored.
func (instance *Instance) SetValueAsync(key string, value codec.Value) *taskqueue.Future[bool] {
	return instance.setAsync("SetValue", key, value)
}

// SetStringAsync is the asynchronous form of SetString
func (instance *Instance) SetStringAsync(key string, value string) *taskqueue.Future[bool] {
	return instance.setAsync("SetString", key, value)
}

// SetIntAsync is the asynchronous form of SetInt
func (instance *Instance) SetIntAsync(key string, value int64) *taskqueue.Future[bool] {
	return instance.setAsync("SetInt", key, value)
}

// SetBoolAsync is the asynchronous form of SetBool
func (instance *Instance) SetBoolAsync(key string, value bool) *taskqueue.Future[bool] {
	return instance.setAsync("SetBool", key, value)
}

// SetMapAsync is the asynchronous form of SetMap
func (instance *Instance) SetMapAsync(key string, value map[string]interface{}) *taskqueue.Future[bool] {
	return instance.setAsync("SetMap", key, value)
}

// SetArrayAsync is the asynchronous form of SetArray
func (instance *Instance) SetArrayAsync(key string, value []interface{}) *taskqueue.Future[bool] {
	return instance.setAsync("SetArray", key, value)
}

// GetValueAsync is the asynchronous form of GetValue
func (instance *Instance) GetValueAsync(key string) *taskqueue.Future[codec.Value] {
	return submit(instance, func() (codec.Value, error) { return instance.GetValue(key) })
}

// GetStringAsync is the asynchronous form of GetString
func (instance *Instance) GetStringAsync(key string) *taskqueue.Future[string] {
	return submit(instance, func() (string, error) { return instance.GetString(key) })
}

// GetIntAsync is the asynchronous form of GetInt
func (instance *Instance) GetIntAsync(key string) *taskqueue.Future[int64] {
	return submit(instance, func() (int64, error) { return instance.GetInt(key) })
}

// GetBoolAsync is the asynchronous form of GetBool
func (instance *Instance) GetBoolAsync(key string) *taskqueue.Future[bool] {
	return submit(instance, func() (bool, error) { return instance.GetBool(key) })
}

// GetMapAsync is the asynchronous form of GetMap
func (instance *Instance) GetMapAsync(key string) *taskqueue.Future[map[string]interface{}] {
	return submit(instance, func() (map[string]interface{}, error) { return instance.GetMap(key) })
}

// GetArrayAsync is the asynchronous form of GetArray
func (instance *Instance) GetArrayAsync(key string) *taskqueue.Future[[]interface{}] {
	return submit(instance, func() ([]interface{}, error) { return instance.GetArray(key) })
}

// GetMultipleItemsAsync is the asynchronous form of GetMultipleItems
func (instance *Instance) GetMultipleItemsAsync(keys []string) *taskqueue.Future[[]Item] {
	keys = append([]string(nil), keys...)

	return submit(instance, func() ([]Item, error) { return instance.GetMultipleItems(keys) })
}

// GetKeysAsync is the asynchronous form of GetKeys
func (instance *Instance) GetKeysAsync() *taskqueue.Future[[]string] {
	return submit(instance, instance.GetKeys)
}

// HasKeyAsync is the asynchronous form of HasKey
func (instance *Instance) HasKeyAsync(key string) *taskqueue.Future[bool] {
	return submit(instance, func() (bool, error) { return instance.HasKey(key) })
}

// RemoveItemAsync is the asynchronous form of RemoveItem
func (instance *Instance) RemoveItemAsync(key string) *taskqueue.Future[struct{}] {
	return submit(instance, func() (struct{}, error) { return struct{}{}, instance.RemoveItem(key) })
}

// ClearStoreAsync is the asynchronous form of ClearStore
func (instance *Instance) ClearStoreAsync() *taskqueue.Future[struct{}] {
	return submit(instance, func() (struct{}, error) { return struct{}{}, instance.ClearStore() })
}
