package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvault/codec"
	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/storage/kv/plugins"
	"github.com/jrife/kvault/store"
	"github.com/jrife/kvault/vault"
	"go.uber.org/zap/zaptest"
)

func newRegistry(t *testing.T, plugin kv.Plugin, root string, keys vault.Vault) *store.Registry {
	registry, err := store.NewRegistry(store.RegistryConfig{
		Root:   root,
		Plugin: plugin,
		Vault:  keys,
		Logger: zaptest.NewLogger(t),
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	t.Cleanup(func() { registry.Close() })

	return registry
}

func initialize(t *testing.T, registry *store.Registry, id string, opts ...store.Option) *store.Instance {
	config, err := store.NewConfig(id, opts...)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	instance, err := registry.Initialize(context.Background(), config)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return instance
}

func forEachPlugin(t *testing.T, fn func(t *testing.T, plugin kv.Plugin)) {
	for _, plugin := range plugins.Plugins() {
		t.Run(plugin.Name(), func(t *testing.T) { fn(t, plugin) })
	}
}

func expectKeys(t *testing.T, instance *store.Instance, expected []string) {
	t.Helper()

	keys, err := instance.GetKeys()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(expected, keys); diff != "" {
		t.Fatal(diff)
	}
}

func TestDefaultInstance(t *testing.T) {
	forEachPlugin(t, func(t *testing.T, plugin kv.Plugin) {
		registry := newRegistry(t, plugin, t.TempDir(), nil)
		config, err := store.Default()

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		instance, err := registry.Initialize(context.Background(), config)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if !instance.SetString("a", "hello") {
			t.Fatalf("expected SetString to succeed")
		}

		if s, err := instance.GetString("a"); err != nil || s != "hello" {
			t.Fatalf("expected hello, got %q %#v", s, err)
		}

		if !instance.SetInt("n", 42) {
			t.Fatalf("expected SetInt to succeed")
		}

		if n, err := instance.GetInt("n"); err != nil || n != 42 {
			t.Fatalf("expected 42, got %d %#v", n, err)
		}

		expectKeys(t, instance, []string{"a", "n"})

		if err := instance.RemoveItem("a"); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if ok, err := instance.HasKey("a"); err != nil || ok {
			t.Fatalf("expected a to be gone, got %v %#v", ok, err)
		}

		if err := instance.ClearStore(); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		expectKeys(t, instance, []string{})
	})
}

func TestRoundTrip(t *testing.T) {
	forEachPlugin(t, func(t *testing.T, plugin kv.Plugin) {
		registry := newRegistry(t, plugin, t.TempDir(), vault.NewMemoryVault())

		for _, instance := range []*store.Instance{
			initialize(t, registry, "plain"),
			initialize(t, registry, "sealed", store.WithEncryption()),
		} {
			nested := map[string]interface{}{
				"name":  "kvault",
				"count": int64(-7),
				"ok":    true,
				"list":  []interface{}{"a", int64(1), false, map[string]interface{}{}},
				"deep":  map[string]interface{}{"deeper": []interface{}{[]interface{}{"x"}}},
			}

			if !instance.SetString("s", "héllo") || !instance.SetInt("i", -1<<63) || !instance.SetBool("b", true) {
				t.Fatalf("expected scalar setters to succeed")
			}

			if !instance.SetMap("m", nested) || !instance.SetArray("a", []interface{}{nested, "tail"}) {
				t.Fatalf("expected container setters to succeed")
			}

			if s, _ := instance.GetString("s"); s != "héllo" {
				t.Fatalf("expected héllo, got %q", s)
			}

			if i, _ := instance.GetInt("i"); i != -1<<63 {
				t.Fatalf("expected min int64, got %d", i)
			}

			if b, _ := instance.GetBool("b"); !b {
				t.Fatalf("expected true")
			}

			m, err := instance.GetMap("m")

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(nested, m); diff != "" {
				t.Fatal(diff)
			}

			a, err := instance.GetArray("a")

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff([]interface{}{nested, "tail"}, a); diff != "" {
				t.Fatal(diff)
			}

			value, err := instance.GetValue("m")

			if err != nil || value.Tag() != codec.TagMap {
				t.Fatalf("expected a map value, got %v %#v", value.Tag(), err)
			}
		}
	})
}

func TestUnrepresentableValues(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", nil)
	instance := initialize(t, registry, "values")

	if instance.SetMap("m", map[string]interface{}{"f": 1.5}) {
		t.Fatalf("expected a fractional number to be rejected")
	}

	if instance.SetArray("a", []interface{}{struct{}{}}) {
		t.Fatalf("expected an unsupported type to be rejected")
	}

	if instance.SetString("", "x") {
		t.Fatalf("expected an empty key to be rejected")
	}

	if ok, _ := instance.HasKey("m"); ok {
		t.Fatalf("expected failed set to store nothing")
	}
}

func TestErrors(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", nil)
	instance := initialize(t, registry, "errors")

	instance.SetMap("m", map[string]interface{}{"x": int64(1)})
	instance.SetString("s", "1")

	if _, err := instance.GetInt("m"); !errors.Is(err, store.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %#v", err)
	}

	if _, err := instance.GetMap("s"); !errors.Is(err, store.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %#v", err)
	}

	if _, err := instance.GetString("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", err)
	}

	if _, err := instance.GetBool(""); !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %#v", err)
	}

	if ok, err := instance.HasKey(""); err != nil || ok {
		t.Fatalf("expected empty key to be missing, got %v %#v", ok, err)
	}

	registry.Close()

	if _, err := instance.HasKey(""); !errors.Is(err, store.ErrState) {
		t.Fatalf("expected ErrState, got %#v", err)
	}
}

func TestIdempotence(t *testing.T) {
	forEachPlugin(t, func(t *testing.T, plugin kv.Plugin) {
		registry := newRegistry(t, plugin, t.TempDir(), nil)
		instance := initialize(t, registry, "idempotence")

		instance.SetBool("k", true)
		instance.SetBool("other", false)

		for i := 0; i < 2; i++ {
			if err := instance.RemoveItem("k"); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			expectKeys(t, instance, []string{"other"})
		}

		for i := 0; i < 2; i++ {
			if err := instance.ClearStore(); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			expectKeys(t, instance, []string{})
		}
	})
}

func TestIsolation(t *testing.T) {
	forEachPlugin(t, func(t *testing.T, plugin kv.Plugin) {
		registry := newRegistry(t, plugin, t.TempDir(), nil)
		first := initialize(t, registry, "first")
		second := initialize(t, registry, "second")

		first.SetString("shared", "first")
		second.SetString("shared", "second")
		second.SetInt("only-second", 2)

		if s, _ := first.GetString("shared"); s != "first" {
			t.Fatalf("expected first, got %q", s)
		}

		first.ClearStore()

		expectKeys(t, first, []string{})
		expectKeys(t, second, []string{"only-second", "shared"})
	})
}

func TestGetMultipleItems(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", vault.NewMemoryVault())
	instance := initialize(t, registry, "multi", store.WithEncryption())

	instance.SetMap("m", map[string]interface{}{"x": int64(1)})
	instance.SetArray("a", []interface{}{"y"})
	instance.SetString("s", "scalar")

	items, err := instance.GetMultipleItems([]string{"a", "missing", "s", "m", ""})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}

	if diff := cmp.Diff([]interface{}{"y"}, items[0].Value); diff != "" || items[0].Err != nil {
		t.Fatalf("unexpected array item %#v: %s", items[0], diff)
	}

	if !errors.Is(items[1].Err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %#v", items[1].Err)
	}

	if !errors.Is(items[2].Err, store.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %#v", items[2].Err)
	}

	if diff := cmp.Diff(map[string]interface{}{"x": int64(1)}, items[3].Value); diff != "" || items[3].Key != "m" {
		t.Fatalf("unexpected map item %#v: %s", items[3], diff)
	}

	if !errors.Is(items[4].Err, store.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %#v", items[4].Err)
	}
}

func TestSingleton(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", vault.NewMemoryVault())

	if _, err := registry.Instance("late"); !errors.Is(err, store.ErrState) {
		t.Fatalf("expected ErrState, got %#v", err)
	}

	first := initialize(t, registry, "late")
	second := initialize(t, registry, "late", store.WithEncryption())

	if first != second {
		t.Fatalf("expected the same instance for the same ID")
	}

	if second.Encrypted() {
		t.Fatalf("expected settings of the second Initialize to be ignored")
	}

	found, err := registry.Instance("late")

	if err != nil || found != first {
		t.Fatalf("expected Instance to return the initialized instance, got %p %#v", found, err)
	}
}

func TestClose(t *testing.T) {
	forEachPlugin(t, func(t *testing.T, plugin kv.Plugin) {
		registry := newRegistry(t, plugin, t.TempDir(), nil)
		instance := initialize(t, registry, "closing")
		instance.SetString("a", "1")

		if err := registry.Close(); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		if instance.SetString("a", "2") {
			t.Fatalf("expected setter on a closed instance to fail")
		}

		if _, err := instance.GetString("a"); !errors.Is(err, store.ErrState) {
			t.Fatalf("expected ErrState, got %#v", err)
		}

		if _, err := instance.SetStringAsync("a", "3").Wait(); !errors.Is(err, store.ErrState) {
			t.Fatalf("expected ErrState, got %#v", err)
		}

		if _, err := registry.Instance("closing"); !errors.Is(err, store.ErrState) {
			t.Fatalf("expected ErrState, got %#v", err)
		}

		config, _ := store.NewConfig("closing")

		if _, err := registry.Initialize(context.Background(), config); !errors.Is(err, store.ErrState) {
			t.Fatalf("expected ErrState, got %#v", err)
		}
	})
}

func TestPersistence(t *testing.T) {
	root := t.TempDir()
	keys := vault.NewMemoryVault()
	registry := newRegistry(t, plugins.Plugin("bbolt"), root, keys)
	instance := initialize(t, registry, "durable")
	instance.SetArray("list", []interface{}{int64(1), int64(2)})
	registry.Close()

	registry = newRegistry(t, plugins.Plugin("bbolt"), root, keys)
	instance = initialize(t, registry, "durable")

	list, err := instance.GetArray("list")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]interface{}{int64(1), int64(2)}, list); diff != "" {
		t.Fatal(diff)
	}
}

func TestAsync(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", nil)
	instance := initialize(t, registry, "async")

	var mu sync.Mutex
	order := []int{}
	futures := []interface{ Wait() (bool, error) }{}

	for i := 0; i < 50; i++ {
		i := i
		future := instance.SetIntAsync("n", int64(i))
		future.OnComplete(func(ok bool, err error) {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, i)
		})
		futures = append(futures, future)
	}

	n, err := instance.GetIntAsync("n").Wait()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if n != 49 {
		t.Fatalf("expected the last submitted write to win, got %d", n)
	}

	expected := []int{}

	for i, future := range futures {
		if ok, err := future.Wait(); !ok || err != nil {
			t.Fatalf("expected write %d to succeed, got %v %#v", i, ok, err)
		}

		expected = append(expected, i)
	}

	mu.Lock()
	defer mu.Unlock()

	if diff := cmp.Diff(expected, order); diff != "" {
		t.Fatal(diff)
	}

	if _, err := instance.GetStringAsync("n").Wait(); !errors.Is(err, store.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %#v", err)
	}

	if ok, err := instance.SetStringAsync("", "x").Wait(); ok || !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v %#v", ok, err)
	}

	if _, err := instance.ClearStoreAsync().Wait(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	keys, err := instance.GetKeysAsync().Wait()

	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys, got %v %#v", keys, err)
	}
}

func TestAsyncCallerReuse(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("memory"), "", nil)
	instance := initialize(t, registry, "reuse")

	m := map[string]interface{}{"x": int64(1)}
	a := []interface{}{"a", map[string]interface{}{"n": int64(1)}}
	children := map[string]codec.Value{"v": codec.Bool(true)}

	// Keep the queued writes waiting while the caller changes its values
	release := store.Hold(instance)
	futures := []interface{ Wait() (bool, error) }{
		instance.SetMapAsync("map", m),
		instance.SetArrayAsync("array", a),
		instance.SetValueAsync("value", codec.Map(children)),
	}

	for i := 0; i < 1000; i++ {
		m["y"] = int64(i)
		a[0] = fmt.Sprintf("b%d", i)
		a[1].(map[string]interface{})["n"] = int64(i)
		children["w"] = codec.Int(int64(i))
	}

	release()

	for i, future := range futures {
		if ok, err := future.Wait(); !ok || err != nil {
			t.Fatalf("expected write %d to succeed, got %v %#v", i, ok, err)
		}
	}

	actual := map[string]interface{}{}

	for _, key := range []string{"map", "array", "value"} {
		value, err := instance.GetValue(key)

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		actual[key] = value.Interface()
	}

	expected := map[string]interface{}{
		"map":   map[string]interface{}{"x": int64(1)},
		"array": []interface{}{"a", map[string]interface{}{"n": int64(1)}},
		"value": map[string]interface{}{"v": true},
	}

	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatal(diff)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	registry := newRegistry(t, plugins.Plugin("bbolt"), t.TempDir(), nil)
	instance := initialize(t, registry, "busy")

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	for w := 0; w < 4; w++ {
		w := w
		wg.Add(2)

		go func() {
			defer wg.Done()

			for i := 0; i < 20; i++ {
				if !instance.SetString(fmt.Sprintf("key-%d-%d", w, i), "v") {
					errs <- fmt.Errorf("write %d-%d failed", w, i)
				}
			}
		}()

		go func() {
			defer wg.Done()

			for i := 0; i < 20; i++ {
				if _, err := instance.GetKeys(); err != nil {
					errs <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	keys, _ := instance.GetKeys()

	if len(keys) != 80 {
		t.Fatalf("expected 80 keys, got %d", len(keys))
	}
}
