package vault_test

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvault/vault"
)

var testParams = vault.ScryptParams{N: 1 << 10, R: 8, P: 1}

type vaultBuilder func(t *testing.T) vault.Vault

func TestVaults(t *testing.T) {
	builders := map[string]vaultBuilder{
		"memory": func(t *testing.T) vault.Vault {
			return vault.NewMemoryVault()
		},
		"file": func(t *testing.T) vault.Vault {
			v, err := vault.OpenFileVault(filepath.Join(t.TempDir(), "vault.json"), "secret", testParams)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			t.Cleanup(func() { v.Close() })

			return v
		},
	}

	for name, builder := range builders {
		t.Run(name, func(t *testing.T) { testVault(builder(t), t) })
	}
}

func testVault(v vault.Vault, t *testing.T) {
	record := vault.Record{Alias: "a", Key: []byte("0123456789abcdef0123456789abcdef"), InstanceID: "default"}

	if err := v.Put(record); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// Mutating the caller's slice must not change the stored key
	record.Key[0] = 'X'

	got, ok, err := v.Get("a")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !ok {
		t.Fatalf("expected record to be found")
	}

	expected := vault.Record{Alias: "a", Key: []byte("0123456789abcdef0123456789abcdef"), InstanceID: "default"}

	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatal(diff)
	}

	if _, ok, err := v.Get("missing"); err != nil || ok {
		t.Fatalf("expected missing alias to be absent, got %v %#v", ok, err)
	}

	if err := v.Put(vault.Record{Alias: "a", Key: []byte("other"), InstanceID: "second"}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	got, _, _ = v.Get("a")

	if string(got.Key) != "other" || got.InstanceID != "second" {
		t.Fatalf("expected Put to replace the record, got %#v", got)
	}

	if err := v.Delete("a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := v.Delete("a"); err != nil {
		t.Fatalf("expected deleting a missing alias to succeed, got %#v", err)
	}

	if _, ok, _ := v.Get("a"); ok {
		t.Fatalf("expected record to be deleted")
	}

	if err := v.Put(vault.Record{Key: []byte("k")}); !errors.Is(err, vault.ErrEmptyAlias) {
		t.Fatalf("expected ErrEmptyAlias, got %#v", err)
	}
}

func TestFileVaultReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.json")
	v, err := vault.OpenFileVault(path, "secret", testParams)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	v.Put(vault.Record{Alias: "x", Key: []byte("key-x")})
	v.Put(vault.Record{Alias: "y", Key: []byte("key-y")})
	v.Close()

	info, err := os.Stat(path)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected vault file mode 0600, got %v", info.Mode().Perm())
	}

	if _, err := vault.OpenFileVault(path, "wrong", testParams); !errors.Is(err, vault.ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %#v", err)
	}

	v, err = vault.OpenFileVault(path, "secret", vault.ScryptParams{})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer v.Close()

	aliases, err := v.Aliases()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"x", "y"}, aliases); diff != "" {
		t.Fatal(diff)
	}

	got, ok, err := v.Get("y")

	if err != nil || !ok || string(got.Key) != "key-y" {
		t.Fatalf("expected key-y, got %#v %v %#v", got, ok, err)
	}
}

func TestFileVaultShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	first, err := vault.OpenFileVault(path, "secret", testParams)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer first.Close()

	second, err := vault.OpenFileVault(path, "secret", testParams)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer second.Close()

	first.Put(vault.Record{Alias: "one", Key: []byte("1")})
	second.Put(vault.Record{Alias: "two", Key: []byte("2")})

	aliases, _ := first.Aliases()

	if diff := cmp.Diff([]string{"one", "two"}, aliases); diff != "" {
		t.Fatal(diff)
	}

	if _, ok, _ := second.Get("one"); !ok {
		t.Fatalf("expected second handle to see the first handle's record")
	}
}

func TestMemoryVaultAliases(t *testing.T) {
	v := vault.NewMemoryVault()
	v.Put(vault.Record{Alias: "b", Key: []byte("2")})
	v.Put(vault.Record{Alias: "a", Key: []byte("1")})

	aliases := v.Aliases()
	sort.Strings(aliases)

	if diff := cmp.Diff([]string{"a", "b"}, aliases); diff != "" {
		t.Fatal(diff)
	}
}
