package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/kvault/config"
	"github.com/jrife/kvault/store"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
root: /var/lib/kvault
lockTimeout: 250ms
log:
  level: debug
instances:
  - id: secure
    encryption: true
    alias: app-key
    processMode: multi
  - id: cache
`)

	cfg, err := config.Load(path)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	expected := config.Config{
		Root:        "/var/lib/kvault",
		Plugin:      "bbolt",
		LockTimeout: 250 * time.Millisecond,
		Vault:       config.Vault{Path: filepath.Join("/var/lib/kvault", "vault.json"), PassphraseEnv: config.DefaultPassphraseEnv},
		Log:         config.Log{Level: "debug"},
		Instances: []config.Instance{
			{ID: "secure", Encryption: true, Alias: "app-key", ProcessMode: store.MultiProcess},
			{ID: "cache"},
		},
	}

	if diff := cmp.Diff(expected, cfg); diff != "" {
		t.Fatal(diff)
	}

	storeConfig, err := cfg.Instance("secure").StoreConfig()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !storeConfig.Encryption() || storeConfig.Alias() != "app-key" || storeConfig.ProcessMode() != store.MultiProcess {
		t.Fatalf("unexpected store config %#v", storeConfig)
	}

	if unlisted := cfg.Instance("other"); unlisted.ID != "other" || unlisted.Encryption {
		t.Fatalf("expected default settings for an unlisted instance, got %#v", unlisted)
	}

	if _, err := cfg.Logger(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	testCases := map[string]string{
		"unknown plugin":      "plugin: nope\n",
		"negative timeout":    "lockTimeout: -1s\n",
		"bad level":           "log:\n  level: loud\n",
		"bad process mode":    "instances:\n  - id: a\n    processMode: many\n",
		"encrypted default":   "instances:\n  - id: default\n    encryption: true\n",
		"alias without key":   "instances:\n  - id: a\n    alias: x\n",
		"duplicate instances": "instances:\n  - id: a\n  - id: a\n",
		"bad id":              "instances:\n  - id: ../a\n",
		"not yaml":            "root: [\n",
	}

	for name, contents := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestOpenVault(t *testing.T) {
	cfg := config.Default()
	cfg.Vault.Path = filepath.Join(t.TempDir(), "vault.json")
	cfg.Vault.PassphraseEnv = "KVAULT_TEST_PASSPHRASE"

	t.Setenv("KVAULT_TEST_PASSPHRASE", "")

	if _, err := cfg.OpenVault(); err == nil {
		t.Fatalf("expected an error without a passphrase")
	}

	t.Setenv("KVAULT_TEST_PASSPHRASE", "secret")

	v, err := cfg.OpenVault()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	v.Close()
}
