// Package config loads the kvault YAML configuration file
// and turns it into registry and instance settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jrife/kvault/storage/kv/plugins"
	"github.com/jrife/kvault/store"
	"github.com/jrife/kvault/vault"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultDir is the directory under the user's home
	// directory used when no root is configured
	DefaultDir = ".kvault"
	// DefaultFile is the config file looked up in the root
	DefaultFile = "config.yaml"
	// DefaultPassphraseEnv names the environment variable
	// holding the vault passphrase
	DefaultPassphraseEnv = "KVAULT_PASSPHRASE"
)

// Config is the contents of a kvault config file
type Config struct {
	Root        string        `yaml:"root"`
	Plugin      string        `yaml:"plugin"`
	LockTimeout time.Duration `yaml:"lockTimeout"`
	Vault       Vault         `yaml:"vault"`
	Log         Log           `yaml:"log"`
	Instances   []Instance    `yaml:"instances"`
}

// Vault configures the file vault
type Vault struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphraseEnv"`
}

// Log configures logging
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Instance preconfigures one instance
type Instance struct {
	ID          string            `yaml:"id"`
	Encryption  bool              `yaml:"encryption"`
	Alias       string            `yaml:"alias"`
	ProcessMode store.ProcessMode `yaml:"processMode"`
}

// DefaultRoot returns $HOME/.kvault
func DefaultRoot() string {
	home, err := os.UserHomeDir()

	if err != nil {
		return DefaultDir
	}

	return filepath.Join(home, DefaultDir)
}

// Default returns the configuration used without a config file
func Default() Config {
	var config Config

	config.applyDefaults()

	return config
}

// Load reads the config file at path and fills in defaults
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return Config{}, fmt.Errorf("could not read config file: %s", err)
	}

	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse config file %s: %s", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %s", path, err)
	}

	return config, nil
}

func (config *Config) applyDefaults() {
	if config.Root == "" {
		config.Root = DefaultRoot()
	}

	if config.Plugin == "" {
		config.Plugin = store.DefaultPlugin
	}

	if config.Vault.Path == "" {
		config.Vault.Path = filepath.Join(config.Root, "vault.json")
	}

	if config.Vault.PassphraseEnv == "" {
		config.Vault.PassphraseEnv = DefaultPassphraseEnv
	}

	if config.Log.Level == "" {
		config.Log.Level = "warn"
	}
}

// Validate checks the config for errors
func (config Config) Validate() error {
	if plugins.Plugin(config.Plugin) == nil {
		return fmt.Errorf("unknown plugin %q", config.Plugin)
	}

	if config.LockTimeout < 0 {
		return errors.New("lockTimeout must not be negative")
	}

	if _, err := zap.ParseAtomicLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", err)
	}

	seen := map[string]bool{}

	for i, instance := range config.Instances {
		if _, err := instance.StoreConfig(); err != nil {
			return fmt.Errorf("instance %d: %s", i, err)
		}

		if seen[instance.ID] {
			return fmt.Errorf("instance %q is configured twice", instance.ID)
		}

		seen[instance.ID] = true
	}

	return nil
}

// Instance returns the settings for id. Instances that aren't
// listed get plain default settings.
func (config Config) Instance(id string) Instance {
	for _, instance := range config.Instances {
		if instance.ID == id {
			return instance
		}
	}

	return Instance{ID: id}
}

// StoreConfig converts the entry into a store.Config
func (instance Instance) StoreConfig() (store.Config, error) {
	opts := []store.Option{store.WithProcessMode(instance.ProcessMode)}

	if instance.Encryption {
		opts = append(opts, store.WithEncryption())

		if instance.Alias != "" {
			opts = append(opts, store.WithKeyAlias(instance.Alias))
		}
	} else if instance.Alias != "" {
		return store.Config{}, fmt.Errorf("instance %q has an alias but no encryption", instance.ID)
	}

	return store.NewConfig(instance.ID, opts...)
}

// Logger builds the logger described by config.Log
func (config Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(config.Log.Level)

	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()

	if config.Log.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Level = level

	return zapConfig.Build()
}

// OpenVault opens the file vault with the passphrase from the
// configured environment variable
func (config Config) OpenVault() (*vault.FileVault, error) {
	passphrase := os.Getenv(config.Vault.PassphraseEnv)

	if passphrase == "" {
		return nil, fmt.Errorf("%s must hold the vault passphrase", config.Vault.PassphraseEnv)
	}

	return vault.OpenFileVault(config.Vault.Path, passphrase, vault.ScryptParams{})
}

// RegistryConfig returns the registry settings of config
func (config Config) RegistryConfig(logger *zap.Logger, keys vault.Vault) store.RegistryConfig {
	return store.RegistryConfig{
		Root:        config.Root,
		Plugin:      plugins.Plugin(config.Plugin),
		Vault:       keys,
		Logger:      logger,
		LockTimeout: config.LockTimeout,
	}
}
