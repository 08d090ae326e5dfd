package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jrife/kvault/encryption"
)

const (
	// DefaultID is the reserved ID of the default instance
	DefaultID = "default"
	// DefaultAliasPrefix prefixes the instance ID to form the
	// vault alias used when no alias is given
	DefaultAliasPrefix = "kvault.key."
)

// ProcessMode says whether an instance may be shared with
// other operating system processes
type ProcessMode int

const (
	// SingleProcess instances are only safe within one process
	SingleProcess ProcessMode = iota
	// MultiProcess instances coordinate with other processes
	// through a lock file
	MultiProcess
)

func (mode ProcessMode) String() string {
	switch mode {
	case SingleProcess:
		return "single"
	case MultiProcess:
		return "multi"
	}

	return fmt.Sprintf("ProcessMode(%d)", int(mode))
}

// ParseProcessMode parses the text form of a ProcessMode
func ParseProcessMode(s string) (ProcessMode, error) {
	switch strings.ToLower(s) {
	case "", "single":
		return SingleProcess, nil
	case "multi":
		return MultiProcess, nil
	}

	return 0, fmt.Errorf("%w: unknown process mode %q", ErrConfig, s)
}

// MarshalText implements encoding.TextMarshaler
func (mode ProcessMode) MarshalText() ([]byte, error) {
	if mode != SingleProcess && mode != MultiProcess {
		return nil, fmt.Errorf("%w: unknown process mode %d", ErrConfig, int(mode))
	}

	return []byte(mode.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (mode *ProcessMode) UnmarshalText(text []byte) error {
	parsed, err := ParseProcessMode(string(text))

	if err != nil {
		return err
	}

	*mode = parsed

	return nil
}

// Config describes one instance. It is immutable and
// can only be built through NewConfig or Default.
type Config struct {
	id               string
	encryption       bool
	key              []byte
	secureKeyStorage bool
	alias            string
	processMode      ProcessMode
}

// Option adjusts a Config under construction
type Option func(config *Config) error

// NewConfig validates id and applies opts in order
func NewConfig(id string, opts ...Option) (Config, error) {
	if err := validateID(id); err != nil {
		return Config{}, err
	}

	config := Config{id: id}

	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return Config{}, err
		}
	}

	return config, nil
}

// Default builds the config of the default instance
func Default(opts ...Option) (Config, error) {
	return NewConfig(DefaultID, opts...)
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: instance ID must not be empty", ErrConfig)
	}

	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("%w: instance ID %q must be a single path element", ErrConfig, id)
	}

	return nil
}

// WithEncryption encrypts the instance with a key kept in the
// vault, generating one on first use. The default instance
// can't be encrypted.
func WithEncryption() Option {
	return func(config *Config) error {
		if config.id == DefaultID {
			return fmt.Errorf("%w: encryption requires an explicit instance ID", ErrConfig)
		}

		config.encryption = true
		config.secureKeyStorage = true

		return nil
	}
}

// WithCustomKey supplies the encryption key. It must follow
// WithEncryption. If secureKeyStorage is false the key is never
// written to the vault and has to be supplied on every start.
// An empty alias selects the default alias.
func WithCustomKey(key []byte, secureKeyStorage bool, alias string) Option {
	return func(config *Config) error {
		if !config.encryption {
			return fmt.Errorf("%w: WithCustomKey requires WithEncryption", ErrConfig)
		}

		if len(key) != encryption.KeySize {
			return fmt.Errorf("%w: %s", ErrConfig, encryption.ErrInvalidKey)
		}

		config.key = append([]byte(nil), key...)
		config.secureKeyStorage = secureKeyStorage
		config.alias = alias

		return nil
	}
}

// WithKeyAlias stores the generated key under alias instead
// of the default alias. It must follow WithEncryption.
func WithKeyAlias(alias string) Option {
	return func(config *Config) error {
		if !config.encryption {
			return fmt.Errorf("%w: WithKeyAlias requires WithEncryption", ErrConfig)
		}

		config.alias = alias

		return nil
	}
}

// WithProcessMode sets the process mode. The default is SingleProcess.
func WithProcessMode(mode ProcessMode) Option {
	return func(config *Config) error {
		if mode != SingleProcess && mode != MultiProcess {
			return fmt.Errorf("%w: unknown process mode %d", ErrConfig, int(mode))
		}

		config.processMode = mode

		return nil
	}
}

// ID returns the instance ID
func (config Config) ID() string {
	return config.id
}

// Encryption reports whether encryption was requested
func (config Config) Encryption() bool {
	return config.encryption
}

// Key returns a copy of the caller supplied key or nil
func (config Config) Key() []byte {
	if config.key == nil {
		return nil
	}

	return append([]byte(nil), config.key...)
}

// SecureKeyStorage reports whether the key is kept in the vault
func (config Config) SecureKeyStorage() bool {
	return config.secureKeyStorage
}

// Alias returns the vault alias for the key
func (config Config) Alias() string {
	return aliasFor(config.id, config.alias)
}

// ProcessMode returns the process mode
func (config Config) ProcessMode() ProcessMode {
	return config.processMode
}

func aliasFor(id, alias string) string {
	if alias != "" {
		return alias
	}

	return DefaultAliasPrefix + id
}
