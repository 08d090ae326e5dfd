package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrife/kvault/storage/kv"
	"github.com/jrife/kvault/storage/kv/plugins"
	"github.com/jrife/kvault/utils/log"
	"github.com/jrife/kvault/vault"
	"go.uber.org/zap"
)

// DefaultPlugin is the storage driver used when
// RegistryConfig.Plugin is nil
const DefaultPlugin = "bbolt"

// RegistryConfig contains configuration for a Registry
type RegistryConfig struct {
	// Root is the directory holding one subdirectory per
	// instance. Durable drivers require it.
	Root string
	// Plugin is the storage driver for every instance
	Plugin kv.Plugin
	// Vault holds encryption keys. It may be nil if no
	// instance keeps its key in the vault.
	Vault vault.Vault
	// Logger defaults to zap.L()
	Logger *zap.Logger
	// LockTimeout bounds waits for locks held by other
	// processes. Zero waits forever.
	LockTimeout time.Duration
}

// Registry maps instance IDs to live instances. It holds
// at most one Instance per ID and hands the same Instance
// to every caller that initializes that ID.
type Registry struct {
	config    RegistryConfig
	logger    *zap.Logger
	mu        sync.Mutex
	instances map[string]*Instance
	// opening tracks instances being opened. mu is not held
	// while an instance opens since that may wait on other
	// processes.
	opening map[string]*opening
	closed  bool
}

// opening is an instance that is still being opened. done is
// closed once instance and err are set.
type opening struct {
	done     chan struct{}
	instance *Instance
	err      error
}

func (o *opening) wait() (*Instance, error) {
	<-o.done

	return o.instance, o.err
}

// NewRegistry creates an empty registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Plugin == nil {
		config.Plugin = plugins.Plugin(DefaultPlugin)
	}

	if config.Plugin.Durable() && config.Root == "" {
		return nil, fmt.Errorf("%w: the %s driver requires a root directory", ErrConfig, config.Plugin.Name())
	}

	if config.LockTimeout < 0 {
		return nil, fmt.Errorf("%w: lock timeout must not be negative", ErrConfig)
	}

	registry := &Registry{config: config, logger: config.Logger, instances: map[string]*Instance{}, opening: map[string]*opening{}}

	if registry.logger == nil {
		registry.logger = zap.L()
	}

	return registry, nil
}

// Initialize returns the instance for config.ID(), opening it if
// this is the first call for that ID. If the instance is already
// open it is returned as is and the rest of config is ignored.
func (registry *Registry) Initialize(ctx context.Context, config Config) (*Instance, error) {
	if config.id == "" {
		return nil, fmt.Errorf("%w: config must be built with NewConfig", ErrConfig)
	}

	logger, _ := log.LoggerFromContext(ctx, registry.logger)
	logger = logger.With(zap.String("operation", "Initialize"), zap.String("instance", config.id))
	logger.Debug("start Initialize()", zap.Bool("encryption", config.encryption), zap.Stringer("processMode", config.processMode))

	registry.mu.Lock()

	if registry.closed {
		registry.mu.Unlock()

		return nil, fmt.Errorf("%w: registry was closed", ErrState)
	}

	if instance, ok := registry.instances[config.id]; ok {
		registry.mu.Unlock()
		logger.Info("instance is already initialized, ignoring new settings")

		return instance, nil
	}

	if pending, ok := registry.opening[config.id]; ok {
		registry.mu.Unlock()
		logger.Info("instance is being initialized, ignoring new settings")

		return pending.wait()
	}

	pending := &opening{done: make(chan struct{})}
	registry.opening[config.id] = pending
	registry.mu.Unlock()

	instance, err := openInstance(registry.config, registry.logger, config)

	registry.mu.Lock()
	delete(registry.opening, config.id)

	if err == nil && registry.closed {
		instance.close()
		instance, err = nil, fmt.Errorf("%w: registry was closed", ErrState)
	}

	if err == nil {
		registry.instances[config.id] = instance
	}

	pending.instance, pending.err = instance, err
	close(pending.done)
	registry.mu.Unlock()

	if err != nil {
		logger.Debug("error", zap.Error(err))

		return nil, err
	}

	logger.Debug("return from Initialize()", zap.Bool("encrypted", instance.Encrypted()), zap.String("alias", instance.Alias()))

	return instance, nil
}

// Instance returns the instance with this ID, waiting for it if
// it is still being opened. It fails with ErrState if the ID was
// never initialized.
func (registry *Registry) Instance(id string) (*Instance, error) {
	registry.mu.Lock()

	if registry.closed {
		registry.mu.Unlock()

		return nil, fmt.Errorf("%w: registry was closed", ErrState)
	}

	if instance, ok := registry.instances[id]; ok {
		registry.mu.Unlock()

		return instance, nil
	}

	pending, ok := registry.opening[id]
	registry.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: instance %q was never initialized", ErrState, id)
	}

	return pending.wait()
}

// Close closes every instance. Operations on those instances
// fail with ErrState afterwards. Instances still being opened are
// closed as soon as they finish opening.
func (registry *Registry) Close() error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.closed {
		return nil
	}

	registry.closed = true

	var firstErr error

	for id, instance := range registry.instances {
		if err := instance.close(); err != nil {
			registry.logger.Warn("could not close instance", zap.String("instance", id), zap.Error(err))

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
