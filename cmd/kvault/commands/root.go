package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jrife/kvault/config"
	"github.com/jrife/kvault/store"
	"github.com/jrife/kvault/utils/log"
	"github.com/jrife/kvault/vault"
)

type runFunc func(cmd *cobra.Command, args []string) error

// instanceFunc is the body of a subcommand
type instanceFunc func(cmd *cobra.Command, args []string, instance *store.Instance) error

// session holds what the root command opened for a subcommand
type session struct {
	logger   *zap.Logger
	vault    *vault.FileVault
	registry *store.Registry
	instance *store.Instance
}

func (s *session) close() {
	if s.registry != nil {
		s.registry.Close()
	}

	if s.vault != nil {
		s.vault.Close()
	}

	if s.logger != nil {
		s.logger.Sync()
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	path = filepath.Join(config.DefaultRoot(), config.DefaultFile)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}

	return config.Load(path)
}

func openSession(ctx context.Context, configPath, id string) (*session, error) {
	cfg, err := loadConfig(configPath)

	if err != nil {
		return nil, err
	}

	s := &session{}

	if s.logger, err = cfg.Logger(); err != nil {
		return nil, err
	}

	// Instances without vault-resident keys work without a passphrase
	if os.Getenv(cfg.Vault.PassphraseEnv) != "" {
		if s.vault, err = cfg.OpenVault(); err != nil {
			s.close()

			return nil, err
		}
	}

	var keys vault.Vault

	if s.vault != nil {
		keys = s.vault
	}

	if s.registry, err = store.NewRegistry(cfg.RegistryConfig(s.logger, keys)); err != nil {
		s.close()

		return nil, err
	}

	instanceConfig, err := cfg.Instance(id).StoreConfig()

	if err != nil {
		s.close()

		return nil, err
	}

	if s.instance, err = s.registry.Initialize(ctx, instanceConfig); err != nil {
		s.close()

		return nil, err
	}

	return s, nil
}

// NewRootCommand builds the kvault command tree
func NewRootCommand() *cobra.Command {
	var configPath string
	var id string
	var current *session

	root := &cobra.Command{
		Use:           "kvault",
		Short:         "Typed key-value storage with optional encryption at rest",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), configPath, id)

			if err != nil {
				return err
			}

			current = s
			ctx := log.WithFields(cmd.Context(), zap.String("command", cmd.Name()))
			cmd.SetContext(log.WithLogger(ctx, s.logger))

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.kvault/config.yaml)")
	root.PersistentFlags().StringVar(&id, "instance", store.DefaultID, "instance ID")

	// The session is closed once the subcommand returns, whether or not it failed
	run := func(fn instanceFunc) runFunc {
		return func(cmd *cobra.Command, args []string) error {
			defer current.close()

			return fn(cmd, args, current.instance)
		}
	}

	root.AddCommand(
		getCmd(run),
		setCmd(run),
		keysCmd(run),
		hasCmd(run),
		rmCmd(run),
		clearCmd(run),
		encryptCmd(run),
		decryptCmd(run),
		rekeyCmd(run),
	)

	return root
}

// Execute runs the kvault CLI
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}
