package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrife/kvault/store"
)

type keyFlags struct {
	keyHex   string
	alias    string
	insecure bool
}

func (flags *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flags.keyHex, "key", "", "hex encoded 32-byte key (default: generate one)")
	cmd.Flags().StringVar(&flags.alias, "alias", "", "vault alias for the key")
	cmd.Flags().BoolVar(&flags.insecure, "no-vault", false, "don't keep the key in the vault and print it instead")
}

func (flags *keyFlags) options() ([]store.KeyOption, error) {
	opts := []store.KeyOption{store.StoreKeySecurely(!flags.insecure), store.KeyAlias(flags.alias)}

	if flags.keyHex != "" {
		key, err := hex.DecodeString(flags.keyHex)

		if err != nil {
			return nil, fmt.Errorf("invalid --key: %s", err)
		}

		opts = append(opts, store.UseKey(key))
	}

	return opts, nil
}

func printKeyInfo(cmd *cobra.Command, info store.KeyInfo) {
	if info.Alias != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Key stored in the vault as %s\n", info.Alias)

		return
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Key: %s\n", hex.EncodeToString(info.Key))
}

func encryptCmd(run func(instanceFunc) runFunc) *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt every value of the instance",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			opts, err := flags.options()

			if err != nil {
				return err
			}

			info, err := instance.Encrypt(cmd.Context(), opts...)

			if err != nil {
				return err
			}

			printKeyInfo(cmd, info)

			return nil
		}),
	}

	flags.register(cmd)

	return cmd
}

func decryptCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Store every value of the instance in plaintext",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			return instance.Decrypt(cmd.Context())
		}),
	}
}

func rekeyCmd(run func(instanceFunc) runFunc) *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "rekey",
		Short: "Encrypt every value of the instance with a new key",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			opts, err := flags.options()

			if err != nil {
				return err
			}

			info, err := instance.ChangeEncryptionKey(cmd.Context(), opts...)

			if err != nil {
				return err
			}

			printKeyInfo(cmd, info)

			return nil
		}),
	}

	flags.register(cmd)

	return cmd
}
