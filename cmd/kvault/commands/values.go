package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jrife/kvault/codec"
	"github.com/jrife/kvault/store"
)

// printValue writes strings as they are and everything else as JSON
func printValue(cmd *cobra.Command, value codec.Value) error {
	if s, err := value.AsString(); err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), s)

		return nil
	}

	b, err := json.Marshal(value.Interface())

	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))

	return nil
}

// parseJSON decodes a map or array keeping integers exact
func parseJSON(text string) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(text)))
	decoder.UseNumber()

	var native interface{}

	if err := decoder.Decode(&native); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s", err)
	}

	return fromJSON(native)
}

func fromJSON(native interface{}) (interface{}, error) {
	switch n := native.(type) {
	case json.Number:
		i, err := n.Int64()

		if err != nil {
			return nil, fmt.Errorf("%s is not a 64-bit integer", n)
		}

		return i, nil
	case map[string]interface{}:
		for k, child := range n {
			converted, err := fromJSON(child)

			if err != nil {
				return nil, err
			}

			n[k] = converted
		}

		return n, nil
	case []interface{}:
		for i, child := range n {
			converted, err := fromJSON(child)

			if err != nil {
				return nil, err
			}

			n[i] = converted
		}

		return n, nil
	case nil:
		return nil, fmt.Errorf("null can't be stored")
	}

	return native, nil
}

func parseValue(kind, text string) (codec.Value, error) {
	switch kind {
	case "string":
		return codec.String(text), nil
	case "int":
		i, err := strconv.ParseInt(text, 10, 64)

		if err != nil {
			return codec.Value{}, err
		}

		return codec.Int(i), nil
	case "bool":
		b, err := strconv.ParseBool(text)

		if err != nil {
			return codec.Value{}, err
		}

		return codec.Bool(b), nil
	case "map", "array":
		native, err := parseJSON(text)

		if err != nil {
			return codec.Value{}, err
		}

		value, err := codec.FromGo(native)

		if err != nil {
			return codec.Value{}, err
		}

		if want := map[string]codec.Tag{"map": codec.TagMap, "array": codec.TagArray}[kind]; value.Tag() != want {
			return codec.Value{}, fmt.Errorf("value is a %s, not a %s", value.Tag(), kind)
		}

		return value, nil
	}

	return codec.Value{}, fmt.Errorf("unknown type %q", kind)
}

func getCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			value, err := instance.GetValue(args[0])

			if err != nil {
				return err
			}

			return printValue(cmd, value)
		}),
	}
}

func setCmd(run func(instanceFunc) runFunc) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			value, err := parseValue(kind, args[1])

			if err != nil {
				return err
			}

			if ok, err := instance.SetValueAsync(args[0], value).Wait(); !ok {
				return err
			}

			return nil
		}),
	}

	cmd.Flags().StringVarP(&kind, "type", "t", "string", "value type: string, int, bool, map or array")

	return cmd
}

func keysCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every key",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			keys, err := instance.GetKeys()

			if err != nil {
				return err
			}

			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}

			return nil
		}),
	}
}

func hasCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "has KEY",
		Short: "Print true if KEY exists",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			ok, err := instance.HasKey(args[0])

			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ok)

			return nil
		}),
	}
}

func rmCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rm KEY",
		Short: "Remove KEY",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			return instance.RemoveItem(args[0])
		}),
	}
}

func clearCmd(run func(instanceFunc) runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, args []string, instance *store.Instance) error {
			return instance.ClearStore()
		}),
	}
}
