package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/user/botstream/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change botstream settings",
	Long: `Show or change botstream settings.

Values shown by list and get are the ones listen and send will use, so
BOTSTREAM_STREAM_URL, BOTSTREAM_SEND_URL and BOTSTREAM_LOG_LEVEL take
precedence over the file.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		values, err := config.ListValues(cfg, true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := cmd.OutOrStdout()
		for _, k := range keys {
			fmt.Fprintf(out, "%s = %v%s\n", k, values[k], envNote(k))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		values, err := config.ListValues(cfg, false)
		if err != nil {
			return fmt.Errorf("get config: %w", err)
		}

		val, ok := values[key]
		if !ok {
			// keys outside the schema only live in the file
			if val, err = config.GetValue(cfgPath, key); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v%s\n", val, envNote(key))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Validate and store one setting in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		if err := config.SetValue(cfgPath, key, raw); err != nil {
			return err
		}

		display := raw
		if config.IsSecretKey(key) {
			display = config.MaskURL(display)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Set %s = %s\n", key, display)
		if env := config.OverriddenBy(key); env != "" {
			fmt.Fprintf(out, "Note: %s is set and overrides this value\n", env)
		}
		return nil
	},
}

func envNote(key string) string {
	if env := config.OverriddenBy(key); env != "" {
		return fmt.Sprintf(" (from %s)", env)
	}
	return ""
}
