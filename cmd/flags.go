package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/whiteboard/internal/config"
	"github.com/zjrosen/whiteboard/internal/flags"
)

var flagsListCmd = &cobra.Command{
	Use:   "flags:list",
	Short: "List feature flags and their values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fl := flags.New(cfg.Flags)
		out := cmd.OutOrStdout()
		for _, name := range flags.Names() {
			_, _ = fmt.Fprintf(out, "%-16s %-5t %s\n", name, fl.Enabled(name), flags.Known[name])
		}
		return nil
	},
}

var flagsSetCmd = &cobra.Command{
	Use:   "flags:set <name> <true|false>",
	Short: "Set a feature flag in the config file",
	Long: `Set a feature flag in the config file in use, keeping the rest of the
file and its comments.

Examples:
  whiteboard flags:set journal true
  whiteboard flags:set watch-providers false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !flags.IsKnown(name) {
			return fmt.Errorf("unknown flag %q (known: %v)", name, flags.Names())
		}
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("flag value %q: %w", args[1], err)
		}

		path := configPath()
		if err := config.SaveFlag(path, name, value); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %t (%s)\n", name, value, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flagsListCmd)
	rootCmd.AddCommand(flagsSetCmd)
}
