package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/whiteboard/internal/declare"
	"github.com/zjrosen/whiteboard/internal/presentation"
)

var providersListCmd = &cobra.Command{
	Use:   "providers:list",
	Short: "List provider declarations as JSON",
	Long: `Load the provider declarations from a directory and print them as JSON,
with the classes and registry properties each one would be registered with.

Examples:
  whiteboard providers:list
  whiteboard providers:list --dir ./providers --kind header`,
	RunE: runProvidersList,
}

var (
	providersDir  string
	providersKind string
)

func init() {
	rootCmd.AddCommand(providersListCmd)

	providersListCmd.Flags().StringVar(&providersDir, "dir", "", "declarations directory (default: providers.dir)")
	providersListCmd.Flags().StringVar(&providersKind, "kind", "", "only list declarations of this kind")
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	dir := providersDir
	if dir == "" {
		dir = cfg.Providers.Dir
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("declarations directory %q not found", dir)
	}

	decls, err := declare.LoadDir(os.DirFS(dir))
	if err != nil {
		return err
	}
	if providersKind != "" {
		kept := decls[:0]
		for _, d := range decls {
			if d.Kind == providersKind {
				kept = append(kept, d)
			}
		}
		decls = kept
	}

	return presentation.NewFormatter(cmd.OutOrStdout()).FormatProviders(presentation.FromDeclarations(decls))
}
