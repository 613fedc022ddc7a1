package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/presentation"
)

var journalListCmd = &cobra.Command{
	Use:   "journal:list",
	Short: "Show the persisted activation journal",
	Long: `Print the entries of the SQLite activation journal, newest first.
The journal is only written when the journal flag is enabled.

Examples:
  whiteboard journal:list
  whiteboard journal:list --last --limit 20
  whiteboard journal:list --run 6f1c2d3e-... --json`,
	RunE: runJournalList,
}

var (
	journalLimit int
	journalRun   string
	journalLast  bool
	journalPath  string
	journalJSON  bool
)

func init() {
	rootCmd.AddCommand(journalListCmd)

	journalListCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "maximum entries to show (0 for all)")
	journalListCmd.Flags().StringVar(&journalRun, "run", "", "only show entries of this run id")
	journalListCmd.Flags().BoolVar(&journalLast, "last", false, "only show entries of the most recent run")
	journalListCmd.Flags().StringVar(&journalPath, "path", "", "journal file (default: journal.path)")
	journalListCmd.Flags().BoolVar(&journalJSON, "json", false, "print entries as JSON")
}

func runJournalList(cmd *cobra.Command, _ []string) error {
	path := journalPath
	if path == "" {
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no journal at %s (enable the %q flag to record one)", path, "journal")
	}

	store, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	runID := journalRun
	if journalLast && runID == "" {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			runID = runs[0]
		}
	}

	entries, err := store.List(ctx, runID, journalLimit)
	if err != nil {
		return err
	}

	f := presentation.NewFormatter(cmd.OutOrStdout())
	if journalJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return f.FormatJSON(entries)
	}
	return f.FormatJournal(presentation.FromEntries(entries))
}
