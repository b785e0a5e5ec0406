package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/botstream/internal/journal"
	"github.com/user/botstream/internal/types"
)

var journalLimit int

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalSessionsCmd, journalTailCmd)
	journalTailCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of records to show (0 for all)")
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect per-session event journals",
}

var journalSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions that have a journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		j := journal.New(cfg.DataDir)

		ids, err := j.Sessions()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(ids) == 0 {
			fmt.Println("No journals found.")
			return nil
		}

		ctx := context.Background()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tEVENTS")
		for _, id := range ids {
			count, err := j.Count(ctx, id)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%d\n", id, count)
		}
		return w.Flush()
	},
}

var journalTailCmd = &cobra.Command{
	Use:   "tail <session-id>",
	Short: "Show the latest journal records for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		j := journal.New(cfg.DataDir)

		records, err := j.Tail(context.Background(), types.SessionID(args[0]), journalLimit)
		if err != nil {
			return fmt.Errorf("tail journal: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No records.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tKIND\tOUTCOME\tMESSAGE\tERROR")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Seq,
				r.At.Format("15:04:05.000"),
				r.Kind,
				r.Outcome,
				r.MessageID,
				r.Error,
			)
		}
		return w.Flush()
	},
}
