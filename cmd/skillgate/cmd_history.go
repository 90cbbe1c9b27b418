// Package main implements the decision history command for skillgate.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skillgate/internal/journal"
)

// =============================================================================
// HISTORY COMMAND
// =============================================================================

var historyCount int

// historyCmd lists recent gate decisions from the journal
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent gate decisions",
	Long: `Lists the newest entries from the decision journal: routing outcomes,
activations, tool-call verdicts, stop checks and response checks.`,
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	j, err := journal.Open(ws)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(historyCount)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no decisions recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Println(e.Format())
	}
	return nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyCount, "count", "n", 20, "Number of entries to show")
}
