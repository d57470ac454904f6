package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solvernet-order/pkg/history"
)

var pendingOnly bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List orders opened from this machine",
	Long: `List the orders recorded in the local history file, newest first.

Examples:
  solvernet history
  solvernet history --pending`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only show orders that are not settled")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.history()
	if err != nil {
		return err
	}

	records := store.List()
	if pendingOnly {
		records = store.Pending()
	}

	if a.json {
		jsonData, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayHistory(records, store.Path())
	return nil
}

func displayHistory(records []history.Record, path string) {
	if len(records) == 0 {
		fmt.Printf("\nNo orders recorded in %s\n", path)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                ORDER HISTORY")
	fmt.Println(strings.Repeat("=", 90))

	for _, r := range records {
		fmt.Printf("\n  %s  %s\n", color.CyanString(r.OrderID), coloredStatus(r.Status))
		fmt.Printf("    chain %d -> chain %d, opened %s\n",
			r.SrcChainID, r.DestChainID, r.Created.Format("2006-01-02 15:04:05"))
		if r.RejectReason != "" {
			fmt.Printf("    reason: %s\n", color.RedString(r.RejectReason))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d orders\n\n", len(records))
}
