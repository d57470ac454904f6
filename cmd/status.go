package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solvernet-order/pkg/history"
	"solvernet-order/pkg/inbox"
	"solvernet-order/pkg/types"
)

// statusLookback is how far back the inbox is searched when the opening block is unknown
const statusLookback = 50000

var (
	statusChain     string
	statusFromBlock uint64
	watchStatus     bool
	statusTimeout   time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <order-id>",
	Short: "Check the status of an order",
	Long: `Check whether an opened order was filled or rejected by reading the source
chain inbox's events.

Orders opened from this machine are looked up in the local history, so the chain
and starting block are known. For other orders pass --chain (and --from-block).

Examples:
  solvernet status 0x1234...abcd
  solvernet status 0x1234...abcd --watch
  solvernet status 0x1234...abcd --chain base --from-block 21000000`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusChain, "chain", "", "Source chain name or id of the order")
	statusCmd.Flags().Uint64Var(&statusFromBlock, "from-block", 0, "Block to start searching from")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Wait until the order is filled or rejected")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 20*time.Second, "How long to search without --watch")
}

func parseOrderID(text string) (common.Hash, error) {
	raw, err := hexutil.Decode(text)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("invalid order id %q", text), err)
	}
	return common.BytesToHash(raw), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	orderID, err := parseOrderID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.history()
	if err != nil {
		return err
	}
	record, known := store.Get(orderID.Hex())

	var chainID uint64
	switch {
	case statusChain != "":
		c, err := a.resolveChain(statusChain)
		if err != nil {
			return err
		}
		chainID = c.ID
	case known:
		chainID = record.SrcChainID
	default:
		return fmt.Errorf("order %s is not in the local history, pass --chain", orderID.Hex())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, _, err := a.wallet(chainID)
	if err != nil {
		return err
	}
	defer w.Close()

	executor, err := a.executor(ctx, w)
	if err != nil {
		return err
	}

	fromBlock := statusFromBlock
	if !cmd.Flags().Changed("from-block") {
		if known && record.FromBlock > 0 {
			fromBlock = record.FromBlock
		} else if latest, err := w.BlockNumber(ctx, chainID); err == nil && latest > statusLookback {
			fromBlock = latest - statusLookback
		}
	}

	trackCtx := ctx
	if !watchStatus {
		var cancel context.CancelFunc
		trackCtx, cancel = context.WithTimeout(ctx, statusTimeout)
		defer cancel()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.json {
		s.Suffix = " Checking order status..."
		if watchStatus {
			s.Suffix = " Waiting for a solver to fill the order..."
		}
		s.Start()
	}
	outcome, err := executor.Track(trackCtx, chainID, orderID, fromBlock)
	if !a.json {
		s.Stop()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = inbox.Outcome{Status: types.ExecOpen}
	case err != nil:
		return err
	}

	if outcome.Status.Terminal() && known {
		if err := store.SetStatus(orderID.Hex(), outcome.Status, outcome.RejectReason); err != nil {
			color.Yellow("Warning: order history not updated: %v", err)
		}
		record, _ = store.Get(orderID.Hex())
	}

	if a.json {
		output := map[string]any{
			"order_id": orderID.Hex(),
			"chain_id": chainID,
			"status":   outcome.Status,
		}
		if outcome.RejectReason != "" {
			output["reject_reason"] = outcome.RejectReason
		}
		if outcome.TxHash != (common.Hash{}) {
			output["tx_hash"] = outcome.TxHash.Hex()
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayStatus(a, orderID, chainID, outcome, record, known)
	return nil
}

func displayStatus(a *app, orderID common.Hash, chainID uint64, outcome inbox.Outcome, record history.Record, known bool) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        ORDER STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Order ID:        %s\n", color.CyanString(orderID.Hex()))
	fmt.Printf("  Status:          %s\n", coloredStatus(outcome.Status))
	if outcome.RejectReason != "" {
		fmt.Printf("  Reason:          %s\n", color.RedString(outcome.RejectReason))
	}
	if known {
		fmt.Printf("  Route:           chain %d -> chain %d\n", record.SrcChainID, record.DestChainID)
		fmt.Printf("  Opened:          %s\n", record.Created.Format("2006-01-02 15:04:05"))
		if record.TxHash != "" {
			fmt.Printf("  Open Tx:         %s\n", color.HiBlackString(record.TxHash))
		}
	}
	if outcome.TxHash != (common.Hash{}) {
		fmt.Printf("  Settle Tx:       %s\n", color.HiBlackString(outcome.TxHash.Hex()))
		if link := a.explorerLink(chainID, outcome.TxHash.Hex()); link != "" {
			fmt.Printf("  Explorer:        %s\n", link)
		}
	}
	if outcome.Status == types.ExecOpen {
		fmt.Println("\n  Not settled yet. Use --watch to wait for a solver.")
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func coloredStatus(status types.ExecutionStatus) string {
	text := strings.ToUpper(string(status))

	switch status {
	case types.ExecFilled:
		return color.GreenString(text)
	case types.ExecOpen, types.ExecSubmitting:
		return color.YellowString(text)
	case types.ExecRejected, types.ExecError:
		return color.RedString(text)
	default:
		return text
	}
}
