package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solvernet-order/pkg/history"
	"solvernet-order/pkg/metrics"
	"solvernet-order/pkg/order"
	"solvernet-order/pkg/parser"
	"solvernet-order/pkg/types"
)

var (
	orderFromChain   string
	orderToChain     string
	orderContract    string
	orderFunction    string
	orderInputs      []string
	orderMetricsAddr string
	orderNoWatch     bool
)

var orderCmd = &cobra.Command{
	Use:   "order <amount> <source-token> [on <chain>] to <dest-token> [on <chain>]",
	Short: "Build, validate and open a cross-chain order",
	Long: `Build an order from a deposit on the source chain, get it quoted and validated
by the solver, approve the deposit token if needed and open the order on the source
chain inbox. The order is then watched until a solver fills or rejects it.

The received amount is paid to your wallet on the destination chain. With --contract
and --function an extra call is executed there after the payout.

Without a private key the order is only previewed.

Examples:
  solvernet order 1.5 ETH on base to ETH on optimism
  solvernet order 100 USDC on optimism to USDC on base --yes
  solvernet order 0.5 ETH on base to ETH on arbitrum \
      --contract 0x1234... --function "deposit(address receiver)" --input receiver=0xabcd...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrder,
}

func init() {
	rootCmd.AddCommand(orderCmd)

	orderCmd.Flags().StringVar(&orderFromChain, "from-chain", "", "Source chain name or id")
	orderCmd.Flags().StringVar(&orderToChain, "to-chain", "", "Destination chain name or id")
	orderCmd.Flags().StringVar(&orderContract, "contract", "", "Contract to call on the destination chain")
	orderCmd.Flags().StringVar(&orderFunction, "function", "", "Function name (verified contracts) or full signature")
	orderCmd.Flags().StringArrayVar(&orderInputs, "input", nil, "Call argument as name=value (repeatable)")
	orderCmd.Flags().StringVar(&orderMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")
	orderCmd.Flags().BoolVar(&orderNoWatch, "no-watch", false, "Exit once the order is open instead of waiting for the fill")
}

func runOrder(cmd *cobra.Command, args []string) error {
	req, err := parseOrderArgs(args, orderFromChain, orderToChain)
	if err != nil {
		return err
	}
	req.Contract = orderContract
	req.Function = orderFunction
	if req.CallInputs, err = parser.ParseCallInputs(orderInputs); err != nil {
		return err
	}
	if err := parser.ValidateOrderRequest(req); err != nil {
		return err
	}
	if req.Contract != "" && req.Function == "" {
		return fmt.Errorf("--function is required with --contract (see: solvernet abi <chain> <contract>)")
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	_ = a.catalog.Load(loadCtx)
	cancel()

	intent, err := a.resolveIntent(req)
	if err != nil {
		return err
	}
	if _, err := parser.ParsePositiveUnits(intent.Amount, intent.SrcAsset.Decimals); err != nil {
		return err
	}

	w, connected, err := a.wallet(intent.SrcChainID)
	if err != nil {
		return err
	}
	defer w.Close()
	owner, _ := w.Address()

	executor, err := a.executor(ctx, w)
	if err != nil {
		return err
	}
	store, err := a.history()
	if err != nil {
		return err
	}

	if addr := firstNonEmpty(orderMetricsAddr, a.cfg.MetricsAddr); addr != "" {
		srv := serveMetrics(addr, a.logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	o := order.New(order.Deps{
		Quotes:     a.quoteService(owner),
		Allowances: w,
		Wallet:     w,
		Validator:  a.solver,
		Executor:   executor,
		ABI:        a.abiLookup(),
	}, order.WithLogger(a.logger))
	defer o.Close()

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	if err := o.SetIntent(intent); err != nil {
		return err
	}
	if req.Contract != "" {
		if err := o.SetContract(req.Contract); err != nil {
			return err
		}
		if err := waitForContract(ctx, updates); err != nil {
			return err
		}
		if err := o.SelectFunction(req.Function, req.CallInputs); err != nil {
			return err
		}
	}

	d := &driver{app: a, orchestrator: o, store: store, balances: w, connected: connected}
	return d.run(ctx, updates)
}

// waitForContract blocks until the contract's functions are loaded or the lookup failed
func waitForContract(ctx context.Context, updates <-chan order.Snapshot) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Looking up contract..."
	s.Start()
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return order.ErrClosed
			}
			if c := snap.Contract; c != nil && !c.Loading && (c.Functions != nil || c.Err != nil) {
				return nil
			}
		}
	}
}

// driver walks one order attempt through approval, execution and tracking
type driver struct {
	app          *app
	orchestrator *order.Orchestrator
	store        *history.Store
	balances     balanceReader
	connected    bool

	spinner   *spinner.Spinner
	lastPhase order.Phase
	hinted    bool

	approveConfirmed bool
	approvePending   bool
	executeConfirmed bool
	executePending   bool
	recorded         bool
}

func (d *driver) run(ctx context.Context, updates <-chan order.Snapshot) error {
	d.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	defer d.spinner.Stop()

	for {
		select {
		case <-ctx.Done():
			d.spinner.Stop()
			if d.recorded {
				snap := d.orchestrator.Snapshot()
				fmt.Printf("\nStopped watching. Resume with:\n")
				color.Cyan("  solvernet status %s\n", snap.Execution.OrderID)
			}
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return order.ErrClosed
			}
			done, err := d.step(snap)
			if done || err != nil {
				return err
			}
		}
	}
}

// step reacts to one snapshot; done reports the attempt reached an end state
func (d *driver) step(s order.Snapshot) (bool, error) {
	entered := s.Phase != d.lastPhase
	d.lastPhase = s.Phase
	if entered {
		d.app.logger.Debug("order phase", zap.String("phase", string(s.Phase)), zap.String("reason", s.Reason))
	}

	if s.Hint != nil && !d.hinted && !d.app.json {
		d.hinted = true
		color.Yellow("Warning: %s", s.Hint.Message)
	}

	switch s.Phase {
	case order.PhaseQuoting, order.PhaseValidating, order.PhaseSubmitting, order.PhaseAwaitingSwitch:
		if s.Phase == order.PhaseAwaitingSwitch {
			d.approvePending = false
			d.executePending = false
		}
		d.spin(s.Reason)
		return false, nil
	}
	d.spinner.Stop()

	if s.Err != nil && s.Err.Kind == types.KindNetworkMismatch {
		return true, s.Err
	}

	switch s.Phase {
	case order.PhaseIdle:
		return d.idle(s)
	case order.PhaseAwaitingApproval:
		return d.awaitingApproval(s, entered)
	case order.PhaseReady:
		return d.ready(s, entered)
	case order.PhaseOpen:
		return d.open(s)
	case order.PhaseFilled:
		d.finish(s)
		color.Green("\n✓ Order %s filled", s.Execution.OrderID)
		return true, nil
	case order.PhaseRejected:
		if s.Execution.Status == types.ExecRejected {
			d.finish(s)
		}
		return true, errors.New(s.Reason)
	case order.PhaseError:
		if d.recorded {
			d.finish(s)
		}
		if s.Err != nil {
			return true, s.Err
		}
		return true, errors.New(s.Reason)
	}
	return false, nil
}

func (d *driver) spin(reason string) {
	if d.app.json {
		return
	}
	d.spinner.Suffix = " " + reason
	d.spinner.Start()
}

func (d *driver) idle(s order.Snapshot) (bool, error) {
	if s.Err != nil {
		switch s.Err.Kind {
		case types.KindQuoteFailed, types.KindInvalidArgument:
			return true, s.Err
		}
	}
	// Without an account the order can only be previewed.
	if s.Owner == nil && s.Quote.Status == types.QuoteSuccess {
		d.display(s)
		if !d.connected {
			fmt.Println("No private key configured, the order was only previewed.")
			fmt.Println("Set SOLVERNET_PRIVATE_KEY (or private_key in .solvernet.yaml) to open it.")
		}
		return true, nil
	}
	return false, nil
}

func (d *driver) awaitingApproval(s order.Snapshot, entered bool) (bool, error) {
	if entered {
		d.approvePending = false
	}
	a := s.Approval
	if a.State != types.ApprovalInsufficient {
		return false, nil
	}
	if d.approvePending {
		if a.Err != nil {
			return true, a.Err
		}
		return false, nil
	}

	if !d.approveConfirmed {
		asset := s.Intent.SrcAsset
		prompt := fmt.Sprintf("Approve %s %s for the inbox %s on chain %d?",
			parser.FormatUnits(a.Required, asset.Decimals), asset.Symbol, a.Spender.Hex(), a.ChainID)
		if !d.app.yes && !confirm(prompt) {
			fmt.Println("\nOrder cancelled.")
			return true, nil
		}
		d.approveConfirmed = true
	}

	d.approvePending = true
	if err := d.orchestrator.Approve(); err != nil {
		d.approvePending = false
		d.app.logger.Debug("approve not accepted", zap.Error(err))
	}
	return false, nil
}

func (d *driver) ready(s order.Snapshot, entered bool) (bool, error) {
	if entered {
		d.executePending = false
	}
	if d.executePending {
		return false, nil
	}

	if !d.executeConfirmed {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := checkBalance(ctx, d.balances, s.Config, *s.Intent.SrcAsset)
		cancel()
		if err != nil {
			color.Yellow("Warning: %v", err)
		}
		d.display(s)
		if !d.app.yes && !confirm("Open this order?") {
			fmt.Println("\nOrder cancelled.")
			return true, nil
		}
		d.executeConfirmed = true
	}

	d.executePending = true
	switch err := d.orchestrator.Execute(); {
	case errors.Is(err, order.ErrNotReady):
		// The snapshot was already stale; wait for the next ready state.
		d.executePending = false
	case err != nil && !errors.Is(err, order.ErrCommitted):
		return true, err
	}
	return false, nil
}

// balanceReader reads the connected account's balance of a token, or of the native currency for nil
type balanceReader interface {
	Balance(ctx context.Context, chainID uint64, token *common.Address) (*big.Int, error)
}

// checkBalance reports when the account cannot cover the deposit
func checkBalance(ctx context.Context, b balanceReader, cfg types.OrderConfig, asset types.Asset) error {
	if b == nil || cfg.Deposit.Amount == nil {
		return nil
	}
	balance, err := b.Balance(ctx, cfg.SrcChainID, cfg.Deposit.Token)
	if err != nil {
		return fmt.Errorf("failed to read %s balance: %w", asset.Symbol, err)
	}
	if balance.Cmp(cfg.Deposit.Amount) < 0 {
		return fmt.Errorf("balance of %s %s does not cover the deposit of %s %s",
			parser.FormatUnits(balance, asset.Decimals), asset.Symbol,
			parser.FormatUnits(cfg.Deposit.Amount, asset.Decimals), asset.Symbol)
	}
	return nil
}

func (d *driver) open(s order.Snapshot) (bool, error) {
	if d.recorded {
		d.spin(s.Reason)
		return false, nil
	}
	d.recorded = true

	exec := s.Execution
	err := d.store.Put(history.Record{
		OrderID:     exec.OrderID,
		AttemptID:   s.AttemptID,
		TxHash:      exec.TxHash,
		SrcChainID:  s.Config.SrcChainID,
		DestChainID: s.Config.DestChainID,
		FromBlock:   exec.Block,
		Deposit:     s.Config.Deposit.Amount.String(),
		Expense:     s.Config.Expense.Amount.String(),
		Status:      exec.Status,
	})
	if err != nil {
		color.Yellow("Warning: order not saved to history: %v", err)
	}

	if d.app.json {
		jsonData, _ := json.MarshalIndent(exec, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		color.Green("\n✓ Order opened")
		fmt.Printf("  Order ID:       %s\n", color.CyanString(exec.OrderID))
		fmt.Printf("  Transaction:    %s\n", color.HiBlackString(exec.TxHash))
		if link := d.app.explorerLink(s.Config.SrcChainID, exec.TxHash); link != "" {
			fmt.Printf("  Explorer:       %s\n", link)
		}
	}

	if orderNoWatch {
		fmt.Println("\nYou can monitor the order using:")
		color.Cyan("  solvernet status %s\n", exec.OrderID)
		return true, nil
	}
	d.spin(s.Reason)
	return false, nil
}

func (d *driver) finish(s order.Snapshot) {
	exec := s.Execution
	if exec.OrderID == "" {
		return
	}
	if err := d.store.SetStatus(exec.OrderID, exec.Status, exec.RejectReason); err != nil {
		d.app.logger.Warn("failed to update order history", zap.Error(err))
	}
}

func (d *driver) display(s order.Snapshot) {
	if d.app.json {
		jsonData, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(jsonData))
		return
	}

	src, dest := s.Intent.SrcAsset, s.Intent.DestAsset
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          ORDER")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Deposit:     %s %s on chain %d\n",
		parser.FormatUnits(s.Config.Deposit.Amount, src.Decimals), color.YellowString(src.Symbol), s.Config.SrcChainID)
	fmt.Printf("  Receive:     %s %s on chain %d\n",
		parser.FormatUnits(s.Config.Expense.Amount, dest.Decimals), color.YellowString(dest.Symbol), s.Config.DestChainID)
	if s.Config.Expense.Spender != nil {
		fmt.Printf("  Spender:     %s\n", s.Config.Expense.Spender.Hex())
	}

	fmt.Printf("\n  Calls on chain %d:\n", s.Config.DestChainID)
	if len(s.Config.Calls) == 0 {
		fmt.Println("    (none until a wallet is connected)")
	}
	for i, c := range s.Config.Calls {
		name := "transfer"
		if c.FunctionName != "" {
			name = fmt.Sprintf("%s(%s)", c.FunctionName, formatArgs(c.Args))
		}
		fmt.Printf("    %d. %s -> %s", i+1, c.Target.Hex(), name)
		if c.Value != nil && c.Value.Sign() > 0 {
			fmt.Printf(" value %s", parser.FormatUnits(c.Value, 18))
		}
		fmt.Println()
		for _, issue := range c.Issues {
			color.Yellow("       %s", issue)
		}
	}

	if s.Validation.Status == types.ValidationAccepted {
		fmt.Printf("\n  Validation:  %s\n", color.GreenString("accepted"))
	}
	fmt.Println("\n" + strings.Repeat("=", 70))
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, ", ")
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
