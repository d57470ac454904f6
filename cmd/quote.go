package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solvernet-order/pkg/parser"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
)

var (
	quoteFromChain string
	quoteToChain   string
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> [on <chain>] to <dest-token> [on <chain>]",
	Short: "Price an order without opening it",
	Long: `Ask the quote service how much will be delivered on the destination chain
for a deposit on the source chain.

Examples:
  solvernet quote 1.5 ETH on base to ETH on optimism
  solvernet quote 100 USDC to USDC --from-chain optimism --to-chain arbitrum`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteFromChain, "from-chain", "", "Source chain name or id")
	quoteCmd.Flags().StringVar(&quoteToChain, "to-chain", "", "Destination chain name or id")
}

// parseOrderArgs parses the order command text and applies chain flags
func parseOrderArgs(args []string, fromChain, toChain string) (*types.OrderRequest, error) {
	req, err := parser.ParseOrderCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	if fromChain != "" {
		req.SourceChain = fromChain
	}
	if toChain != "" {
		req.DestChain = toChain
	}
	if err := parser.ValidateOrderRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	req, err := parseOrderArgs(args, quoteFromChain, quoteToChain)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	_ = a.catalog.Load(ctx)

	intent, err := a.resolveIntent(req)
	if err != nil {
		return err
	}
	if err := parser.CheckBounds(intent.Amount, *intent.SrcAsset); err != nil {
		color.Yellow("Warning: %v", err)
	}

	var recipient common.Address
	if w, connected, err := a.wallet(intent.SrcChainID); err == nil && connected {
		recipient, _ = w.Address()
	}

	updates := make(chan types.Quote, 8)
	controller := quote.NewController(a.quoteService(recipient),
		quote.WithLogger(a.logger),
		quote.WithOnUpdate(func(q types.Quote) {
			select {
			case updates <- q:
			default:
			}
		}))

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.json {
		s.Suffix = " Fetching quote..."
		s.Start()
	}
	q := controller.Request(ctx, intent)
	for q.Status == types.QuotePending {
		select {
		case q = <-updates:
		case <-ctx.Done():
			q = types.Quote{Status: types.QuoteError, Error: "quote request timed out, try again"}
		}
	}
	if !a.json {
		s.Stop()
	}

	if q.Status != types.QuoteSuccess {
		if q.Error == "" {
			q.Error = "amount must be greater than zero"
		}
		return fmt.Errorf("%s", q.Error)
	}

	if a.json {
		output := types.QuoteDisplay{
			SourceAmount: parser.FormatUnits(q.Deposit, intent.SrcAsset.Decimals),
			SourceToken:  intent.SrcAsset.Symbol,
			SourceChain:  fmt.Sprint(intent.SrcChainID),
			DestAmount:   parser.FormatUnits(q.Expense, intent.DestAsset.Decimals),
			DestToken:    intent.DestAsset.Symbol,
			DestChain:    fmt.Sprint(intent.DestChainID),
			Deposit:      q.Deposit.String(),
			Expense:      q.Expense.String(),
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayQuote(intent, q)
	return nil
}

func displayQuote(intent types.OrderIntent, q types.Quote) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     ORDER QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  You deposit:       %s %s on chain %d\n",
		parser.FormatUnits(q.Deposit, intent.SrcAsset.Decimals), color.YellowString(intent.SrcAsset.Symbol), intent.SrcChainID)
	fmt.Printf("  You receive:       %s %s on chain %d\n",
		parser.FormatUnits(q.Expense, intent.DestAsset.Decimals), color.YellowString(intent.DestAsset.Symbol), intent.DestChainID)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
