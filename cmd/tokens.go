package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solvernet-order/pkg/types"
)

var (
	filterChain  string
	filterSymbol string
	skipRemote   bool
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List supported chains and assets",
	Long: `List the chains and assets orders can use on the configured network.

The built-in registry is merged with the solver's token list unless --offline is set.

Examples:
  solvernet tokens
  solvernet tokens --chain base
  solvernet tokens --symbol USDC --network testnet`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by chain name or id")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
	tokensCmd.Flags().BoolVar(&skipRemote, "offline", false, "Use only the built-in registry")
}

type chainAssets struct {
	Chain  types.Chain   `json:"chain"`
	Assets []types.Asset `json:"assets"`
}

func runListTokens(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if !skipRemote {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if !a.json {
			s.Suffix = " Fetching supported tokens..."
			s.Start()
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		err := a.catalog.Load(ctx)
		cancel()
		if !a.json {
			s.Stop()
		}
		if err != nil && !a.json {
			color.Yellow("Using built-in registry: %v", err)
		}
	}

	chains := a.catalog.Chains()
	if filterChain != "" {
		c, err := a.resolveChain(filterChain)
		if err != nil {
			return err
		}
		chains = []types.Chain{c}
	}

	var out []chainAssets
	for _, c := range chains {
		assets, err := a.catalog.AssetsForChain(c.ID)
		if err != nil {
			return err
		}
		if filterSymbol != "" {
			var filtered []types.Asset
			for _, asset := range assets {
				if strings.Contains(strings.ToUpper(asset.Symbol), strings.ToUpper(filterSymbol)) {
					filtered = append(filtered, asset)
				}
			}
			assets = filtered
		}
		if len(assets) > 0 {
			out = append(out, chainAssets{Chain: c, Assets: assets})
		}
	}

	if a.json {
		jsonData, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayTokens(out)
	return nil
}

func displayTokens(groups []chainAssets) {
	if len(groups) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	total := 0
	for _, g := range groups {
		color.Cyan("\n%s", strings.ToUpper(chainLabel(g.Chain)))
		fmt.Println(strings.Repeat("-", 90))

		for _, asset := range g.Assets {
			address := "native"
			if !asset.IsNative {
				address = asset.Address.Hex()
			}
			fmt.Printf("  %-10s  %2d decimals  %-42s  min %s max %s\n",
				color.YellowString(asset.Symbol),
				asset.Decimals,
				color.HiBlackString(address),
				asset.MinAmount, asset.MaxAmount)
			total++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d chains\n\n", total, len(groups))
}
