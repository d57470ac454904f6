package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solvernet-order/pkg/abilookup"
	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/types"
)

var abiCmd = &cobra.Command{
	Use:   "abi <chain> <contract-address>",
	Short: "List the write functions of a verified contract",
	Long: `Fetch a verified contract's ABI from the chain's block explorer and list the
functions an order can call on the destination chain.

Examples:
  solvernet abi base 0x4200000000000000000000000000000000000006
  solvernet abi 10 0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runABI,
}

func init() {
	rootCmd.AddCommand(abiCmd)
}

func runABI(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	chain, err := a.resolveChain(args[0])
	if err != nil {
		return err
	}
	if !calls.IsValidAddress(args[1]) {
		return types.NewError(types.KindInvalidAddress, fmt.Sprintf("invalid contract address %q", args[1]), nil)
	}
	address := common.HexToAddress(args[1])

	lookup := a.abiLookup()
	if !lookup.Supports(chain.ID) {
		return fmt.Errorf("no block explorer configured for %s", chainLabel(chain))
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !a.json {
		s.Suffix = " Fetching contract ABI..."
		s.Start()
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	fns, err := lookup.WriteFunctions(ctx, chain.ID, address)
	if !a.json {
		s.Stop()
	}
	if err != nil {
		if errors.Is(err, abilookup.ErrNotVerified) {
			color.Yellow("The contract is not verified. Pass the full signature to --function, e.g. \"deposit(uint256 assets, address receiver)\".")
		}
		return err
	}

	if a.json {
		jsonData, _ := json.MarshalIndent(fns, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}
	displayFunctions(chain, address, fns)
	return nil
}

func displayFunctions(chain types.Chain, address common.Address, fns []types.Function) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        WRITE FUNCTIONS")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Contract: %s on %s\n\n", color.CyanString(address.Hex()), chainLabel(chain))

	if len(fns) == 0 {
		fmt.Println("  No state-changing functions found.")
	}
	for _, fn := range fns {
		params := make([]string, len(fn.Inputs))
		for i, in := range fn.Inputs {
			params[i] = strings.TrimSpace(in.Type + " " + in.Name)
		}
		line := fmt.Sprintf("%s(%s)", color.YellowString(fn.Name), strings.Join(params, ", "))
		if fn.StateMutability == "payable" || fn.Payable {
			line += color.MagentaString(" payable")
		}
		fmt.Printf("  %s\n", line)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
