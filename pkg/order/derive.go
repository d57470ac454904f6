package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/parser"
	"solvernet-order/pkg/types"
)

// Inputs is everything an OrderConfig is derived from
type Inputs struct {
	Intent    types.OrderIntent
	Quote     types.Quote
	Owner     *common.Address
	Arbitrary *types.CallSpec
	Approval  types.ApprovalRequirement
}

// Derive builds the order configuration. It has no side effects.
//
// Amounts come from a successful quote, otherwise from the raw amount parsed
// with each asset's decimals. The payout to the connected wallet precedes the
// arbitrary call, and submission eligibility requires a connected wallet, a
// positive amount, a successful quote, a satisfied approval and complete calls.
func Derive(in Inputs) types.OrderConfig {
	intent := in.Intent
	cfg := types.OrderConfig{
		SrcChainID:  intent.SrcChainID,
		DestChainID: intent.DestChainID,
		Deposit:     types.Deposit{Amount: new(big.Int)},
		Expense:     types.Expense{Amount: new(big.Int)},
		Calls:       []types.CallSpec{},
	}

	quoted := in.Quote.Status == types.QuoteSuccess && in.Quote.Deposit != nil && in.Quote.Expense != nil

	if src := intent.SrcAsset; src != nil {
		cfg.Deposit.Token = src.Token()
		if quoted {
			cfg.Deposit.Amount = new(big.Int).Set(in.Quote.Deposit)
		} else if amount, err := parser.ParseUnits(intent.Amount, src.Decimals); err == nil {
			cfg.Deposit.Amount = amount
		}
	}

	dest := intent.DestAsset
	if dest != nil {
		cfg.Expense.Token = dest.Token()
		if quoted {
			cfg.Expense.Amount = new(big.Int).Set(in.Quote.Expense)
		} else if amount, err := parser.ParseUnits(intent.Amount, dest.Decimals); err == nil {
			cfg.Expense.Amount = amount
		}
	}

	var payout *types.CallSpec
	if dest != nil && in.Owner != nil {
		var call types.CallSpec
		if dest.IsNative {
			call = calls.NativeTransfer(*in.Owner, cfg.Expense.Amount)
		} else {
			call = calls.TokenTransfer(dest.Address, *in.Owner, cfg.Expense.Amount)
		}
		payout = &call
	}
	cfg.Calls = calls.List(payout, in.Arbitrary)

	if in.Arbitrary != nil && cfg.Expense.Token != nil {
		spender := in.Arbitrary.Target
		cfg.Expense.Spender = &spender
	}

	// Nothing can be paid out to a native destination without a recipient.
	if dest != nil && dest.IsNative && in.Owner == nil {
		cfg.Expense.Amount = new(big.Int)
	}

	cfg.ValidateEnabled = in.Owner != nil &&
		cfg.Deposit.Amount.Sign() > 0 &&
		quoted &&
		in.Approval.Satisfied() &&
		cfg.Complete()
	return cfg
}
