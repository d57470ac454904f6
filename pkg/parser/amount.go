package parser

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"solvernet-order/pkg/types"
)

var amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

// ParseUnits converts a human amount into the smallest unit of an asset with the given decimals.
// Digits beyond the asset's precision are truncated.
func ParseUnits(text string, decimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewError(types.KindInputInvalid, "amount is required", nil)
	}
	if !amountPattern.MatchString(text) {
		return nil, types.NewError(types.KindInputInvalid, fmt.Sprintf("invalid amount %q", text), nil)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, types.NewError(types.KindInputInvalid, fmt.Sprintf("invalid amount %q", text), err)
	}

	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ParsePositiveUnits is ParseUnits that also rejects zero
func ParsePositiveUnits(text string, decimals uint8) (*big.Int, error) {
	amount, err := ParseUnits(text, decimals)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, types.NewError(types.KindInputInvalid, "amount must be greater than zero", nil)
	}
	return amount, nil
}

// FormatUnits renders a smallest-unit amount as a decimal string
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// CheckBounds returns an InputInvalid error when text falls outside [min, max].
// Zero bounds are treated as unset.
func CheckBounds(text string, asset types.Asset) error {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return types.NewError(types.KindInputInvalid, fmt.Sprintf("invalid amount %q", text), err)
	}
	if !asset.MinAmount.IsZero() && d.LessThan(asset.MinAmount) {
		return types.NewError(types.KindInputInvalid, fmt.Sprintf("minimum amount is %s %s", asset.MinAmount, asset.Symbol), nil)
	}
	if !asset.MaxAmount.IsZero() && d.GreaterThan(asset.MaxAmount) {
		return types.NewError(types.KindInputInvalid, fmt.Sprintf("maximum amount is %s %s", asset.MaxAmount, asset.Symbol), nil)
	}
	return nil
}
