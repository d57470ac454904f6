// Package calls builds destination-side call descriptors.
//
// Argument coercion never fails: missing or malformed inputs are replaced with a
// placeholder ("0", false, the zero address or "") and the resulting CallSpec is
// flagged Incomplete so it can be previewed but not submitted.
package calls

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"solvernet-order/pkg/types"
)

// TransferFragment is the minimal ERC-20 transfer ABI
var TransferFragment = types.Function{
	Type: "function",
	Name: "transfer",
	Inputs: []types.Param{
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
	Outputs:         []types.Param{{Name: "", Type: "bool"}},
	StateMutability: "nonpayable",
}

// NativeTransfer builds a value-only call paying amount to recipient
func NativeTransfer(recipient common.Address, amount *big.Int) types.CallSpec {
	return types.CallSpec{
		Target: recipient,
		Value:  copyInt(amount),
	}
}

// TokenTransfer builds an ERC-20 transfer(recipient, amount) call on token
func TokenTransfer(token, recipient common.Address, amount *big.Int) types.CallSpec {
	return types.CallSpec{
		Target:       token,
		FunctionName: TransferFragment.Name,
		ABI:          []types.Function{TransferFragment},
		Args:         []any{recipient, copyInt(amount).String()},
		Value:        new(big.Int),
	}
}

// Arbitrary builds a call to fn on contract with inputs keyed by parameter name.
// Only an invalid contract address is an error; argument problems mark the call Incomplete.
func Arbitrary(contract string, fn types.Function, inputs map[string]string) (types.CallSpec, error) {
	if !IsValidAddress(contract) {
		return types.CallSpec{}, types.NewError(types.KindInvalidAddress, fmt.Sprintf("invalid contract address %q", contract), nil)
	}
	if fn.Name == "" {
		return types.CallSpec{}, types.NewError(types.KindInvalidArgument, "function name is required", nil)
	}

	spec := types.CallSpec{
		Target:       common.HexToAddress(contract),
		FunctionName: fn.Name,
		ABI:          []types.Function{fn},
		Args:         make([]any, len(fn.Inputs)),
		Value:        new(big.Int),
	}
	for i, param := range fn.Inputs {
		value, issue := Coerce(param, strings.TrimSpace(inputs[inputKey(param, i)]))
		spec.Args[i] = value
		if issue != "" {
			spec.Incomplete = true
			spec.Issues = append(spec.Issues, fmt.Sprintf("%s (%s): %s", inputKey(param, i), param.Type, issue))
		}
	}
	return spec, nil
}

// inputKey names unnamed parameters by position
func inputKey(p types.Param, i int) string {
	if p.Name != "" {
		return p.Name
	}
	return "arg" + strconv.Itoa(i)
}

// Coerce converts raw text for a parameter, returning a placeholder and a reason when it cannot
func Coerce(param types.Param, raw string) (any, string) {
	t := param.Type
	switch {
	case strings.HasSuffix(t, "]") || strings.HasPrefix(t, "tuple"):
		// Calldata packs scalar arguments only.
		return raw, "unsupported type " + t
	case strings.HasPrefix(t, "uint"), strings.HasPrefix(t, "int"):
		if raw == "" {
			return "0", "missing value"
		}
		v, ok := parseInteger(raw)
		if !ok {
			return "0", "not an integer"
		}
		if err := checkIntegerRange(t, v); err != "" {
			return "0", err
		}
		return v.String(), ""
	case t == "bool":
		switch raw {
		case "true":
			return true, ""
		case "false":
			return false, ""
		case "":
			return false, "missing value"
		}
		return false, "expected true or false"
	case t == "address":
		if raw == "" {
			return common.Address{}, "missing value"
		}
		if !IsValidAddress(raw) {
			return common.Address{}, "invalid address"
		}
		return common.HexToAddress(raw), ""
	case strings.HasPrefix(t, "bytes"):
		if raw == "" {
			return "", "missing value"
		}
		b, err := hexutil.Decode(raw)
		if err != nil {
			return raw, "expected 0x-prefixed hex"
		}
		if size := strings.TrimPrefix(t, "bytes"); size != "" {
			if n, err := strconv.Atoi(size); err == nil && len(b) > n {
				return raw, fmt.Sprintf("longer than %d bytes", n)
			}
		}
		return raw, ""
	}
	if raw == "" {
		return "", "missing value"
	}
	return raw, ""
}

func parseInteger(raw string) (*big.Int, bool) {
	base := 10
	s := raw
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	return new(big.Int).SetString(s, base)
}

func checkIntegerRange(t string, v *big.Int) string {
	unsigned := strings.HasPrefix(t, "uint")
	bits := 256
	if size := strings.TrimPrefix(strings.TrimPrefix(t, "u"), "int"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return "unsupported integer type"
		}
		bits = n
	}
	if unsigned {
		if v.Sign() < 0 {
			return "must not be negative"
		}
		if v.BitLen() > bits {
			return fmt.Sprintf("does not fit in %s", t)
		}
		return ""
	}
	abs := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		abs.Sub(abs, big.NewInt(1))
	}
	if abs.BitLen() > bits-1 {
		return fmt.Sprintf("does not fit in %s", t)
	}
	return ""
}

// IsValidAddress accepts 20-byte hex addresses; mixed-case input must carry a valid EIP-55 checksum
func IsValidAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == "0x"+body
}

// List orders the call list: the implicit payout first, then at most one arbitrary call
func List(payout, arbitrary *types.CallSpec) []types.CallSpec {
	out := make([]types.CallSpec, 0, 2)
	if payout != nil {
		out = append(out, *payout)
	}
	if arbitrary != nil {
		out = append(out, *arbitrary)
	}
	return out
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
