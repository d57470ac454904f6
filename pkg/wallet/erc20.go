package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 functions used for allowances and balances
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
	}
	return parsed
}

// Allowance reads token.allowance(owner, spender) on chainID
func (w *EVM) Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error) {
	return w.callUint(ctx, chainID, token, "allowance", owner, spender)
}

// Approve sends token.approve(spender, amount) from the connected account
func (w *EVM) Approve(ctx context.Context, chainID uint64, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := parsedERC20.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve data: %w", err)
	}
	return w.SendTransaction(ctx, chainID, token, big.NewInt(0), data)
}

// WaitApproval waits for an approve transaction to be mined successfully
func (w *EVM) WaitApproval(ctx context.Context, chainID uint64, tx common.Hash) error {
	_, err := w.WaitMined(ctx, chainID, tx)
	return err
}

// Balance returns the connected account's balance of token, or of the native currency when token is nil
func (w *EVM) Balance(ctx context.Context, chainID uint64, token *common.Address) (*big.Int, error) {
	if token == nil {
		client, err := w.client(ctx, chainID)
		if err != nil {
			return nil, err
		}
		balance, err := client.BalanceAt(ctx, w.address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}
	return w.callUint(ctx, chainID, *token, "balanceOf", w.address)
}

func (w *EVM) callUint(ctx context.Context, chainID uint64, contract common.Address, method string, args ...any) (*big.Int, error) {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	data, err := parsedERC20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}
	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := parsedERC20.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return value, nil
}
