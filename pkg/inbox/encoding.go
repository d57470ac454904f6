// Package inbox opens orders on the source-chain inbox contract and follows their outcome.
package inbox

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/types"
)

const inboxABI = `[
	{"type":"function","name":"open","stateMutability":"payable","outputs":[],"inputs":[
		{"name":"order","type":"tuple","components":[
			{"name":"fillDeadline","type":"uint32"},
			{"name":"orderDataType","type":"bytes32"},
			{"name":"orderData","type":"bytes"}
		]}
	]},
	{"type":"event","name":"Filled","anonymous":false,"inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"fillHash","type":"bytes32","indexed":true},
		{"name":"creditedTo","type":"address","indexed":true}
	]},
	{"type":"event","name":"Rejected","anonymous":false,"inputs":[
		{"name":"id","type":"bytes32","indexed":true},
		{"name":"by","type":"address","indexed":true},
		{"name":"reason","type":"uint8","indexed":true}
	]}
]`

// OrderDataTypeString is the EIP-712 style type string hashed into orderDataType
const OrderDataTypeString = "OrderData(address owner,uint64 destChainId,Deposit deposit,Call[] calls,TokenExpense[] expenses)" +
	"Call(address target,bytes4 selector,uint256 value,bytes params)" +
	"Deposit(address token,uint96 amount)" +
	"TokenExpense(address spender,address token,uint96 amount)"

var (
	parsedInbox = mustParseABI(inboxABI)

	// OrderDataTypeHash identifies the order data encoding
	OrderDataTypeHash = crypto.Keccak256Hash([]byte(OrderDataTypeString))

	// OpenedTopic is ERC-7683 Open(bytes32 indexed orderId, ResolvedCrossChainOrder resolvedOrder)
	OpenedTopic = crypto.Keccak256Hash([]byte(
		"Open(bytes32,(address,uint256,uint32,uint32,bytes32,(bytes32,uint256,bytes32,uint256)[],(bytes32,uint256,bytes32,uint256)[],(uint64,bytes32,bytes)[]))"))
	FilledTopic   = parsedInbox.Events["Filled"].ID
	RejectedTopic = parsedInbox.Events["Rejected"].ID

	orderDataArgs = mustOrderDataArgs()
	maxUint96     = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
)

type onchainOrder struct {
	FillDeadline  uint32
	OrderDataType [32]byte
	OrderData     []byte
}

type orderData struct {
	Owner       common.Address
	DestChainId uint64
	Deposit     depositData
	Calls       []callData
	Expenses    []expenseData
}

type depositData struct {
	Token  common.Address
	Amount *big.Int
}

type callData struct {
	Target   common.Address
	Selector [4]byte
	Value    *big.Int
	Params   []byte
}

type expenseData struct {
	Spender common.Address
	Token   common.Address
	Amount  *big.Int
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse inbox ABI: %v", err))
	}
	return parsed
}

func mustOrderDataArgs() abi.Arguments {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "owner", Type: "address"},
		{Name: "destChainId", Type: "uint64"},
		{Name: "deposit", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint96"},
		}},
		{Name: "calls", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "target", Type: "address"},
			{Name: "selector", Type: "bytes4"},
			{Name: "value", Type: "uint256"},
			{Name: "params", Type: "bytes"},
		}},
		{Name: "expenses", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "spender", Type: "address"},
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint96"},
		}},
	})
	if err != nil {
		panic(fmt.Sprintf("failed to build order data type: %v", err))
	}
	return abi.Arguments{{Type: t}}
}

// EncodeOrderData ABI-encodes the order data for cfg opened by owner
func EncodeOrderData(owner common.Address, cfg types.OrderConfig) ([]byte, error) {
	if !cfg.Complete() {
		return nil, types.NewError(types.KindInvalidArgument, "order has incomplete calls", nil)
	}
	if err := checkUint96("deposit", cfg.Deposit.Amount); err != nil {
		return nil, err
	}

	data := orderData{
		Owner:       owner,
		DestChainId: cfg.DestChainID,
		Deposit:     depositData{Token: addressOrZero(cfg.Deposit.Token), Amount: amountOrZero(cfg.Deposit.Amount)},
		Calls:       make([]callData, 0, len(cfg.Calls)),
		Expenses:    []expenseData{},
	}

	for _, call := range cfg.Calls {
		encoded, err := calls.Calldata(call)
		if err != nil {
			return nil, fmt.Errorf("failed to encode call to %s: %w", call.Target.Hex(), err)
		}
		selector, params := calls.SplitCalldata(encoded)
		data.Calls = append(data.Calls, callData{
			Target:   call.Target,
			Selector: selector,
			Value:    amountOrZero(call.Value),
			Params:   nonNilBytes(params),
		})
	}

	// Native expenses travel as call value; only token expenses are declared.
	if cfg.Expense.Token != nil {
		if err := checkUint96("expense", cfg.Expense.Amount); err != nil {
			return nil, err
		}
		data.Expenses = append(data.Expenses, expenseData{
			Spender: addressOrZero(cfg.Expense.Spender),
			Token:   *cfg.Expense.Token,
			Amount:  amountOrZero(cfg.Expense.Amount),
		})
	}

	encoded, err := orderDataArgs.Pack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to pack order data: %w", err)
	}
	return encoded, nil
}

// EncodeOpen builds calldata for inbox.open with the given fill deadline
func EncodeOpen(owner common.Address, cfg types.OrderConfig, fillDeadline uint32) ([]byte, error) {
	encoded, err := EncodeOrderData(owner, cfg)
	if err != nil {
		return nil, err
	}
	data, err := parsedInbox.Pack("open", onchainOrder{
		FillDeadline:  fillDeadline,
		OrderDataType: OrderDataTypeHash,
		OrderData:     encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack open data: %w", err)
	}
	return data, nil
}

// DecodeOrderData reverses EncodeOrderData; used to inspect an order before signing
func DecodeOrderData(data []byte) (owner common.Address, destChainID uint64, numCalls int, err error) {
	values, err := orderDataArgs.Unpack(data)
	if err != nil {
		return common.Address{}, 0, 0, fmt.Errorf("failed to unpack order data: %w", err)
	}
	decoded := *abi.ConvertType(values[0], new(orderData)).(*orderData)
	return decoded.Owner, decoded.DestChainId, len(decoded.Calls), nil
}

// openValue is the native value sent with open: the deposit when it is native
func openValue(cfg types.OrderConfig) *big.Int {
	if cfg.Deposit.Token == nil {
		return amountOrZero(cfg.Deposit.Amount)
	}
	return new(big.Int)
}

func checkUint96(field string, v *big.Int) error {
	if v != nil && (v.Sign() < 0 || v.Cmp(maxUint96) > 0) {
		return types.NewError(types.KindInvalidArgument, fmt.Sprintf("%s amount %s does not fit in uint96", field, v), nil)
	}
	return nil
}

func addressOrZero(a *common.Address) common.Address {
	if a == nil {
		return common.Address{}
	}
	return *a
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
