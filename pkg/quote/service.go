// Package quote drives the quote request lifecycle for an order intent.
package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects which side of the quote is fixed
type Mode string

const (
	// ModeExpense fixes the deposit and asks for the resulting expense
	ModeExpense Mode = "expense"
	// ModeDeposit fixes the expense and asks for the required deposit
	ModeDeposit Mode = "deposit"
)

// Unit is an asset amount; a nil Token means the chain's native currency
type Unit struct {
	Token  *common.Address
	Amount *big.Int
}

// Request is sent to the quote service
type Request struct {
	SrcChainID  uint64
	DestChainID uint64
	Deposit     Unit
	Expense     Unit
	Mode        Mode
}

// Response carries both sides in smallest units
type Response struct {
	Deposit *big.Int
	Expense *big.Int
}

// Service prices deposit/expense pairs
type Service interface {
	Quote(ctx context.Context, req Request) (Response, error)
}
