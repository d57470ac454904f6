package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultFillWindow is how long solvers have to fill an opened order
const DefaultFillWindow = 12 * time.Hour

// OrderIntent is what the user asked for, before pricing
type OrderIntent struct {
	SrcChainID  uint64
	DestChainID uint64
	SrcAsset    *Asset
	DestAsset   *Asset
	Amount      string
}

// Tuple is the staleness key for quotes: chains, assets and raw amount
func (i OrderIntent) Tuple() string {
	src, dest := "-", "-"
	if i.SrcAsset != nil {
		src = i.SrcAsset.Key()
	}
	if i.DestAsset != nil {
		dest = i.DestAsset.Key()
	}
	return fmt.Sprintf("%d|%d|%s|%s|%s", i.SrcChainID, i.DestChainID, src, dest, i.Amount)
}

// QuoteStatus is the lifecycle of a quote
type QuoteStatus string

const (
	QuoteDisabled QuoteStatus = "disabled"
	QuotePending  QuoteStatus = "pending"
	QuoteSuccess  QuoteStatus = "success"
	QuoteError    QuoteStatus = "error"
)

// Quote links deposit and expense amounts for one intent tuple
type Quote struct {
	Status     QuoteStatus `json:"status"`
	Deposit    *big.Int    `json:"deposit,omitempty"`
	Expense    *big.Int    `json:"expense,omitempty"`
	Error      string      `json:"error,omitempty"`
	Tuple      string      `json:"-"`
	Generation uint64      `json:"-"`
}

// ApprovalState is the allowance gate state
type ApprovalState string

const (
	ApprovalUnknown       ApprovalState = "unknown"
	ApprovalNotApplicable ApprovalState = "not-applicable"
	ApprovalChecking      ApprovalState = "checking"
	ApprovalSufficient    ApprovalState = "sufficient"
	ApprovalInsufficient  ApprovalState = "insufficient"
	ApprovalApproving     ApprovalState = "approving"
)

// ApprovalRequirement tracks allowance for (token, owner, spender) against the required deposit
type ApprovalRequirement struct {
	ChainID   uint64         `json:"chainId"`
	Token     common.Address `json:"token"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Required  *big.Int       `json:"required,omitempty"`
	Allowance *big.Int       `json:"allowance,omitempty"`
	State     ApprovalState  `json:"state"`
	Err       *Error         `json:"-"`
}

// Satisfied reports whether the deposit may proceed without an approval step
func (a ApprovalRequirement) Satisfied() bool {
	return a.State == ApprovalNotApplicable || a.State == ApprovalSufficient
}

// Deposit is what the user commits on the source chain
type Deposit struct {
	Amount *big.Int        `json:"amount"`
	Token  *common.Address `json:"token,omitempty"`
}

// Expense is what is spent on the destination chain
type Expense struct {
	Amount  *big.Int        `json:"amount"`
	Token   *common.Address `json:"token,omitempty"`
	Spender *common.Address `json:"spender,omitempty"`
}

// OrderConfig is the derived, submittable order
type OrderConfig struct {
	SrcChainID      uint64     `json:"srcChainId"`
	DestChainID     uint64     `json:"destChainId"`
	Deposit         Deposit    `json:"deposit"`
	Expense         Expense    `json:"expense"`
	Calls           []CallSpec `json:"calls"`
	ValidateEnabled bool       `json:"validateEnabled"`
}

// Complete reports whether no call carries placeholder arguments
func (c OrderConfig) Complete() bool {
	for _, call := range c.Calls {
		if call.Incomplete {
			return false
		}
	}
	return true
}

// Fingerprint identifies the material content of the config; validations are keyed on it
func (c OrderConfig) Fingerprint() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return crypto.Keccak256Hash(raw).Hex()
}

// ValidationStatus is the remote verdict on an OrderConfig
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationAccepted ValidationStatus = "accepted"
	ValidationRejected ValidationStatus = "rejected"
	ValidationError    ValidationStatus = "error"
)

// OrderValidation is the order service's verdict for one config fingerprint
type OrderValidation struct {
	Status            ValidationStatus `json:"status"`
	RejectReason      string           `json:"rejectReason,omitempty"`
	RejectDescription string           `json:"rejectDescription,omitempty"`
	Error             string           `json:"error,omitempty"`
	Fingerprint       string           `json:"-"`
}

// ExecutionStatus is the submission lifecycle
type ExecutionStatus string

const (
	ExecIdle           ExecutionStatus = "idle"
	ExecAwaitingSwitch ExecutionStatus = "awaiting-network-switch"
	ExecSubmitting     ExecutionStatus = "submitting"
	ExecOpen           ExecutionStatus = "open"
	ExecFilled         ExecutionStatus = "filled"
	ExecRejected       ExecutionStatus = "rejected"
	ExecError          ExecutionStatus = "error"
)

// Terminal reports whether the attempt has finished
func (s ExecutionStatus) Terminal() bool {
	return s == ExecFilled || s == ExecRejected || s == ExecError
}

// Committed reports whether submission has begun and input changes no longer apply
func (s ExecutionStatus) Committed() bool {
	return s == ExecSubmitting || s == ExecOpen
}

// OrderExecution is the state of the current attempt's submission
type OrderExecution struct {
	Status       ExecutionStatus `json:"status"`
	TxHash       string          `json:"txHash,omitempty"`
	OrderID      string          `json:"orderId,omitempty"`
	Block        uint64          `json:"block,omitempty"`
	RejectReason string          `json:"rejectReason,omitempty"`
	Err          *Error          `json:"-"`
}
