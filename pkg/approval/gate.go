// Package approval decides whether the deposit token needs an allowance increase
// before an order can be opened, and drives the approval transaction.
package approval

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"solvernet-order/pkg/generation"
	"solvernet-order/pkg/metrics"
	"solvernet-order/pkg/types"
)

// ErrNotApprovable is returned by Approve outside the insufficient state
var ErrNotApprovable = errors.New("approval is only possible while the allowance is insufficient")

// Allowances reads and raises ERC-20 allowances through the connected wallet
type Allowances interface {
	Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, chainID uint64, token, spender common.Address, amount *big.Int) (common.Hash, error)
	WaitApproval(ctx context.Context, chainID uint64, tx common.Hash) error
}

// Input is everything the gate's verdict depends on
type Input struct {
	ChainID  uint64
	Asset    *types.Asset
	Owner    *common.Address
	Spender  common.Address
	Required *big.Int
}

func (in Input) key() string {
	asset, owner, required := "-", "-", "-"
	if in.Asset != nil {
		asset = in.Asset.Key()
	}
	if in.Owner != nil {
		owner = in.Owner.Hex()
	}
	if in.Required != nil {
		required = in.Required.String()
	}
	return fmt.Sprintf("%d|%s|%s|%s|%s", in.ChainID, asset, owner, in.Spender.Hex(), required)
}

// Option configures a Gate
type Option func(*Gate)

// WithLogger sets the gate logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		g.logger = logger.Named("approval")
	}
}

// WithOnUpdate registers a callback invoked after every state change
func WithOnUpdate(fn func(types.ApprovalRequirement)) Option {
	return func(g *Gate) {
		g.onUpdate = fn
	}
}

// Gate tracks the allowance of one (token, owner, spender) against the required deposit
type Gate struct {
	allowances Allowances
	logger     *zap.Logger
	onUpdate   func(types.ApprovalRequirement)

	gens generation.Tracker

	mu    sync.Mutex
	key   string
	input Input
	state types.ApprovalRequirement
}

// NewGate creates an approval gate
func NewGate(allowances Allowances, opts ...Option) *Gate {
	g := &Gate{
		allowances: allowances,
		logger:     zap.NewNop(),
		state:      types.ApprovalRequirement{State: types.ApprovalUnknown},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Current returns the latest requirement
func (g *Gate) Current() types.ApprovalRequirement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Evaluate re-derives the requirement when any input changed. Any change resets the
// verdict and starts from scratch; unchanged input keeps the current state.
func (g *Gate) Evaluate(ctx context.Context, in Input) types.ApprovalRequirement {
	key := in.key()

	g.mu.Lock()
	if key == g.key {
		s := g.state
		g.mu.Unlock()
		return s
	}
	g.key = key
	g.input = in

	next := types.ApprovalRequirement{ChainID: in.ChainID, Spender: in.Spender, Required: in.Required, State: types.ApprovalUnknown}
	if in.Owner != nil {
		next.Owner = *in.Owner
	}
	if in.Asset != nil && !in.Asset.IsNative {
		next.Token = in.Asset.Address
	}

	switch {
	case in.Asset == nil:
	case in.Asset.IsNative:
		next.State = types.ApprovalNotApplicable
	case in.Required == nil || in.Required.Sign() <= 0 || in.Spender == (common.Address{}) || in.Owner == nil:
	default:
		next.State = types.ApprovalChecking
	}

	var gen uint64
	var readCtx context.Context
	if next.State == types.ApprovalChecking {
		gen, readCtx = g.gens.Begin(ctx)
	} else {
		g.gens.Invalidate()
	}
	g.state = next
	g.mu.Unlock()

	g.transitioned(next)
	if next.State == types.ApprovalChecking {
		go g.read(readCtx, gen, in)
	}
	return next
}

// Refresh re-reads the allowance for the current input, e.g. after an approval made outside the order flow
func (g *Gate) Refresh(ctx context.Context) types.ApprovalRequirement {
	g.mu.Lock()
	in := g.input
	switch g.state.State {
	case types.ApprovalSufficient, types.ApprovalInsufficient, types.ApprovalChecking:
	case types.ApprovalUnknown:
		if g.state.Err == nil {
			s := g.state
			g.mu.Unlock()
			return s
		}
	default:
		s := g.state
		g.mu.Unlock()
		return s
	}
	gen, readCtx := g.gens.Begin(ctx)
	g.state.State = types.ApprovalChecking
	g.state.Err = nil
	next := g.state
	g.mu.Unlock()

	g.transitioned(next)
	go g.read(readCtx, gen, in)
	return next
}

// Approve requests an allowance of exactly the required amount. It returns at once;
// progress and failures are reported through the requirement state.
func (g *Gate) Approve(ctx context.Context) error {
	g.mu.Lock()
	if g.state.State != types.ApprovalInsufficient {
		g.mu.Unlock()
		return ErrNotApprovable
	}
	in := g.input
	gen, approveCtx := g.gens.Begin(ctx)
	g.state.State = types.ApprovalApproving
	g.state.Err = nil
	next := g.state
	g.mu.Unlock()

	g.logger.Info("requesting approval",
		zap.String("token", next.Token.Hex()),
		zap.String("spender", next.Spender.Hex()),
		zap.String("amount", next.Required.String()))
	g.transitioned(next)

	go g.approve(approveCtx, gen, in)
	return nil
}

// Reset forgets the current input and any in-flight work
func (g *Gate) Reset() {
	g.mu.Lock()
	g.gens.Invalidate()
	g.key = ""
	g.input = Input{}
	g.state = types.ApprovalRequirement{State: types.ApprovalUnknown}
	next := g.state
	g.mu.Unlock()
	g.transitioned(next)
}

func (g *Gate) read(ctx context.Context, gen uint64, in Input) {
	allowance, err := g.allowances.Allowance(ctx, in.ChainID, in.Asset.Address, *in.Owner, in.Spender)

	g.mu.Lock()
	if !g.gens.IsCurrent(gen) {
		g.mu.Unlock()
		metrics.StaleResponses.WithLabelValues("allowance").Inc()
		return
	}
	g.gens.Settle(gen)
	if err != nil {
		g.state.State = types.ApprovalUnknown
		g.state.Err = types.NewError(types.KindUnknown, "unable to read token allowance", err)
		g.logger.Warn("allowance read failed", zap.Error(err))
	} else {
		g.state.Allowance = allowance
		g.state.Err = nil
		if allowance.Cmp(in.Required) >= 0 {
			g.state.State = types.ApprovalSufficient
		} else {
			g.state.State = types.ApprovalInsufficient
		}
	}
	next := g.state
	g.mu.Unlock()

	g.transitioned(next)
}

func (g *Gate) approve(ctx context.Context, gen uint64, in Input) {
	tx, err := g.allowances.Approve(ctx, in.ChainID, in.Asset.Address, in.Spender, in.Required)
	if err == nil {
		g.logger.Info("approval submitted", zap.String("tx", tx.Hex()))
		err = g.allowances.WaitApproval(ctx, in.ChainID, tx)
	}

	g.mu.Lock()
	if !g.gens.IsCurrent(gen) {
		g.mu.Unlock()
		metrics.StaleResponses.WithLabelValues("approval").Inc()
		return
	}
	if err != nil {
		g.gens.Settle(gen)
		g.state.State = types.ApprovalInsufficient
		if types.IsUserRejection(err) {
			g.state.Err = types.NewError(types.KindApprovalRejected, "approval was rejected in the wallet", err)
		} else {
			g.state.Err = types.NewError(types.KindApprovalFailed, "approval transaction failed", err)
		}
		next := g.state
		g.mu.Unlock()
		g.logger.Warn("approval did not complete", zap.Error(err))
		g.transitioned(next)
		return
	}

	// Confirmed: re-read rather than assume the new allowance.
	readGen, readCtx := g.gens.Begin(context.WithoutCancel(ctx))
	g.state.State = types.ApprovalChecking
	next := g.state
	g.mu.Unlock()

	g.transitioned(next)
	g.read(readCtx, readGen, in)
}

func (g *Gate) transitioned(s types.ApprovalRequirement) {
	metrics.ApprovalTransitions.WithLabelValues(string(s.State)).Inc()
	g.logger.Debug("approval state", zap.String("state", string(s.State)))
	if g.onUpdate != nil {
		g.onUpdate(s)
	}
}
