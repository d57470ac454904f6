// Package network checks that the wallet is on the chain a step requires.
package network

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"solvernet-order/pkg/types"
)

// Switcher is the part of the wallet the guard needs
type Switcher interface {
	ChainID() uint64
	SwitchNetwork(ctx context.Context, chainID uint64) error
}

// Guard compares the wallet's active chain with the chain required for a step
type Guard struct {
	wallet Switcher
	logger *zap.Logger
}

// NewGuard creates a network guard
func NewGuard(wallet Switcher, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{wallet: wallet, logger: logger.Named("network")}
}

// Active returns the wallet's current chain
func (g *Guard) Active() uint64 {
	return g.wallet.ChainID()
}

// Check returns a NetworkMismatch error when the wallet is not on required
func (g *Guard) Check(required uint64) error {
	active := g.Active()
	if active == required {
		return nil
	}
	return types.NewError(types.KindNetworkMismatch,
		fmt.Sprintf("wallet is on chain %d, switch to chain %d to continue", active, required), nil)
}

// Request asks the wallet to switch to required. It never continues the interrupted step.
func (g *Guard) Request(ctx context.Context, required uint64) error {
	g.logger.Info("requesting network switch", zap.Uint64("from", g.Active()), zap.Uint64("to", required))
	if err := g.wallet.SwitchNetwork(ctx, required); err != nil {
		if types.IsUserRejection(err) {
			return types.NewError(types.KindNetworkMismatch, "network switch was rejected in the wallet", err)
		}
		return types.NewError(types.KindNetworkMismatch, fmt.Sprintf("failed to switch to chain %d", required), err)
	}
	return nil
}
