package inbox

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"solvernet-order/pkg/types"
)

// Chain is the wallet surface needed to open and follow orders
type Chain interface {
	SendTransaction(ctx context.Context, chainID uint64, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, chainID uint64, hash common.Hash) (*gethtypes.Receipt, error)
	FilterLogs(ctx context.Context, chainID uint64, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	BlockNumber(ctx context.Context, chainID uint64) (uint64, error)
}

// Submission is the result of opening an order
type Submission struct {
	TxHash  common.Hash
	OrderID common.Hash
	Block   uint64
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger.Named("inbox")
	}
}

// WithPollInterval sets how often status logs are polled
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		e.pollInterval = d
	}
}

// WithFillWindow sets how long solvers have to fill an order
func WithFillWindow(d time.Duration) Option {
	return func(e *Executor) {
		e.fillWindow = d
	}
}

// Executor opens orders on per-chain inbox contracts
type Executor struct {
	chain        Chain
	inboxes      map[uint64]common.Address
	fillWindow   time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewExecutor creates an executor. inboxes maps source chain ids to inbox addresses.
func NewExecutor(chain Chain, inboxes map[uint64]common.Address, opts ...Option) *Executor {
	e := &Executor{
		chain:        chain,
		inboxes:      inboxes,
		fillWindow:   types.DefaultFillWindow,
		pollInterval: 5 * time.Second,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inbox returns the inbox address for chainID
func (e *Executor) Inbox(chainID uint64) (common.Address, error) {
	addr, ok := e.inboxes[chainID]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, types.NewError(types.KindUnknownChain, fmt.Sprintf("no inbox configured for chain %d", chainID), nil)
	}
	return addr, nil
}

// Submit opens cfg on the source chain inbox and waits for it to be mined
func (e *Executor) Submit(ctx context.Context, owner common.Address, cfg types.OrderConfig) (Submission, error) {
	inbox, err := e.Inbox(cfg.SrcChainID)
	if err != nil {
		return Submission{}, err
	}

	deadline := uint32(e.now().Add(e.fillWindow).Unix())
	data, err := EncodeOpen(owner, cfg, deadline)
	if err != nil {
		return Submission{}, err
	}

	value := openValue(cfg)
	e.logger.Info("opening order",
		zap.Uint64("srcChain", cfg.SrcChainID),
		zap.Uint64("destChain", cfg.DestChainID),
		zap.String("inbox", inbox.Hex()),
		zap.String("value", value.String()),
		zap.Int("calls", len(cfg.Calls)))

	txHash, err := e.chain.SendTransaction(ctx, cfg.SrcChainID, inbox, value, data)
	if err != nil {
		return Submission{}, err
	}

	receipt, err := e.chain.WaitMined(ctx, cfg.SrcChainID, txHash)
	if err != nil {
		return Submission{TxHash: txHash}, fmt.Errorf("failed to confirm order transaction: %w", err)
	}

	orderID, ok := OrderIDFromLogs(inbox, receipt.Logs)
	if !ok {
		return Submission{TxHash: txHash}, fmt.Errorf("order transaction %s emitted no inbox event", txHash.Hex())
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	e.logger.Info("order opened", zap.String("orderId", orderID.Hex()), zap.String("tx", txHash.Hex()))
	return Submission{TxHash: txHash, OrderID: orderID, Block: block}, nil
}

// OrderIDFromLogs returns the order id from the inbox's Open event, falling back to the first indexed inbox log
func OrderIDFromLogs(inbox common.Address, logs []*gethtypes.Log) (common.Hash, bool) {
	var fallback *common.Hash
	for _, l := range logs {
		if l == nil || l.Address != inbox || len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] == OpenedTopic {
			return l.Topics[1], true
		}
		if fallback == nil {
			id := l.Topics[1]
			fallback = &id
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return common.Hash{}, false
}
