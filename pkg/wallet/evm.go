// Package wallet is a raw-key EVM wallet that can move between configured chains.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	ordertypes "solvernet-order/pkg/types"
)

const receiptPollInterval = 2 * time.Second

// ErrReadOnly is returned when a watcher is asked to sign
var ErrReadOnly = errors.New("wallet has no private key configured")

// Confirmer asks the user to approve a wallet action
type Confirmer func(prompt string) bool

// Option configures an EVM wallet
type Option func(*EVM)

// WithLogger sets the wallet logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *EVM) {
		w.logger = logger.Named("wallet")
	}
}

// WithConfirmer prompts before network switches and transactions
func WithConfirmer(confirm Confirmer) Option {
	return func(w *EVM) {
		w.confirm = confirm
	}
}

// WithGasLimit overrides gas estimation
func WithGasLimit(limit uint64) Option {
	return func(w *EVM) {
		w.gasLimit = limit
	}
}

// EVM signs with a private key and talks to one RPC endpoint per chain
type EVM struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	rpcs       map[uint64]string
	confirm    Confirmer
	gasLimit   uint64
	logger     *zap.Logger

	mu      sync.Mutex
	active  uint64
	clients map[uint64]*ethclient.Client
}

// NewEVM creates a wallet starting on activeChain
func NewEVM(privateKeyHex string, rpcs map[uint64]string, activeChain uint64, opts ...Option) (*EVM, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	w := &EVM{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		rpcs:       rpcs,
		active:     activeChain,
		logger:     zap.NewNop(),
		clients:    make(map[uint64]*ethclient.Client),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// NewWatcher creates a read-only wallet: it can switch chains and read logs but has no account
func NewWatcher(rpcs map[uint64]string, activeChain uint64, opts ...Option) *EVM {
	w := &EVM{
		rpcs:    rpcs,
		active:  activeChain,
		logger:  zap.NewNop(),
		clients: make(map[uint64]*ethclient.Client),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Address returns the connected account; false for a watcher
func (w *EVM) Address() (common.Address, bool) {
	return w.address, w.privateKey != nil
}

// ChainID returns the active chain
func (w *EVM) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// SwitchNetwork moves the wallet to chainID after confirming the endpoint serves that chain
func (w *EVM) SwitchNetwork(ctx context.Context, chainID uint64) error {
	if _, ok := w.rpcs[chainID]; !ok {
		return fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}
	if w.confirm != nil && !w.confirm(fmt.Sprintf("Switch wallet network from chain %d to chain %d?", w.ChainID(), chainID)) {
		return ordertypes.ErrUserRejected
	}

	client, err := w.client(ctx, chainID)
	if err != nil {
		return err
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	if remote.Uint64() != chainID {
		return fmt.Errorf("RPC endpoint for chain %d reports chain %d", chainID, remote.Uint64())
	}

	w.mu.Lock()
	w.active = chainID
	w.mu.Unlock()
	w.logger.Info("switched network", zap.Uint64("chain", chainID))
	return nil
}

// SendTransaction signs and broadcasts a transaction on chainID, which must be the active chain
func (w *EVM) SendTransaction(ctx context.Context, chainID uint64, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if w.privateKey == nil {
		return common.Hash{}, ErrReadOnly
	}
	if active := w.ChainID(); active != chainID {
		return common.Hash{}, ordertypes.NewError(ordertypes.KindNetworkMismatch,
			fmt.Sprintf("wallet is on chain %d, transaction targets chain %d", active, chainID), nil)
	}
	if value == nil {
		value = new(big.Int)
	}
	if w.confirm != nil && !w.confirm(fmt.Sprintf("Send transaction to %s on chain %d (value %s wei, %d bytes data)?", to.Hex(), chainID, value, len(data))) {
		return common.Hash{}, ordertypes.ErrUserRejected
	}

	client, err := w.client(ctx, chainID)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get latest header: %w", err)
	}

	gasLimit := w.gasLimit
	if gasLimit == 0 {
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * 120 / 100 // Add 20% buffer
	}

	tx, err := w.newTx(ctx, client, head, chainID, nonce, to, value, gasLimit, data)
	if err != nil {
		return common.Hash{}, err
	}
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), w.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	w.logger.Info("transaction sent", zap.String("hash", signedTx.Hash().Hex()), zap.Uint64("chain", chainID))
	return signedTx.Hash(), nil
}

// newTx prices a dynamic-fee transaction on London chains and a legacy one otherwise
func (w *EVM) newTx(ctx context.Context, client *ethclient.Client, head *types.Header, chainID, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	if head.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		}), nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip: %w", err)
	}
	// Room for the base fee to double before the transaction stops being includable
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}

// WaitMined polls for the receipt of hash and fails if the transaction reverted
func (w *EVM) WaitMined(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			return receipt, nil
		}
		if err != ethereum.NotFound {
			w.logger.Debug("receipt not available", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FilterLogs queries logs on chainID
func (w *EVM) FilterLogs(ctx context.Context, chainID uint64, q ethereum.FilterQuery) ([]types.Log, error) {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return client.FilterLogs(ctx, q)
}

// BlockNumber returns the latest block on chainID
func (w *EVM) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// Close closes all RPC connections
func (w *EVM) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, c := range w.clients {
		c.Close()
		delete(w.clients, id)
	}
}

func (w *EVM) client(ctx context.Context, chainID uint64) (*ethclient.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.clients[chainID]; ok {
		return c, nil
	}
	url, ok := w.rpcs[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %d", chainID)
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	w.clients[chainID] = c
	return c, nil
}
