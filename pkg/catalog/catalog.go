// Package catalog resolves which assets are valid on which chains for a network mode.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solvernet-order/pkg/client"
	"solvernet-order/pkg/types"
)

var (
	defaultMinAmount = decimal.RequireFromString("0.001")
	defaultMaxAmount = decimal.NewFromInt(1000)
)

// TokenSource supplies the remote token list
type TokenSource interface {
	Tokens(ctx context.Context) ([]client.Token, error)
}

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the catalog logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger.Named("catalog")
	}
}

// WithTokenSource enables merging the remote token list on Load
func WithTokenSource(src TokenSource) Option {
	return func(c *Catalog) {
		c.source = src
	}
}

// Catalog is the chain and asset set for one network mode
type Catalog struct {
	network Network
	logger  *zap.Logger
	source  TokenSource

	mu     sync.RWMutex
	chains []types.Chain
	assets map[uint64][]types.Asset

	once    sync.Once
	loadErr error
}

// New builds a catalog from the registry entries that belong to network
func New(reg *Registry, network Network, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		network: network,
		logger:  zap.NewNop(),
		assets:  make(map[uint64][]types.Asset),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, entry := range reg.Chains {
		if entry.Network != network {
			continue
		}
		if _, ok := c.assets[entry.ID]; ok {
			return nil, fmt.Errorf("chain %d registered twice", entry.ID)
		}

		native, err := toAsset(entry.ID, entry.Native, true)
		if err != nil {
			return nil, fmt.Errorf("chain %d native: %w", entry.ID, err)
		}
		assets := []types.Asset{native}
		for _, a := range entry.Assets {
			asset, err := toAsset(entry.ID, a, false)
			if err != nil {
				return nil, fmt.Errorf("chain %d asset %s: %w", entry.ID, a.Symbol, err)
			}
			assets = append(assets, asset)
		}

		c.chains = append(c.chains, types.Chain{
			ID:          entry.ID,
			Name:        entry.Name,
			Explorer:    entry.Explorer,
			ExplorerAPI: entry.ExplorerAPI,
			OneClick:    entry.OneClick,
			Native:      native,
		})
		c.assets[entry.ID] = assets
	}

	if len(c.chains) == 0 {
		return nil, fmt.Errorf("no chains registered for %s", network)
	}
	return c, nil
}

func toAsset(chainID uint64, e AssetEntry, native bool) (types.Asset, error) {
	asset := types.Asset{
		ChainID:   chainID,
		Symbol:    e.Symbol,
		Name:      e.Name,
		Decimals:  e.Decimals,
		IsNative:  native,
		MinAmount: defaultMinAmount,
		MaxAmount: defaultMaxAmount,
	}
	if !native {
		if !common.IsHexAddress(e.Address) {
			return types.Asset{}, fmt.Errorf("invalid address %q", e.Address)
		}
		asset.Address = common.HexToAddress(e.Address)
	}
	var err error
	if e.MinAmount != "" {
		if asset.MinAmount, err = decimal.NewFromString(e.MinAmount); err != nil {
			return types.Asset{}, fmt.Errorf("invalid min_amount: %w", err)
		}
	}
	if e.MaxAmount != "" {
		if asset.MaxAmount, err = decimal.NewFromString(e.MaxAmount); err != nil {
			return types.Asset{}, fmt.Errorf("invalid max_amount: %w", err)
		}
	}
	return asset, nil
}

// Network returns the network mode the catalog was built for
func (c *Catalog) Network() Network {
	return c.network
}

// Chains returns the registered chains in registry order
func (c *Catalog) Chains() []types.Chain {
	out := make([]types.Chain, len(c.chains))
	copy(out, c.chains)
	return out
}

// Chain returns a registered chain by id
func (c *Catalog) Chain(chainID uint64) (types.Chain, error) {
	for _, chain := range c.chains {
		if chain.ID == chainID {
			return chain, nil
		}
	}
	return types.Chain{}, types.NewError(types.KindUnknownChain, fmt.Sprintf("chain %d is not supported on %s", chainID, c.network), nil)
}

// ChainByName resolves a chain by case-insensitive name or numeric id
func (c *Catalog) ChainByName(name string) (types.Chain, error) {
	name = strings.TrimSpace(name)
	if id, err := strconv.ParseUint(name, 10, 64); err == nil {
		return c.Chain(id)
	}
	normalized := strings.ReplaceAll(strings.ToLower(name), "-", " ")
	for _, chain := range c.chains {
		if strings.ToLower(chain.Name) == normalized || chain.OneClick == normalized {
			return chain, nil
		}
	}
	return types.Chain{}, types.NewError(types.KindUnknownChain, fmt.Sprintf("chain %q is not supported on %s", name, c.network), nil)
}

// AssetsForChain returns the ordered asset list for a chain
func (c *Catalog) AssetsForChain(chainID uint64) ([]types.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	assets, ok := c.assets[chainID]
	if !ok {
		return nil, types.NewError(types.KindUnknownChain, fmt.Sprintf("chain %d is not supported on %s", chainID, c.network), nil)
	}
	out := make([]types.Asset, len(assets))
	copy(out, assets)
	return out, nil
}

// Native returns the chain's native currency
func (c *Catalog) Native(chainID uint64) (types.Asset, error) {
	chain, err := c.Chain(chainID)
	if err != nil {
		return types.Asset{}, err
	}
	return chain.Native, nil
}

// Lookup resolves an asset on a chain by symbol (case-insensitive) or token address
func (c *Catalog) Lookup(chainID uint64, symbolOrAddress string) (types.Asset, error) {
	assets, err := c.AssetsForChain(chainID)
	if err != nil {
		return types.Asset{}, err
	}

	if common.IsHexAddress(symbolOrAddress) {
		addr := common.HexToAddress(symbolOrAddress)
		for _, a := range assets {
			if a.IsNative && addr == (common.Address{}) {
				return a, nil
			}
			if !a.IsNative && a.Address == addr {
				return a, nil
			}
		}
	} else {
		for _, a := range assets {
			if strings.EqualFold(a.Symbol, symbolOrAddress) {
				return a, nil
			}
		}
	}
	return types.Asset{}, types.NewError(types.KindInputInvalid, fmt.Sprintf("asset %q not found on chain %d", symbolOrAddress, chainID), nil)
}

// Load merges the remote token list once per catalog. Failures leave the registry in place.
func (c *Catalog) Load(ctx context.Context) error {
	c.once.Do(func() {
		if c.source == nil {
			return
		}
		tokens, err := c.source.Tokens(ctx)
		if err != nil {
			c.loadErr = fmt.Errorf("failed to load remote tokens: %w", err)
			c.logger.Warn("using static registry", zap.Error(err))
			return
		}
		added := c.merge(tokens)
		c.logger.Info("remote tokens merged", zap.Int("received", len(tokens)), zap.Int("added", added))
	})
	return c.loadErr
}

func (c *Catalog) merge(tokens []client.Token) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, t := range tokens {
		assets, ok := c.assets[t.ChainID]
		if !t.Enabled || !ok {
			continue
		}
		// The zero address is the chain's native currency, which the registry always carries.
		if !common.IsHexAddress(t.Address) || common.HexToAddress(t.Address) == (common.Address{}) {
			continue
		}
		addr := common.HexToAddress(t.Address)
		known := false
		for _, a := range assets {
			if !a.IsNative && a.Address == addr {
				known = true
				break
			}
		}
		if known {
			continue
		}
		c.assets[t.ChainID] = append(assets, types.Asset{
			ChainID:   t.ChainID,
			Address:   addr,
			Symbol:    t.Symbol,
			Name:      t.Name,
			Decimals:  t.Decimals,
			MinAmount: defaultMinAmount,
			MaxAmount: defaultMaxAmount,
		})
		added++
	}
	return added
}
