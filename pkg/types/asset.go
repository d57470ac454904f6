package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeMarker identifies a chain's native currency in asset keys
const NativeMarker = "native"

// Asset is a token or native currency on a specific chain
type Asset struct {
	ChainID   uint64          `json:"chainId"`
	Address   common.Address  `json:"address"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Decimals  uint8           `json:"decimals"`
	IsNative  bool            `json:"isNative"`
	MinAmount decimal.Decimal `json:"minAmount"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

// Key returns the asset identity: chain id plus address or the native marker
func (a Asset) Key() string {
	if a.IsNative {
		return fmt.Sprintf("%d:%s", a.ChainID, NativeMarker)
	}
	return fmt.Sprintf("%d:%s", a.ChainID, strings.ToLower(a.Address.Hex()))
}

// Token returns the token contract address, or nil for native assets
func (a Asset) Token() *common.Address {
	if a.IsNative {
		return nil
	}
	addr := a.Address
	return &addr
}

// Chain describes a registered network
type Chain struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Explorer    string `json:"explorer"`
	ExplorerAPI string `json:"explorerApi"`
	OneClick    string `json:"oneclick,omitempty"`
	Native      Asset  `json:"native"`
}

// TxURL returns the explorer link for a transaction hash
func (c Chain) TxURL(hash string) string {
	if c.Explorer == "" {
		return ""
	}
	return strings.TrimRight(c.Explorer, "/") + "/tx/" + hash
}
