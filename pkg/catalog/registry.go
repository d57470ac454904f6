package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed registry.toml
var defaultRegistry []byte

// Network selects the chain and asset set
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork converts a config value into a Network
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case Mainnet, "":
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	}
	return "", fmt.Errorf("unknown network %q (expected mainnet or testnet)", s)
}

// Registry is the on-disk chain and asset table
type Registry struct {
	Chains []ChainEntry `toml:"chains"`
}

// ChainEntry is one chain with its native currency and tokens
type ChainEntry struct {
	ID             uint64       `toml:"id"`
	Name           string       `toml:"name"`
	Network        Network      `toml:"network"`
	Explorer       string       `toml:"explorer"`
	ExplorerAPI    string       `toml:"explorer_api"`
	ExplorerKeyEnv string       `toml:"explorer_key_env"`
	OneClick       string       `toml:"oneclick"`
	Native         AssetEntry   `toml:"native"`
	Assets         []AssetEntry `toml:"assets"`
}

// AssetEntry is one asset row; Address is empty for the native currency
type AssetEntry struct {
	Address   string `toml:"address"`
	Symbol    string `toml:"symbol"`
	Name      string `toml:"name"`
	Decimals  uint8  `toml:"decimals"`
	MinAmount string `toml:"min_amount"`
	MaxAmount string `toml:"max_amount"`
}

// DefaultRegistry returns the embedded registry
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultRegistry)
}

// LoadRegistry reads a registry file, falling back to the embedded one when path is empty
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes registry TOML
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return &reg, nil
}

// ExplorerKeyEnv returns the environment variable holding the explorer API key for a chain
func (r *Registry) ExplorerKeyEnv(chainID uint64) string {
	for _, c := range r.Chains {
		if c.ID == chainID {
			return c.ExplorerKeyEnv
		}
	}
	return ""
}
