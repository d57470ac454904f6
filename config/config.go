package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"solvernet-order/pkg/catalog"
	"solvernet-order/pkg/client"
)

const (
	ProviderSolver   = "solver"
	ProviderOneClick = "oneclick"

	envPrefix = "SOLVERNET"
)

// Explorer is an etherscan-compatible API for one chain
type Explorer struct {
	URL    string
	APIKey string
}

// Config holds the application configuration
type Config struct {
	Network       catalog.Network
	SolverURL     string
	PrivateKey    string
	RPC           map[uint64]string
	Explorers     map[uint64]Explorer
	InboxAddress  string
	RegistryFile  string
	HistoryFile   string
	QuoteProvider string
	OneClickJWT   string
	MetricsAddr   string
	Confirm       bool
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".solvernet")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v, os.Environ())
}

func fromViper(v *viper.Viper, environ []string) (*Config, error) {
	v.SetDefault("network", string(catalog.Mainnet))
	v.SetDefault("quote_provider", ProviderSolver)

	network, err := catalog.ParseNetwork(v.GetString("network"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Network:       network,
		SolverURL:     v.GetString("solver_url"),
		PrivateKey:    strings.TrimSpace(v.GetString("private_key")),
		RPC:           make(map[uint64]string),
		Explorers:     make(map[uint64]Explorer),
		InboxAddress:  v.GetString("inbox_address"),
		RegistryFile:  v.GetString("registry_file"),
		HistoryFile:   v.GetString("history_file"),
		QuoteProvider: strings.ToLower(v.GetString("quote_provider")),
		OneClickJWT:   v.GetString("oneclick_jwt"),
		MetricsAddr:   v.GetString("metrics_addr"),
		Confirm:       v.GetBool("confirm"),
	}

	if cfg.SolverURL == "" {
		cfg.SolverURL = client.MainnetSolverURL
		if network == catalog.Testnet {
			cfg.SolverURL = client.TestnetSolverURL
		}
	}

	for key, url := range v.GetStringMapString("rpc") {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in rpc", key)
		}
		cfg.RPC[id] = url
	}
	for key := range v.GetStringMap("explorer") {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in explorer", key)
		}
		cfg.Explorers[id] = Explorer{
			URL:    v.GetString("explorer." + key + ".url"),
			APIKey: v.GetString("explorer." + key + ".api_key"),
		}
	}

	// Per-chain environment overrides: SOLVERNET_RPC_<id>, SOLVERNET_EXPLORER_<id>_API_KEY
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if rest, ok := strings.CutPrefix(name, envPrefix+"_RPC_"); ok {
			if id, err := strconv.ParseUint(rest, 10, 64); err == nil {
				cfg.RPC[id] = value
			}
			continue
		}
		if rest, ok := strings.CutPrefix(name, envPrefix+"_EXPLORER_"); ok {
			idText, field, ok := strings.Cut(rest, "_")
			id, err := strconv.ParseUint(idText, 10, 64)
			if !ok || err != nil {
				continue
			}
			e := cfg.Explorers[id]
			switch field {
			case "URL":
				e.URL = value
			case "API_KEY":
				e.APIKey = value
			default:
				continue
			}
			cfg.Explorers[id] = e
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.QuoteProvider {
	case ProviderSolver:
	case ProviderOneClick:
		if c.OneClickJWT == "" {
			return fmt.Errorf("1Click JWT not found. Please set SOLVERNET_ONECLICK_JWT or oneclick_jwt in .solvernet.yaml")
		}
	default:
		return fmt.Errorf("unknown quote provider %q (want %s or %s)", c.QuoteProvider, ProviderSolver, ProviderOneClick)
	}
	if c.PrivateKey != "" && len(c.RPC) == 0 {
		return fmt.Errorf("a private key is configured but no RPC endpoints. Set rpc.<chainId> in .solvernet.yaml or SOLVERNET_RPC_<chainId>")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
