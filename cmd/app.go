package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solvernet-order/config"
	"solvernet-order/pkg/abilookup"
	"solvernet-order/pkg/catalog"
	"solvernet-order/pkg/client"
	"solvernet-order/pkg/history"
	"solvernet-order/pkg/inbox"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
	"solvernet-order/pkg/wallet"
)

// app holds the collaborators shared by the commands
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *catalog.Registry
	catalog  *catalog.Catalog
	solver   *client.SolverClient
	yes      bool
	json     bool
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if network, _ := cmd.Flags().GetString("network"); network != "" {
		n, err := catalog.ParseNetwork(network)
		if err != nil {
			return nil, err
		}
		if n != cfg.Network && (cfg.SolverURL == client.MainnetSolverURL || cfg.SolverURL == client.TestnetSolverURL) {
			cfg.SolverURL = client.MainnetSolverURL
			if n == catalog.Testnet {
				cfg.SolverURL = client.TestnetSolverURL
			}
		}
		cfg.Network = n
	}

	logger := newLogger(cmd)
	reg, err := catalog.LoadRegistry(cfg.RegistryFile)
	if err != nil {
		return nil, err
	}

	solver := client.NewSolverClient(cfg.SolverURL, logger)
	cat, err := catalog.New(reg, cfg.Network, catalog.WithLogger(logger), catalog.WithTokenSource(solver))
	if err != nil {
		return nil, err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		catalog:  cat,
		solver:   solver,
		yes:      yes || cfg.Confirm,
		json:     jsonOutput,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// resolveChain accepts a chain name or numeric id
func (a *app) resolveChain(nameOrID string) (types.Chain, error) {
	if nameOrID == "" {
		return types.Chain{}, fmt.Errorf("chain is required")
	}
	return a.catalog.ChainByName(nameOrID)
}

// resolveIntent turns a parsed order command into an intent
func (a *app) resolveIntent(req *types.OrderRequest) (types.OrderIntent, error) {
	src, err := a.resolveChain(req.SourceChain)
	if err != nil {
		return types.OrderIntent{}, err
	}
	dest, err := a.resolveChain(req.DestChain)
	if err != nil {
		return types.OrderIntent{}, err
	}
	srcAsset, err := a.catalog.Lookup(src.ID, req.SourceToken)
	if err != nil {
		return types.OrderIntent{}, err
	}
	destAsset, err := a.catalog.Lookup(dest.ID, req.DestToken)
	if err != nil {
		return types.OrderIntent{}, err
	}
	return types.OrderIntent{
		SrcChainID:  src.ID,
		DestChainID: dest.ID,
		SrcAsset:    &srcAsset,
		DestAsset:   &destAsset,
		Amount:      req.Amount,
	}, nil
}

// wallet connects the signing wallet, or a read-only watcher when no key is configured
func (a *app) wallet(activeChain uint64) (*wallet.EVM, bool, error) {
	opts := []wallet.Option{wallet.WithLogger(a.logger)}
	if !a.yes && !a.json {
		opts = append(opts, wallet.WithConfirmer(confirm))
	}
	if a.cfg.PrivateKey == "" {
		return wallet.NewWatcher(a.cfg.RPC, activeChain, opts...), false, nil
	}
	w, err := wallet.NewEVM(a.cfg.PrivateKey, a.cfg.RPC, activeChain, opts...)
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

// quoteService selects the configured quote backend
func (a *app) quoteService(recipient common.Address) quote.Service {
	if a.cfg.QuoteProvider != config.ProviderOneClick {
		return a.solver
	}
	chains := make(map[uint64]client.OneClickChain)
	for _, c := range a.catalog.Chains() {
		if c.OneClick == "" {
			continue
		}
		chains[c.ID] = client.OneClickChain{Name: c.OneClick, NativeSymbol: c.Native.Symbol}
	}
	return client.NewOneClickQuoter(a.cfg.OneClickJWT, chains, recipient, a.logger)
}

// inboxes maps every catalog chain to its inbox, from config or the solver API
func (a *app) inboxes(ctx context.Context) (map[uint64]common.Address, error) {
	var addr common.Address
	if a.cfg.InboxAddress != "" {
		if !common.IsHexAddress(a.cfg.InboxAddress) {
			return nil, fmt.Errorf("invalid inbox address %q", a.cfg.InboxAddress)
		}
		addr = common.HexToAddress(a.cfg.InboxAddress)
	} else {
		contracts, err := a.solver.Contracts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get inbox address: %w", err)
		}
		addr = contracts.Inbox
	}

	out := make(map[uint64]common.Address)
	for _, c := range a.catalog.Chains() {
		out[c.ID] = addr
	}
	return out, nil
}

func (a *app) executor(ctx context.Context, chain inbox.Chain) (*inbox.Executor, error) {
	inboxes, err := a.inboxes(ctx)
	if err != nil {
		return nil, err
	}
	return inbox.NewExecutor(chain, inboxes, inbox.WithLogger(a.logger)), nil
}

// abiLookup configures explorers from the registry, the registry's key variables and config overrides
func (a *app) abiLookup() *abilookup.Client {
	explorers := make(map[uint64]abilookup.Explorer)
	for _, c := range a.catalog.Chains() {
		if c.ExplorerAPI == "" {
			continue
		}
		e := abilookup.Explorer{URL: c.ExplorerAPI}
		if env := a.registry.ExplorerKeyEnv(c.ID); env != "" {
			e.APIKey = os.Getenv(env)
		}
		explorers[c.ID] = e
	}
	for id, override := range a.cfg.Explorers {
		e := explorers[id]
		if override.URL != "" {
			e.URL = override.URL
		}
		if override.APIKey != "" {
			e.APIKey = override.APIKey
		}
		explorers[id] = e
	}
	return abilookup.New(explorers, abilookup.WithLogger(a.logger))
}

func (a *app) history() (*history.Store, error) {
	return history.NewStore(a.cfg.HistoryFile)
}

func (a *app) explorerLink(chainID uint64, hash string) string {
	c, err := a.catalog.Chain(chainID)
	if err != nil {
		return ""
	}
	return c.TxURL(hash)
}

func chainLabel(c types.Chain) string {
	return fmt.Sprintf("%s (%d)", strings.ToLower(c.Name), c.ID)
}
