package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"solvernet-order/pkg/quote"
)

// OneClickChain maps a chain id to its 1Click blockchain name and native symbol
type OneClickChain struct {
	Name         string
	NativeSymbol string
}

// OneClickQuoter prices orders through the 1Click API in dry-run mode
type OneClickQuoter struct {
	client    *oneclick.APIClient
	jwtToken  string
	chains    map[uint64]OneClickChain
	recipient common.Address
	logger    *zap.Logger

	mu     sync.Mutex
	tokens []oneclick.TokenResponse
}

// OneClickOption configures the 1Click API client
type OneClickOption func(*oneclick.Configuration)

// WithOneClickURL points the client at another 1Click deployment
func WithOneClickURL(url string) OneClickOption {
	return func(cfg *oneclick.Configuration) {
		cfg.Servers = oneclick.ServerConfigurations{{URL: strings.TrimSuffix(url, "/")}}
	}
}

// NewOneClickQuoter creates a 1Click-backed quote service. Quotes are dry runs addressed to recipient.
func NewOneClickQuoter(jwtToken string, chains map[uint64]OneClickChain, recipient common.Address, logger *zap.Logger, opts ...OneClickOption) *OneClickQuoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := oneclick.NewConfiguration()
	for _, opt := range opts {
		opt(cfg)
	}
	return &OneClickQuoter{
		client:    oneclick.NewAPIClient(cfg),
		jwtToken:  jwtToken,
		chains:    chains,
		recipient: recipient,
		logger:    logger.Named("oneclick"),
	}
}

func (c *OneClickQuoter) authContext(ctx context.Context) context.Context {
	if c.jwtToken == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
}

// supportedTokens fetches the token list once and caches it
func (c *OneClickQuoter) supportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil {
		return c.tokens, nil
	}

	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authContext(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	c.tokens = resp
	return resp, nil
}

// findAsset resolves a chain and token (nil for native) to a 1Click asset
func (c *OneClickQuoter) findAsset(ctx context.Context, chainID uint64, token *common.Address) (*oneclick.TokenResponse, error) {
	chain, ok := c.chains[chainID]
	if !ok || chain.Name == "" {
		return nil, fmt.Errorf("chain %d is not supported by 1Click", chainID)
	}

	tokens, err := c.supportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	for i := range tokens {
		t := &tokens[i]
		if !strings.EqualFold(t.GetBlockchain(), chain.Name) {
			continue
		}
		if token == nil {
			if t.GetContractAddress() == "" && strings.EqualFold(t.GetSymbol(), chain.NativeSymbol) {
				return t, nil
			}
			continue
		}
		if strings.EqualFold(t.GetContractAddress(), token.Hex()) {
			return t, nil
		}
	}

	if token == nil {
		return nil, fmt.Errorf("native %s not found on '%s'", chain.NativeSymbol, chain.Name)
	}
	return nil, fmt.Errorf("token '%s' not found on '%s'", token.Hex(), chain.Name)
}

// Quote implements quote.Service with an EXACT_INPUT dry-run quote
func (c *OneClickQuoter) Quote(ctx context.Context, req quote.Request) (quote.Response, error) {
	if req.Mode != quote.ModeExpense {
		return quote.Response{}, fmt.Errorf("1Click quotes only support %s mode", quote.ModeExpense)
	}
	if req.Deposit.Amount == nil || req.Deposit.Amount.Sign() <= 0 {
		return quote.Response{}, fmt.Errorf("deposit amount is required")
	}

	origin, err := c.findAsset(ctx, req.SrcChainID, req.Deposit.Token)
	if err != nil {
		return quote.Response{}, fmt.Errorf("source token error: %w", err)
	}
	dest, err := c.findAsset(ctx, req.DestChainID, req.Expense.Token)
	if err != nil {
		return quote.Response{}, fmt.Errorf("destination token error: %w", err)
	}

	recipient := c.recipient.Hex()
	quoteReq := oneclick.NewQuoteRequest(
		true,          // dry run, no deposit address is reserved
		"EXACT_INPUT", // swapType
		100,           // slippageTolerance (1%)
		origin.GetAssetId(),
		"ORIGIN_CHAIN",
		dest.GetAssetId(),
		req.Deposit.Amount.String(),
		recipient,
		"ORIGIN_CHAIN",
		recipient,
		"DESTINATION_CHAIN",
		time.Now().Add(time.Hour),
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authContext(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return quote.Response{}, oneClickError(httpResp, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return quote.Response{}, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	if resp == nil {
		return quote.Response{}, fmt.Errorf("empty quote response")
	}

	details := resp.GetQuote()
	deposit, ok := new(big.Int).SetString(details.GetAmountIn(), 10)
	if !ok {
		return quote.Response{}, fmt.Errorf("invalid amountIn %q", details.GetAmountIn())
	}
	expense, ok := new(big.Int).SetString(details.GetAmountOut(), 10)
	if !ok {
		return quote.Response{}, fmt.Errorf("invalid amountOut %q", details.GetAmountOut())
	}

	c.logger.Debug("quote received",
		zap.String("origin", origin.GetAssetId()),
		zap.String("destination", dest.GetAssetId()),
		zap.String("amountIn", deposit.String()),
		zap.String("amountOut", expense.String()))

	return quote.Response{Deposit: deposit, Expense: expense}, nil
}

// oneClickError extracts the API's message from a failed response
func oneClickError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("failed to get quote from API: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("failed to get quote from API (status: %d): %w", httpResp.StatusCode, err)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
		if errors, ok := errorResp["errors"]; ok {
			return fmt.Errorf("API error (status %d): %v", httpResp.StatusCode, errors)
		}
	}
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(bodyBytes))
}
