// Package abilookup fetches verified contract ABIs from etherscan-style explorers.
package abilookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/metrics"
	"solvernet-order/pkg/types"
)

var (
	ErrNotVerified      = errors.New("contract source code not verified")
	ErrRateLimited      = errors.New("explorer rate limit reached")
	ErrUnsupportedChain = errors.New("no explorer configured for chain")
)

// Explorer is an etherscan-compatible API endpoint
type Explorer struct {
	URL    string
	APIKey string
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.Named("abilookup")
	}
}

// WithRateLimit overrides the client-side request budget
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client looks up write functions of verified contracts
type Client struct {
	explorers  map[uint64]Explorer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// New creates a client. Free explorer tiers allow about five calls per second.
func New(explorers map[uint64]Explorer, opts ...Option) *Client {
	c := &Client{
		explorers:  explorers,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(4), 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports reports whether chainID has an explorer configured
func (c *Client) Supports(chainID uint64) bool {
	_, ok := c.explorers[chainID]
	return ok
}

// WriteFunctions returns the state-changing functions of the verified contract at address
func (c *Client) WriteFunctions(ctx context.Context, chainID uint64, address common.Address) ([]types.Function, error) {
	explorer, ok := c.explorers[chainID]
	if !ok || explorer.URL == "" {
		metrics.ABILookups.WithLabelValues("unsupported").Inc()
		return nil, fmt.Errorf("%w %d", ErrUnsupportedChain, chainID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getabi")
	query.Set("address", address.Hex())
	if explorer.APIKey != "" {
		query.Set("apikey", explorer.APIKey)
	}
	endpoint := explorer.URL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ABILookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.ABILookups.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ABILookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("explorer API error: status %d", resp.StatusCode)
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ABILookups.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if body.Status == "0" || body.Message == "NOTOK" {
		err := classify(body.Result)
		c.logger.Warn("explorer returned error",
			zap.Uint64("chain", chainID),
			zap.String("address", address.Hex()),
			zap.String("result", body.Result))
		switch {
		case errors.Is(err, ErrNotVerified):
			metrics.ABILookups.WithLabelValues("not_verified").Inc()
		case errors.Is(err, ErrRateLimited):
			metrics.ABILookups.WithLabelValues("rate_limited").Inc()
		default:
			metrics.ABILookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	fns, err := calls.ParseABI(body.Result)
	if err != nil {
		metrics.ABILookups.WithLabelValues("error").Inc()
		return nil, err
	}

	writes := calls.WriteFunctions(fns)
	metrics.ABILookups.WithLabelValues("success").Inc()
	c.logger.Debug("abi loaded",
		zap.Uint64("chain", chainID),
		zap.String("address", address.Hex()),
		zap.Int("functions", len(fns)),
		zap.Int("write", len(writes)))
	return writes, nil
}

// classify maps an explorer error result to a lookup error
func classify(result string) error {
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "not verified"):
		return ErrNotVerified
	case strings.Contains(lower, "rate limit"):
		return ErrRateLimited
	case result == "":
		return fmt.Errorf("explorer error: contract not verified or API key required")
	}
	return fmt.Errorf("explorer error: %s", result)
}
