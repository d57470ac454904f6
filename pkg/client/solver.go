package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
)

const (
	MainnetSolverURL = "https://solver.mainnet.omni.network/api/v1"
	TestnetSolverURL = "https://solver.omega.omni.network/api/v1"
)

// SolverClient talks to the solver's HTTP API
type SolverClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSolverClient creates a new solver API client
func NewSolverClient(baseURL string, logger *zap.Logger) *SolverClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SolverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.Named("solver"),
	}
}

// Token is one entry of the solver's supported token list
type Token struct {
	Enabled    bool   `json:"enabled"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	ChainID    uint64 `json:"chainId"`
	Address    string `json:"address"`
	Decimals   uint8  `json:"decimals"`
	ExpenseMin string `json:"expenseMin,omitempty"`
	ExpenseMax string `json:"expenseMax,omitempty"`
}

type tokensResponse struct {
	Tokens []Token `json:"tokens"`
}

// Contracts are the protocol contract addresses published by the solver
type Contracts struct {
	Inbox     common.Address `json:"inbox"`
	Outbox    common.Address `json:"outbox"`
	Middleman common.Address `json:"middleman,omitempty"`
}

type quoteUnit struct {
	Token  *common.Address `json:"token,omitempty"`
	Amount string          `json:"amount,omitempty"`
}

type quoteRequest struct {
	SourceChainID uint64    `json:"sourceChainId"`
	DestChainID   uint64    `json:"destChainId"`
	Deposit       quoteUnit `json:"deposit"`
	Expense       quoteUnit `json:"expense"`
	Mode          string    `json:"mode"`
}

type quoteResponse struct {
	Deposit quoteUnit `json:"deposit"`
	Expense quoteUnit `json:"expense"`
}

type checkCall struct {
	Target common.Address `json:"target"`
	Value  string         `json:"value"`
	Data   hexutil.Bytes  `json:"data"`
}

type checkExpense struct {
	Spender *common.Address `json:"spender,omitempty"`
	Token   *common.Address `json:"token,omitempty"`
	Amount  string          `json:"amount"`
}

type checkRequest struct {
	SourceChainID uint64         `json:"sourceChainId"`
	DestChainID   uint64         `json:"destChainId"`
	Owner         common.Address `json:"owner"`
	FillDeadline  uint32         `json:"fillDeadline"`
	Deposit       quoteUnit      `json:"deposit"`
	Calls         []checkCall    `json:"calls"`
	Expenses      []checkExpense `json:"expenses"`
}

type checkResponse struct {
	Accepted          bool   `json:"accepted"`
	Rejected          bool   `json:"rejected"`
	RejectReason      string `json:"rejectReason"`
	RejectDescription string `json:"rejectDescription"`
}

type apiError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Tokens returns the solver's supported token list
func (c *SolverClient) Tokens(ctx context.Context) ([]Token, error) {
	var resp tokensResponse
	if err := c.do(ctx, http.MethodGet, "/tokens", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	return resp.Tokens, nil
}

// Contracts returns the protocol contract addresses
func (c *SolverClient) Contracts(ctx context.Context) (*Contracts, error) {
	var resp Contracts
	if err := c.do(ctx, http.MethodGet, "/contracts", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get contracts: %w", err)
	}
	return &resp, nil
}

// Quote asks the solver to price a deposit/expense pair
func (c *SolverClient) Quote(ctx context.Context, req quote.Request) (quote.Response, error) {
	body := quoteRequest{
		SourceChainID: req.SrcChainID,
		DestChainID:   req.DestChainID,
		Deposit:       quoteUnit{Token: req.Deposit.Token},
		Expense:       quoteUnit{Token: req.Expense.Token},
		Mode:          string(req.Mode),
	}
	if req.Deposit.Amount != nil {
		body.Deposit.Amount = req.Deposit.Amount.String()
	}
	if req.Expense.Amount != nil {
		body.Expense.Amount = req.Expense.Amount.String()
	}

	var resp quoteResponse
	if err := c.do(ctx, http.MethodPost, "/quote", body, &resp); err != nil {
		return quote.Response{}, err
	}

	deposit, err := parseBigInt(resp.Deposit.Amount)
	if err != nil {
		return quote.Response{}, fmt.Errorf("invalid deposit amount in quote: %w", err)
	}
	expense, err := parseBigInt(resp.Expense.Amount)
	if err != nil {
		return quote.Response{}, fmt.Errorf("invalid expense amount in quote: %w", err)
	}
	return quote.Response{Deposit: deposit, Expense: expense}, nil
}

// Validate asks the solver whether it would fill the order
func (c *SolverClient) Validate(ctx context.Context, owner common.Address, cfg types.OrderConfig) (types.OrderValidation, error) {
	req := checkRequest{
		SourceChainID: cfg.SrcChainID,
		DestChainID:   cfg.DestChainID,
		Owner:         owner,
		FillDeadline:  uint32(time.Now().Add(types.DefaultFillWindow).Unix()),
		Deposit:       quoteUnit{Token: cfg.Deposit.Token, Amount: bigString(cfg.Deposit.Amount)},
		Expenses: []checkExpense{{
			Spender: cfg.Expense.Spender,
			Token:   cfg.Expense.Token,
			Amount:  bigString(cfg.Expense.Amount),
		}},
	}
	for _, call := range cfg.Calls {
		data, err := calls.Calldata(call)
		if err != nil {
			return types.OrderValidation{}, fmt.Errorf("failed to encode call: %w", err)
		}
		req.Calls = append(req.Calls, checkCall{Target: call.Target, Value: bigString(call.Value), Data: data})
	}

	var resp checkResponse
	if err := c.do(ctx, http.MethodPost, "/check", req, &resp); err != nil {
		return types.OrderValidation{}, err
	}

	switch {
	case resp.Accepted:
		return types.OrderValidation{Status: types.ValidationAccepted}, nil
	case resp.Rejected:
		return types.OrderValidation{
			Status:            types.ValidationRejected,
			RejectReason:      resp.RejectReason,
			RejectDescription: resp.RejectDescription,
		}, nil
	}
	return types.OrderValidation{Status: types.ValidationPending}, nil
}

func (c *SolverClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("solver API error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("solver API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("request completed", zap.String("method", method), zap.String("path", path))
	return nil
}

// parseBigInt accepts decimal or 0x-prefixed hex integers
func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
