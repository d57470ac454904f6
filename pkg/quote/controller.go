package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"solvernet-order/pkg/generation"
	"solvernet-order/pkg/metrics"
	"solvernet-order/pkg/parser"
	"solvernet-order/pkg/types"
)

const defaultTimeout = 30 * time.Second

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.Named("quote")
	}
}

// WithOnUpdate registers a callback invoked after every state change
func WithOnUpdate(fn func(types.Quote)) Option {
	return func(c *Controller) {
		c.onUpdate = fn
	}
}

// WithTimeout bounds a single quote service call
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// Controller turns intents into quotes. Only the response for the latest
// intent is ever applied; earlier in-flight responses are dropped.
type Controller struct {
	service  Service
	logger   *zap.Logger
	onUpdate func(types.Quote)
	timeout  time.Duration

	gens  generation.Tracker
	group singleflight.Group

	mu      sync.Mutex
	current types.Quote
}

// NewController creates a quote controller backed by service
func NewController(service Service, opts ...Option) *Controller {
	c := &Controller{
		service: service,
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
		current: types.Quote{Status: types.QuoteDisabled},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the latest quote state
func (c *Controller) Current() types.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Request starts (or reuses) a quote for intent and returns immediately with the resulting state.
// Intents without both assets or with an empty, zero or non-numeric amount leave the quote disabled.
func (c *Controller) Request(ctx context.Context, intent types.OrderIntent) types.Quote {
	tuple := intent.Tuple()
	req, ok := buildRequest(intent)

	c.mu.Lock()
	if !ok {
		gen := c.gens.Invalidate()
		c.current = types.Quote{Status: types.QuoteDisabled, Tuple: tuple, Generation: gen}
		q := c.current
		c.mu.Unlock()
		metrics.QuoteRequests.WithLabelValues(string(types.QuoteDisabled)).Inc()
		c.notify(q)
		return q
	}
	if c.current.Tuple == tuple && (c.current.Status == types.QuotePending || c.current.Status == types.QuoteSuccess) {
		q := c.current
		c.mu.Unlock()
		metrics.QuoteRequests.WithLabelValues("deduplicated").Inc()
		return q
	}

	gen, reqCtx := c.gens.Begin(ctx)
	c.current = types.Quote{Status: types.QuotePending, Tuple: tuple, Generation: gen}
	q := c.current
	c.mu.Unlock()

	metrics.QuoteRequests.WithLabelValues(string(types.QuotePending)).Inc()
	c.logger.Debug("quote requested", zap.Uint64("generation", gen), zap.String("tuple", tuple))
	c.notify(q)

	go c.run(reqCtx, gen, tuple, req)
	return q
}

// Reset drops the current quote and any in-flight request
func (c *Controller) Reset() {
	c.mu.Lock()
	gen := c.gens.Invalidate()
	c.current = types.Quote{Status: types.QuoteDisabled, Generation: gen}
	q := c.current
	c.mu.Unlock()
	c.notify(q)
}

func (c *Controller) run(ctx context.Context, gen uint64, tuple string, req Request) {
	// Identical tuples share one service call. The shared call must outlive any
	// single waiter, so it runs detached and each waiter watches its own context.
	ch := c.group.DoChan(tuple, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		start := time.Now()
		resp, err := c.service.Quote(callCtx, req)
		metrics.QuoteDuration.Observe(time.Since(start).Seconds())
		return resp, err
	})

	select {
	case <-ctx.Done():
		metrics.StaleResponses.WithLabelValues("quote").Inc()
		c.logger.Debug("quote superseded before completion", zap.Uint64("generation", gen))
	case res := <-ch:
		var resp Response
		if res.Err == nil {
			resp, _ = res.Val.(Response)
		}
		c.settle(gen, tuple, resp, res.Err)
	}
}

func (c *Controller) settle(gen uint64, tuple string, resp Response, err error) {
	c.mu.Lock()
	if !c.gens.IsCurrent(gen) {
		c.mu.Unlock()
		metrics.StaleResponses.WithLabelValues("quote").Inc()
		c.logger.Debug("discarding stale quote", zap.Uint64("generation", gen))
		return
	}
	c.gens.Settle(gen)

	q := types.Quote{Tuple: tuple, Generation: gen}
	switch {
	case err != nil:
		q.Status = types.QuoteError
		q.Error = describe(err)
		c.logger.Warn("quote failed", zap.Uint64("generation", gen), zap.Error(err))
	case resp.Deposit == nil || resp.Expense == nil:
		q.Status = types.QuoteError
		q.Error = "quote service returned an incomplete quote"
	default:
		q.Status = types.QuoteSuccess
		q.Deposit = resp.Deposit
		q.Expense = resp.Expense
	}
	c.current = q
	c.mu.Unlock()

	metrics.QuoteRequests.WithLabelValues(string(q.Status)).Inc()
	c.notify(q)
}

func (c *Controller) notify(q types.Quote) {
	if c.onUpdate != nil {
		c.onUpdate(q)
	}
}

func buildRequest(intent types.OrderIntent) (Request, bool) {
	if intent.SrcAsset == nil || intent.DestAsset == nil {
		return Request{}, false
	}
	amount, err := parser.ParsePositiveUnits(intent.Amount, intent.SrcAsset.Decimals)
	if err != nil {
		return Request{}, false
	}
	return Request{
		SrcChainID:  intent.SrcChainID,
		DestChainID: intent.DestChainID,
		Deposit:     Unit{Token: intent.SrcAsset.Token(), Amount: amount},
		Expense:     Unit{Token: intent.DestAsset.Token()},
		Mode:        ModeExpense,
	}, true
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "quote request timed out, try again"
	}
	return fmt.Sprintf("unable to get a quote: %v", err)
}
