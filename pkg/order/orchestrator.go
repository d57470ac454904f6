// Package order owns the state of one order attempt: it derives the order
// configuration from the intent, quote, approval and calls, keeps validation in
// step with it, and drives network switching, submission and status tracking.
package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"solvernet-order/pkg/approval"
	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/generation"
	"solvernet-order/pkg/inbox"
	"solvernet-order/pkg/network"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
)

var (
	// ErrCommitted is returned for changes after submission has begun
	ErrCommitted = errors.New("order submission in progress, changes are not accepted")
	// ErrNotReady is returned by Execute before the order is validated and eligible
	ErrNotReady = errors.New("order is not ready to execute")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("orchestrator closed")
)

// Wallet is the connected wallet; Address reports false while disconnected
type Wallet interface {
	Address() (common.Address, bool)
	ChainID() uint64
	SwitchNetwork(ctx context.Context, chainID uint64) error
}

// Validator asks the order service whether an order would be filled
type Validator interface {
	Validate(ctx context.Context, owner common.Address, cfg types.OrderConfig) (types.OrderValidation, error)
}

// Executor opens orders and reports their outcome
type Executor interface {
	Inbox(chainID uint64) (common.Address, error)
	Submit(ctx context.Context, owner common.Address, cfg types.OrderConfig) (inbox.Submission, error)
	Track(ctx context.Context, chainID uint64, orderID common.Hash, fromBlock uint64) (inbox.Outcome, error)
}

// ABILookup lists the write functions of a verified contract
type ABILookup interface {
	WriteFunctions(ctx context.Context, chainID uint64, address common.Address) ([]types.Function, error)
}

// Deps are the collaborators of an orchestrator. Wallet may be nil (disconnected); ABI is optional.
type Deps struct {
	Quotes     quote.Service
	Allowances approval.Allowances
	Wallet     Wallet
	Validator  Validator
	Executor   Executor
	ABI        ABILookup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.Named("order")
	}
}

// WithValidationRetry sets how long to wait before asking again about a pending validation
func WithValidationRetry(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.validationRetry = d
	}
}

// WithQuoteTimeout bounds a single quote request
func WithQuoteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.quoteTimeout = d
	}
}

// state is owned by the event loop goroutine
type state struct {
	attemptID  string
	intent     types.OrderIntent
	tuple      string
	contract   *ContractState
	call       *types.CallSpec
	config     types.OrderConfig
	validation types.OrderValidation
	execution  types.OrderExecution
	notice     *types.Error
	owner      *common.Address
	active     uint64
	phase      Phase
}

// Orchestrator drives one order attempt at a time. All operations return
// immediately; progress is observed through Snapshot and Subscribe.
type Orchestrator struct {
	deps            Deps
	logger          *zap.Logger
	quoteTimeout    time.Duration
	validationRetry time.Duration

	quotes *quote.Controller
	gate   *approval.Gate
	guard  *network.Guard

	validations generation.Tracker
	lookups     generation.Tracker
	switches    generation.Tracker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	st state

	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates an orchestrator and starts its event loop. Call Close to stop it.
func New(deps Deps, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:            deps,
		logger:          zap.NewNop(),
		validationRetry: 2 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		wake:            make(chan struct{}, 1),
		subs:            make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(o)
	}

	quoteOpts := []quote.Option{quote.WithLogger(o.logger), quote.WithOnUpdate(func(types.Quote) { o.post(o.reconcile) })}
	if o.quoteTimeout > 0 {
		quoteOpts = append(quoteOpts, quote.WithTimeout(o.quoteTimeout))
	}
	o.quotes = quote.NewController(deps.Quotes, quoteOpts...)
	o.gate = approval.NewGate(deps.Allowances,
		approval.WithLogger(o.logger),
		approval.WithOnUpdate(func(types.ApprovalRequirement) { o.post(o.reconcile) }))
	if deps.Wallet != nil {
		o.guard = network.NewGuard(deps.Wallet, o.logger)
	}

	o.st = o.freshState()
	o.reconcile()

	go o.loop()
	return o
}

// Close stops the event loop and abandons in-flight work
func (o *Orchestrator) Close() {
	o.cancel()
	<-o.done

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
}

// SetIntent replaces the chains, assets and amount of the order
func (o *Orchestrator) SetIntent(intent types.OrderIntent) error {
	return o.call(func() error {
		if err := o.beginChange(); err != nil {
			return err
		}
		o.st.intent = intent
		if tuple := intent.Tuple(); tuple != o.st.tuple || o.quotes.Current().Status == types.QuoteError {
			o.st.tuple = tuple
			o.quotes.Request(o.ctx, intent)
		}
		o.reconcile()
		return nil
	})
}

// SetContract targets an arbitrary call at address on the destination chain and looks up its functions
func (o *Orchestrator) SetContract(address string) error {
	return o.call(func() error {
		if err := o.beginChange(); err != nil {
			return err
		}
		if !calls.IsValidAddress(address) {
			return types.NewError(types.KindInvalidAddress, "invalid contract address "+address, nil)
		}
		addr := common.HexToAddress(address)
		if o.st.contract == nil || o.st.contract.Address != addr {
			o.st.call = nil
			o.st.contract = &ContractState{Address: addr}
		}
		o.reconcile()
		return nil
	})
}

// SelectFunction builds the arbitrary call from a looked-up function name or a full signature
func (o *Orchestrator) SelectFunction(nameOrSignature string, inputs map[string]string) error {
	return o.call(func() error {
		if err := o.beginChange(); err != nil {
			return err
		}
		if o.st.contract == nil {
			return types.NewError(types.KindInvalidArgument, "set a contract before selecting a function", nil)
		}

		var (
			fn  types.Function
			err error
		)
		if len(o.st.contract.Functions) > 0 {
			fn, err = calls.FindFunction(o.st.contract.Functions, nameOrSignature)
		}
		if len(o.st.contract.Functions) == 0 || err != nil {
			if !strings.Contains(nameOrSignature, "(") {
				if err == nil {
					err = types.NewError(types.KindInvalidArgument, "contract functions are not available, give the full signature", nil)
				}
				return err
			}
			if fn, err = calls.ParseSignature(nameOrSignature); err != nil {
				return err
			}
		}

		call, err := calls.Arbitrary(o.st.contract.Address.Hex(), fn, inputs)
		if err != nil {
			return err
		}
		o.st.call = &call
		o.reconcile()
		return nil
	})
}

// ClearCall removes the arbitrary call and its contract
func (o *Orchestrator) ClearCall() error {
	return o.call(func() error {
		if err := o.beginChange(); err != nil {
			return err
		}
		o.lookups.Invalidate()
		o.st.contract = nil
		o.st.call = nil
		o.reconcile()
		return nil
	})
}

// WalletChanged re-reads the wallet's account and active chain, and the deposit
// allowance in case it was changed outside the order flow
func (o *Orchestrator) WalletChanged() {
	o.post(func() {
		o.reconcile()
		o.gate.Refresh(o.ctx)
	})
}

// Approve requests the deposit allowance. On the wrong network it requests a switch instead.
func (o *Orchestrator) Approve() error {
	return o.call(func() error {
		if o.st.execution.Status.Committed() {
			return ErrCommitted
		}
		if o.st.owner == nil {
			return ErrNotReady
		}
		if o.requestSwitch(o.st.intent.SrcChainID) {
			o.reconcile()
			return nil
		}
		return o.gate.Approve(o.ctx)
	})
}

// Execute submits the order once it is ready. On the wrong network it only
// requests a switch; the caller must execute again afterwards.
func (o *Orchestrator) Execute() error {
	return o.call(func() error {
		if o.st.execution.Status.Committed() {
			return ErrCommitted
		}
		if o.st.phase != PhaseReady || o.st.owner == nil {
			return ErrNotReady
		}
		o.st.notice = nil
		if o.requestSwitch(o.st.config.SrcChainID) {
			o.reconcile()
			return nil
		}
		o.submit(*o.st.owner, o.st.config)
		o.reconcile()
		return nil
	})
}

// Reset discards the attempt and starts a new, empty one
func (o *Orchestrator) Reset() error {
	return o.call(func() error {
		if o.st.execution.Status.Committed() {
			return ErrCommitted
		}
		o.quotes.Reset()
		o.gate.Reset()
		o.validations.Invalidate()
		o.lookups.Invalidate()
		o.switches.Invalidate()
		o.st = o.freshState()
		o.reconcile()
		return nil
	})
}

func (o *Orchestrator) freshState() state {
	return state{
		attemptID:  uuid.NewString(),
		validation: types.OrderValidation{Status: types.ValidationPending},
		execution:  types.OrderExecution{Status: types.ExecIdle},
		phase:      PhaseIdle,
	}
}

// beginChange rejects edits to a committed order and starts a new attempt after a finished one
func (o *Orchestrator) beginChange() error {
	status := o.st.execution.Status
	if status.Committed() {
		return ErrCommitted
	}
	if status == types.ExecAwaitingSwitch {
		// The pending switch is abandoned and the edit is quoted again.
		o.switches.Invalidate()
		o.st.execution = types.OrderExecution{Status: types.ExecIdle}
	}
	if status.Terminal() {
		o.st.attemptID = uuid.NewString()
		o.st.execution = types.OrderExecution{Status: types.ExecIdle}
		o.st.validation = types.OrderValidation{Status: types.ValidationPending}
		o.logger.Info("starting new attempt", zap.String("attempt", o.st.attemptID))
	}
	o.st.notice = nil
	return nil
}

// post queues fn for the event loop
func (o *Orchestrator) post(fn func()) {
	o.qmu.Lock()
	o.queue = append(o.queue, fn)
	o.qmu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// call runs fn on the event loop and waits for its result
func (o *Orchestrator) call(fn func() error) error {
	errc := make(chan error, 1)
	o.post(func() { errc <- fn() })
	select {
	case err := <-errc:
		return err
	case <-o.done:
		return ErrClosed
	}
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.wake:
		}
		for {
			o.qmu.Lock()
			if len(o.queue) == 0 {
				o.qmu.Unlock()
				break
			}
			fn := o.queue[0]
			o.queue = o.queue[1:]
			o.qmu.Unlock()

			if o.ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}
