package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"solvernet-order/pkg/approval"
	"solvernet-order/pkg/inbox"
	"solvernet-order/pkg/metrics"
	"solvernet-order/pkg/parser"
	"solvernet-order/pkg/types"
)

// reconcile re-derives everything from the current inputs and publishes a snapshot.
// It runs on the event loop only.
func (o *Orchestrator) reconcile() {
	o.readWallet()

	if !o.st.execution.Status.Committed() {
		o.ensureLookup()
		o.deriveConfig()
		o.ensureValidation()
	}

	o.publish()
}

func (o *Orchestrator) readWallet() {
	o.st.owner = nil
	o.st.active = 0
	if o.deps.Wallet == nil {
		return
	}
	if addr, ok := o.deps.Wallet.Address(); ok {
		o.st.owner = &addr
	}
	o.st.active = o.guard.Active()
}

func (o *Orchestrator) deriveConfig() {
	q := o.quotes.Current()
	if q.Tuple != o.st.tuple {
		q = types.Quote{Status: types.QuoteDisabled}
	}

	in := Inputs{Intent: o.st.intent, Quote: q, Owner: o.st.owner, Arbitrary: o.st.call}
	draft := Derive(in)

	var spender common.Address
	if o.deps.Executor != nil && o.st.intent.SrcChainID != 0 {
		if addr, err := o.deps.Executor.Inbox(o.st.intent.SrcChainID); err == nil {
			spender = addr
		}
	}
	in.Approval = o.gate.Evaluate(o.ctx, approval.Input{
		ChainID:  o.st.intent.SrcChainID,
		Asset:    o.st.intent.SrcAsset,
		Owner:    o.st.owner,
		Spender:  spender,
		Required: draft.Deposit.Amount,
	})

	o.st.config = Derive(in)
}

// ensureValidation keeps the remote validation keyed to the current config
func (o *Orchestrator) ensureValidation() {
	cfg := o.st.config
	if !cfg.ValidateEnabled || o.deps.Validator == nil {
		if o.st.validation.Fingerprint != "" {
			o.validations.Invalidate()
		}
		o.st.validation = types.OrderValidation{Status: types.ValidationPending}
		return
	}

	fp := cfg.Fingerprint()
	if fp == o.st.validation.Fingerprint {
		return
	}
	o.validate(cfg, fp)
}

// validate asks the validator about cfg; the answer is applied only while fp is current
func (o *Orchestrator) validate(cfg types.OrderConfig, fp string) {
	gen, ctx := o.validations.Begin(o.ctx)
	o.st.validation = types.OrderValidation{Status: types.ValidationPending, Fingerprint: fp}
	owner := *o.st.owner
	o.logger.Debug("validating order", zap.Uint64("generation", gen), zap.String("fingerprint", fp))

	go func() {
		v, err := o.deps.Validator.Validate(ctx, owner, cfg)
		o.post(func() { o.validated(gen, fp, v, err) })
	}()
}

func (o *Orchestrator) validated(gen uint64, fp string, v types.OrderValidation, err error) {
	if !o.validations.IsCurrent(gen) || o.st.validation.Fingerprint != fp {
		metrics.StaleResponses.WithLabelValues("validation").Inc()
		o.logger.Debug("discarding stale validation", zap.Uint64("generation", gen))
		return
	}
	o.validations.Settle(gen)

	if err != nil {
		v = types.OrderValidation{Status: types.ValidationError, Error: err.Error()}
		o.logger.Warn("validation failed", zap.Error(err))
	}
	if v.Status == types.ValidationPending {
		o.retryValidation(gen, fp)
		return
	}
	v.Fingerprint = fp
	o.st.validation = v
	metrics.OrderValidations.WithLabelValues(string(v.Status)).Inc()
	o.reconcile()
}

// retryValidation asks again after the retry interval when the verdict is still pending
func (o *Orchestrator) retryValidation(gen uint64, fp string) {
	metrics.OrderValidations.WithLabelValues(string(types.ValidationPending)).Inc()
	o.logger.Debug("validation pending, asking again", zap.Duration("in", o.validationRetry))

	go func() {
		timer := time.NewTimer(o.validationRetry)
		defer timer.Stop()
		select {
		case <-o.ctx.Done():
			return
		case <-timer.C:
		}
		o.post(func() {
			if !o.validations.IsCurrent(gen) || o.st.validation.Fingerprint != fp {
				return
			}
			o.validate(o.st.config, fp)
		})
	}()
}

// ensureLookup fetches the contract's functions when the contract or destination chain changed
func (o *Orchestrator) ensureLookup() {
	c := o.st.contract
	dest := o.st.intent.DestChainID
	if c == nil || o.deps.ABI == nil || dest == 0 {
		return
	}
	if c.ChainID == dest && (c.Loading || c.Functions != nil || c.Err != nil) {
		return
	}

	gen, ctx := o.lookups.Begin(o.ctx)
	next := &ContractState{Address: c.Address, ChainID: dest, Loading: true}
	o.st.contract = next

	go func() {
		fns, err := o.deps.ABI.WriteFunctions(ctx, dest, next.Address)
		o.post(func() { o.lookedUp(gen, fns, err) })
	}()
}

func (o *Orchestrator) lookedUp(gen uint64, fns []types.Function, err error) {
	if !o.lookups.IsCurrent(gen) || o.st.contract == nil {
		metrics.StaleResponses.WithLabelValues("abi").Inc()
		return
	}
	o.lookups.Settle(gen)

	next := *o.st.contract
	next.Loading = false
	if err != nil {
		next.Err = err
		o.logger.Warn("contract lookup failed", zap.String("address", next.Address.Hex()), zap.Error(err))
	} else {
		next.Functions = fns
		if next.Functions == nil {
			next.Functions = []types.Function{}
		}
	}
	o.st.contract = &next
	o.reconcile()
}

// publish computes the phase and hands a snapshot to readers
func (o *Orchestrator) publish() {
	phase, reason, err := o.phase()
	if phase != o.st.phase {
		metrics.OrderPhaseTransitions.WithLabelValues(string(phase)).Inc()
		o.logger.Info("phase changed",
			zap.String("attempt", o.st.attemptID),
			zap.String("from", string(o.st.phase)),
			zap.String("to", string(phase)))
		o.st.phase = phase
	}

	s := Snapshot{
		AttemptID:   o.st.attemptID,
		Phase:       phase,
		Reason:      reason,
		Err:         err,
		Hint:        o.hint(),
		Intent:      o.st.intent,
		Quote:       o.quotes.Current(),
		Approval:    o.gate.Current(),
		Config:      o.st.config,
		Validation:  o.st.validation,
		Execution:   o.st.execution,
		Call:        o.st.call,
		Owner:       o.st.owner,
		ActiveChain: o.st.active,
	}
	if o.st.contract != nil {
		c := *o.st.contract
		s.Contract = &c
	}

	o.mu.Lock()
	o.snap = s
	o.broadcast(s)
	o.mu.Unlock()
}

// hint is a non-blocking note about the amount, such as asset bounds
func (o *Orchestrator) hint() *types.Error {
	intent := o.st.intent
	if intent.SrcAsset == nil || strings.TrimSpace(intent.Amount) == "" {
		return nil
	}
	err := func() error {
		if _, err := parser.ParsePositiveUnits(intent.Amount, intent.SrcAsset.Decimals); err != nil {
			return err
		}
		return parser.CheckBounds(intent.Amount, *intent.SrcAsset)
	}()
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// phase maps the current state to a phase, a human-readable reason and the blocking error
func (o *Orchestrator) phase() (Phase, string, *types.Error) {
	exec := o.st.execution
	switch exec.Status {
	case types.ExecAwaitingSwitch:
		return PhaseAwaitingSwitch, fmt.Sprintf("waiting for the wallet to switch to chain %d", o.st.intent.SrcChainID), exec.Err
	case types.ExecSubmitting:
		return PhaseSubmitting, "submitting order, confirm the transaction in your wallet", nil
	case types.ExecOpen:
		return PhaseOpen, fmt.Sprintf("order %s is open, waiting for a solver to fill it", exec.OrderID), nil
	case types.ExecFilled:
		return PhaseFilled, fmt.Sprintf("order %s filled", exec.OrderID), nil
	case types.ExecRejected:
		return PhaseRejected, fmt.Sprintf("order %s rejected: %s", exec.OrderID, exec.RejectReason), exec.Err
	case types.ExecError:
		msg := "order submission failed"
		if exec.Err != nil {
			msg = exec.Err.Message
		}
		return PhaseError, msg, exec.Err
	}

	intent := o.st.intent
	if intent.SrcAsset == nil || intent.DestAsset == nil {
		return PhaseIdle, "select source and destination assets", o.st.notice
	}
	if _, err := parser.ParsePositiveUnits(intent.Amount, intent.SrcAsset.Decimals); err != nil {
		return PhaseIdle, "enter an amount", o.st.notice
	}

	q := o.quotes.Current()
	if q.Tuple != o.st.tuple {
		return PhaseQuoting, "getting a quote", nil
	}
	switch q.Status {
	case types.QuotePending:
		return PhaseQuoting, "getting a quote", nil
	case types.QuoteError:
		return PhaseIdle, q.Error, types.NewError(types.KindQuoteFailed, q.Error, nil)
	case types.QuoteDisabled:
		return PhaseIdle, "enter an amount", o.st.notice
	}

	if o.st.owner == nil {
		return PhaseIdle, "connect a wallet to continue", nil
	}

	a := o.gate.Current()
	if !a.Satisfied() {
		switch a.State {
		case types.ApprovalInsufficient:
			return PhaseAwaitingApproval, fmt.Sprintf("approve %s %s to continue",
				parser.FormatUnits(a.Required, intent.SrcAsset.Decimals), intent.SrcAsset.Symbol), firstError(a.Err, o.st.notice)
		case types.ApprovalApproving:
			return PhaseAwaitingApproval, "waiting for the approval to confirm", nil
		default:
			if a.Err != nil {
				return PhaseAwaitingApproval, a.Err.Message, a.Err
			}
			return PhaseAwaitingApproval, "checking token allowance", nil
		}
	}

	if !o.st.config.Complete() {
		issues := o.st.call.Issues
		msg := "complete the call arguments: " + strings.Join(issues, "; ")
		return PhaseIdle, msg, types.NewError(types.KindInvalidArgument, msg, nil)
	}

	v := o.st.validation
	switch v.Status {
	case types.ValidationAccepted:
		return PhaseReady, "ready to execute", o.st.notice
	case types.ValidationRejected:
		msg := "order rejected: " + v.RejectReason
		if v.RejectDescription != "" {
			msg += ": " + v.RejectDescription
		}
		return PhaseRejected, msg, types.NewError(types.KindValidationRejected, msg, nil)
	case types.ValidationError:
		msg := "unable to validate order: " + v.Error
		return PhaseError, msg, types.NewError(types.KindUnknown, msg, nil)
	}
	return PhaseValidating, "validating order", nil
}

func firstError(errs ...*types.Error) *types.Error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// requestSwitch starts a network switch when the wallet is not on chainID
func (o *Orchestrator) requestSwitch(chainID uint64) bool {
	if o.guard == nil {
		return false
	}
	mismatch := o.guard.Check(chainID)
	if mismatch == nil {
		return false
	}

	typed, _ := mismatch.(*types.Error)
	o.st.execution = types.OrderExecution{Status: types.ExecAwaitingSwitch, Err: typed}
	gen, ctx := o.switches.Begin(o.ctx)

	go func() {
		err := o.guard.Request(ctx, chainID)
		o.post(func() { o.switched(gen, err) })
	}()
	return true
}

func (o *Orchestrator) switched(gen uint64, err error) {
	if !o.switches.IsCurrent(gen) || o.st.execution.Status != types.ExecAwaitingSwitch {
		metrics.StaleResponses.WithLabelValues("switch").Inc()
		return
	}
	o.switches.Settle(gen)
	o.st.execution = types.OrderExecution{Status: types.ExecIdle}
	if err != nil {
		typed, ok := err.(*types.Error)
		if !ok {
			typed = types.NewError(types.KindNetworkMismatch, "network switch failed", err)
		}
		o.st.notice = typed
		o.logger.Warn("network switch failed", zap.Error(err))
	}
	o.reconcile()
}

// submit hands the config to the executor. The attempt is committed from here on.
func (o *Orchestrator) submit(owner common.Address, cfg types.OrderConfig) {
	o.st.execution = types.OrderExecution{Status: types.ExecSubmitting}
	attempt := o.st.attemptID
	o.logger.Info("submitting order", zap.String("attempt", attempt), zap.String("fingerprint", o.st.validation.Fingerprint))

	go func() {
		sub, err := o.deps.Executor.Submit(o.ctx, owner, cfg)
		o.post(func() { o.submitted(attempt, cfg, sub, err) })
	}()
}

func (o *Orchestrator) submitted(attempt string, cfg types.OrderConfig, sub inbox.Submission, err error) {
	if attempt != o.st.attemptID {
		return
	}
	if err != nil {
		exec := types.OrderExecution{Status: types.ExecError}
		if sub.TxHash != (common.Hash{}) {
			exec.TxHash = sub.TxHash.Hex()
		}
		if types.IsUserRejection(err) {
			exec.Err = types.NewError(types.KindSubmissionRejected, "order was rejected in the wallet", err)
			metrics.OrderSubmissions.WithLabelValues("rejected_by_user").Inc()
		} else {
			exec.Err = types.NewError(types.KindSubmissionFailed, "order submission failed", err)
			metrics.OrderSubmissions.WithLabelValues("failed").Inc()
		}
		o.st.execution = exec
		o.logger.Warn("order submission failed", zap.String("attempt", attempt), zap.Error(err))
		o.reconcile()
		return
	}

	metrics.OrderSubmissions.WithLabelValues("submitted").Inc()
	o.st.execution = types.OrderExecution{
		Status:  types.ExecOpen,
		TxHash:  sub.TxHash.Hex(),
		OrderID: sub.OrderID.Hex(),
		Block:   sub.Block,
	}
	o.reconcile()

	go func() {
		outcome, err := o.deps.Executor.Track(o.ctx, cfg.SrcChainID, sub.OrderID, sub.Block)
		o.post(func() { o.tracked(attempt, outcome, err) })
	}()
}

func (o *Orchestrator) tracked(attempt string, outcome inbox.Outcome, err error) {
	if attempt != o.st.attemptID || o.st.execution.Status != types.ExecOpen {
		return
	}
	if err != nil {
		if o.ctx.Err() != nil {
			return
		}
		o.st.execution.Status = types.ExecError
		o.st.execution.Err = types.NewError(types.KindUnknown, "lost track of the order status", err)
		o.reconcile()
		return
	}
	o.st.execution.Status = outcome.Status
	o.st.execution.RejectReason = outcome.RejectReason
	if outcome.Status == types.ExecRejected {
		o.st.execution.Err = types.NewError(types.KindValidationRejected, "order rejected: "+outcome.RejectReason, nil)
	}
	o.reconcile()
}
