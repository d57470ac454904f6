package order_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/inbox"
	"solvernet-order/pkg/order"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
)

var _ = Describe("Orchestrator", func() {
	var (
		quotes     *fakeQuotes
		allowances *fakeAllowances
		wallet     *fakeWallet
		validator  *fakeValidator
		executor   *fakeExecutor
		abiLookup  *fakeABI
		opts       []order.Option
		o          *order.Orchestrator
	)

	phase := func() order.Phase { return o.Snapshot().Phase }
	// snapErr avoids handing a typed nil to error matchers
	snapErr := func() error {
		if err := o.Snapshot().Err; err != nil {
			return err
		}
		return nil
	}

	BeforeEach(func() {
		quotes = &fakeQuotes{}
		allowances = &fakeAllowances{}
		wallet = &fakeWallet{connected: true, active: 10}
		validator = &fakeValidator{}
		executor = newFakeExecutor()
		abiLookup = &fakeABI{}
		opts = []order.Option{order.WithValidationRetry(10 * time.Millisecond)}
	})

	JustBeforeEach(func() {
		o = order.New(order.Deps{
			Quotes:     quotes,
			Allowances: allowances,
			Wallet:     wallet,
			Validator:  validator,
			Executor:   executor,
			ABI:        abiLookup,
		}, opts...)
	})

	AfterEach(func() {
		o.Close()
	})

	It("starts idle with a fresh attempt", func() {
		s := o.Snapshot()
		Expect(s.Phase).To(Equal(order.PhaseIdle))
		Expect(s.AttemptID).NotTo(BeEmpty())
		Expect(s.Quote.Status).To(Equal(types.QuoteDisabled))
	})

	It("keeps the quote disabled for zero or non-numeric amounts", func() {
		for _, amount := range []string{"", "0", "0.0", "-1", "abc", "1e18"} {
			Expect(o.SetIntent(intent(ethOP, ethBase, amount))).To(Succeed())
			Consistently(func() types.QuoteStatus { return o.Snapshot().Quote.Status }, 30*time.Millisecond).
				Should(Equal(types.QuoteDisabled))
		}
		Expect(quotes.calls.Load()).To(BeZero())
		Expect(phase()).To(Equal(order.PhaseIdle))
	})

	It("reaches ready for a native to native order", func() {
		Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))

		s := o.Snapshot()
		Expect(s.Quote.Status).To(Equal(types.QuoteSuccess))
		Expect(s.Quote.Deposit.String()).To(Equal(ether("1.5").String()))
		Expect(s.Approval.State).To(Equal(types.ApprovalNotApplicable))
		Expect(s.Config.ValidateEnabled).To(BeTrue())
		Expect(s.Config.Deposit.Token).To(BeNil())
		Expect(s.Config.Calls).To(HaveLen(1))
		Expect(s.Config.Calls[0].Target).To(Equal(ownerAddr))
		Expect(s.Config.Calls[0].FunctionName).To(BeEmpty())
		Expect(s.Config.Calls[0].Value.String()).To(Equal(s.Quote.Expense.String()))
		Expect(s.Validation.Status).To(Equal(types.ValidationAccepted))
		Expect(s.Validation.Fingerprint).To(Equal(s.Config.Fingerprint()))
	})

	It("reports amounts outside the asset bounds without blocking the quote", func() {
		Expect(o.SetIntent(intent(ethOP, ethBase, "0.0001"))).To(Succeed())
		Eventually(func() types.QuoteStatus { return o.Snapshot().Quote.Status }).Should(Equal(types.QuoteSuccess))
		hint := o.Snapshot().Hint
		Expect(hint).NotTo(BeNil())
		Expect(hint.Kind).To(Equal(types.KindInputInvalid))
		Expect(hint.Message).To(ContainSubstring("minimum amount is 0.001 ETH"))
	})

	It("surfaces quote failures and retries when the same amount is resubmitted", func() {
		var fail atomic.Bool
		fail.Store(true)
		quotes.FuncQuote = func(ctx context.Context, req quote.Request) (quote.Response, error) {
			if fail.Load() {
				return quote.Response{}, errors.New("no liquidity")
			}
			return quote.Response{Deposit: req.Deposit.Amount, Expense: req.Deposit.Amount}, nil
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(func() types.QuoteStatus { return o.Snapshot().Quote.Status }).Should(Equal(types.QuoteError))

		s := o.Snapshot()
		Expect(s.Phase).To(Equal(order.PhaseIdle))
		Expect(snapErr()).To(MatchError(types.ErrQuoteFailed))
		Expect(s.Reason).To(ContainSubstring("no liquidity"))

		fail.Store(false)
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
	})

	Context("when the wallet is disconnected", func() {
		BeforeEach(func() {
			wallet.connected = false
		})

		It("never enables validation", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
			Eventually(func() types.QuoteStatus { return o.Snapshot().Quote.Status }).Should(Equal(types.QuoteSuccess))
			Consistently(func() bool { return o.Snapshot().Config.ValidateEnabled }, 50*time.Millisecond).Should(BeFalse())

			s := o.Snapshot()
			Expect(s.Phase).To(Equal(order.PhaseIdle))
			Expect(s.Reason).To(ContainSubstring("connect a wallet"))
			Expect(s.Config.Calls).To(BeEmpty())
			Expect(s.Config.Expense.Amount.Sign()).To(Equal(0))
			Expect(validator.calls.Load()).To(BeZero())
			Expect(o.Execute()).To(MatchError(order.ErrNotReady))
		})

		It("proceeds once the wallet connects", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
			Eventually(func() types.QuoteStatus { return o.Snapshot().Quote.Status }).Should(Equal(types.QuoteSuccess))

			wallet.setConnected(true)
			o.WalletChanged()
			Eventually(phase).Should(Equal(order.PhaseReady))
		})
	})

	Context("with an ERC-20 deposit and no allowance", func() {
		It("requires an approval of exactly the deposit before becoming ready", func() {
			release := make(chan struct{})
			allowances.FuncApprove = func(*big.Int) error {
				<-release
				return nil
			}

			Expect(o.SetIntent(intent(usdcOP, ethBase, "25"))).To(Succeed())
			Eventually(func() types.ApprovalState { return o.Snapshot().Approval.State }).Should(Equal(types.ApprovalInsufficient))
			Expect(phase()).To(Equal(order.PhaseAwaitingApproval))
			Expect(o.Snapshot().Config.ValidateEnabled).To(BeFalse())
			Expect(o.Execute()).To(MatchError(order.ErrNotReady))

			Expect(o.Approve()).To(Succeed())
			Eventually(func() types.ApprovalState { return o.Snapshot().Approval.State }).Should(Equal(types.ApprovalApproving))
			Expect(phase()).To(Equal(order.PhaseAwaitingApproval))

			close(release)
			Eventually(func() types.ApprovalState { return o.Snapshot().Approval.State }).Should(Equal(types.ApprovalSufficient))
			Eventually(phase).Should(Equal(order.PhaseReady))

			allowances.mu.Lock()
			Expect(allowances.approved).To(HaveLen(1))
			Expect(allowances.approved[0].String()).To(Equal("25000000"))
			allowances.mu.Unlock()
			Expect(o.Snapshot().Approval.Spender).To(Equal(inboxAddr))
		})

		It("returns to insufficient when the approval is rejected", func() {
			allowances.FuncApprove = func(*big.Int) error { return types.ErrUserRejected }

			Expect(o.SetIntent(intent(usdcOP, ethBase, "25"))).To(Succeed())
			Eventually(func() types.ApprovalState { return o.Snapshot().Approval.State }).Should(Equal(types.ApprovalInsufficient))
			Expect(o.Approve()).To(Succeed())

			Eventually(snapErr).Should(MatchError(types.ErrApprovalRejected))
			Expect(o.Snapshot().Approval.State).To(Equal(types.ApprovalInsufficient))
		})

		It("picks up an allowance granted outside the order flow when the wallet changes", func() {
			Expect(o.SetIntent(intent(usdcOP, ethBase, "25"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseAwaitingApproval))
			Eventually(func() types.ApprovalState { return o.Snapshot().Approval.State }).
				Should(Equal(types.ApprovalInsufficient))

			allowances.mu.Lock()
			allowances.allowance = big.NewInt(25_000_000)
			allowances.mu.Unlock()

			o.WalletChanged()
			Eventually(phase).Should(Equal(order.PhaseReady))
			Expect(o.Snapshot().Approval.State).To(Equal(types.ApprovalSufficient))
			allowances.mu.Lock()
			Expect(allowances.approved).To(BeEmpty())
			allowances.mu.Unlock()
		})

		It("skips the approval when the allowance already covers the deposit", func() {
			allowances.allowance = big.NewInt(100_000_000)
			Expect(o.SetIntent(intent(usdcOP, ethBase, "25"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))
			Expect(o.Snapshot().Approval.State).To(Equal(types.ApprovalSufficient))
		})
	})

	Context("when the wallet is on another chain", func() {
		BeforeEach(func() {
			wallet.active = 8453
		})

		It("switches the network without submitting, then submits on the next attempt", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))

			Expect(o.Execute()).To(Succeed())
			Eventually(func() uint64 { return wallet.ChainID() }).Should(Equal(uint64(10)))
			wallet.mu.Lock()
			Expect(wallet.switches).To(Equal([]uint64{10}))
			wallet.mu.Unlock()
			Eventually(phase).Should(Equal(order.PhaseReady))
			Consistently(executor.submissions, 50*time.Millisecond).Should(BeZero())

			Expect(o.Execute()).To(Succeed())
			Eventually(executor.submissions).Should(Equal(1))
			Eventually(phase).Should(Equal(order.PhaseOpen))
			Expect(o.Snapshot().Execution.OrderID).To(Equal(common.HexToHash("0x1d").Hex()))
			Expect(o.Snapshot().Execution.Block).To(Equal(uint64(7)))

			executor.outcome <- inbox.Outcome{Status: types.ExecFilled}
			Eventually(phase).Should(Equal(order.PhaseFilled))
		})

		It("stays before submission when the switch is rejected", func() {
			wallet.FuncSwitch = func(uint64) error { return types.ErrUserRejected }
			Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))

			Expect(o.Execute()).To(Succeed())
			Eventually(func() types.ExecutionStatus { return o.Snapshot().Execution.Status }).
				Should(Equal(types.ExecIdle))
			Eventually(phase).Should(Equal(order.PhaseReady))

			err := snapErr()
			Expect(err).To(MatchError(types.ErrNetworkMismatch))
			Expect(errors.Is(err, types.ErrUserRejected)).To(BeTrue())
			Expect(executor.submissions()).To(BeZero())
		})

		It("drops a pending switch when the amount changes", func() {
			release := make(chan struct{})
			DeferCleanup(func() { close(release) })
			wallet.FuncSwitch = func(uint64) error {
				<-release
				return nil
			}
			Expect(o.SetIntent(intent(ethOP, ethBase, "1.5"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))

			Expect(o.Execute()).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseAwaitingSwitch))

			Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(Succeed())
			Expect(o.Snapshot().Execution.Status).To(Equal(types.ExecIdle))
			Eventually(phase).Should(Equal(order.PhaseReady))
			Expect(o.Snapshot().Quote.Deposit.Cmp(ether("2"))).To(BeZero())
			Expect(executor.submissions()).To(BeZero())
		})
	})

	It("discards a quote that arrives after the intent changed", func() {
		slow := make(chan struct{})
		quotes.FuncQuote = func(ctx context.Context, req quote.Request) (quote.Response, error) {
			if req.Deposit.Amount.Cmp(ether("1")) == 0 {
				<-slow
			}
			return quote.Response{Deposit: req.Deposit.Amount, Expense: req.Deposit.Amount}, nil
		}

		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(quotes.calls.Load).Should(Equal(int32(1)))
		Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))

		close(slow)
		Consistently(func() string { return o.Snapshot().Quote.Deposit.String() }, 50*time.Millisecond).
			Should(Equal(ether("2").String()))
		Expect(o.Snapshot().Config.Deposit.Amount.String()).To(Equal(ether("2").String()))
	})

	It("discards a validation for a superseded configuration", func() {
		slow := make(chan struct{})
		validator.FuncValidate = func(ctx context.Context, cfg types.OrderConfig) (types.OrderValidation, error) {
			if cfg.Deposit.Amount.Cmp(ether("1")) == 0 {
				<-slow
				return types.OrderValidation{Status: types.ValidationRejected, RejectReason: "Stale"}, nil
			}
			return types.OrderValidation{Status: types.ValidationAccepted}, nil
		}

		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(validator.calls.Load).Should(Equal(int32(1)))
		Eventually(phase).Should(Equal(order.PhaseValidating))

		Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))

		close(slow)
		Consistently(phase, 50*time.Millisecond).Should(Equal(order.PhaseReady))
		Expect(o.Snapshot().Validation.Status).To(Equal(types.ValidationAccepted))
	})

	It("asks again while the validation is pending", func() {
		validator.FuncValidate = func(context.Context, types.OrderConfig) (types.OrderValidation, error) {
			if validator.calls.Load() < 3 {
				return types.OrderValidation{Status: types.ValidationPending}, nil
			}
			return types.OrderValidation{Status: types.ValidationAccepted}, nil
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
		Expect(validator.calls.Load()).To(Equal(int32(3)))
	})

	It("stops asking about a pending validation once the config changes", func() {
		validator.FuncValidate = func(_ context.Context, cfg types.OrderConfig) (types.OrderValidation, error) {
			if cfg.Deposit.Amount.Cmp(ether("1")) == 0 {
				return types.OrderValidation{Status: types.ValidationPending}, nil
			}
			return types.OrderValidation{Status: types.ValidationAccepted}, nil
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(validator.calls.Load).Should(BeNumerically(">=", 2))

		Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
		settled := validator.calls.Load()
		Consistently(validator.calls.Load, 60*time.Millisecond).Should(Equal(settled))
	})

	It("surfaces a validation rejection with its reason", func() {
		validator.FuncValidate = func(context.Context, types.OrderConfig) (types.OrderValidation, error) {
			return types.OrderValidation{Status: types.ValidationRejected, RejectReason: "InsufficientInventory", RejectDescription: "solver is out of ETH"}, nil
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseRejected))

		s := o.Snapshot()
		Expect(snapErr()).To(MatchError(types.ErrValidationRejected))
		Expect(s.Reason).To(ContainSubstring("InsufficientInventory"))
		Expect(s.Reason).To(ContainSubstring("solver is out of ETH"))
		Expect(o.Execute()).To(MatchError(order.ErrNotReady))
	})

	Context("once submission has begun", func() {
		var release chan struct{}

		BeforeEach(func() {
			release = make(chan struct{})
			executor.FuncSubmit = func(types.OrderConfig) (inbox.Submission, error) {
				<-release
				return inbox.Submission{TxHash: common.HexToHash("0x7e"), OrderID: common.HexToHash("0x1d")}, nil
			}
		})

		It("rejects input changes until the attempt finishes", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))
			first := o.Snapshot().AttemptID

			Expect(o.Execute()).To(Succeed())
			Expect(phase()).To(Equal(order.PhaseSubmitting))
			Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(MatchError(order.ErrCommitted))
			Expect(o.Execute()).To(MatchError(order.ErrCommitted))
			Expect(o.Reset()).To(MatchError(order.ErrCommitted))

			close(release)
			Eventually(phase).Should(Equal(order.PhaseOpen))
			Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(MatchError(order.ErrCommitted))

			executor.outcome <- inbox.Outcome{Status: types.ExecRejected, RejectReason: "ExpenseOverMax"}
			Eventually(phase).Should(Equal(order.PhaseRejected))
			Expect(o.Snapshot().Execution.RejectReason).To(Equal("ExpenseOverMax"))

			Expect(o.SetIntent(intent(ethOP, ethBase, "2"))).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))
			Expect(o.Snapshot().AttemptID).NotTo(Equal(first))
			Expect(o.Snapshot().Execution.Status).To(Equal(types.ExecIdle))
		})
	})

	It("distinguishes a submission cancelled in the wallet", func() {
		executor.FuncSubmit = func(types.OrderConfig) (inbox.Submission, error) {
			return inbox.Submission{}, errors.New("user rejected the request")
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
		Expect(o.Execute()).To(Succeed())

		Eventually(phase).Should(Equal(order.PhaseError))
		s := o.Snapshot()
		Expect(snapErr()).To(MatchError(types.ErrSubmissionRejected))
		Expect(s.Execution.Status).To(Equal(types.ExecError))
	})

	It("reports other submission failures as failed", func() {
		executor.FuncSubmit = func(types.OrderConfig) (inbox.Submission, error) {
			return inbox.Submission{}, errors.New("insufficient funds for gas")
		}
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
		Expect(o.Execute()).To(Succeed())

		Eventually(snapErr).Should(MatchError(types.ErrSubmissionFailed))
	})

	Context("with an arbitrary call", func() {
		deposit := types.Function{
			Type: "function",
			Name: "deposit",
			Inputs: []types.Param{
				{Name: "assets", Type: "uint256"},
				{Name: "receiver", Type: "address"},
			},
			StateMutability: "nonpayable",
		}

		BeforeEach(func() {
			abiLookup.fns = []types.Function{deposit}
		})

		It("loads the contract functions on the destination chain", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
			Expect(o.SetContract(vaultAddr.Hex())).To(Succeed())
			Eventually(func() int {
				c := o.Snapshot().Contract
				if c == nil {
					return 0
				}
				return len(c.Functions)
			}).Should(Equal(1))
			Expect(o.Snapshot().Contract.ChainID).To(Equal(uint64(8453)))
		})

		It("rejects a malformed contract address", func() {
			err := o.SetContract("0x1234")
			Expect(errors.Is(err, types.ErrInvalidAddress)).To(BeTrue())
		})

		It("blocks validation while call arguments are placeholders", func() {
			Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
			Expect(o.SetContract(vaultAddr.Hex())).To(Succeed())
			Eventually(func() bool { c := o.Snapshot().Contract; return c != nil && !c.Loading }).Should(BeTrue())

			Expect(o.SelectFunction("deposit", map[string]string{"receiver": ownerAddr.Hex()})).To(Succeed())
			Eventually(func() int { return len(o.Snapshot().Config.Calls) }).Should(Equal(2))

			s := o.Snapshot()
			Expect(s.Call.Incomplete).To(BeTrue())
			Expect(s.Call.Args[0]).To(Equal("0"))
			Expect(s.Config.ValidateEnabled).To(BeFalse())
			Eventually(phase).Should(Equal(order.PhaseIdle))
			Expect(snapErr()).To(MatchError(types.ErrInvalidArgument))
			Expect(o.Execute()).To(MatchError(order.ErrNotReady))

			Expect(o.SelectFunction("deposit", map[string]string{"assets": "100", "receiver": ownerAddr.Hex()})).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))
			calls := o.Snapshot().Config.Calls
			Expect(calls[0].Target).To(Equal(ownerAddr))
			Expect(calls[1].Target).To(Equal(vaultAddr))
		})

		It("accepts a full signature when the contract is not verified", func() {
			abiLookup.fns = nil
			abiLookup.err = errors.New("contract source code not verified")
			Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
			Expect(o.SetContract(vaultAddr.Hex())).To(Succeed())
			Eventually(func() error { c := o.Snapshot().Contract; return c.Err }).Should(HaveOccurred())

			Expect(o.SelectFunction("deposit", nil)).NotTo(Succeed())
			Expect(o.SelectFunction("poke(uint256 n)", map[string]string{"n": "3"})).To(Succeed())
			Eventually(phase).Should(Equal(order.PhaseReady))

			Expect(o.ClearCall()).To(Succeed())
			Eventually(func() int { return len(o.Snapshot().Config.Calls) }).Should(Equal(1))
		})
	})

	It("resets to an empty attempt", func() {
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(phase).Should(Equal(order.PhaseReady))
		first := o.Snapshot().AttemptID

		Expect(o.Reset()).To(Succeed())
		s := o.Snapshot()
		Expect(s.Phase).To(Equal(order.PhaseIdle))
		Expect(s.AttemptID).NotTo(Equal(first))
		Expect(s.Quote.Status).To(Equal(types.QuoteDisabled))
	})

	It("publishes snapshots to subscribers", func() {
		updates, stop := o.Subscribe()
		defer stop()

		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		Eventually(updates).Should(Receive(HaveField("Phase", order.PhaseReady)))
	})

	It("never leaves a subscriber that joined mid-flow on an older state", func() {
		Expect(o.SetIntent(intent(ethOP, ethBase, "1"))).To(Succeed())
		updates, stop := o.Subscribe()
		defer stop()

		var last order.Snapshot
		latest := func() order.Phase {
			for {
				select {
				case s := <-updates:
					last = s
				default:
					return last.Phase
				}
			}
		}
		Eventually(latest).Should(Equal(order.PhaseReady))
		Consistently(latest, 30*time.Millisecond).Should(Equal(order.PhaseReady))
		Expect(last.Validation.Status).To(Equal(types.ValidationAccepted))
	})
})
