package approval_test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/approval"
	"solvernet-order/pkg/types"
)

type fakeAllowances struct {
	mu        sync.Mutex
	allowance *big.Int
	approved  *big.Int

	FuncApprove func() error
	waitCh      chan error
}

func (f *fakeAllowances) Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeAllowances) Approve(ctx context.Context, chainID uint64, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	f.mu.Lock()
	f.approved = new(big.Int).Set(amount)
	f.mu.Unlock()
	if f.FuncApprove != nil {
		if err := f.FuncApprove(); err != nil {
			return common.Hash{}, err
		}
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeAllowances) WaitApproval(ctx context.Context, chainID uint64, tx common.Hash) error {
	if f.waitCh == nil {
		return nil
	}
	select {
	case err := <-f.waitCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAllowances) set(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance = big.NewInt(v)
}

var (
	usdc    = types.Asset{ChainID: 8453, Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Symbol: "USDC", Decimals: 6}
	native  = types.Asset{ChainID: 8453, Symbol: "ETH", Decimals: 18, IsNative: true}
	owner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	inbox   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	ctx     = context.Background()
	million = big.NewInt(1_000_000)
)

func input(asset types.Asset, required *big.Int) approval.Input {
	o := owner
	return approval.Input{ChainID: 8453, Asset: &asset, Owner: &o, Spender: inbox, Required: required}
}

func stateOf(g *approval.Gate) func() types.ApprovalState {
	return func() types.ApprovalState { return g.Current().State }
}

var _ = Describe("Gate", func() {
	var allowances *fakeAllowances

	BeforeEach(func() {
		allowances = &fakeAllowances{allowance: big.NewInt(0)}
	})

	It("is not applicable for native assets", func() {
		g := approval.NewGate(allowances)
		Expect(g.Evaluate(ctx, input(native, million)).State).To(Equal(types.ApprovalNotApplicable))
		Expect(g.Current().Satisfied()).To(BeTrue())
	})

	It("stays unknown without an owner, amount or spender", func() {
		g := approval.NewGate(allowances)
		in := input(usdc, million)
		in.Owner = nil
		Expect(g.Evaluate(ctx, in).State).To(Equal(types.ApprovalUnknown))

		Expect(g.Evaluate(ctx, input(usdc, big.NewInt(0))).State).To(Equal(types.ApprovalUnknown))

		in = input(usdc, million)
		in.Spender = common.Address{}
		Expect(g.Evaluate(ctx, in).State).To(Equal(types.ApprovalUnknown))
	})

	It("is sufficient and never insufficient when the allowance covers the deposit", func() {
		allowances.set(2_000_000)
		var mu sync.Mutex
		var seen []types.ApprovalState
		g := approval.NewGate(allowances, approval.WithOnUpdate(func(r types.ApprovalRequirement) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, r.State)
		}))

		Expect(g.Evaluate(ctx, input(usdc, million)).State).To(Equal(types.ApprovalChecking))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalSufficient))
		g.Refresh(ctx)
		Eventually(stateOf(g)).Should(Equal(types.ApprovalSufficient))

		mu.Lock()
		defer mu.Unlock()
		Expect(seen).NotTo(ContainElement(types.ApprovalInsufficient))
	})

	It("approves exactly the required amount and re-reads after confirmation", func() {
		allowances.waitCh = make(chan error, 1)
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(usdc, million))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalInsufficient))

		Expect(g.Approve(ctx)).To(Succeed())
		Expect(g.Current().State).To(Equal(types.ApprovalApproving))
		Eventually(func() string {
			allowances.mu.Lock()
			defer allowances.mu.Unlock()
			if allowances.approved == nil {
				return ""
			}
			return allowances.approved.String()
		}).Should(Equal("1000000"))

		allowances.set(1_000_000)
		allowances.waitCh <- nil
		Eventually(stateOf(g)).Should(Equal(types.ApprovalSufficient))
	})

	It("stays insufficient when the confirmed allowance is still short", func() {
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(usdc, million))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalInsufficient))

		allowances.FuncApprove = func() error {
			allowances.set(10)
			return nil
		}
		Expect(g.Approve(ctx)).To(Succeed())
		Eventually(func() string {
			if a := g.Current().Allowance; a != nil {
				return a.String()
			}
			return ""
		}).Should(Equal("10"))
		Expect(g.Current().State).To(Equal(types.ApprovalInsufficient))
	})

	It("returns to insufficient with ApprovalRejected when the user declines", func() {
		allowances.FuncApprove = func() error { return types.ErrUserRejected }
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(usdc, million))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalInsufficient))

		Expect(g.Approve(ctx)).To(Succeed())
		Eventually(func() error {
			if err := g.Current().Err; err != nil {
				return err
			}
			return nil
		}).Should(MatchError(types.ErrApprovalRejected))
		Expect(g.Current().State).To(Equal(types.ApprovalInsufficient))
	})

	It("returns to insufficient with ApprovalFailed on wallet errors", func() {
		allowances.FuncApprove = func() error { return errors.New("nonce too low") }
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(usdc, million))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalInsufficient))

		Expect(g.Approve(ctx)).To(Succeed())
		Eventually(func() types.ErrorKind {
			if err := g.Current().Err; err != nil {
				return err.Kind
			}
			return ""
		}).Should(Equal(types.KindApprovalFailed))
	})

	It("refuses to approve outside the insufficient state", func() {
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(native, million))
		Expect(g.Approve(ctx)).To(MatchError(approval.ErrNotApprovable))
	})

	It("resets the verdict when the amount changes", func() {
		allowances.set(1_000_000)
		g := approval.NewGate(allowances)
		g.Evaluate(ctx, input(usdc, million))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalSufficient))

		next := g.Evaluate(ctx, input(usdc, big.NewInt(5_000_000)))
		Expect(next.State).To(Equal(types.ApprovalChecking))
		Eventually(stateOf(g)).Should(Equal(types.ApprovalInsufficient))
	})
})
