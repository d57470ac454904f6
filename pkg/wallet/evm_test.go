package wallet_test

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/types"
	"solvernet-order/pkg/wallet"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var _ = Describe("EVM wallet", func() {
	rpcs := map[uint64]string{8453: "http://127.0.0.1:1", 10: "http://127.0.0.1:1"}

	It("derives the account address from the key", func() {
		w, err := wallet.NewEVM(testKey, rpcs, 10)
		Expect(err).NotTo(HaveOccurred())
		addr, ok := w.Address()
		Expect(ok).To(BeTrue())
		Expect(addr).To(Equal(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")))
		Expect(w.ChainID()).To(Equal(uint64(10)))
	})

	It("exposes no account as a watcher and refuses to sign", func() {
		w := wallet.NewWatcher(rpcs, 10)
		_, ok := w.Address()
		Expect(ok).To(BeFalse())
		_, err := w.SendTransaction(context.Background(), 10, common.Address{}, big.NewInt(1), nil)
		Expect(err).To(MatchError(wallet.ErrReadOnly))
	})

	It("rejects a missing or malformed key", func() {
		_, err := wallet.NewEVM("", rpcs, 10)
		Expect(err).To(HaveOccurred())
		_, err = wallet.NewEVM("0x1234", rpcs, 10)
		Expect(err).To(HaveOccurred())
	})

	It("refuses to switch to a chain without an RPC endpoint", func() {
		w, _ := wallet.NewEVM(testKey, rpcs, 10)
		err := w.SwitchNetwork(context.Background(), 42161)
		Expect(err).To(MatchError(ContainSubstring("no RPC endpoint")))
		Expect(w.ChainID()).To(Equal(uint64(10)))
	})

	It("reports a declined switch as a user rejection", func() {
		var prompt string
		w, _ := wallet.NewEVM(testKey, rpcs, 10, wallet.WithConfirmer(func(p string) bool {
			prompt = p
			return false
		}))
		err := w.SwitchNetwork(context.Background(), 8453)
		Expect(errors.Is(err, types.ErrUserRejected)).To(BeTrue())
		Expect(prompt).To(ContainSubstring("chain 8453"))
		Expect(w.ChainID()).To(Equal(uint64(10)))
	})

	It("refuses to send on a chain other than the active one", func() {
		w, _ := wallet.NewEVM(testKey, rpcs, 10)
		_, err := w.SendTransaction(context.Background(), 8453, common.Address{}, big.NewInt(1), nil)
		Expect(errors.Is(err, types.ErrNetworkMismatch)).To(BeTrue())
	})

	It("reports a declined transaction as a user rejection", func() {
		w, _ := wallet.NewEVM(testKey, rpcs, 10, wallet.WithConfirmer(func(string) bool { return false }))
		_, err := w.SendTransaction(context.Background(), 10, common.Address{}, big.NewInt(1), nil)
		Expect(types.IsUserRejection(err)).To(BeTrue())
	})
})
