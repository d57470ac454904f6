package calls_test

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/types"
)

var (
	recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
	token     = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	vault     = "0x2222222222222222222222222222222222222222"
)

var depositFn = types.Function{
	Type: "function",
	Name: "deposit",
	Inputs: []types.Param{
		{Name: "amount", Type: "uint256"},
		{Name: "onBehalfOf", Type: "address"},
		{Name: "stake", Type: "bool"},
		{Name: "memo", Type: "string"},
	},
	StateMutability: "nonpayable",
}

var _ = Describe("CallBuilder", func() {
	Context("payout calls", func() {
		It("builds a value-only native transfer", func() {
			spec := calls.NativeTransfer(recipient, big.NewInt(42))
			Expect(spec.Target).To(Equal(recipient))
			Expect(spec.FunctionName).To(BeEmpty())
			Expect(spec.Value.Int64()).To(Equal(int64(42)))

			data, err := calls.Calldata(spec)
			Expect(err).To(BeNil())
			Expect(data).To(BeNil())
		})

		It("builds an ERC-20 transfer with zero value", func() {
			spec := calls.TokenTransfer(token, recipient, big.NewInt(1_000_000))
			Expect(spec.Target).To(Equal(token))
			Expect(spec.Value.Sign()).To(Equal(0))
			Expect(spec.Args).To(Equal([]any{recipient, "1000000"}))

			data, err := calls.Calldata(spec)
			Expect(err).To(BeNil())
			Expect(hexutil.Encode(data[:4])).To(Equal("0xa9059cbb"))
			Expect(data).To(HaveLen(4 + 64))
		})
	})

	Context("arbitrary calls", func() {
		It("rejects invalid contract addresses", func() {
			_, err := calls.Arbitrary("0x1234", depositFn, nil)
			Expect(errors.Is(err, types.ErrInvalidAddress)).To(BeTrue())
		})

		It("rejects mixed-case addresses with a bad checksum", func() {
			_, err := calls.Arbitrary("0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", depositFn, nil)
			Expect(errors.Is(err, types.ErrInvalidAddress)).To(BeTrue())
		})

		It("uses 0 for a missing uint256 and marks the call incomplete", func() {
			spec, err := calls.Arbitrary(vault, depositFn, map[string]string{
				"onBehalfOf": recipient.Hex(),
				"stake":      "true",
				"memo":       "hi",
			})
			Expect(err).To(BeNil())
			Expect(spec.Args[0]).To(Equal("0"))
			Expect(spec.Incomplete).To(BeTrue())
			Expect(spec.Issues).To(ConsistOf(ContainSubstring("amount (uint256)")))

			_, err = calls.Calldata(spec)
			Expect(errors.Is(err, types.ErrInvalidArgument)).To(BeTrue())
		})

		It("coerces each supported type", func() {
			spec, err := calls.Arbitrary(vault, depositFn, map[string]string{
				"amount":     "0x10",
				"onBehalfOf": recipient.Hex(),
				"stake":      "true",
				"memo":       "hello",
			})
			Expect(err).To(BeNil())
			Expect(spec.Incomplete).To(BeFalse())
			Expect(spec.Args).To(Equal([]any{"16", recipient, true, "hello"}))

			data, err := calls.Calldata(spec)
			Expect(err).To(BeNil())
			Expect(len(data)).To(BeNumerically(">", 4))
		})

		It("falls back to placeholders for malformed input", func() {
			spec, err := calls.Arbitrary(vault, depositFn, map[string]string{
				"amount":     "ten",
				"onBehalfOf": "not-an-address",
				"stake":      "yes",
				"memo":       "",
			})
			Expect(err).To(BeNil())
			Expect(spec.Args).To(Equal([]any{"0", common.Address{}, false, ""}))
			Expect(spec.Incomplete).To(BeTrue())
			Expect(spec.Issues).To(HaveLen(4))
		})

		It("accepts an explicit false for bool inputs", func() {
			value, issue := calls.Coerce(types.Param{Type: "bool"}, "false")
			Expect(value).To(Equal(false))
			Expect(issue).To(BeEmpty())
		})

		It("rejects negative and oversized unsigned values", func() {
			_, issue := calls.Coerce(types.Param{Type: "uint256"}, "-1")
			Expect(issue).NotTo(BeEmpty())
			_, issue = calls.Coerce(types.Param{Type: "uint8"}, "256")
			Expect(issue).NotTo(BeEmpty())
			v, issue := calls.Coerce(types.Param{Type: "int8"}, "-128")
			Expect(issue).To(BeEmpty())
			Expect(v).To(Equal("-128"))
		})

		It("encodes small integer and fixed bytes types", func() {
			fn, err := calls.ParseSignature("configure(uint32 id, bytes4 tag, int64 delta)")
			Expect(err).To(BeNil())
			spec, err := calls.Arbitrary(vault, fn, map[string]string{"id": "7", "tag": "0xdeadbeef", "delta": "-5"})
			Expect(err).To(BeNil())
			Expect(spec.Incomplete).To(BeFalse())

			data, err := calls.Calldata(spec)
			Expect(err).To(BeNil())
			Expect(data).To(HaveLen(4 + 3*32))
		})

		It("marks array and tuple inputs as incomplete instead of failing to encode", func() {
			fn := types.Function{
				Type: "function",
				Name: "batch",
				Inputs: []types.Param{
					{Name: "ids", Type: "uint256[]"},
					{Name: "order", Type: "tuple", Components: []types.Param{{Name: "id", Type: "uint256"}}},
				},
				StateMutability: "nonpayable",
			}
			spec, err := calls.Arbitrary(vault, fn, map[string]string{"ids": "[1,2]", "order": "[3]"})
			Expect(err).To(BeNil())
			Expect(spec.Incomplete).To(BeTrue())
			Expect(spec.Issues).To(ConsistOf(
				ContainSubstring("unsupported type uint256[]"),
				ContainSubstring("unsupported type tuple"),
			))

			_, err = calls.Calldata(spec)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("function discovery", func() {
		It("parses signatures with and without names", func() {
			fn, err := calls.ParseSignature("transfer(address to, uint256)")
			Expect(err).To(BeNil())
			Expect(fn.Signature()).To(Equal("transfer(address,uint256)"))
			Expect(fn.Inputs[1].Name).To(BeEmpty())

			spec, err := calls.Arbitrary(vault, fn, map[string]string{"to": recipient.Hex(), "arg1": "5"})
			Expect(err).To(BeNil())
			Expect(spec.Incomplete).To(BeFalse())
		})

		It("rejects unknown types", func() {
			_, err := calls.ParseSignature("foo(uint)")
			Expect(errors.Is(err, types.ErrInvalidArgument)).To(BeTrue())
		})

		It("keeps only write functions from an ABI", func() {
			fns, err := calls.ParseABI(`[
				{"type":"function","name":"balanceOf","inputs":[{"name":"a","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
				{"type":"function","name":"approve","inputs":[{"name":"s","type":"address"},{"name":"v","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
				{"type":"event","name":"Transfer","inputs":[]},
				{"type":"function","name":"legacy","inputs":[],"outputs":[],"constant":true}
			]`)
			Expect(err).To(BeNil())
			Expect(fns).To(HaveLen(3))

			writes := calls.WriteFunctions(fns)
			Expect(writes).To(HaveLen(1))
			Expect(writes[0].Name).To(Equal("approve"))

			found, err := calls.FindFunction(writes, "approve(address, uint256)")
			Expect(err).To(BeNil())
			Expect(found.Name).To(Equal("approve"))
		})
	})

	It("orders the payout before the arbitrary call", func() {
		payout := calls.NativeTransfer(recipient, big.NewInt(1))
		arbitrary, err := calls.Arbitrary(vault, depositFn, nil)
		Expect(err).To(BeNil())

		list := calls.List(&payout, &arbitrary)
		Expect(list).To(HaveLen(2))
		Expect(list[0].FunctionName).To(BeEmpty())
		Expect(list[1].FunctionName).To(Equal("deposit"))

		Expect(calls.List(nil, nil)).To(BeEmpty())
	})
})
