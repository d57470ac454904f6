package cmd

import (
	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/types"
)

var _ = Describe("parseOrderArgs", func() {
	It("joins the words into one command", func() {
		req, err := parseOrderArgs([]string{"1.5", "ETH", "on", "base", "to", "ETH", "on", "optimism"}, "", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Amount).To(Equal("1.5"))
		Expect(req.SourceChain).To(Equal("base"))
		Expect(req.DestChain).To(Equal("optimism"))
	})

	It("fills chains from flags", func() {
		req, err := parseOrderArgs([]string{"100", "USDC", "to", "USDC"}, "optimism", "8453")
		Expect(err).NotTo(HaveOccurred())
		Expect(req.SourceChain).To(Equal("optimism"))
		Expect(req.DestChain).To(Equal("8453"))
	})

	It("requires both chains", func() {
		_, err := parseOrderArgs([]string{"100", "USDC", "to", "USDC"}, "optimism", "")
		Expect(err).To(MatchError(ContainSubstring("destination chain is required")))
	})
})

var _ = Describe("parseOrderID", func() {
	It("accepts a 32 byte hex id", func() {
		id := common.HexToHash("0x1d")
		parsed, err := parseOrderID(id.Hex())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(id))
	})

	It("rejects short or malformed ids", func() {
		_, err := parseOrderID("0x1d")
		Expect(err).To(MatchError(types.ErrInvalidArgument))

		_, err = parseOrderID("not-an-id")
		Expect(err).To(MatchError(types.ErrInvalidArgument))
	})
})

var _ = Describe("helpers", func() {
	It("picks the first non-empty value", func() {
		Expect(firstNonEmpty("", ":9090", ":9091")).To(Equal(":9090"))
		Expect(firstNonEmpty("", "")).To(BeEmpty())
	})

	It("formats call arguments", func() {
		addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
		Expect(formatArgs([]any{addr, "25", true})).To(Equal(addr.Hex() + ", 25, true"))
	})
})
