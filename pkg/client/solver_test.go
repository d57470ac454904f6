package client_test

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"solvernet-order/pkg/calls"
	"solvernet-order/pkg/client"
	"solvernet-order/pkg/quote"
	"solvernet-order/pkg/types"
)

var usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

// testSolver is a fake solver API
type testSolver struct {
	router    *gin.Engine
	lastQuote map[string]any
	lastCheck map[string]any
	check     gin.H
}

func newTestSolver() *testSolver {
	s := &testSolver{router: gin.New(), check: gin.H{"accepted": true}}
	s.router.GET("/api/v1/tokens", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"tokens": []gin.H{
			{"enabled": true, "name": "Ether", "symbol": "ETH", "chainId": 8453, "address": "0x0000000000000000000000000000000000000000", "decimals": 18},
			{"enabled": true, "name": "USD Coin", "symbol": "USDC", "chainId": 8453, "address": usdc.Hex(), "decimals": 6},
		}})
	})
	s.router.GET("/api/v1/contracts", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"inbox":  "0x8F4B4F4B4F4B4F4B4F4B4F4B4F4B4F4B4F4B4F4B",
			"outbox": "0x1111111111111111111111111111111111111111",
		})
	})
	s.router.POST("/api/v1/quote", func(ctx *gin.Context) {
		if err := ctx.BindJSON(&s.lastQuote); err != nil {
			return
		}
		deposit := s.lastQuote["deposit"].(map[string]any)
		if deposit["amount"] == "13" {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": 400, "status": "Bad Request", "message": "deposit below minimum"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"deposit": gin.H{"amount": deposit["amount"]},
			"expense": gin.H{"amount": "0x5a"},
		})
	})
	s.router.POST("/api/v1/check", func(ctx *gin.Context) {
		if err := ctx.BindJSON(&s.lastCheck); err != nil {
			return
		}
		ctx.JSON(http.StatusOK, s.check)
	})
	return s
}

var _ = Describe("SolverClient", func() {
	var (
		solver *testSolver
		server *httptest.Server
		c      *client.SolverClient
	)

	BeforeEach(func() {
		solver = newTestSolver()
		server = httptest.NewServer(solver.router)
		c = client.NewSolverClient(server.URL+"/api/v1/", nil)
	})

	AfterEach(func() {
		server.Close()
	})

	It("lists tokens", func() {
		tokens, err := c.Tokens(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(tokens).To(HaveLen(2))
		Expect(tokens[1].Symbol).To(Equal("USDC"))
		Expect(tokens[1].Decimals).To(Equal(uint8(6)))
		Expect(tokens[1].ChainID).To(Equal(uint64(8453)))
	})

	It("reads the protocol contracts", func() {
		contracts, err := c.Contracts(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(contracts.Outbox).To(Equal(common.HexToAddress("0x1111111111111111111111111111111111111111")))
	})

	It("quotes in expense mode and accepts hex amounts", func() {
		resp, err := c.Quote(context.Background(), quote.Request{
			SrcChainID:  10,
			DestChainID: 8453,
			Deposit:     quote.Unit{Amount: big.NewInt(100)},
			Expense:     quote.Unit{Token: &usdc},
			Mode:        quote.ModeExpense,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Deposit.String()).To(Equal("100"))
		Expect(resp.Expense.String()).To(Equal("90"))
		Expect(solver.lastQuote["sourceChainId"]).To(BeEquivalentTo(10))
		Expect(solver.lastQuote["mode"]).To(Equal("expense"))
		expense := solver.lastQuote["expense"].(map[string]any)
		Expect(strings.EqualFold(expense["token"].(string), usdc.Hex())).To(BeTrue())
	})

	It("surfaces the API message on failure", func() {
		_, err := c.Quote(context.Background(), quote.Request{
			SrcChainID:  10,
			DestChainID: 8453,
			Deposit:     quote.Unit{Amount: big.NewInt(13)},
			Mode:        quote.ModeExpense,
		})
		Expect(err).To(MatchError(ContainSubstring("deposit below minimum")))
	})

	Describe("Validate", func() {
		owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
		cfg := types.OrderConfig{
			SrcChainID:  10,
			DestChainID: 8453,
			Deposit:     types.Deposit{Amount: big.NewInt(100)},
			Expense:     types.Expense{Amount: big.NewInt(90)},
			Calls:       []types.CallSpec{calls.NativeTransfer(owner, big.NewInt(90))},
		}

		It("sends the encoded calls and reports acceptance", func() {
			v, err := c.Validate(context.Background(), owner, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Status).To(Equal(types.ValidationAccepted))
			Expect(solver.lastCheck["calls"]).To(HaveLen(1))
			Expect(solver.lastCheck["fillDeadline"]).To(BeNumerically(">", 0))
		})

		It("reports the reject reason and description", func() {
			solver.check = gin.H{"rejected": true, "rejectReason": "InsufficientInventory", "rejectDescription": "not enough ETH"}
			v, err := c.Validate(context.Background(), owner, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Status).To(Equal(types.ValidationRejected))
			Expect(v.RejectReason).To(Equal("InsufficientInventory"))
			Expect(v.RejectDescription).To(Equal("not enough ETH"))
		})

		It("refuses to encode incomplete calls", func() {
			bad := cfg
			bad.Calls = []types.CallSpec{{Target: owner, FunctionName: "mint", Incomplete: true}}
			_, err := c.Validate(context.Background(), owner, bad)
			Expect(err).To(HaveOccurred())
		})
	})
})
