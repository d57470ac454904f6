package inbox

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"solvernet-order/pkg/types"
)

// RejectReasons names the inbox's reject reason codes
var RejectReasons = map[uint8]string{
	0:  "None",
	1:  "DestCallReverts",
	2:  "InvalidDeposit",
	3:  "InvalidExpense",
	4:  "InsufficientDeposit",
	5:  "InsufficientInventory",
	6:  "UnsupportedDeposit",
	7:  "UnsupportedExpense",
	8:  "UnsupportedDestChain",
	9:  "UnsupportedSrcChain",
	10: "SameChain",
	11: "ExpenseOverMax",
	12: "ExpenseUnderMin",
	13: "CallNotAllowed",
}

// Outcome is the settled state of an opened order
type Outcome struct {
	Status       types.ExecutionStatus
	RejectReason string
	TxHash       common.Hash
}

// outcomeFromLogs returns the first Filled or Rejected outcome in logs
func outcomeFromLogs(orderID common.Hash, logs []gethtypes.Log) (Outcome, bool) {
	for _, l := range logs {
		if len(l.Topics) < 2 || l.Topics[1] != orderID {
			continue
		}
		switch l.Topics[0] {
		case FilledTopic:
			return Outcome{Status: types.ExecFilled, TxHash: l.TxHash}, true
		case RejectedTopic:
			reason := "Unknown"
			if len(l.Topics) > 3 {
				code := uint8(new(big.Int).SetBytes(l.Topics[3].Bytes()).Uint64())
				if name, ok := RejectReasons[code]; ok {
					reason = name
				} else {
					reason = fmt.Sprintf("reason %d", code)
				}
			}
			return Outcome{Status: types.ExecRejected, RejectReason: reason, TxHash: l.TxHash}, true
		}
	}
	return Outcome{}, false
}

// Track polls the inbox on chainID for the order's outcome starting at fromBlock.
// It blocks until the order is filled or rejected or ctx ends.
func (e *Executor) Track(ctx context.Context, chainID uint64, orderID common.Hash, fromBlock uint64) (Outcome, error) {
	inbox, err := e.Inbox(chainID)
	if err != nil {
		return Outcome{}, err
	}

	logger := e.logger.With(zap.String("orderId", orderID.Hex()))
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	next := fromBlock
	for {
		latest, err := e.chain.BlockNumber(ctx, chainID)
		if err != nil {
			logger.Warn("failed to get latest block", zap.Error(err))
		} else if latest >= next {
			logs, err := e.chain.FilterLogs(ctx, chainID, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(next),
				ToBlock:   new(big.Int).SetUint64(latest),
				Addresses: []common.Address{inbox},
				Topics:    [][]common.Hash{{FilledTopic, RejectedTopic}, {orderID}},
			})
			if err != nil {
				logger.Warn("failed to filter inbox logs", zap.Error(err))
			} else {
				if outcome, ok := outcomeFromLogs(orderID, logs); ok {
					logger.Info("order settled", zap.String("status", string(outcome.Status)), zap.String("reason", outcome.RejectReason))
					return outcome, nil
				}
				next = latest + 1
			}
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
