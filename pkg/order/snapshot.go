package order

import (
	"github.com/ethereum/go-ethereum/common"

	"solvernet-order/pkg/types"
)

// Phase is the orchestrator's position in the order flow
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseQuoting          Phase = "quoting"
	PhaseAwaitingApproval Phase = "awaiting-approval"
	PhaseValidating       Phase = "validating"
	PhaseReady            Phase = "ready"
	PhaseAwaitingSwitch   Phase = "awaiting-network-switch"
	PhaseSubmitting       Phase = "submitting"
	PhaseOpen             Phase = "open"
	PhaseFilled           Phase = "filled"
	PhaseRejected         Phase = "rejected"
	PhaseError            Phase = "error"
)

// ContractState is the arbitrary-call target and its looked-up functions
type ContractState struct {
	Address   common.Address   `json:"address"`
	ChainID   uint64           `json:"chainId"`
	Functions []types.Function `json:"functions,omitempty"`
	Loading   bool             `json:"loading"`
	Err       error            `json:"-"`
}

// Snapshot is a consistent copy of the orchestrator state. Amounts are shared and must not be mutated.
type Snapshot struct {
	AttemptID   string                    `json:"attemptId"`
	Phase       Phase                     `json:"phase"`
	Reason      string                    `json:"reason,omitempty"`
	Err         *types.Error              `json:"-"`
	Hint        *types.Error              `json:"-"`
	Intent      types.OrderIntent         `json:"-"`
	Quote       types.Quote               `json:"quote"`
	Approval    types.ApprovalRequirement `json:"approval"`
	Config      types.OrderConfig         `json:"config"`
	Validation  types.OrderValidation     `json:"validation"`
	Execution   types.OrderExecution      `json:"execution"`
	Contract    *ContractState            `json:"contract,omitempty"`
	Call        *types.CallSpec           `json:"call,omitempty"`
	Owner       *common.Address           `json:"owner,omitempty"`
	ActiveChain uint64                    `json:"activeChain"`
}

// Subscribe returns a channel receiving a snapshot after every state change and a
// function to stop the subscription. Slow readers only miss intermediate snapshots.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	// Sent under the lock so no newer broadcast can overtake it; the buffer is empty.
	ch <- o.snap
	o.mu.Unlock()

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

// Snapshot returns the latest published state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snap
}

// broadcast publishes s to every subscriber without blocking. Must hold o.mu.
func (o *Orchestrator) broadcast(s Snapshot) {
	for _, ch := range o.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the oldest so the newest state always arrives.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
