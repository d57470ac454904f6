package types

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Param is one input or output of an ABI function fragment
type Param struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	InternalType string  `json:"internalType,omitempty"`
	Components   []Param `json:"components,omitempty"`
}

// Function is an ABI function fragment in its JSON shape
type Function struct {
	Type            string  `json:"type"`
	Name            string  `json:"name"`
	Inputs          []Param `json:"inputs"`
	Outputs         []Param `json:"outputs"`
	StateMutability string  `json:"stateMutability,omitempty"`
	Constant        bool    `json:"constant,omitempty"`
	Payable         bool    `json:"payable,omitempty"`
}

// Signature returns the canonical "name(type,...)" form
func (f Function) Signature() string {
	types := make([]string, len(f.Inputs))
	for i, in := range f.Inputs {
		types[i] = in.Type
	}
	return f.Name + "(" + strings.Join(types, ",") + ")"
}

// IsWrite reports whether the fragment is a state-changing function
func (f Function) IsWrite() bool {
	if f.Type != "function" {
		return false
	}
	switch f.StateMutability {
	case "view", "pure":
		return false
	case "":
		return !f.Constant
	}
	return true
}

// CallSpec is a destination-side call executed as part of order fulfillment.
// Args hold coerced values: integer kinds as decimal strings, bool, common.Address or string.
type CallSpec struct {
	Target       common.Address `json:"target"`
	FunctionName string         `json:"functionName,omitempty"`
	ABI          []Function     `json:"abi,omitempty"`
	Args         []any          `json:"args,omitempty"`
	Value        *big.Int       `json:"value"`
	Incomplete   bool           `json:"incomplete,omitempty"`
	Issues       []string       `json:"issues,omitempty"`
}

// Fragment returns the ABI fragment for the call's function, if any
func (c CallSpec) Fragment() (Function, bool) {
	for _, fn := range c.ABI {
		if fn.Name == c.FunctionName {
			return fn, true
		}
	}
	return Function{}, false
}
