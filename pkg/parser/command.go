package parser

import (
	"fmt"
	"regexp"
	"strings"

	"solvernet-order/pkg/types"
)

// Pattern: <amount> <source_token> [ON <chain>] TO <dest_token> [ON <chain>]
var orderPattern = regexp.MustCompile(`^(\d*\.?\d+|\d+\.)\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9-]+))?\s+TO\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9-]+))?$`)

// ParseOrderCommand parses a natural language order command
// Examples:
//   - "order 1.5 ETH on base to ETH on optimism"
//   - "100 USDC to wstETH"
func ParseOrderCommand(command string) (*types.OrderRequest, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "ORDER ")

	matches := orderPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid order command format. Expected: '<amount> <token> [on <chain>] to <token> [on <chain>]' (e.g., '1.5 ETH on base to ETH on optimism')")
	}

	return &types.OrderRequest{
		Amount:      matches[1],
		SourceToken: matches[2],
		SourceChain: strings.ToLower(matches[3]),
		DestToken:   matches[4],
		DestChain:   strings.ToLower(matches[5]),
	}, nil
}

// ValidateOrderRequest validates that an order request has all required fields
func ValidateOrderRequest(req *types.OrderRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if req.SourceChain == "" {
		return fmt.Errorf("source chain is required (use --from-chain or '<token> on <chain>')")
	}
	if req.DestChain == "" {
		return fmt.Errorf("destination chain is required (use --to-chain or '<token> on <chain>')")
	}
	if req.Function != "" && req.Contract == "" {
		return fmt.Errorf("a contract address is required when a function is given")
	}
	return nil
}

// ParseCallInputs turns "name=value" pairs into raw call inputs keyed by parameter name
func ParseCallInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid call input %q, expected name=value", pair)
		}
		inputs[name] = strings.TrimSpace(value)
	}
	return inputs, nil
}
