package types

// OrderRequest represents a user's order command before assets are resolved
type OrderRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
	SourceChain string
	DestChain   string
	Contract    string
	Function    string
	CallInputs  map[string]string
}

// QuoteDisplay holds formatted quote information for display
type QuoteDisplay struct {
	SourceAmount string `json:"source_amount"`
	SourceToken  string `json:"source_token"`
	SourceChain  string `json:"source_chain"`
	DestAmount   string `json:"dest_amount"`
	DestToken    string `json:"dest_token"`
	DestChain    string `json:"dest_chain"`
	Deposit      string `json:"deposit"`
	Expense      string `json:"expense"`
}
