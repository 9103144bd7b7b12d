package protocol

// Intent is one planned agent action produced by the classifier.
type Intent struct {
	AgentType AgentType `json:"agent_type" cbor:"agent_type"`
	Action    string    `json:"action" cbor:"action"`
	// RiskHint is the classifier's guess at the tier. The ledger's own
	// classification always wins; the hint is kept for audit.
	RiskHint RiskTier `json:"risk_hint,omitempty" cbor:"risk_hint,omitempty"`
	// Text is the fragment of the user message this intent covers.
	Text string `json:"text,omitempty" cbor:"text,omitempty"`
}
