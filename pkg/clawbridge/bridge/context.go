package bridge

import "strings"

// Context policy strategies.
const (
	StrategyTruncateEnd   = "truncate_end"
	StrategyTruncateStart = "truncate_start"
	StrategyDrop          = "drop"
)

// ContextPolicy bounds the host context block appended to the system
// prompt, so a large home state dump cannot blow the model's context
// window.
type ContextPolicy struct {
	// MaxChars is the budget. 0 or negative means unlimited.
	MaxChars int

	// Strategy picks what to do when the block exceeds the budget:
	// truncate_end keeps the head, truncate_start keeps the tail, drop
	// discards the whole block.
	Strategy string
}

// Apply enforces the policy on a context block.
func (p ContextPolicy) Apply(block string) string {
	if p.MaxChars <= 0 || len(block) <= p.MaxChars {
		return block
	}
	switch p.Strategy {
	case StrategyTruncateStart:
		return block[len(block)-p.MaxChars:]
	case StrategyDrop:
		return ""
	default: // truncate_end
		return block[:p.MaxChars]
	}
}

// buildSystemPrompt joins the static instructions and the (policy-bounded)
// host context block into one system message. Either part may be empty.
func buildSystemPrompt(instructions, contextBlock string, policy ContextPolicy) string {
	contextBlock = policy.Apply(contextBlock)

	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(instructions); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(contextBlock); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}
