// Package selector implements the per-turn decision protocol: given user
// input and session state, decide whether to call a capability, ask a
// clarifying question, defer execution, chain capabilities, or declare no
// match. Every path resolves to exactly one Decision variant.
package selector

import "time"

// DecisionKind tags the Decision union.
type DecisionKind string

const (
	KindSkillCall     DecisionKind = "skill_call"
	KindClarification DecisionKind = "clarification"
	KindPending       DecisionKind = "pending"
	KindChain         DecisionKind = "chain"
	KindNoMatch       DecisionKind = "no_match"
)

// SkillCall carries a fully resolved capability invocation.
type SkillCall struct {
	CapabilityName string         `json:"capability_name"`
	Params         map[string]any `json:"params"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// Clarification asks the user for missing required fields.
type Clarification struct {
	CapabilityName string   `json:"capability_name"`
	MissingFields  []string `json:"missing_fields"`
	Questions      []string `json:"questions"`
}

// PendingDecision defers a capability until a trigger condition.
type PendingDecision struct {
	CapabilityName string         `json:"capability_name"`
	PartialParams  map[string]any `json:"partial_params,omitempty"`
	WaitingFor     string         `json:"waiting_for"`
	Timeout        time.Duration  `json:"timeout"`
}

// ChainStep is one step of a multi-capability chain.
type ChainStep struct {
	CapabilityName string         `json:"capability_name"`
	Params         map[string]any `json:"params,omitempty"`
	DependsOn      string         `json:"depends_on,omitempty"`
}

// Chain sequences multiple composable capabilities.
type Chain struct {
	Steps []ChainStep `json:"steps"`
}

// NoMatch declares that no capability applies.
type NoMatch struct {
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Decision is the tagged union emitted once per turn. Exactly one payload
// field is non-nil, matching Kind.
type Decision struct {
	Kind          DecisionKind     `json:"kind"`
	SkillCall     *SkillCall       `json:"skill_call,omitempty"`
	Clarification *Clarification   `json:"clarification,omitempty"`
	Pending       *PendingDecision `json:"pending,omitempty"`
	Chain         *Chain           `json:"chain,omitempty"`
	NoMatch       *NoMatch         `json:"no_match,omitempty"`
}

func newSkillCall(sc SkillCall) Decision {
	return Decision{Kind: KindSkillCall, SkillCall: &sc}
}

func newClarification(c Clarification) Decision {
	return Decision{Kind: KindClarification, Clarification: &c}
}

func newPending(p PendingDecision) Decision {
	return Decision{Kind: KindPending, Pending: &p}
}

func newChain(c Chain) Decision {
	return Decision{Kind: KindChain, Chain: &c}
}

func newNoMatch(n NoMatch) Decision {
	return Decision{Kind: KindNoMatch, NoMatch: &n}
}
