// Package consensus reconciles the verdicts of independent session analyzers
// into a single weighted outcome, quality, and confidence judgment.
package consensus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput marks a caller contract violation (unknown agent, payload
	// of the wrong variant, non-finite numbers).
	ErrInvalidInput = errors.New("invalid consensus input")

	// ErrUnknownAgent is returned when an agent name is not one of the known kinds.
	ErrUnknownAgent = fmt.Errorf("%w: unknown agent", ErrInvalidInput)
)

// AgentKind identifies one of the analyzers whose verdicts feed the engine.
type AgentKind string

const (
	AgentOutcome         AgentKind = "outcome"
	AgentQuality         AgentKind = "quality"
	AgentComplexity      AgentKind = "complexity"
	AgentModelEfficiency AgentKind = "model_efficiency"
	AgentProductivity    AgentKind = "productivity"
	AgentContrarian      AgentKind = "contrarian"
)

var agentKinds = []AgentKind{
	AgentOutcome,
	AgentQuality,
	AgentComplexity,
	AgentModelEfficiency,
	AgentProductivity,
	AgentContrarian,
}

// AgentKinds returns every known kind in canonical order.
func AgentKinds() []AgentKind {
	out := make([]AgentKind, len(agentKinds))
	copy(out, agentKinds)
	return out
}

// Valid reports whether k is a known agent kind.
func (k AgentKind) Valid() bool {
	for _, known := range agentKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k AgentKind) String() string {
	return string(k)
}

// ParseAgentKind resolves an agent name. Matching is case-insensitive and
// tolerates surrounding whitespace.
func ParseAgentKind(name string) (AgentKind, error) {
	k := AgentKind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownAgent, name)
	}
	return k, nil
}

// Outcome labels. The space is open; these are the labels the engine itself
// reasons about.
const (
	OutcomeSuccess   = "success"
	OutcomePartial   = "partial"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
	OutcomeUnknown   = "unknown"
)

// Productivity levels that count as evidence of a successful session.
const (
	LevelVeryHigh = "Very High"
	LevelHigh     = "High"
)

// DQScore is an analyzer's decision-quality self assessment. Each component
// is expected in [0,1].
type DQScore struct {
	Validity    float64 `json:"validity" yaml:"validity"`
	Specificity float64 `json:"specificity" yaml:"specificity"`
	Correctness float64 `json:"correctness" yaml:"correctness"`
}

// NeutralDQ returns a DQ score with every component at the neutral value.
func NeutralDQ() DQScore {
	n := DefaultConfig().Neutral
	return DQScore{Validity: n, Specificity: n, Correctness: n}
}

// Payload is the agent-specific part of an AgentResult. Exactly one variant
// exists per AgentKind.
type Payload interface {
	Kind() AgentKind
}

// OutcomeResult is the outcome classifier's verdict.
type OutcomeResult struct {
	Outcome string `json:"outcome"`
}

// QualityResult is the quality scorer's verdict on a 1-5 scale.
type QualityResult struct {
	Quality float64 `json:"quality"`
}

// ComplexityResult is the complexity estimator's verdict in [0,1].
type ComplexityResult struct {
	Complexity float64 `json:"complexity"`
}

// EfficiencyResult is the model-efficiency estimator's verdict.
type EfficiencyResult struct {
	Efficiency   float64 `json:"efficiency"`
	OptimalModel string  `json:"optimal_model"`
}

// ProductivityResult is the productivity analyzer's verdict.
type ProductivityResult struct {
	Level             string  `json:"level"`
	ProductivityScore float64 `json:"productivity_score"`
}

// ContrarianResult carries the adversarial analyzer's dissent.
type ContrarianResult struct {
	MinorityOpinion *string  `json:"minority_opinion"`
	AssumptionRisks []string `json:"assumption_risks"`
}

func (OutcomeResult) Kind() AgentKind      { return AgentOutcome }
func (QualityResult) Kind() AgentKind      { return AgentQuality }
func (ComplexityResult) Kind() AgentKind   { return AgentComplexity }
func (EfficiencyResult) Kind() AgentKind   { return AgentModelEfficiency }
func (ProductivityResult) Kind() AgentKind { return AgentProductivity }
func (ContrarianResult) Kind() AgentKind   { return AgentContrarian }

// DefaultPayload returns the payload an agent of kind k is assumed to have
// reported when its data is missing entirely.
func DefaultPayload(k AgentKind) Payload {
	cfg := DefaultConfig()
	switch k {
	case AgentOutcome:
		return OutcomeResult{Outcome: cfg.UnknownLabel}
	case AgentQuality:
		return QualityResult{Quality: float64(cfg.NeutralQuality)}
	case AgentComplexity:
		return ComplexityResult{Complexity: cfg.Neutral}
	case AgentModelEfficiency:
		return EfficiencyResult{Efficiency: cfg.Neutral, OptimalModel: cfg.UnknownLabel}
	case AgentProductivity:
		return ProductivityResult{ProductivityScore: cfg.Neutral}
	case AgentContrarian:
		return ContrarianResult{AssumptionRisks: []string{}}
	}
	return nil
}

// AgentResult is one analyzer's output for a session.
type AgentResult struct {
	DQ         DQScore
	Confidence float64
	Payload    Payload
}

// AgentWeight is the derived voting weight of one agent.
type AgentWeight struct {
	DQ         float64 `json:"dq"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

// Message is one entry of a session transcript.
type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Transcript is the analyzed session's content. Reconciliation does not read
// it; it is carried for analyzers that work from content.
type Transcript struct {
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Path      string    `json:"path,omitempty" yaml:"path,omitempty"`
	Messages  []Message `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// Result is the reconciled verdict for one session.
type Result struct {
	Outcome            string                    `json:"outcome"`
	Quality            int                       `json:"quality"`
	Complexity         float64                   `json:"complexity"`
	ModelEfficiency    float64                   `json:"model_efficiency"`
	DQScore            float64                   `json:"dq_score"`
	Confidence         float64                   `json:"confidence"`
	OptimalModel       string                    `json:"optimal_model"`
	AgentContributions map[AgentKind]AgentWeight `json:"agent_contributions"`
	MinorityOpinion    *string                   `json:"minority_opinion"`
	AssumptionRisks    []string                  `json:"assumption_risks"`
}
