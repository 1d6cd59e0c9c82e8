package consensus

import (
	"fmt"
	"math"
	"strings"
)

// Engine reconciles agent verdicts. The zero value is not usable; create one
// with NewEngine. An Engine holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given calibration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's calibration.
func (e *Engine) Config() Config {
	return e.cfg
}

var defaultEngine = NewEngine(DefaultConfig())

// Synthesize reconciles results with the default calibration.
func Synthesize(results map[AgentKind]AgentResult, transcript Transcript) (*Result, error) {
	return defaultEngine.Synthesize(results, transcript)
}

// session is the validated view of one synthesis call's input.
type session struct {
	present      []AgentKind
	weights      map[AgentKind]AgentWeight
	outcome      *OutcomeResult
	quality      *QualityResult
	complexity   *ComplexityResult
	efficiency   *EfficiencyResult
	productivity *ProductivityResult
	contrarian   *ContrarianResult
}

// Synthesize combines the verdicts in results into one consensus Result.
// Missing agents and fields fall back to neutral defaults; only contract
// violations (unknown kinds, mismatched payloads, non-finite numbers) return
// an error. The transcript is accepted for content-based analyzers and is not
// read here.
func (e *Engine) Synthesize(results map[AgentKind]AgentResult, _ Transcript) (*Result, error) {
	s, err := e.prepare(results)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Outcome:            e.voteOutcome(s),
		Quality:            e.blendQuality(s),
		Complexity:         e.cfg.Neutral,
		ModelEfficiency:    e.cfg.Neutral,
		DQScore:            e.overallDQ(s),
		Confidence:         e.confidence(s),
		OptimalModel:       e.cfg.UnknownLabel,
		AgentContributions: s.weights,
		AssumptionRisks:    []string{},
	}

	if s.complexity != nil {
		res.Complexity = s.complexity.Complexity
	}
	if s.efficiency != nil {
		res.ModelEfficiency = s.efficiency.Efficiency
		if s.efficiency.OptimalModel != "" {
			res.OptimalModel = s.efficiency.OptimalModel
		}
	}
	if s.contrarian != nil {
		if s.contrarian.MinorityOpinion != nil {
			opinion := *s.contrarian.MinorityOpinion
			res.MinorityOpinion = &opinion
		}
		if len(s.contrarian.AssumptionRisks) > 0 {
			res.AssumptionRisks = append([]string(nil), s.contrarian.AssumptionRisks...)
		}
	}

	return res, nil
}

// prepare validates the input and computes per-agent weights. Agents are
// visited in canonical order so every float sum is reproducible.
func (e *Engine) prepare(results map[AgentKind]AgentResult) (*session, error) {
	for kind := range results {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w %q", ErrUnknownAgent, string(kind))
		}
	}

	s := &session{weights: make(map[AgentKind]AgentWeight, len(results))}
	for _, kind := range agentKinds {
		r, ok := results[kind]
		if !ok {
			continue
		}

		payload := deref(r.Payload)
		if payload == nil {
			payload = DefaultPayload(kind)
		}
		if payload.Kind() != kind {
			return nil, fmt.Errorf("%w: agent %q carries a %q payload", ErrInvalidInput, kind, payload.Kind())
		}
		if err := checkFinite(kind, r.DQ, r.Confidence, payload); err != nil {
			return nil, err
		}

		switch p := payload.(type) {
		case OutcomeResult:
			s.outcome = &p
		case QualityResult:
			s.quality = &p
		case ComplexityResult:
			s.complexity = &p
		case EfficiencyResult:
			s.efficiency = &p
		case ProductivityResult:
			s.productivity = &p
		case ContrarianResult:
			s.contrarian = &p
		default:
			return nil, fmt.Errorf("%w: agent %q carries unsupported payload %T", ErrInvalidInput, kind, payload)
		}

		s.present = append(s.present, kind)
		s.weights[kind] = e.weigh(r)
	}
	return s, nil
}

// deref turns pointer variants into values; a nil pointer counts as no payload.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *OutcomeResult:
		if v == nil {
			return nil
		}
		return *v
	case *QualityResult:
		if v == nil {
			return nil
		}
		return *v
	case *ComplexityResult:
		if v == nil {
			return nil
		}
		return *v
	case *EfficiencyResult:
		if v == nil {
			return nil
		}
		return *v
	case *ProductivityResult:
		if v == nil {
			return nil
		}
		return *v
	case *ContrarianResult:
		if v == nil {
			return nil
		}
		return *v
	}
	return p
}

func checkFinite(kind AgentKind, dq DQScore, confidence float64, p Payload) error {
	values := []float64{dq.Validity, dq.Specificity, dq.Correctness, confidence}
	switch v := p.(type) {
	case QualityResult:
		values = append(values, v.Quality)
	case ComplexityResult:
		values = append(values, v.Complexity)
	case EfficiencyResult:
		values = append(values, v.Efficiency)
	case ProductivityResult:
		values = append(values, v.ProductivityScore)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: agent %q reports non-finite value %v", ErrInvalidInput, kind, v)
		}
	}
	return nil
}

// DQ blends an agent's DQ components with the configured component weights.
func (e *Engine) DQ(score DQScore) float64 {
	return score.Validity*e.cfg.ValidityWeight +
		score.Specificity*e.cfg.SpecificityWeight +
		score.Correctness*e.cfg.CorrectnessWeight
}

func (e *Engine) weigh(r AgentResult) AgentWeight {
	dq := e.DQ(r.DQ)
	return AgentWeight{
		DQ:         dq,
		Confidence: r.Confidence,
		Weight:     r.Confidence * dq,
	}
}

// tally accumulates vote mass per outcome label, remembering first insertion.
type tally struct {
	labels []string
	mass   map[string]float64
}

func newTally() *tally {
	return &tally{mass: make(map[string]float64)}
}

func (t *tally) add(label string, v float64) {
	if _, ok := t.mass[label]; !ok {
		t.labels = append(t.labels, label)
	}
	t.mass[label] += v
}

// winner returns the label with the most mass. Equal mass goes to the label
// that entered the tally first.
func (t *tally) winner() (string, bool) {
	if len(t.labels) == 0 {
		return "", false
	}
	best := t.labels[0]
	for _, label := range t.labels[1:] {
		if t.mass[label] > t.mass[best] {
			best = label
		}
	}
	return best, true
}

func (e *Engine) voteOutcome(s *session) string {
	votes := newTally()

	if s.outcome != nil {
		label := s.outcome.Outcome
		if label == "" {
			label = e.cfg.UnknownLabel
		}
		votes.add(label, s.weights[AgentOutcome].Weight*e.cfg.PrimaryAgentWeightMultiplier)
	}
	if s.quality != nil {
		switch {
		case s.quality.Quality <= e.cfg.LowQualityThreshold:
			votes.add(OutcomePartial, e.cfg.LowQualityPartialVote)
		case s.quality.Quality >= e.cfg.HighQualityThreshold:
			votes.add(OutcomeSuccess, e.cfg.HighQualitySuccessVote)
		}
	}
	if s.productivity != nil && isHighProductivity(s.productivity.Level) {
		votes.add(OutcomeSuccess, e.cfg.HighProductivityVote)
	}

	if label, ok := votes.winner(); ok {
		return label
	}
	return e.cfg.UnknownLabel
}

func isHighProductivity(level string) bool {
	level = strings.TrimSpace(level)
	return strings.EqualFold(level, LevelVeryHigh) || strings.EqualFold(level, LevelHigh)
}

// impliedQuality maps a [0,1] signal onto the 1-5 quality scale.
func impliedQuality(x float64) float64 {
	return 1 + 4*x
}

func (e *Engine) blendQuality(s *session) int {
	var num, den float64

	if s.quality != nil {
		w := s.weights[AgentQuality].Weight * e.cfg.PrimaryAgentWeightMultiplier
		num += s.quality.Quality * w
		den += w
	}
	if s.efficiency != nil {
		w := s.weights[AgentModelEfficiency].Weight * e.cfg.SecondaryQualityMultiplier
		num += impliedQuality(s.efficiency.Efficiency) * w
		den += w
	}
	if s.productivity != nil {
		w := s.weights[AgentProductivity].Weight * e.cfg.SecondaryQualityMultiplier
		num += impliedQuality(s.productivity.ProductivityScore) * w
		den += w
	}

	if den <= 0 {
		return e.cfg.NeutralQuality
	}
	// Clamp in float space; converting an out-of-range float to int is
	// implementation-defined.
	q := math.RoundToEven(num / den)
	q = math.Max(float64(e.cfg.MinQuality), math.Min(float64(e.cfg.MaxQuality), q))
	return int(q)
}

func (e *Engine) overallDQ(s *session) float64 {
	var num, den float64
	for _, kind := range s.present {
		w := s.weights[kind]
		num += w.DQ * w.Weight
		den += w.Weight
	}
	if den <= 0 {
		return e.cfg.Neutral
	}
	return clamp01(num / den)
}

func (e *Engine) confidence(s *session) float64 {
	if len(s.present) == 0 {
		return e.cfg.EmptyConfidence
	}

	var dqSum, confSum float64
	for _, kind := range s.present {
		w := s.weights[kind]
		dqSum += w.DQ
		confSum += w.Confidence
	}
	n := float64(len(s.present))

	c := (dqSum/n)*e.cfg.ConfidenceDQWeight +
		(confSum/n)*e.cfg.ConfidenceAgentWeight +
		e.consistency(s)*e.cfg.ConfidenceConsistencyWeight
	return clamp01(c)
}

// consistency scores how well the other agents corroborate the outcome
// agent's label.
func (e *Engine) consistency(s *session) float64 {
	score := e.cfg.ConsistencyBase
	if s.outcome == nil {
		return score
	}
	outcome := s.outcome.Outcome

	if s.quality != nil {
		q := s.quality.Quality
		if (outcome == OutcomeSuccess && q >= e.cfg.HighQualityThreshold) ||
			(outcome == OutcomeError && q <= e.cfg.LowQualityThreshold) ||
			(outcome == OutcomePartial && q > e.cfg.LowQualityThreshold && q < e.cfg.HighQualityThreshold) {
			score += e.cfg.QualityAlignmentBonus
		}
	}
	if s.productivity != nil {
		p := s.productivity.ProductivityScore
		if (outcome == OutcomeSuccess && p >= e.cfg.SuccessProductivityThreshold) ||
			(outcome == OutcomeError && p < e.cfg.ErrorProductivityThreshold) {
			score += e.cfg.ProductivityAlignmentBonus
		}
	}
	if s.efficiency != nil {
		eff := s.efficiency.Efficiency
		if (outcome == OutcomeSuccess && eff >= e.cfg.SuccessEfficiencyThreshold) ||
			(outcome == OutcomeError && eff < e.cfg.ErrorEfficiencyThreshold) {
			score += e.cfg.EfficiencyAlignmentBonus
		}
	}

	return math.Min(score, 1.0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
