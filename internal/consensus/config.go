package consensus

// Version identifies the calibration of the constants in DefaultConfig.
// Bump it whenever a weight or bonus changes so stored verdicts stay comparable.
const Version = "ace-v1"

// Config holds every constant the reconciliation uses.
type Config struct {
	// DQ component weights. Sum to 1.
	ValidityWeight    float64
	SpecificityWeight float64
	CorrectnessWeight float64

	// Neutral stands in for any missing [0,1] signal.
	Neutral float64
	// NeutralQuality is reported when no agent offers a quality signal.
	NeutralQuality int
	MinQuality     int
	MaxQuality     int
	// UnknownLabel is the outcome and optimal model when nothing is known.
	UnknownLabel string

	// PrimaryAgentWeightMultiplier scales the dedicated outcome and quality
	// agents relative to any indirect signal.
	PrimaryAgentWeightMultiplier float64
	// SecondaryQualityMultiplier scales the efficiency and productivity
	// agents in the quality blend.
	SecondaryQualityMultiplier float64

	// Fixed (unweighted) outcome votes from indirect evidence.
	LowQualityPartialVote  float64 // quality <= LowQualityThreshold
	HighQualitySuccessVote float64 // quality >= HighQualityThreshold
	HighProductivityVote   float64 // productivity level Very High or High
	LowQualityThreshold    float64
	HighQualityThreshold   float64

	// Consensus confidence blend.
	ConfidenceDQWeight          float64
	ConfidenceAgentWeight       float64
	ConfidenceConsistencyWeight float64
	// EmptyConfidence is reported when no agent is present.
	EmptyConfidence float64

	// Outcome consistency.
	ConsistencyBase              float64
	QualityAlignmentBonus        float64
	ProductivityAlignmentBonus   float64
	EfficiencyAlignmentBonus     float64
	SuccessProductivityThreshold float64 // success needs score >= this
	ErrorProductivityThreshold   float64 // error needs score < this
	SuccessEfficiencyThreshold   float64 // success needs efficiency >= this
	ErrorEfficiencyThreshold     float64 // error needs efficiency < this
}

// DefaultConfig returns the calibration identified by Version.
func DefaultConfig() Config {
	return Config{
		ValidityWeight:    0.4,
		SpecificityWeight: 0.3,
		CorrectnessWeight: 0.3,

		Neutral:        0.5,
		NeutralQuality: 3,
		MinQuality:     1,
		MaxQuality:     5,
		UnknownLabel:   OutcomeUnknown,

		PrimaryAgentWeightMultiplier: 2.0,
		SecondaryQualityMultiplier:   0.5,

		LowQualityPartialVote:  0.3,
		HighQualitySuccessVote: 0.2,
		HighProductivityVote:   0.1,
		LowQualityThreshold:    2,
		HighQualityThreshold:   4,

		ConfidenceDQWeight:          0.4,
		ConfidenceAgentWeight:       0.3,
		ConfidenceConsistencyWeight: 0.3,
		EmptyConfidence:             0.3,

		ConsistencyBase:              0.5,
		QualityAlignmentBonus:        0.15,
		ProductivityAlignmentBonus:   0.15,
		EfficiencyAlignmentBonus:     0.1,
		SuccessProductivityThreshold: 0.6,
		ErrorProductivityThreshold:   0.4,
		SuccessEfficiencyThreshold:   0.7,
		ErrorEfficiencyThreshold:     0.5,
	}
}
