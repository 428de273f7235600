// Package signal turns independent fraud-check results into one score, a
// level, and a recommendation. Checks are advisory signals with their own
// confidence; the aggregator weighs them, it never overrides them.
package signal

// Check is the outcome of a single fraud check.
type Check struct {
	CheckType  string         `json:"check_type"`
	Passed     bool           `json:"passed"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
}

// Level buckets an aggregate score.
type Level string

const (
	LevelClean          Level = "clean"
	LevelSuspect        Level = "suspect"
	LevelLikelyFraud    Level = "likely_fraud"
	LevelConfirmedFraud Level = "confirmed_fraud"
)

// Recommendation is the action implied by a level.
type Recommendation string

const (
	RecommendApprove      Recommendation = "approve"
	RecommendManualReview Recommendation = "manual_review"
	RecommendReject       Recommendation = "reject"
)

// Config carries the aggregation policy. The aggregator uses it exactly
// as given, so a zero threshold is honored as a real zero; configs built
// from scratch in code should start from DefaultConfig or call Normalize.
type Config struct {
	// Weights maps check type to its relative importance.
	Weights map[string]float64 `yaml:"weights"`

	// DefaultWeight applies to check types not in Weights.
	DefaultWeight float64 `yaml:"default_weight"`

	// A check at or above both escalation thresholds clamps the aggregate
	// to at least EscalationFloor.
	EscalationConfidence float64 `yaml:"escalation_confidence"`
	EscalationScore      float64 `yaml:"escalation_score"`
	EscalationFloor      float64 `yaml:"escalation_floor"`

	// Lower bounds of the suspect, likely_fraud, and confirmed_fraud
	// buckets. Buckets are lower-inclusive.
	SuspectAt        float64 `yaml:"suspect_at"`
	LikelyFraudAt    float64 `yaml:"likely_fraud_at"`
	ConfirmedFraudAt float64 `yaml:"confirmed_fraud_at"`
}

// DefaultConfig returns the built-in aggregation policy.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			"compression_fraud": 0.35,
			"double_counting":   0.30,
			"additionality":     0.15,
			"permanence":        0.10,
			"leakage":           0.10,
		},
		DefaultWeight:        0.10,
		EscalationConfidence: 0.90,
		EscalationScore:      0.80,
		EscalationFloor:      0.60,
		SuspectAt:            0.20,
		LikelyFraudAt:        0.50,
		ConfirmedFraudAt:     0.80,
	}
}

// Normalize fills zero fields from the defaults and returns the result.
// It cannot distinguish an unset field from an explicit zero, so it is
// for configs assembled in code; configs loaded from a policy file are
// decoded over the defaults instead.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Weights == nil {
		c.Weights = def.Weights
	}
	if c.DefaultWeight == 0 {
		c.DefaultWeight = def.DefaultWeight
	}
	if c.EscalationConfidence == 0 {
		c.EscalationConfidence = def.EscalationConfidence
	}
	if c.EscalationScore == 0 {
		c.EscalationScore = def.EscalationScore
	}
	if c.EscalationFloor == 0 {
		c.EscalationFloor = def.EscalationFloor
	}
	if c.SuspectAt == 0 {
		c.SuspectAt = def.SuspectAt
	}
	if c.LikelyFraudAt == 0 {
		c.LikelyFraudAt = def.LikelyFraudAt
	}
	if c.ConfirmedFraudAt == 0 {
		c.ConfirmedFraudAt = def.ConfirmedFraudAt
	}
	return c
}

// Aggregator scores check sets under one Config.
type Aggregator struct {
	cfg Config
}

// NewAggregator builds an Aggregator over the config as given.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

func (a *Aggregator) weight(checkType string) float64 {
	if w, ok := a.cfg.Weights[checkType]; ok {
		return w
	}
	return a.cfg.DefaultWeight
}

// Aggregate computes the confidence-weighted mean of the check scores,
// then applies the escalation clamp. No checks, or zero total weight,
// yields 0: absence of evidence is not evidence of fraud.
func (a *Aggregator) Aggregate(checks []Check) float64 {
	var weightedSum, totalWeight float64
	escalate := false
	for _, c := range checks {
		w := a.weight(c.CheckType) * c.Confidence
		weightedSum += c.Score * w
		totalWeight += w
		if c.Confidence >= a.cfg.EscalationConfidence && c.Score >= a.cfg.EscalationScore {
			escalate = true
		}
	}
	if totalWeight == 0 {
		return 0
	}

	score := weightedSum / totalWeight
	if escalate && score < a.cfg.EscalationFloor {
		score = a.cfg.EscalationFloor
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Classify buckets a score into a Level.
func (a *Aggregator) Classify(score float64) Level {
	switch {
	case score >= a.cfg.ConfirmedFraudAt:
		return LevelConfirmedFraud
	case score >= a.cfg.LikelyFraudAt:
		return LevelLikelyFraud
	case score >= a.cfg.SuspectAt:
		return LevelSuspect
	default:
		return LevelClean
	}
}

// Recommend maps a Level to its action. Unknown levels get manual review.
func Recommend(level Level) Recommendation {
	switch level {
	case LevelClean:
		return RecommendApprove
	case LevelSuspect:
		return RecommendManualReview
	case LevelLikelyFraud, LevelConfirmedFraud:
		return RecommendReject
	default:
		return RecommendManualReview
	}
}
