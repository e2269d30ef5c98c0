package domain

// Tier buckets a confidence level into a significance verdict.
type Tier string

const (
	TierHighlySignificant Tier = "HIGHLY_SIGNIFICANT" // ≥ 0.99
	TierSignificant       Tier = "SIGNIFICANT"        // ≥ 0.95
	TierApproaching       Tier = "APPROACHING"        // ≥ 0.90 — keep running
	TierNotSignificant    Tier = "NOT_SIGNIFICANT"
)

// ClassifySignificance maps a confidence level (1 − p-value) to its tier.
func ClassifySignificance(confidence float64) Tier {
	switch {
	case confidence >= 0.99:
		return TierHighlySignificant
	case confidence >= 0.95:
		return TierSignificant
	case confidence >= 0.90:
		return TierApproaching
	default:
		return TierNotSignificant
	}
}

// Conclusive reports whether the tier is strong enough to declare a winner.
// APPROACHING never yields a winner.
func (t Tier) Conclusive() bool {
	return t == TierSignificant || t == TierHighlySignificant
}

func (t Tier) Icon() string {
	switch t {
	case TierHighlySignificant:
		return "[**]"
	case TierSignificant:
		return "[* ]"
	case TierApproaching:
		return "[~ ]"
	default:
		return "[  ]"
	}
}
