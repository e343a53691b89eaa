package evaluation

// Tier classifies an average score for presentation.
type Tier string

const (
	TierFavorable   Tier = "favorable"
	TierCaution     Tier = "caution"
	TierUnfavorable Tier = "unfavorable"
)

// TierOf returns the tier of an average score: >= 4 favorable, >= 2
// caution, otherwise unfavorable.
func TierOf(avg float64) Tier {
	switch {
	case avg >= 4:
		return TierFavorable
	case avg >= 2:
		return TierCaution
	default:
		return TierUnfavorable
	}
}
