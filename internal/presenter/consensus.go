package presenter

import (
	"math"

	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// DeriveConsensus computes the ensemble verdict from per-model results.
// Failed models are excluded from the vote but still count towards
// TotalModels. The most common severity wins, ties going to the severity
// seen first; confidence is the mean of the agreeing models rounded to four
// decimals.
func DeriveConsensus(results []models.ModelResult) models.ConsensusResult {
	total := len(results)

	var order []models.Severity
	votes := make(map[models.Severity]int)
	sums := make(map[models.Severity]float64)
	for _, r := range results {
		if r.Failed() {
			continue
		}
		if _, seen := votes[r.Severity]; !seen {
			order = append(order, r.Severity)
		}
		votes[r.Severity]++
		sums[r.Severity] += r.Confidence
	}

	if len(order) == 0 {
		return models.ConsensusResult{
			Prediction:     models.PredictionError,
			Severity:       models.SeverityNone,
			Confidence:     0,
			AgreementCount: 0,
			TotalModels:    total,
			Recommendation: FailedRecommendation,
		}
	}

	winner := order[0]
	for _, s := range order[1:] {
		if votes[s] > votes[winner] {
			winner = s
		}
	}

	count := votes[winner]
	return models.ConsensusResult{
		Prediction:     winner.ClassLabel(),
		Severity:       winner,
		Confidence:     round4(sums[winner] / float64(count)),
		AgreementCount: count,
		TotalModels:    total,
		Recommendation: Recommendation(winner),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
