// Package presenter turns classifier answers into display-ready values.
package presenter

import (
	"fmt"

	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// MinBarWidth is the smallest width, in percent, a probability bar is drawn
// with so that near-zero classes remain visible.
const MinBarWidth = 2.0

// Disclaimer accompanies every presented result.
const Disclaimer = "Estos resultados son generados por sistemas de IA y tienen fines academicos. " +
	"No sustituyen el diagnostico de un profesional medico. " +
	"Consulta con un oftalmologo para una evaluacion completa."

type Badge struct {
	Code  models.Severity `json:"code"`
	Label string          `json:"label"`
	Style string          `json:"style"`
}

type ProbabilityBar struct {
	Severity    models.Severity `json:"severity"`
	Label       string          `json:"label"`
	Probability float64         `json:"probability"`
	Percent     string          `json:"percent"`
	Width       float64         `json:"width"`
}

type ModelRow struct {
	ModelName         string           `json:"model_name"`
	Prediction        string           `json:"prediction"`
	Confidence        float64          `json:"confidence"`
	ConfidencePercent string           `json:"confidence_percent"`
	Badge             Badge            `json:"badge"`
	Failed            bool             `json:"failed"`
	Bars              []ProbabilityBar `json:"bars,omitempty"`
}

type ConsensusCard struct {
	Prediction        string  `json:"prediction"`
	Badge             Badge   `json:"badge"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent string  `json:"confidence_percent"`
	Agreement         string  `json:"agreement"`
	AgreementCount    int     `json:"agreement_count"`
	TotalModels       int     `json:"total_models"`
	Recommendation    string  `json:"recommendation"`
}

// View is the full result page.
type View struct {
	ImageFilename string        `json:"image_filename,omitempty"`
	Consensus     ConsensusCard `json:"consensus"`
	Models        []ModelRow    `json:"models"`
	// Derived is set when the consensus was computed locally because the
	// backend did not send one.
	Derived    bool   `json:"derived"`
	Disclaimer string `json:"disclaimer"`
}

// Present builds the view for a predict response.
func Present(resp *models.PredictResponse) View {
	if resp == nil {
		resp = &models.PredictResponse{}
	}

	view := View{
		ImageFilename: resp.ImageFilename,
		Disclaimer:    Disclaimer,
	}

	consensus := resp.Consensus
	if consensus == nil {
		derived := DeriveConsensus(resp.Results)
		consensus = &derived
		view.Derived = true
	}
	view.Consensus = consensusCard(*consensus)

	ordered := OrderByRoster(resp.Results)
	view.Models = make([]ModelRow, 0, len(ordered))
	for _, r := range ordered {
		view.Models = append(view.Models, modelRow(r))
	}
	return view
}

// BadgeFor returns the badge for a severity code.
func BadgeFor(s models.Severity) Badge {
	return Badge{Code: s, Label: SeverityLabel(s), Style: SeverityStyle(s)}
}

// ProbabilityBars returns one bar per class in severity order, or nil when
// the result carries no probability vector.
func ProbabilityBars(r models.ModelResult) []ProbabilityBar {
	if len(r.Probabilities) == 0 {
		return nil
	}

	n := len(r.Probabilities)
	if n > len(models.SeverityScale) {
		n = len(models.SeverityScale)
	}

	bars := make([]ProbabilityBar, 0, n)
	for i := 0; i < n; i++ {
		p := r.Probabilities[i]
		s := models.SeverityScale[i]
		bars = append(bars, ProbabilityBar{
			Severity:    s,
			Label:       SeverityLabel(s),
			Probability: p,
			Percent:     Percent(p),
			Width:       BarWidth(p),
		})
	}
	return bars
}

// BarWidth converts a probability into a bar width percentage, never below
// MinBarWidth and never above 100.
func BarWidth(p float64) float64 {
	w := p * 100
	if w < MinBarWidth {
		return MinBarWidth
	}
	if w > 100 {
		return 100
	}
	return w
}

// Percent formats a [0,1] value as a percentage with one decimal.
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func consensusCard(c models.ConsensusResult) ConsensusCard {
	return ConsensusCard{
		Prediction:        c.Prediction,
		Badge:             BadgeFor(c.Severity),
		Confidence:        c.Confidence,
		ConfidencePercent: Percent(c.Confidence),
		Agreement:         fmt.Sprintf("%d/%d", c.AgreementCount, c.TotalModels),
		AgreementCount:    c.AgreementCount,
		TotalModels:       c.TotalModels,
		Recommendation:    c.Recommendation,
	}
}

func modelRow(r models.ModelResult) ModelRow {
	name := r.ModelName
	if canonical, ok := MatchRosterName(name); ok {
		name = canonical
	}
	return ModelRow{
		ModelName:         name,
		Prediction:        r.Prediction,
		Confidence:        r.Confidence,
		ConfidencePercent: Percent(r.Confidence),
		Badge:             BadgeFor(r.Severity),
		Failed:            r.Failed(),
		Bars:              ProbabilityBars(r),
	}
}
