package models

// Severity is the diabetic-retinopathy grade reported by the classifier.
type Severity string

const (
	SeverityNone          Severity = "none"
	SeverityMild          Severity = "mild"
	SeverityModerate      Severity = "moderate"
	SeveritySevere        Severity = "severe"
	SeverityProliferative Severity = "proliferative"
)

// SeverityScale lists the grades in ascending order. Probability vectors
// returned by the classifier are indexed the same way.
var SeverityScale = []Severity{
	SeverityNone,
	SeverityMild,
	SeverityModerate,
	SeveritySevere,
	SeverityProliferative,
}

// ClassLabels holds the long-form class name for each grade, aligned with SeverityScale.
var ClassLabels = []string{
	"Sin Retinopatia",
	"Retinopatia Diabetica Leve",
	"Retinopatia Diabetica Moderada",
	"Retinopatia Diabetica Severa",
	"Retinopatia Diabetica Proliferativa",
}

// Index returns the position of s in SeverityScale, or -1 when s is not a known grade.
func (s Severity) Index() int {
	for i, known := range SeverityScale {
		if s == known {
			return i
		}
	}
	return -1
}

func (s Severity) Valid() bool {
	return s.Index() >= 0
}

// ClassLabel returns the long-form class name, or the raw code when unknown.
func (s Severity) ClassLabel() string {
	if i := s.Index(); i >= 0 {
		return ClassLabels[i]
	}
	return string(s)
}

func (s Severity) String() string {
	return string(s)
}
