package presenter

import "github.com/anime-shed/retina-inspector-go/pkg/models"

// NeutralStyle is used for any severity outside the known scale.
const NeutralStyle = "bg-gray-100 text-gray-800"

var severityStyles = map[models.Severity]string{
	models.SeverityNone:          "bg-green-100 text-green-800",
	models.SeverityMild:          "bg-yellow-100 text-yellow-800",
	models.SeverityModerate:      "bg-orange-100 text-orange-800",
	models.SeveritySevere:        "bg-red-100 text-red-800",
	models.SeverityProliferative: "bg-red-200 text-red-900",
}

var severityLabels = map[models.Severity]string{
	models.SeverityNone:          "Sin RD",
	models.SeverityMild:          "Leve",
	models.SeverityModerate:      "Moderada",
	models.SeveritySevere:        "Severa",
	models.SeverityProliferative: "Proliferativa",
}

var recommendations = map[models.Severity]string{
	models.SeverityNone:          "No se detectaron signos de retinopatia diabetica. Se recomienda control anual de rutina.",
	models.SeverityMild:          "Se detectaron signos leves de retinopatia diabetica. Consulte con su oftalmologo para evaluacion y seguimiento.",
	models.SeverityModerate:      "Se detectaron signos moderados de retinopatia diabetica. Se recomienda consulta con oftalmologo a la brevedad.",
	models.SeveritySevere:        "Se detectaron signos severos de retinopatia diabetica. Se requiere atencion oftalmologica urgente.",
	models.SeverityProliferative: "Se detecto retinopatia diabetica proliferativa. Se requiere atencion oftalmologica inmediata.",
}

const (
	DefaultRecommendation = "Consulte con un especialista para evaluacion."
	FailedRecommendation  = "No se pudo realizar el analisis. Intente de nuevo."
)

// SeverityStyle maps a severity code to its badge classes.
func SeverityStyle(s models.Severity) string {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return NeutralStyle
}

// SeverityLabel maps a severity code to its short label. Unknown codes are
// returned unchanged.
func SeverityLabel(s models.Severity) string {
	if label, ok := severityLabels[s]; ok {
		return label
	}
	return string(s)
}

// Recommendation returns the follow-up advice for a severity.
func Recommendation(s models.Severity) string {
	if rec, ok := recommendations[s]; ok {
		return rec
	}
	return DefaultRecommendation
}
