package presenter

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"

	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// WriteMarkdownReport renders a presented result as a Markdown document.
func WriteMarkdownReport(w io.Writer, view View) error {
	md := markdown.NewMarkdown(w)

	md.H1("Informe de Analisis de Retinopatia Diabetica")
	md.PlainText("")
	if view.ImageFilename != "" {
		md.PlainTextf("Imagen: `%s`", view.ImageFilename)
		md.PlainText("")
	}

	writeConsensus(md, view.Consensus)
	writeModels(md, view.Models)

	md.HorizontalRule()
	md.Importantf("%s", view.Disclaimer)

	return md.Build()
}

func writeConsensus(md *markdown.Markdown, c ConsensusCard) {
	md.H2("Resultado de Consenso")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Campo", "Valor"},
		Rows: [][]string{
			{"Prediccion", c.Prediction},
			{"Severidad", c.Badge.Label},
			{"Confianza", c.ConfidencePercent},
			{"Acuerdo", c.Agreement + " modelos"},
		},
	})
	md.PlainText("")

	switch c.Badge.Code {
	case models.SeveritySevere, models.SeverityProliferative:
		md.Cautionf("Recomendacion: %s", c.Recommendation)
	case models.SeverityModerate:
		md.Warningf("Recomendacion: %s", c.Recommendation)
	default:
		md.Note("Recomendacion: " + c.Recommendation)
	}
	md.PlainText("")
}

func writeModels(md *markdown.Markdown, rows []ModelRow) {
	md.H2("Resultados por Modelo")
	md.PlainText("")

	if len(rows) == 0 {
		md.PlainText("No hay resultados individuales.")
		md.PlainText("")
		return
	}

	table := markdown.TableSet{
		Header: []string{"Modelo", "Prediccion", "Confianza", "Severidad"},
	}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{
			r.ModelName,
			r.Prediction,
			r.ConfidencePercent,
			r.Badge.Label,
		})
	}
	md.Table(table)
	md.PlainText("")

	for _, r := range rows {
		if len(r.Bars) == 0 {
			continue
		}
		md.H3(r.ModelName)
		items := make([]string, 0, len(r.Bars))
		for _, b := range r.Bars {
			items = append(items, b.Label+": "+b.Percent+" (ancho "+strconv.FormatFloat(b.Width, 'f', 1, 64)+"%)")
		}
		md.BulletList(items...)
		md.PlainText("")
	}
}
