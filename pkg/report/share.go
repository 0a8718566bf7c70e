package report

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"manutai/pkg/domain"
)

const shareBaseURL = "https://wa.me/?text="

// StatusLabel is the share-text status line for a report.
func StatusLabel(r domain.InspectionReport) string {
	if r.IssuesFound {
		return "Problemas Identificados"
	}
	return "Tudo OK"
}

// ShareText formats a report for WhatsApp. The date is rendered as
// dd/mm/yyyy in loc (UTC when nil).
func ShareText(r domain.InspectionReport, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("🛠️ *RELATÓRIO DE MANUTENÇÃO*\n\n")
	fmt.Fprintf(&b, "📋 *Checklist:* %s\n", r.TemplateTitle)
	fmt.Fprintf(&b, "👤 *Técnico:* %s\n", r.TechnicianName)
	fmt.Fprintf(&b, "📅 *Data:* %s\n\n", formatDate(r, loc))
	fmt.Fprintf(&b, "📝 *Resumo:*\n%s\n\n", r.Summary)
	fmt.Fprintf(&b, "⚠️ *Status:* %s\n\n", StatusLabel(r))
	b.WriteString("_Gerado via ManutAI_")
	return b.String()
}

// ShareURL returns the wa.me link that opens WhatsApp with text prefilled.
func ShareURL(text string) string {
	return shareBaseURL + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

var whitespaceRun = regexp.MustCompile(`[\s\p{Z}\x{FEFF}]+`)

// PDFFilename names an exported report: relatorio_{title}_{unix millis}.pdf,
// with whitespace runs in the title replaced by underscores.
func PDFFilename(r domain.InspectionReport, now time.Time) string {
	title := whitespaceRun.ReplaceAllString(r.TemplateTitle, "_")
	return fmt.Sprintf("relatorio_%s_%d.pdf", title, now.UnixMilli())
}

func formatDate(r domain.InspectionReport, loc *time.Location) string {
	t := r.DateTime()
	if t.IsZero() {
		return r.Date
	}
	return t.In(location(loc)).Format("02/01/2006")
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
