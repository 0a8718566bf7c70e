package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"manutai/pkg/domain"
)

// ErrRender is returned when a PDF cannot be produced.
var ErrRender = errors.New("render pdf")

// Options controls PDF rendering.
type Options struct {
	// Location for dates and message times. UTC when nil.
	Location *time.Location
	// CreatedAt stamps the document metadata. Zero uses the report date.
	CreatedAt time.Time
}

const (
	margin     = 20.0
	lineHeight = 5.0
	infoBoxH   = 35.0
)

type rgb struct{ r, g, b int }

var (
	colorBlack    = rgb{0, 0, 0}
	colorMuted    = rgb{100, 100, 100}
	colorBody     = rgb{50, 50, 50}
	colorUser     = rgb{0, 0, 150}
	colorAssist   = rgb{80, 80, 80}
	colorApproved = rgb{0, 150, 0}
	colorAttn     = rgb{220, 50, 0}
)

// layout tracks the vertical cursor over A4 pages.
type layout struct {
	pdf        *fpdf.Fpdf
	tr         func(string) string
	y          float64
	pageWidth  float64
	pageHeight float64
}

func (l *layout) font(style string, size float64) {
	l.pdf.SetFont("Helvetica", style, size)
}

func (l *layout) color(c rgb) {
	l.pdf.SetTextColor(c.r, c.g, c.b)
}

func (l *layout) text(x float64, s string) {
	l.pdf.Text(x, l.y, l.tr(s))
}

// breakIfNeeded starts a new page once the cursor passed the bottom margin.
func (l *layout) breakIfNeeded() {
	if l.y > l.pageHeight-margin {
		l.pdf.AddPage()
		l.y = margin
	}
}

// paragraph writes s word-wrapped to the content width.
func (l *layout) paragraph(s string) {
	lines := l.pdf.SplitLines([]byte(l.tr(s)), l.pageWidth-2*margin)
	for i, line := range lines {
		if i > 0 {
			l.breakIfNeeded()
		}
		l.pdf.Text(margin, l.y, string(line))
		l.y += lineHeight
	}
	if len(lines) == 0 {
		l.y += lineHeight
	}
}

// RenderPDF writes the report as a paginated A4 document. Nothing is written
// to w unless rendering succeeds.
func RenderPDF(w io.Writer, r domain.InspectionReport, opts Options) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrRender, rec)
		}
	}()

	loc := location(opts.Location)
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("ManutAI - Relatório de Inspeção", true)
	pdf.SetCreator("ManutAI", true)
	created := opts.CreatedAt
	if created.IsZero() {
		created = r.DateTime()
	}
	if !created.IsZero() {
		pdf.SetCreationDate(created)
	}
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()
	l := &layout{
		pdf:        pdf,
		tr:         pdf.UnicodeTranslatorFromDescriptor(""),
		y:          margin,
		pageWidth:  pageWidth,
		pageHeight: pageHeight,
	}

	// header
	l.font("B", 18)
	l.color(colorBlack)
	l.text(margin, "ManutAI - Relatório de Inspeção")
	l.y += 10
	l.font("", 10)
	l.color(colorMuted)
	l.text(margin, "ID: "+shortID(r.ID))

	// info box
	l.y += 15
	pdf.SetDrawColor(200, 200, 200)
	pdf.SetFillColor(248, 250, 252)
	pdf.Rect(margin, l.y, pageWidth-2*margin, infoBoxH, "FD")
	l.y += 8
	l.font("", 11)
	l.color(colorBlack)
	infoRow := func(label, value string, c rgb) {
		l.font("B", 11)
		l.color(colorBlack)
		l.text(margin+5, label)
		l.font("", 11)
		l.color(c)
		l.text(margin+30, value)
	}
	infoRow("Checklist:", StripPictographs(r.TemplateTitle), colorBlack)
	l.y += 8
	infoRow("Técnico:", StripPictographs(r.TechnicianName), colorBlack)
	l.y += 8
	infoRow("Data:", formatDateTime(r, loc), colorBlack)
	l.y += 8
	if r.IssuesFound {
		infoRow("Status:", "ATENÇÃO NECESSÁRIA", colorAttn)
	} else {
		infoRow("Status:", "APROVADO", colorApproved)
	}
	l.color(colorBlack)
	l.y += 20

	// summary
	l.font("B", 14)
	l.text(margin, "Resumo da Inspeção")
	l.y += 8
	l.font("", 11)
	l.paragraph(StripPictographs(r.Summary))
	l.y += 15

	// transcript
	l.breakIfNeeded()
	l.font("B", 14)
	l.color(colorBlack)
	l.text(margin, "Histórico Detalhado")
	l.y += 10

	for _, msg := range r.ChatHistory {
		l.breakIfNeeded()
		name, c := senderLabel(msg.Sender, r.TechnicianName)
		l.font("B", 10)
		l.color(c)
		l.text(margin, fmt.Sprintf("%s (%s)", StripPictographs(name), msg.Timestamp.In(loc).Format("15:04")))
		l.y += lineHeight

		l.font("", 10)
		l.color(colorBody)
		l.breakIfNeeded()
		l.paragraph(StripPictographs(msg.Text))
		l.y += 8
	}

	if pdf.Err() {
		return fmt.Errorf("%w: %v", ErrRender, pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return fmt.Errorf("%w: %v", ErrRender, err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write: %v", ErrRender, err)
	}
	return nil
}

func senderLabel(s domain.Sender, technician string) (string, rgb) {
	switch s {
	case domain.SenderUser:
		return technician, colorUser
	case domain.SenderAI, domain.SenderSystem:
		return "ManutAI", colorAssist
	}
	return "ManutAI", colorAssist
}

func shortID(id string) string {
	runes := []rune(id)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return string(runes)
}

func formatDateTime(r domain.InspectionReport, loc *time.Location) string {
	t := r.DateTime()
	if t.IsZero() {
		return r.Date
	}
	return t.In(loc).Format("02/01/2006 15:04:05")
}
