package app

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"manutai/internal/util"
	"manutai/pkg/domain"
	"manutai/pkg/report"
)

// Share is the WhatsApp projection of a report.
type Share struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// PDFExport is a rendered report.
type PDFExport struct {
	Filename string
	Data     []byte
	// URL is set when the export was archived.
	URL string
}

// Every signed-in user reads every report; deletion is admin-only.

// ListReports returns all reports, newest first, filtered by a
// case-insensitive match of query on checklist title or technician name.
func (a *App) ListReports(ctx context.Context, query string) ([]domain.InspectionReport, error) {
	reports, err := a.store.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.InspectionReport, 0, len(reports))
	for i := len(reports) - 1; i >= 0; i-- {
		r := reports[i]
		if q != "" &&
			!strings.Contains(strings.ToLower(r.TemplateTitle), q) &&
			!strings.Contains(strings.ToLower(r.TechnicianName), q) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetReport returns a report by id.
func (a *App) GetReport(ctx context.Context, id string) (domain.InspectionReport, error) {
	r, ok, err := a.store.GetReport(ctx, id)
	if err != nil {
		return domain.InspectionReport{}, err
	}
	if !ok {
		return domain.InspectionReport{}, ErrReportNotFound
	}
	return r, nil
}

// DeleteReport removes a report and any archived exports of it. A failed
// purge is logged; the report itself is already gone.
func (a *App) DeleteReport(ctx context.Context, id string) error {
	if err := a.store.DeleteReport(ctx, id); err != nil {
		return err
	}
	if a.archive != nil {
		if err := a.archive.Purge(ctx, id); err != nil {
			util.LoggerFromContext(ctx).Warn("archived exports not purged", "report_id", id, "err", err)
		}
	}
	return nil
}

// ShareReport builds the WhatsApp text and link for a report.
func (a *App) ShareReport(ctx context.Context, id string) (Share, error) {
	r, err := a.GetReport(ctx, id)
	if err != nil {
		return Share{}, err
	}
	text := report.ShareText(r, a.location)
	return Share{Text: text, URL: report.ShareURL(text)}, nil
}

// ExportPDF renders a report. With archive set the document is also uploaded
// to object storage and URL carries a presigned link.
func (a *App) ExportPDF(ctx context.Context, id string, archive bool) (PDFExport, error) {
	r, err := a.GetReport(ctx, id)
	if err != nil {
		return PDFExport{}, err
	}
	if archive && a.archive == nil {
		return PDFExport{}, ErrArchiveDisabled
	}
	var buf bytes.Buffer
	if err := report.RenderPDF(&buf, r, report.Options{Location: a.location}); err != nil {
		util.LoggerFromContext(ctx).Error("pdf render failed", "report_id", r.ID, "err", err)
		return PDFExport{}, err
	}
	out := PDFExport{
		Filename: report.PDFFilename(r, a.now()),
		Data:     buf.Bytes(),
	}
	if archive {
		url, err := a.archive.StorePDF(ctx, r.ID, out.Filename, out.Data)
		if err != nil {
			return PDFExport{}, fmt.Errorf("archive report %s: %w", r.ID, err)
		}
		out.URL = url
	}
	return out, nil
}
