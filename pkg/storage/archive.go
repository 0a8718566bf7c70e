package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	pdfContentType       = "application/pdf"
	defaultArchiveExpiry = 15 * time.Minute
)

// Archive stores exported report PDFs and hands out download links.
type Archive struct {
	objects ObjectStore
	expiry  time.Duration
}

// NewArchive wraps objects. A non-positive expiry uses 15 minutes.
func NewArchive(objects ObjectStore, expiry time.Duration) *Archive {
	if expiry <= 0 {
		expiry = defaultArchiveExpiry
	}
	return &Archive{objects: objects, expiry: expiry}
}

func reportPrefix(reportID string) string {
	return "reports/" + reportID + "/"
}

// Key is the object key of an archived report PDF.
func Key(reportID, filename string) string {
	return reportPrefix(reportID) + path.Base(filename)
}

// StorePDF uploads data and returns a presigned URL valid for the archive expiry.
func (a *Archive) StorePDF(ctx context.Context, reportID, filename string, data []byte) (string, error) {
	if strings.TrimSpace(reportID) == "" || strings.TrimSpace(filename) == "" {
		return "", errors.New("report id and filename required")
	}
	key := Key(reportID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
		return "", fmt.Errorf("archive pdf: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.expiry, path.Base(key))
	if err != nil {
		return "", fmt.Errorf("archive pdf: %w", err)
	}
	return url, nil
}

// Purge drops every archived export of a report.
func (a *Archive) Purge(ctx context.Context, reportID string) error {
	if strings.TrimSpace(reportID) == "" {
		return errors.New("report id required")
	}
	if err := a.objects.DeletePrefix(ctx, reportPrefix(reportID)); err != nil {
		return fmt.Errorf("purge report %s: %w", reportID, err)
	}
	return nil
}
