// Package export renders approved report snapshots to PDF, DOCX and HTML.
package export

import (
	"context"
	"errors"

	"reportdesk/api/internal/report"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// ParseFormat accepts pdf, docx and html; empty means pdf.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request names one snapshot version and the wanted format.
type Request struct {
	DocumentID string
	Version    int
	Format     Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// SnapshotSource loads frozen snapshots. report.Store satisfies it.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, id string, version int) (*report.Snapshot, error)
}

// Converter turns rendered HTML into a binary artifact.
type Converter func(ctx context.Context, html, name string) (*Result, error)

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("export format not supported")
)
