package export

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/metrics"
	"reportdesk/api/internal/report"
)

var sectionTitles = map[report.SectionID]string{
	report.SectionExecutive:     "Executive summary",
	report.SectionDetection:     "Detection",
	report.SectionCompetitors:   "Competitors",
	report.SectionSimilar:       "Similar companies",
	report.SectionClients:       "Clients",
	report.SectionAnalysis:      "Analysis",
	report.SectionProducts:      "Products",
	report.SectionOpportunities: "Opportunities",
	report.SectionKeywords:      "Keywords",
	report.SectionDecisors:      "Decision makers",
}

// Service renders snapshots. PDF goes through headless Chrome, DOCX through
// pandoc.
type Service struct {
	source     SnapshotSource
	converters map[Format]Converter
	log        zerolog.Logger
}

type Option func(*Service)

// WithConverter replaces the converter used for format.
func WithConverter(format Format, fn Converter) Option {
	return func(s *Service) {
		s.converters[format] = fn
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

func NewService(source SnapshotSource, opts ...Option) *Service {
	s := &Service{
		source: source,
		converters: map[Format]Converter{
			FormatPDF:  exportPDF,
			FormatDOCX: exportDOCX,
			FormatHTML: exportHTML,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export loads the requested snapshot version and renders it.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	snap, err := s.source.GetSnapshot(ctx, req.DocumentID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return s.Render(ctx, *snap, req.Format)
}

// Render converts an in-memory snapshot.
func (s *Service) Render(ctx context.Context, snap report.Snapshot, format Format) (*Result, error) {
	convert, ok := s.converters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	page, err := RenderReportHTML(templateData(snap))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	started := time.Now()
	result, err := convert(ctx, page, ArtifactName(snap))
	metrics.ExportDuration.WithLabelValues(string(format)).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("document", snap.DocumentID).Int("version", snap.Version).Str("format", string(format)).Int("bytes", len(result.Data)).Msg("snapshot exported")
	return result, nil
}

// ArtifactName is the file stem of exported artifacts: "<id>-v<version>".
func ArtifactName(snap report.Snapshot) string {
	return sanitizeFilename(fmt.Sprintf("%s v%d", snap.DocumentID, snap.Version))
}

func templateData(snap report.Snapshot) TemplateData {
	data := TemplateData{
		Title:      "Analysis report " + snap.DocumentID,
		DocumentID: snap.DocumentID,
		Version:    snap.Version,
		ClosedAt:   snap.ClosedAt,
		Digest:     snap.Digest,
		Sections:   make([]TemplateSection, 0, len(report.AllSections)),
	}
	for _, id := range report.AllSections {
		status := snap.SectionStatus[id]
		if status == "" {
			status = report.StatusDraft
		}
		data.Sections = append(data.Sections, TemplateSection{
			ID:     string(id),
			Title:  sectionTitles[id],
			Status: string(status),
			HTML:   PayloadToHTML(snap.Sections[id]),
		})
	}
	return data
}

func exportHTML(_ context.Context, page, name string) (*Result, error) {
	return &Result{
		Data:     []byte(page),
		Filename: name + ".html",
		MimeType: "text/html; charset=utf-8",
	}, nil
}
