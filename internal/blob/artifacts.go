package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"reportdesk/api/internal/export"
	"reportdesk/api/internal/report"
)

// Uploader is the write side of Store.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
}

// Renderer is the part of export.Service the hook needs.
type Renderer interface {
	Render(ctx context.Context, snap report.Snapshot, format export.Format) (*export.Result, error)
}

// ArtifactHook renders every new snapshot and uploads the artifacts.
type ArtifactHook struct {
	uploader Uploader
	renderer Renderer
	formats  []export.Format
	log      zerolog.Logger
}

func NewArtifactHook(uploader Uploader, renderer Renderer, formats []export.Format, log zerolog.Logger) *ArtifactHook {
	if len(formats) == 0 {
		formats = []export.Format{export.FormatPDF}
	}
	return &ArtifactHook{uploader: uploader, renderer: renderer, formats: formats, log: log}
}

func (h *ArtifactHook) Name() string {
	return "artifacts"
}

// ArtifactKey is the object key of one exported file.
func ArtifactKey(documentID string, version int, filename string) string {
	return fmt.Sprintf("reports/%s/v%d/%s", documentID, version, filename)
}

// OnSnapshot uploads one artifact per configured format. A failing format
// does not stop the others.
func (h *ArtifactHook) OnSnapshot(ctx context.Context, snap report.Snapshot) error {
	var errs []error
	for _, format := range h.formats {
		result, err := h.renderer.Render(ctx, snap, format)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s: %w", format, err))
			continue
		}
		key := ArtifactKey(snap.DocumentID, snap.Version, result.Filename)
		obj, err := h.uploader.Put(ctx, key, result.Data, result.MimeType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h.log.Info().Str("document", snap.DocumentID).Int("version", snap.Version).Str("key", obj.Key).Int64("bytes", obj.Size).Msg("artifact uploaded")
	}
	return errors.Join(errs...)
}
