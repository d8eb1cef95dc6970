package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"reportdesk/api/internal/archive"
	"reportdesk/api/internal/export"
	"reportdesk/api/internal/report"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates editor and store errors into HTTP envelopes. Typed
// errors are checked before sentinels because several of them wrap others.
func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr  *DomainError
		readOnly   *report.ReadOnlyError
		notReady   *report.NotReadyError
		incomplete *report.IncompleteSaveError
		aborted    *report.AggregateSaveAbortedError
		saveFailed *report.SaveFailedError
		unsaved    *report.UnsavedChangesError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &readOnly):
		return http.StatusConflict, "READ_ONLY", readOnly.Error(), map[string]any{"op": readOnly.Op}
	case errors.As(err, &notReady):
		return http.StatusUnprocessableEntity, "NOT_READY", "Report is not ready to close", map[string]any{
			"incomplete": nonNilIDs(notReady.Incomplete),
			"errored":    nonNilIDs(notReady.Errored),
		}
	case errors.As(err, &incomplete):
		details := map[string]any{}
		if errors.As(incomplete.Err, &aborted) {
			details["failed"] = aborted.Sections()
		}
		if errors.As(incomplete.Err, &unsaved) {
			details["unsaved"] = unsaved.Sections
		}
		return http.StatusConflict, "SAVE_ABORTED", incomplete.Error(), details
	case errors.As(err, &aborted):
		return http.StatusConflict, "SAVE_ABORTED", aborted.Error(), map[string]any{"failed": aborted.Sections()}
	case errors.As(err, &saveFailed):
		return http.StatusBadGateway, "SAVE_FAILED", saveFailed.Error(), map[string]any{"section": saveFailed.Section}
	case errors.As(err, &unsaved):
		return http.StatusConflict, "UNSAVED_CHANGES", "Unsaved changes", map[string]any{"sections": unsaved.Sections}
	case errors.Is(err, report.ErrUnknownSection):
		return http.StatusBadRequest, "UNKNOWN_SECTION", err.Error(), nil
	case errors.Is(err, report.ErrNotMounted):
		return http.StatusConflict, "NOT_MOUNTED", err.Error(), nil
	case errors.Is(err, report.ErrNothingToSave):
		return http.StatusConflict, "NOTHING_TO_SAVE", "No section is mounted", nil
	case errors.Is(err, report.ErrEditorClosed):
		return http.StatusConflict, "EDITOR_CLOSED", "Report editor was closed", nil
	case errors.Is(err, report.ErrDocumentClosed):
		return http.StatusConflict, "READ_ONLY", "Report is closed", nil
	case errors.Is(err, report.ErrSnapshotNotFound), errors.Is(err, report.ErrDocumentNotFound), errors.Is(err, archive.ErrNotArchived):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
