package report

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownSection indicates a section id outside the declared set.
	ErrUnknownSection = errors.New("unknown report section")
	// ErrNotMounted indicates an operation on a section with no live handle.
	ErrNotMounted = errors.New("report section not mounted")
	// ErrNothingToSave is returned by save-all when no section is registered.
	ErrNothingToSave = errors.New("nothing to save")
	// ErrSnapshotExists is returned by stores when a snapshot version is already taken.
	ErrSnapshotExists = errors.New("snapshot version already exists")
	// ErrSnapshotNotFound is returned by stores for a missing snapshot version.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrDocumentNotFound indicates the aggregate record has never been persisted.
	ErrDocumentNotFound = errors.New("report document not found")
	// ErrDocumentClosed is returned by stores that refuse to overwrite a closed document.
	ErrDocumentClosed = errors.New("report document is closed")
	// ErrEditorClosed is returned after the editor has been torn down.
	ErrEditorClosed = errors.New("report editor closed")
)

// SaveFailedError reports a rejected flush of one section.
type SaveFailedError struct {
	Section SectionID
	Err     error
}

func (e *SaveFailedError) Error() string {
	return fmt.Sprintf("save section %s: %v", e.Section, e.Err)
}

func (e *SaveFailedError) Unwrap() error {
	return e.Err
}

// AggregateSaveAbortedError is returned by save-all when at least one section
// failed. Sections that saved successfully in the same round are not rolled back.
type AggregateSaveAbortedError struct {
	Failed []Outcome
}

func (e *AggregateSaveAbortedError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, outcome := range e.Failed {
		ids = append(ids, string(outcome.Section))
	}
	return fmt.Sprintf("aggregate save aborted: %d section(s) failed: %s", len(e.Failed), strings.Join(ids, ", "))
}

func (e *AggregateSaveAbortedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, outcome := range e.Failed {
		errs = append(errs, outcome.Err)
	}
	return errs
}

// Sections lists the failed section ids.
func (e *AggregateSaveAbortedError) Sections() []SectionID {
	ids := make([]SectionID, 0, len(e.Failed))
	for _, outcome := range e.Failed {
		ids = append(ids, outcome.Section)
	}
	return ids
}

// NotReadyError is returned when approval is attempted on an incomplete report.
type NotReadyError struct {
	Incomplete []SectionID
	Errored    []SectionID
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("report not ready to close: incomplete=%v errored=%v", e.Incomplete, e.Errored)
}

// IncompleteSaveError is returned when the save-all that precedes approval fails.
type IncompleteSaveError struct {
	Err error
}

func (e *IncompleteSaveError) Error() string {
	return fmt.Sprintf("approval blocked by incomplete save: %v", e.Err)
}

func (e *IncompleteSaveError) Unwrap() error {
	return e.Err
}

// ReadOnlyError is returned by every mutation entry point once a document is closed.
type ReadOnlyError struct {
	DocumentID string
	Op         string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("report %s is read-only: %s rejected", e.DocumentID, e.Op)
}

// UnsavedChangesError is raised by the guard when dirty sections would be lost.
type UnsavedChangesError struct {
	Sections []SectionID
}

func (e *UnsavedChangesError) Error() string {
	return fmt.Sprintf("%d section(s) have unsaved changes: %v", len(e.Sections), e.Sections)
}

// Count is the number of unsaved sections.
func (e *UnsavedChangesError) Count() int {
	return len(e.Sections)
}
