package report

import (
	"context"
	"encoding/json"
	"sync"
)

// SectionHandle is the unit a section registers with the editor: a save action
// plus a status query.
type SectionHandle interface {
	FlushSave(ctx context.Context) error
	Status() Status
}

// PayloadProvider is implemented by handles that contribute their payload to
// the aggregate document after a successful flush.
type PayloadProvider interface {
	SectionPayload() json.RawMessage
}

// DirtyReporter is implemented by handles that track unsaved edits themselves.
type DirtyReporter interface {
	Dirty() bool
}

// SaveFunc is a section's own save action. It runs before the payload is
// committed to the aggregate; a non-nil error rejects the flush.
type SaveFunc func(ctx context.Context, id SectionID, payload json.RawMessage) error

// Section is the built-in handle created by Editor.Mount. It owns the staged
// payload and the dirty flag of one section.
type Section struct {
	id     SectionID
	editor *Editor

	mu      sync.Mutex
	save    SaveFunc
	payload json.RawMessage
	status  Status
	dirty   bool
	lastErr error
}

func (s *Section) ID() SectionID {
	return s.id
}

// FlushSave commits the staged payload into the in-memory aggregate without
// persisting it. Save-all persists once after every section settles.
func (s *Section) FlushSave(ctx context.Context) error {
	return s.editor.scheduler.flush(ctx, s.id, false)
}

func (s *Section) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Section) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Section) Payload() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePayload(s.payload)
}

// Err returns the error of the most recent failed flush, nil after a success.
func (s *Section) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Section) setSave(fn SaveFunc) {
	s.mu.Lock()
	s.save = fn
	s.mu.Unlock()
}

func (s *Section) stage(payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = clonePayload(payload)
	s.dirty = true
	if s.status == StatusCompleted && isEmptyPayload(payload) {
		s.status = StatusDraft
	}
}

// markClean drops the dirty flag without persisting. The payload stays staged.
func (s *Section) markClean() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// commit runs the save action and, on success, writes the payload into the
// aggregate. Callers hold the section's flush slot.
func (s *Section) commit(ctx context.Context) error {
	s.mu.Lock()
	payload := clonePayload(s.payload)
	save := s.save
	s.status = StatusProcessing
	s.mu.Unlock()

	if save != nil {
		if err := save(ctx, s.id, payload); err != nil {
			s.fail(err)
			return &SaveFailedError{Section: s.id, Err: err}
		}
	}

	status := StatusCompleted
	if isEmptyPayload(payload) {
		status = StatusDraft
	}
	if err := s.editor.commit(s.id, payload, status); err != nil {
		s.fail(err)
		return &SaveFailedError{Section: s.id, Err: err}
	}

	s.mu.Lock()
	// edits staged while the save ran keep the section dirty
	if string(s.payload) == string(payload) {
		s.dirty = false
	}
	s.status = status
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

func (s *Section) fail(err error) {
	s.mu.Lock()
	s.status = StatusError
	s.dirty = true
	s.lastErr = err
	s.mu.Unlock()
	s.editor.recordStatus(s.id, StatusError)
}

// StaticHandle is a handle with a fixed payload and status, for optional
// sections that are always considered done.
type StaticHandle struct {
	Payload json.RawMessage
	State   Status
}

// SkippedHandle returns a completed StaticHandle whose payload records why the
// section was skipped.
func SkippedHandle(reason string) StaticHandle {
	payload, _ := json.Marshal(map[string]any{"skipped": true, "reason": reason})
	return StaticHandle{Payload: payload, State: StatusCompleted}
}

func (h StaticHandle) FlushSave(context.Context) error {
	return nil
}

func (h StaticHandle) Status() Status {
	if h.State == "" {
		return StatusDraft
	}
	return h.State
}

func (h StaticHandle) SectionPayload() json.RawMessage {
	return clonePayload(h.Payload)
}
