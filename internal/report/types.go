// Package report implements the analysis-report editing controller: per-section
// autosave, completion tracking, navigation guarding and approval snapshots.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SectionID identifies one independently edited subdivision of a report.
type SectionID string

const (
	SectionExecutive     SectionID = "executive"
	SectionDetection     SectionID = "detection"
	SectionCompetitors   SectionID = "competitors"
	SectionSimilar       SectionID = "similar"
	SectionClients       SectionID = "clients"
	SectionAnalysis      SectionID = "analysis"
	SectionProducts      SectionID = "products"
	SectionOpportunities SectionID = "opportunities"
	SectionKeywords      SectionID = "keywords"
	SectionDecisors      SectionID = "decisors"
)

// AllSections is the declared section set in display order.
var AllSections = []SectionID{
	SectionExecutive,
	SectionDetection,
	SectionCompetitors,
	SectionSimilar,
	SectionClients,
	SectionAnalysis,
	SectionProducts,
	SectionOpportunities,
	SectionKeywords,
	SectionDecisors,
}

func (id SectionID) Valid() bool {
	switch id {
	case SectionExecutive, SectionDetection, SectionCompetitors, SectionSimilar, SectionClients,
		SectionAnalysis, SectionProducts, SectionOpportunities, SectionKeywords, SectionDecisors:
		return true
	default:
		return false
	}
}

func (id SectionID) String() string {
	return string(id)
}

// ParseSectionID validates a raw section key.
func ParseSectionID(raw string) (SectionID, error) {
	id := SectionID(raw)
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSection, raw)
	}
	return id, nil
}

// Status is the edit/save state of a single section.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// DocumentStatus is the lifecycle state of the aggregate report.
type DocumentStatus string

const (
	DocumentOpen   DocumentStatus = "open"
	DocumentClosed DocumentStatus = "closed"
)

// Document is the aggregate record of all section payloads under one report id.
type Document struct {
	ID              string                        `json:"id"`
	Sections        map[SectionID]json.RawMessage `json:"sections"`
	SectionStatus   map[SectionID]Status          `json:"sectionStatus"`
	Status          DocumentStatus                `json:"status"`
	LastSavedAt     time.Time                     `json:"lastSavedAt"`
	SnapshotVersion int                           `json:"snapshotVersion,omitempty"`
}

// NewDocument returns an empty open document.
func NewDocument(id string) Document {
	return Document{
		ID:            id,
		Sections:      make(map[SectionID]json.RawMessage),
		SectionStatus: make(map[SectionID]Status),
		Status:        DocumentOpen,
	}
}

func (d Document) Closed() bool {
	return d.Status == DocumentClosed
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Sections = cloneSections(d.Sections)
	out.SectionStatus = cloneStatuses(d.SectionStatus)
	return out
}

// statusOf returns the last known status of a section. Sections saved before
// statuses were recorded fall back to completed when they carry a payload.
func (d Document) statusOf(id SectionID) Status {
	if status, ok := d.SectionStatus[id]; ok && status != "" {
		return status
	}
	if !isEmptyPayload(d.Sections[id]) {
		return StatusCompleted
	}
	return StatusDraft
}

// Snapshot is an immutable, versioned copy of a document taken at approval time.
type Snapshot struct {
	DocumentID    string                        `json:"documentId"`
	Version       int                           `json:"version"`
	ClosedAt      time.Time                     `json:"closedAt"`
	Sections      map[SectionID]json.RawMessage `json:"sections"`
	SectionStatus map[SectionID]Status          `json:"sectionStatus"`
	Digest        string                        `json:"digest"`
}

// SnapshotMeta is the listing view of a snapshot.
type SnapshotMeta struct {
	DocumentID   string    `json:"documentId"`
	Version      int       `json:"version"`
	ClosedAt     time.Time `json:"closedAt"`
	Digest       string    `json:"digest"`
	SectionCount int       `json:"sectionCount"`
}

func (s Snapshot) Clone() Snapshot {
	out := s
	out.Sections = cloneSections(s.Sections)
	out.SectionStatus = cloneStatuses(s.SectionStatus)
	return out
}

func (s Snapshot) Meta() SnapshotMeta {
	return SnapshotMeta{
		DocumentID:   s.DocumentID,
		Version:      s.Version,
		ClosedAt:     s.ClosedAt,
		Digest:       s.Digest,
		SectionCount: len(s.Sections),
	}
}

var emptyPayloads = [][]byte{
	[]byte("null"),
	[]byte("{}"),
	[]byte("[]"),
	[]byte(`""`),
}

func isEmptyPayload(payload json.RawMessage) bool {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return true
	}
	for _, empty := range emptyPayloads {
		if bytes.Equal(trimmed, empty) {
			return true
		}
	}
	return false
}

func clonePayload(payload json.RawMessage) json.RawMessage {
	if payload == nil {
		return nil
	}
	out := make(json.RawMessage, len(payload))
	copy(out, payload)
	return out
}

func cloneSections(in map[SectionID]json.RawMessage) map[SectionID]json.RawMessage {
	out := make(map[SectionID]json.RawMessage, len(in))
	for id, payload := range in {
		out[id] = clonePayload(payload)
	}
	return out
}

func cloneStatuses(in map[SectionID]Status) map[SectionID]Status {
	out := make(map[SectionID]Status, len(in))
	for id, status := range in {
		out[id] = status
	}
	return out
}
