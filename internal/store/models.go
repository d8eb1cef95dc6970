package store

import (
	"encoding/json"
	"fmt"
	"time"

	"reportdesk/api/internal/report"
)

// documentRecord is the serialized form shared by the key-value stores.
type documentRecord struct {
	ID              string                               `json:"id"`
	Status          report.DocumentStatus                `json:"status"`
	Sections        map[report.SectionID]json.RawMessage `json:"sections"`
	SectionStatus   map[report.SectionID]report.Status   `json:"sectionStatus"`
	SnapshotVersion int                                  `json:"snapshotVersion"`
	LastSavedAt     time.Time                            `json:"lastSavedAt"`
}

func encodeDocument(id string, doc report.Document) ([]byte, error) {
	status := doc.Status
	if status == "" {
		status = report.DocumentOpen
	}
	data, err := json.Marshal(documentRecord{
		ID:              id,
		Status:          status,
		Sections:        doc.Sections,
		SectionStatus:   doc.SectionStatus,
		SnapshotVersion: doc.SnapshotVersion,
		LastSavedAt:     doc.LastSavedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal report %s: %w", id, err)
	}
	return data, nil
}

func decodeDocument(data []byte) (*report.Document, error) {
	var rec documentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	doc := report.NewDocument(rec.ID)
	doc.Status = rec.Status
	doc.SnapshotVersion = rec.SnapshotVersion
	doc.LastSavedAt = rec.LastSavedAt
	for id, payload := range rec.Sections {
		doc.Sections[id] = payload
	}
	for id, status := range rec.SectionStatus {
		doc.SectionStatus[id] = status
	}
	return &doc, nil
}

func encodeSnapshot(snap report.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s v%d: %w", snap.DocumentID, snap.Version, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*report.Snapshot, error) {
	var snap report.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func isClosed(data []byte) (bool, error) {
	var rec struct {
		Status report.DocumentStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("unmarshal report status: %w", err)
	}
	return rec.Status == report.DocumentClosed, nil
}
