package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"reportdesk/api/internal/report"
)

// Result is a single search hit: one approved snapshot of a report.
type Result struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Version    int       `json:"version"`
	Snippet    string    `json:"snippet"`
	ClosedAt   time.Time `json:"closedAt"`
}

// Query describes a search request.
type Query struct {
	Text       string
	DocumentID string // empty = all reports
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SnapshotRecord is the data we index for a snapshot.
type SnapshotRecord struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"documentId"`
	Version    int      `json:"version"`
	ClosedAt   int64    `json:"closedAt"`
	Digest     string   `json:"digest"`
	Sections   []string `json:"sections"`
	Text       string   `json:"text"`
}

// RecordFromSnapshot flattens the string values of every section payload
// into one searchable text field.
func RecordFromSnapshot(snap report.Snapshot) SnapshotRecord {
	ids := make([]string, 0, len(snap.Sections))
	for id := range snap.Sections {
		ids = append(ids, string(id))
	}
	sort.Slice(ids, func(i, j int) bool { return sectionRank(ids[i]) < sectionRank(ids[j]) })

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		text := strings.Join(collectStrings(snap.Sections[report.SectionID(id)]), " ")
		if text != "" {
			parts = append(parts, text)
		}
	}
	return SnapshotRecord{
		ID:         recordID(snap.DocumentID, snap.Version),
		DocumentID: snap.DocumentID,
		Version:    snap.Version,
		ClosedAt:   snap.ClosedAt.Unix(),
		Digest:     snap.Digest,
		Sections:   ids,
		Text:       strings.Join(parts, "\n"),
	}
}

// recordID builds a Meilisearch-safe primary key.
func recordID(documentID string, version int) string {
	var b strings.Builder
	for _, r := range documentID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return fmt.Sprintf("%s-v%d", b.String(), version)
}

func sectionRank(id string) int {
	for i, declared := range report.AllSections {
		if string(declared) == id {
			return i
		}
	}
	return len(report.AllSections)
}

func collectStrings(payload json.RawMessage) []string {
	if len(payload) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil
	}
	out := make([]string, 0)
	walkStrings(value, &out)
	return out
}

func walkStrings(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range v {
			walkStrings(item, out)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			walkStrings(v[key], out)
		}
	}
}
