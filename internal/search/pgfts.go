package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reportdesk/api/internal/report"
)

// PgFTS implements Searcher over report_snapshots.search_vector.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; the snapshots live in this database.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := "s.search_vector @@ " + tsQuery
	if q.DocumentID != "" {
		where += " AND s.document_id = $2"
		args = append(args, q.DocumentID)
	}

	countSQL := "SELECT count(*) FROM report_snapshots s WHERE " + where
	dataSQL := fmt.Sprintf(`SELECT s.document_id, s.version, s.closed_at,
			ts_headline('simple', s.sections::text, %s, 'MaxFragments=1,MaxWords=30') AS snippet
		FROM report_snapshots s
		WHERE %s
		ORDER BY ts_rank(s.search_vector, %s) DESC, s.closed_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.DocumentID, &r.Version, &r.ClosedAt, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ID = recordID(r.DocumentID, r.Version)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every snapshot as an index record for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]SnapshotRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT document_id, version, closed_at, sections, digest
		FROM report_snapshots
		ORDER BY document_id, version
	`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		var (
			snap     report.Snapshot
			closedAt time.Time
			sections []byte
		)
		if err := rows.Scan(&snap.DocumentID, &snap.Version, &closedAt, &sections, &snap.Digest); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.ClosedAt = closedAt
		if err := json.Unmarshal(sections, &snap.Sections); err != nil {
			return nil, fmt.Errorf("decode snapshot %s v%d: %w", snap.DocumentID, snap.Version, err)
		}
		records = append(records, RecordFromSnapshot(snap))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return records, nil
}
