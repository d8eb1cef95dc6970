package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"reportdesk/api/internal/report"
)

const uniqueViolation = "23505"

// PostgresStore keeps documents in report_documents and approvals in the
// append-only report_snapshots table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*report.Document, error) {
	var (
		status          string
		sections        []byte
		sectionStatus   []byte
		snapshotVersion int
		lastSavedAt     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, sections, section_status, snapshot_version, last_saved_at
		FROM report_documents
		WHERE id = $1
	`, id).Scan(&status, &sections, &sectionStatus, &snapshotVersion, &lastSavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}

	doc := report.NewDocument(id)
	doc.Status = report.DocumentStatus(status)
	doc.SnapshotVersion = snapshotVersion
	if lastSavedAt.Valid {
		doc.LastSavedAt = lastSavedAt.Time.UTC()
	}
	if err := json.Unmarshal(sections, &doc.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of %s: %w", id, err)
	}
	if err := json.Unmarshal(sectionStatus, &doc.SectionStatus); err != nil {
		return nil, fmt.Errorf("decode section status of %s: %w", id, err)
	}
	return &doc, nil
}

// Put upserts the document. A closed row is never overwritten.
func (s *PostgresStore) Put(ctx context.Context, id string, doc report.Document) error {
	sections, err := json.Marshal(nonNilSections(doc.Sections))
	if err != nil {
		return fmt.Errorf("encode sections of %s: %w", id, err)
	}
	sectionStatus, err := json.Marshal(nonNilStatuses(doc.SectionStatus))
	if err != nil {
		return fmt.Errorf("encode section status of %s: %w", id, err)
	}
	status := doc.Status
	if status == "" {
		status = report.DocumentOpen
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO report_documents (id, status, sections, section_status, snapshot_version, last_saved_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			sections = EXCLUDED.sections,
			section_status = EXCLUDED.section_status,
			snapshot_version = EXCLUDED.snapshot_version,
			last_saved_at = EXCLUDED.last_saved_at,
			updated_at = NOW()
		WHERE report_documents.status = 'open'
	`, id, string(status), string(sections), string(sectionStatus), doc.SnapshotVersion, nullTime(doc.LastSavedAt))
	if err != nil {
		return fmt.Errorf("put report %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put report %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("put report %s: %w", id, report.ErrDocumentClosed)
	}
	return nil
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, id string, snap report.Snapshot) error {
	sections, err := json.Marshal(nonNilSections(snap.Sections))
	if err != nil {
		return fmt.Errorf("encode snapshot sections: %w", err)
	}
	sectionStatus, err := json.Marshal(nonNilStatuses(snap.SectionStatus))
	if err != nil {
		return fmt.Errorf("encode snapshot section status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_snapshots (document_id, version, closed_at, sections, section_status, digest)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
	`, id, snap.Version, snap.ClosedAt.UTC(), string(sections), string(sectionStatus), snap.Digest)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("put snapshot %s v%d: %w", id, snap.Version, report.ErrSnapshotExists)
		}
		return fmt.Errorf("put snapshot %s v%d: %w", id, snap.Version, err)
	}
	return nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, id string) ([]report.SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, closed_at, digest, (SELECT COUNT(*) FROM jsonb_object_keys(sections))
		FROM report_snapshots
		WHERE document_id = $1
		ORDER BY version ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", id, err)
	}
	defer rows.Close()

	metas := make([]report.SnapshotMeta, 0)
	for rows.Next() {
		meta := report.SnapshotMeta{DocumentID: id}
		if err := rows.Scan(&meta.Version, &meta.ClosedAt, &meta.Digest, &meta.SectionCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		meta.ClosedAt = meta.ClosedAt.UTC()
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return metas, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string, version int) (*report.Snapshot, error) {
	snap := report.Snapshot{DocumentID: id, Version: version}
	var sections, sectionStatus []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT closed_at, sections, section_status, digest
		FROM report_snapshots
		WHERE document_id = $1 AND version = $2
	`, id, version).Scan(&snap.ClosedAt, &sections, &sectionStatus, &snap.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, report.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s v%d: %w", id, version, err)
	}
	snap.ClosedAt = snap.ClosedAt.UTC()
	if err := json.Unmarshal(sections, &snap.Sections); err != nil {
		return nil, fmt.Errorf("decode snapshot sections: %w", err)
	}
	if err := json.Unmarshal(sectionStatus, &snap.SectionStatus); err != nil {
		return nil, fmt.Errorf("decode snapshot section status: %w", err)
	}
	return &snap, nil
}

func nonNilSections(in map[report.SectionID]json.RawMessage) map[report.SectionID]json.RawMessage {
	if in == nil {
		return map[report.SectionID]json.RawMessage{}
	}
	return in
}

func nonNilStatuses(in map[report.SectionID]report.Status) map[report.SectionID]report.Status {
	if in == nil {
		return map[report.SectionID]report.Status{}
	}
	return in
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
