package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"reportdesk/api/internal/report"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStore(db), mock
}

func TestPostgresGetMissingDocument(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_documents`)).
		WithArgs("rep_1").
		WillReturnError(sql.ErrNoRows)

	doc, err := s.Get(context.Background(), "rep_1")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestPostgresGetDocument(t *testing.T) {
	s, mock := newMockStore(t)
	saved := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_documents`)).
		WithArgs("rep_1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "sections", "section_status", "snapshot_version", "last_saved_at"}).
			AddRow("closed", []byte(`{"executive":{"text":"x"}}`), []byte(`{"executive":"completed"}`), 3, saved))

	doc, err := s.Get(context.Background(), "rep_1")
	require.NoError(t, err)
	require.True(t, doc.Closed())
	require.Equal(t, 3, doc.SnapshotVersion)
	require.Equal(t, report.StatusCompleted, doc.SectionStatus[report.SectionExecutive])
	require.JSONEq(t, `{"text":"x"}`, string(doc.Sections[report.SectionExecutive]))
	require.Equal(t, saved, doc.LastSavedAt)
}

func TestPostgresPutRejectsClosedDocument(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_documents`)).
		WithArgs("rep_1", "open", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Put(context.Background(), "rep_1", sampleDocument("rep_1"))
	require.ErrorIs(t, err, report.ErrDocumentClosed)
}

func TestPostgresPutDocument(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_documents`)).
		WithArgs("rep_1", "open", `{"executive":{"text":"summary"}}`, sqlmock.AnyArg(), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Put(context.Background(), "rep_1", sampleDocument("rep_1")))
}

func TestPostgresPutSnapshotDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO report_snapshots`)).
		WithArgs("rep_1", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "d1").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.PutSnapshot(context.Background(), "rep_1", sampleSnapshot("rep_1", 1))
	require.ErrorIs(t, err, report.ErrSnapshotExists)
}

func TestPostgresListSnapshots(t *testing.T) {
	s, mock := newMockStore(t)
	closed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_snapshots`)).
		WithArgs("rep_1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "closed_at", "digest", "count"}).
			AddRow(1, closed, "d1", 10).
			AddRow(2, closed.Add(time.Hour), "d2", 10))

	metas, err := s.ListSnapshots(context.Background(), "rep_1")
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, report.SnapshotMeta{DocumentID: "rep_1", Version: 2, ClosedAt: closed.Add(time.Hour), Digest: "d2", SectionCount: 10}, metas[1])
}

func TestPostgresGetSnapshotMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM report_snapshots`)).
		WithArgs("rep_1", 4).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetSnapshot(context.Background(), "rep_1", 4)
	require.ErrorIs(t, err, report.ErrSnapshotNotFound)
}
