package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportdesk/api/internal/report"
)

func sampleSnapshot() report.Snapshot {
	return report.Snapshot{
		DocumentID: "acme/2026",
		Version:    3,
		ClosedAt:   time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		Sections: map[report.SectionID]json.RawMessage{
			report.SectionKeywords:  json.RawMessage(`{"items":["solar","  ","storage"]}`),
			report.SectionExecutive: json.RawMessage(`{"summary":"Battery maker","score":7}`),
		},
		Digest: "abc",
	}
}

func TestRecordFromSnapshot(t *testing.T) {
	rec := RecordFromSnapshot(sampleSnapshot())

	assert.Equal(t, "acme_2026-v3", rec.ID)
	assert.Equal(t, "acme/2026", rec.DocumentID)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, []string{"executive", "keywords"}, rec.Sections)
	assert.Equal(t, "Battery maker\nsolar storage", rec.Text)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC).Unix(), rec.ClosedAt)
}

func TestRecordFromSnapshotIgnoresBrokenPayload(t *testing.T) {
	snap := sampleSnapshot()
	snap.Sections[report.SectionClients] = json.RawMessage(`{not json`)
	rec := RecordFromSnapshot(snap)
	assert.Contains(t, rec.Sections, "clients")
	assert.NotContains(t, rec.Text, "not json")
}

func TestPgFTSSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	closed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM report_snapshots s WHERE`)).
		WithArgs("battery", "rep_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`ts_headline('simple', s.sections::text`)).
		WithArgs("battery", "rep_1").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "version", "closed_at", "snippet"}).
			AddRow("rep_1", 2, closed, "<b>battery</b> maker"))

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{Text: "battery", DocumentID: "rep_1"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, Result{ID: "rep_1-v2", DocumentID: "rep_1", Version: 2, Snippet: "<b>battery</b> maker", ClosedAt: closed}, results[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFTSBlankQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	results, total, err := NewPgFTS(db).Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceFallsBackToPgFTS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*)`)).
		WithArgs("solar").
		WillReturnError(io.ErrUnexpectedEOF)

	svc := NewService(nil, NewPgFTS(db), zerolog.Nop())
	resp := svc.Search(context.Background(), Query{Text: "solar"})
	assert.Equal(t, "solar", resp.Query)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	require.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, svc.OnSnapshot(context.Background(), sampleSnapshot()))
	assert.Equal(t, "search", svc.Name())
}

func TestServiceWithoutBackends(t *testing.T) {
	resp := NewService(nil, nil, zerolog.Nop()).Search(context.Background(), Query{Text: "x"})
	assert.Equal(t, Response{Results: []Result{}, Total: 0, Query: "x"}, resp)
}

func TestMeiliSearchAndIndex(t *testing.T) {
	var indexed []SnapshotRecord
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/health":
			_, _ = w.Write([]byte(`{"status":"available"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/search"):
			_, _ = w.Write([]byte(`{
				"hits":[{"id":"rep_1-v2","documentId":"rep_1","version":2,"closedAt":1775044800,
					"text":"long text","_formatted":{"text":"…<mark>solar</mark> panels…","version":"2"}}],
				"estimatedTotalHits":1,"query":"solar","limit":20,"offset":0,"processingTimeMs":1}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/documents"):
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &indexed)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"taskUid":2,"indexUid":"reportdesk_snapshots","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2026-04-01T12:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"taskUid":1,"indexUid":"reportdesk_snapshots","status":"enqueued","type":"settingsUpdate","enqueuedAt":"2026-04-01T12:00:00Z"}`))
		}
	}))
	defer server.Close()

	m := NewMeili(server.URL, "key", zerolog.Nop())
	defer m.Close()
	require.True(t, m.Healthy())

	svc := NewService(m, nil, zerolog.Nop())
	resp := svc.Search(context.Background(), Query{Text: "solar"})
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	hit := resp.Results[0]
	assert.Equal(t, "rep_1", hit.DocumentID)
	assert.Equal(t, 2, hit.Version)
	assert.Equal(t, "…<mark>solar</mark> panels…", hit.Snippet)
	assert.Equal(t, time.Unix(1775044800, 0).UTC(), hit.ClosedAt)

	require.NoError(t, svc.OnSnapshot(context.Background(), sampleSnapshot()))
	require.Len(t, indexed, 1)
	assert.Equal(t, "acme_2026-v3", indexed[0].ID)
}
