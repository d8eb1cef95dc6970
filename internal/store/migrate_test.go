package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_a.up.sql":   "CREATE TABLE a (id INT)",
		"0001_a.down.sql": "DROP TABLE a",
		"0002_b.up.sql":   "CREATE TABLE b (id INT)",
		"0002_b.down.sql": "DROP TABLE b",
	})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WithArgs("0001_a.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WithArgs("0002_b.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).WithArgs("0002_b.up.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := ApplyMigrations(context.Background(), db, dir, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsRollsBackFailure(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"0001_a.up.sql": "BROKEN"})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).WithArgs("0001_a.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("BROKEN").WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	applied, err := ApplyMigrations(context.Background(), db, dir, zerolog.Nop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "execute migration 0001_a.up.sql")
	require.Zero(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsMissingDir(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = ApplyMigrations(context.Background(), db, filepath.Join(t.TempDir(), "missing"), zerolog.Nop())
	require.ErrorContains(t, err, "read migrations dir")
}
