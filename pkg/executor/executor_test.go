package executor_test

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/pthm/remigrate/internal/metrics"
	"github.com/pthm/remigrate/pkg/executor"
	"github.com/pthm/remigrate/pkg/loader"
	"github.com/pthm/remigrate/pkg/rewriter"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func file(name, query string) loader.MigrationFile {
	prefix, _ := loader.Prefix(name)
	return loader.MigrationFile{Name: name, Prefix: prefix, Path: "/migrations/" + name, SQL: query}
}

func batchOf(files ...loader.MigrationFile) *loader.Batch {
	return &loader.Batch{Dir: "/migrations", Files: files}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestRun_AllSucceed(t *testing.T) {
	db := openSQLite(t)
	batch := batchOf(
		file("009_items.sql", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		file("010_seed.sql", "INSERT INTO items (id, name) VALUES (1, 'a;b');\nINSERT INTO items (id, name) VALUES (2, 'c');"),
		file("011_empty.sql", "-- nothing to do\n"),
	)

	report, err := executor.New(db, executor.Options{}).Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Nil(t, report.Failed())

	succeeded, failed, notAttempted := report.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, notAttempted)

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM items").Scan(&n))
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	report.Print(&buf, false)
	assert.Contains(t, buf.String(), "SUCCESS: 009_items.sql\n")
	assert.Contains(t, buf.String(), "SUCCESS: 011_empty.sql\n")
	assert.Contains(t, buf.String(), "Summary: 3 succeeded, 0 failed, 0 not attempted")
}

func TestRun_HaltsOnFirstFailure(t *testing.T) {
	db := openSQLite(t)
	fs := memoryfs.New()
	rec := metrics.New()

	failing := "INSERT INTO items (id, name) VALUES (2, 'second');\nINSERT INTO items (id, name) VALUES (3, NULL);"
	batch := batchOf(
		file("009_items.sql", "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		file("010_seed.sql", "INSERT INTO items (id, name) VALUES (1, 'first');\nCREATE INDEX idx_items_name ON items (name);"),
		file("011_more.sql", failing),
		file("012_later.sql", "CREATE TABLE later (id INTEGER);"),
	)

	e := executor.New(db, executor.Options{FailedDir: "/failed", FS: fs, Metrics: rec})
	report, err := e.Run(context.Background(), batch)

	require.Error(t, err)
	assert.True(t, executor.IsMigrationFailedErr(err))
	assert.Contains(t, err.Error(), "011_more.sql")

	statuses := make([]executor.Status, len(report.Results))
	for i, r := range report.Results {
		statuses[i] = r.Status
	}
	assert.Equal(t, []executor.Status{
		executor.StatusSuccess,
		executor.StatusSuccess,
		executor.StatusFailed,
		executor.StatusNotAttempted,
	}, statuses)

	// 011 is rolled back as a whole, 012 never ran.
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM items").Scan(&n))
	assert.Equal(t, 1, n)
	assert.False(t, tableExists(t, db, "later"))

	failed := report.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "011_more.sql", failed.File)
	assert.Contains(t, failed.Message, "NOT NULL")
	assert.Equal(t, "/failed/failed_011_more.sql", failed.FailedSQLPath)

	saved, err := vfs.ReadFile(fs, "/failed/failed_011_more.sql")
	require.NoError(t, err)
	assert.Equal(t, failing, string(saved))

	var buf bytes.Buffer
	report.Print(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "SUCCESS: 010_seed.sql\n")
	assert.Contains(t, out, "FAILED: 011_more.sql\n")
	assert.Contains(t, out, "Attempted SQL saved to /failed/failed_011_more.sql")
	assert.Contains(t, out, "SKIPPED: 012_later.sql\n")
	assert.Contains(t, out, "Summary: 2 succeeded, 1 failed, 1 not attempted")

	textfile := filepath.Join(t.TempDir(), "remigrate.prom")
	require.NoError(t, rec.WriteTextfile(textfile))
	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `remigrate_migrations_total{outcome="failed"} 1`)
	assert.Contains(t, string(data), `remigrate_migrations_total{outcome="skipped"} 1`)
	assert.Contains(t, string(data), `remigrate_migrations_total{outcome="success"} 2`)
	assert.Contains(t, string(data), "remigrate_batch_success 0")
}

func TestRun_RerunAfterFix(t *testing.T) {
	db := openSQLite(t)
	create := file("009_items.sql", "CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")

	_, err := executor.New(db, executor.Options{}).Run(context.Background(), batchOf(
		create,
		file("010_bad.sql", "INSERT INTO items (id, name) VALUES (1, NULL);"),
	))
	require.Error(t, err)

	report, err := executor.New(db, executor.Options{}).Run(context.Background(), batchOf(
		create,
		file("010_bad.sql", "INSERT INTO items (id, name) VALUES (1, 'fixed');"),
	))
	require.NoError(t, err)
	succeeded, _, _ := report.Counts()
	assert.Equal(t, 2, succeeded)
}

func TestRun_DryRun(t *testing.T) {
	var out bytes.Buffer
	e := executor.New(nil, executor.Options{
		Rewriter: rewriter.New(rewriter.DefaultOptions()),
		DryRun:   &out,
	})

	batch := batchOf(file("001_policies.sql", "CREATE POLICY p ON t USING (true);\n"))
	batch.Warnings = []string{"file not found: 002_missing.sql"}

	report, err := e.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, executor.StatusNotAttempted, report.Results[0].Status)
	assert.Equal(t, 1, report.Results[0].Rewrites)
	assert.Equal(t, []string{"file not found: 002_missing.sql"}, report.Warnings)

	assert.Contains(t, out.String(), "-- remigrate (dry-run)\n")
	assert.Contains(t, out.String(), "-- Rewrite pass: v"+rewriter.Version+"\n")
	assert.Contains(t, out.String(), "-- 001_policies.sql (1 statements rewritten)\n")
	assert.Contains(t, out.String(), "DO $migration$ BEGIN\n")

	var printed bytes.Buffer
	report.Print(&printed, false)
	assert.Contains(t, printed.String(), "WARNING: file not found: 002_missing.sql\n")
	assert.Contains(t, printed.String(), "DRY-RUN: 001_policies.sql (1 statements rewritten)\n")
}

func TestRun_ConnectError(t *testing.T) {
	batch := batchOf(file("001_a.sql", "SELECT 1;"))

	report, err := executor.New(nil, executor.Options{}).Run(context.Background(), batch)
	require.Error(t, err)
	assert.True(t, executor.IsConnectErr(err))
	require.NotNil(t, report)
	assert.Equal(t, executor.StatusNotAttempted, report.Results[0].Status)

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = executor.New(db, executor.Options{}).Run(context.Background(), batch)
	require.Error(t, err)
	assert.True(t, executor.IsConnectErr(err))
}

func TestRun_WarnsAboutTransactionControl(t *testing.T) {
	var out bytes.Buffer
	e := executor.New(nil, executor.Options{DryRun: &out})

	report, err := e.Run(context.Background(), batchOf(
		file("001_tx.sql", "BEGIN;\nCREATE TABLE a (id int);\nCOMMIT;\n"),
		file("002_atomic.sql", "CREATE FUNCTION f() RETURNS int LANGUAGE sql BEGIN ATOMIC SELECT 1; END;\n"),
	))
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "001_tx.sql")
}
