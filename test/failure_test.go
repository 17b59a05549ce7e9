package test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/remigrate/pkg/executor"
	"github.com/pthm/remigrate/test/testutil"
)

var haltFiles = map[string]string{
	"009_ledger.sql": `CREATE TABLE IF NOT EXISTS ledger (
    id bigint PRIMARY KEY,
    account_id bigint NOT NULL,
    amount numeric(12,2) NOT NULL
);
`,
	"010_ledger_index.sql": `INSERT INTO ledger (id, account_id, amount) VALUES (1, 10, 5.00) ON CONFLICT (id) DO NOTHING;
CREATE INDEX idx_ledger_account ON ledger (account_id);
`,
	"011_ledger_backfill.sql": `INSERT INTO ledger (id, account_id, amount) VALUES (2, 10, 7.50) ON CONFLICT (id) DO NOTHING;
UPDATE ledger SET amount = amount * 2 WHERE memo IS NULL;
`,
	"012_ledger_policy.sql": `CREATE POLICY ledger_read ON ledger FOR SELECT USING (true);
`,
}

func TestApply_HaltsAtFirstFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.EmptyDB(t)
	dir := testutil.MigrationsDir(t, haltFiles)
	failedDir := t.TempDir()

	report, err := applyDir(t, db.DB, dir, withRewrite(executor.Options{FailedDir: failedDir}))
	require.Error(t, err)
	assert.True(t, executor.IsMigrationFailedErr(err))

	statuses := map[string]executor.Status{}
	for _, r := range report.Results {
		statuses[r.File] = r.Status
	}
	assert.Equal(t, map[string]executor.Status{
		"009_ledger.sql":          executor.StatusSuccess,
		"010_ledger_index.sql":    executor.StatusSuccess,
		"011_ledger_backfill.sql": executor.StatusFailed,
		"012_ledger_policy.sql":   executor.StatusNotAttempted,
	}, statuses)

	failed := report.Failed()
	require.NotNil(t, failed)
	assert.Contains(t, failed.Message, `column "memo" does not exist (SQLSTATE 42703)`)
	assert.Contains(t, failed.Message, "LINE 2: UPDATE ledger SET amount = amount * 2 WHERE memo IS NULL;")

	saved, err := os.ReadFile(filepath.Join(failedDir, "failed_011_ledger_backfill.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "WHERE memo IS NULL")

	// 009 and 010 are committed; 011 rolled back as a whole; 012 never ran.
	assert.Equal(t, 1, db.Count(t, "SELECT count(*) FROM ledger"))
	assert.True(t, db.Exists(t, "SELECT 1 FROM pg_indexes WHERE indexname = 'idx_ledger_account'"))
	assert.False(t, db.Exists(t, "SELECT 1 FROM pg_policies WHERE policyname = 'ledger_read'"))

	// Fix 011 and re-run the whole batch: 009 and 010 are no-ops.
	fixed := testutil.MigrationsDir(t, haltFiles)
	require.NoError(t, os.WriteFile(filepath.Join(fixed, "011_ledger_backfill.sql"),
		[]byte("INSERT INTO ledger (id, account_id, amount) VALUES (2, 10, 7.50) ON CONFLICT (id) DO NOTHING;\n"), 0o644))

	report, err = applyDir(t, db.DB, fixed, withRewrite(executor.Options{}))
	require.NoError(t, err)
	succeeded, _, _ := report.Counts()
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 2, db.Count(t, "SELECT count(*) FROM ledger"))
	assert.True(t, db.Exists(t, "SELECT 1 FROM pg_policies WHERE policyname = 'ledger_read'"))
}

func TestApply_LibPQErrorsAreDescribed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := testutil.EmptyDB(t)
	db, err := sql.Open("postgres", tdb.DSN)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	dir := testutil.MigrationsDir(t, map[string]string{
		"001_bad.sql": "CREATE TABLE t (id int);\nSELECT missing FROM t;\n",
	})

	report, err := applyDir(t, db, dir, executor.Options{})
	require.Error(t, err)
	assert.Equal(t, "42703", executor.SQLState(err))
	assert.Contains(t, report.Failed().Message, "LINE 2: SELECT missing FROM t;")
	assert.False(t, tdb.Exists(t, "SELECT 1 FROM pg_tables WHERE tablename = 't'"))
}

func TestApply_ConnectionFailure(t *testing.T) {
	// Nothing listens on port 1.
	db, err := sql.Open("pgx", "postgres://remigrate@127.0.0.1:1/remigrate?sslmode=disable&connect_timeout=2")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	dir := testutil.MigrationsDir(t, map[string]string{"001_a.sql": "SELECT 1;"})
	report, err := applyDir(t, db, dir, executor.Options{})
	require.Error(t, err)
	assert.True(t, executor.IsConnectErr(err))
	assert.Equal(t, executor.StatusNotAttempted, report.Results[0].Status)
}
