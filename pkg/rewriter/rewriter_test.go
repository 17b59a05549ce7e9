package rewriter_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/remigrate/pkg/rewriter"
	"github.com/pthm/remigrate/pkg/sqlscan"
)

const refundsMigration = `-- 009: refunds
CREATE TABLE IF NOT EXISTS refunds (
    id uuid PRIMARY KEY,
    user_id uuid NOT NULL,
    note text DEFAULT 'n/a; pending'
);

ALTER TABLE refunds ENABLE ROW LEVEL SECURITY;

CREATE POLICY "Users can view own refunds" ON refunds
    FOR SELECT USING (auth.uid() = user_id);

CREATE INDEX idx_refunds_user ON refunds (user_id);

CREATE OR REPLACE FUNCTION touch_refund() RETURNS trigger AS $$
BEGIN
    NEW.note = coalesce(NEW.note, 'x;y');
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER refunds_touch BEFORE UPDATE ON refunds
    FOR EACH ROW EXECUTE FUNCTION touch_refund();

COMMENT ON TABLE refunds IS 'Refund requests';

INSERT INTO refunds (id, user_id) VALUES (gen_random_uuid(), gen_random_uuid());
`

func TestRewrite_Policy(t *testing.T) {
	res := rewriter.Rewrite(`CREATE POLICY "p" ON t USING (true);` + "\n")

	want := `DO $migration$ BEGIN
    BEGIN
        CREATE POLICY "p" ON t USING (true);
    EXCEPTION
        WHEN duplicate_object THEN NULL;
        WHEN insufficient_privilege THEN NULL;
    END;
END $migration$;
`
	assert.Equal(t, want, res.SQL)
	assert.True(t, res.Changed)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, rewriter.Change{
		Kind:   sqlscan.KindPolicy,
		Action: rewriter.ActionWrapped,
		Line:   1,
		Object: `"p" ON t`,
	}, res.Changes[0])
}

func TestRewrite_KindConditions(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wrapped bool
		extra   []string
	}{
		{"trigger", "CREATE TRIGGER trg BEFORE UPDATE ON t FOR EACH ROW EXECUTE FUNCTION f();", true, nil},
		{"index", "CREATE INDEX idx ON t (a);", true, []string{"duplicate_table"}},
		{"unique index", "CREATE UNIQUE INDEX idx ON t (a);", true, []string{"duplicate_table"}},
		{"concurrent index", "CREATE INDEX CONCURRENTLY idx ON t (a);", false, nil},
		{"rls", "ALTER TABLE t ENABLE ROW LEVEL SECURITY;", true, nil},
		{"function", "CREATE FUNCTION f() RETURNS int AS $$ SELECT 1 $$ LANGUAGE sql;", true, []string{"duplicate_function"}},
		{"type", "CREATE TYPE mood AS ENUM ('ok');", true, nil},
		{"comment", "COMMENT ON TABLE t IS 'x';", true, nil},
		{"drop trigger", "DROP TRIGGER IF EXISTS trg ON t;", true, []string{"undefined_table", "undefined_object"}},
		{"drop policy", "DROP POLICY IF EXISTS p ON t;", true, []string{"undefined_table", "undefined_object"}},
		{"table", "CREATE TABLE t (id int);", false, nil},
		{"insert", "INSERT INTO t VALUES (1);", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rewriter.Rewrite(tt.sql)
			if !tt.wrapped {
				assert.Equal(t, tt.sql, res.SQL)
				assert.False(t, res.Changed)
				return
			}
			assert.True(t, strings.HasPrefix(res.SQL, "DO $migration$ BEGIN\n"))
			assert.Contains(t, res.SQL, "        "+tt.sql+"\n")
			assert.Contains(t, res.SQL, "WHEN duplicate_object THEN NULL;")
			assert.Contains(t, res.SQL, "WHEN insufficient_privilege THEN NULL;")
			for _, cond := range tt.extra {
				assert.Contains(t, res.SQL, "WHEN "+cond+" THEN NULL;")
			}
		})
	}
}

func TestRewrite_FixedPoint(t *testing.T) {
	inputs := []string{
		refundsMigration,
		"DROP POLICY IF EXISTS p ON t;\nCREATE POLICY p ON t USING (true);\n",
		"ALTER TABLE t OWNER TO postgres; SELECT 1;\n",
		"CREATE POLICY p ON t USING (true)",
		"CREATE FUNCTION f() RETURNS text AS $migration$ SELECT 'x' $migration$ LANGUAGE sql;",
		legacyGuarded,
	}

	for _, in := range inputs {
		once := rewriter.Rewrite(in)
		twice := rewriter.Rewrite(once.SQL)
		assert.Equal(t, once.SQL, twice.SQL)
		assert.False(t, twice.Changed, "second pass must not change anything:\n%s", once.SQL)
	}
}

func TestRewrite_PreservesUntouchedText(t *testing.T) {
	res := rewriter.Rewrite(refundsMigration)

	// Everything outside the guards comes back unchanged.
	restored := rewriter.Unwrap(res.SQL)
	assert.Equal(t, refundsMigration, restored.SQL)

	assert.Equal(t, 6, res.Count(rewriter.ActionWrapped))
	assert.Contains(t, res.SQL, "CREATE TABLE IF NOT EXISTS refunds (\n    id uuid PRIMARY KEY,")
	assert.Contains(t, res.SQL, "\nINSERT INTO refunds (id, user_id) VALUES (gen_random_uuid(), gen_random_uuid());\n")
}

func TestRewrite_FunctionBodyKeepsInnerDollarQuotes(t *testing.T) {
	res := rewriter.Rewrite(refundsMigration)

	var dos int
	for _, st := range sqlscan.Split(res.SQL) {
		if !st.Empty() && sqlscan.Classify(st) == sqlscan.KindDo {
			dos++
		}
	}
	assert.Equal(t, 6, dos)
	assert.Contains(t, res.SQL, "        CREATE OR REPLACE FUNCTION touch_refund() RETURNS trigger AS $$\nBEGIN\n")
	assert.Contains(t, res.SQL, "END;\n$$ LANGUAGE plpgsql;\n    EXCEPTION\n")
}

func TestRewrite_TagCollision(t *testing.T) {
	in := "CREATE FUNCTION f() RETURNS text AS $migration$ SELECT 'x' $migration$ LANGUAGE sql;"
	res := rewriter.Rewrite(in)

	assert.Equal(t, "migration_1", res.Tag)
	assert.True(t, strings.HasPrefix(res.SQL, "DO $migration_1$ BEGIN\n"))
	assert.True(t, strings.HasSuffix(res.SQL, "END $migration_1$;"))

	stmts := sqlscan.Split(res.SQL)
	require.Len(t, stmts, 1)
	assert.Equal(t, sqlscan.KindDo, sqlscan.Classify(stmts[0]))
}

func TestRewrite_TagCollisionSkipsUsedNumbers(t *testing.T) {
	in := "CREATE FUNCTION f() RETURNS text AS $migration$ SELECT '$migration_1$' $migration$ LANGUAGE sql;"
	res := rewriter.Rewrite(in)
	assert.Equal(t, "migration_2", res.Tag)
}

func TestRewrite_ExistingGuardUntouched(t *testing.T) {
	in := rewriter.Rewrite("CREATE TYPE mood AS ENUM ('ok');\n").SQL
	res := rewriter.Rewrite(in)

	assert.Equal(t, in, res.SQL)
	assert.False(t, res.Changed)
	assert.Equal(t, rewriter.Markers{Canonical: 1}, res.Markers)
}

func TestRewrite_OtherDoBlocksUntouched(t *testing.T) {
	in := "DO $$ BEGIN ALTER TABLE t ENABLE ROW LEVEL SECURITY; EXCEPTION WHEN others THEN NULL; END $$;\n"
	res := rewriter.Rewrite(in)

	assert.Equal(t, in, res.SQL)
	assert.Equal(t, rewriter.Markers{Other: 1}, res.Markers)
}

const legacyGuarded = `DO $$ BEGIN
    BEGIN
        CREATE OR REPLACE FUNCTION f() RETURNS trigger AS $$
        BEGIN
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;
    EXCEPTION
        WHEN duplicate_object THEN NULL;
    END;
END $$;
`

func TestRewrite_NormalizesLegacyMarkers(t *testing.T) {
	res := rewriter.Rewrite(legacyGuarded)

	want := strings.Replace(legacyGuarded, "DO $$ BEGIN", "DO $migration$ BEGIN", 1)
	want = strings.Replace(want, "END $$;", "END $migration$;", 1)
	assert.Equal(t, want, res.SQL)
	assert.Equal(t, rewriter.Markers{Legacy: 1}, res.Markers)
	require.NotEmpty(t, res.Changes)
	assert.Equal(t, rewriter.ActionNormalized, res.Changes[0].Action)

	stmts := sqlscan.Split(res.SQL)
	require.Len(t, stmts, 2)
	assert.Equal(t, sqlscan.KindDo, sqlscan.Classify(stmts[0]))
	assert.True(t, stmts[1].Empty())
}

func TestRewrite_CommentsOutOwnerChanges(t *testing.T) {
	in := "ALTER TABLE refunds OWNER TO postgres; SELECT 1;\nALTER FUNCTION f()\n    OWNER TO admin;\n"
	res := rewriter.Rewrite(in)

	want := "-- ALTER TABLE refunds OWNER TO postgres; -- skipped owner change\n SELECT 1;\n" +
		"-- ALTER FUNCTION f()\n--     OWNER TO admin; -- skipped owner change\n"
	assert.Equal(t, want, res.SQL)
	assert.Equal(t, 2, res.Count(rewriter.ActionCommented))
}

func TestRewrite_RenamesOfOwnerColumnsAreKept(t *testing.T) {
	for _, in := range []string{
		"ALTER TABLE documents RENAME COLUMN owner TO owner_id;\n",
		"ALTER TABLE documents RENAME owner TO owner_id;\n",
		"ALTER TABLE IF EXISTS ONLY documents RENAME COLUMN \"owner\" TO owned_by;\n",
	} {
		res := rewriter.Rewrite(in)
		assert.Equal(t, in, res.SQL, in)
		assert.Zero(t, res.Count(rewriter.ActionCommented), in)
	}
}

func TestRewrite_SectionCommentEndingInBegin(t *testing.T) {
	in := "-- Policies: begin\nCREATE POLICY p ON t USING (true);\n"
	res := rewriter.Rewrite(in)

	assert.Equal(t, 1, res.Count(rewriter.ActionWrapped))
	assert.Zero(t, res.Count(rewriter.ActionGuarded))
	assert.Contains(t, res.SQL, "-- Policies: begin\nDO $migration$ BEGIN\n")
}

func TestRewrite_Grants(t *testing.T) {
	in := "GRANT SELECT ON refunds TO authenticated;\n"

	assert.Equal(t, in, rewriter.Rewrite(in).SQL)

	opts := rewriter.DefaultOptions()
	opts.SkipGrants = true
	res := rewriter.New(opts).Rewrite(in)
	assert.Equal(t, "-- GRANT SELECT ON refunds TO authenticated; -- skipped grant\n", res.SQL)
}

func TestRewrite_PairedDrops(t *testing.T) {
	in := "CREATE TABLE t (id int);\n    DROP POLICY IF EXISTS \"p\" ON public.t;\n    CREATE POLICY \"p\" ON t USING (true);\n"
	res := rewriter.Rewrite(in)

	assert.NotContains(t, res.SQL, "DROP POLICY")
	assert.Contains(t, res.SQL, "CREATE TABLE t (id int);\n    DO $migration$ BEGIN\n")
	assert.Equal(t, 1, res.Count(rewriter.ActionStripped))
	assert.Equal(t, 1, res.Count(rewriter.ActionWrapped))
}

func TestRewrite_PairedDropBeforeExistingGuard(t *testing.T) {
	guarded := rewriter.Rewrite("CREATE TRIGGER trg BEFORE UPDATE ON t FOR EACH ROW EXECUTE FUNCTION f();").SQL
	in := "DROP TRIGGER IF EXISTS trg ON t;\n" + guarded

	res := rewriter.Rewrite(in)
	assert.Equal(t, guarded, res.SQL)
}

func TestRewrite_UnpairedDropIsWrapped(t *testing.T) {
	in := "DROP POLICY IF EXISTS old ON t;\nCREATE POLICY fresh ON t USING (true);\n"
	res := rewriter.Rewrite(in)

	assert.Equal(t, 2, res.Count(rewriter.ActionWrapped))
	assert.Contains(t, res.SQL, "        DROP POLICY IF EXISTS old ON t;\n")

	opts := rewriter.DefaultOptions()
	opts.StripPairedDrops = false
	res = rewriter.New(opts).Rewrite("DROP POLICY IF EXISTS p ON t;\nCREATE POLICY p ON t USING (true);\n")
	assert.Equal(t, 2, res.Count(rewriter.ActionWrapped))
}

func TestRewrite_UnterminatedFinalStatement(t *testing.T) {
	res := rewriter.Rewrite("CREATE TYPE mood AS ENUM ('ok')\n")
	assert.Contains(t, res.SQL, "        CREATE TYPE mood AS ENUM ('ok');\n")
	assert.True(t, strings.HasSuffix(res.SQL, "END $migration$;\n"))
}

func TestRewrite_Notices(t *testing.T) {
	opts := rewriter.DefaultOptions()
	opts.Notices = true
	res := rewriter.New(opts).Rewrite("CREATE TYPE mood AS ENUM ('ok');")

	assert.Contains(t, res.SQL, "WHEN duplicate_object THEN RAISE NOTICE 'remigrate: skipped type: %', SQLERRM;")
	assert.Equal(t, "CREATE TYPE mood AS ENUM ('ok');", rewriter.Unwrap(res.SQL).SQL)
}

func TestRewrite_CustomGuards(t *testing.T) {
	opts := rewriter.DefaultOptions()
	opts.Guards = []rewriter.Guard{{Kind: sqlscan.KindPolicy, Conditions: []string{"duplicate_object"}}}
	r := rewriter.New(opts)

	assert.False(t, r.Rewrite("CREATE TYPE mood AS ENUM ('ok');").Changed)
	res := r.Rewrite("CREATE POLICY p ON t USING (true);")
	assert.NotContains(t, res.SQL, "insufficient_privilege")
}

func TestUnwrap(t *testing.T) {
	res := rewriter.Unwrap(legacyGuarded)
	assert.Equal(t, strings.Join([]string{
		"CREATE OR REPLACE FUNCTION f() RETURNS trigger AS $$",
		"        BEGIN",
		"            RETURN NEW;",
		"        END;",
		"        $$ LANGUAGE plpgsql;",
		"",
	}, "\n"), res.SQL)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, sqlscan.KindFunction, res.Changes[0].Kind)
	assert.Equal(t, rewriter.ActionUnwrapped, res.Changes[0].Action)

	again := rewriter.Unwrap(res.SQL)
	assert.False(t, again.Changed)
}

func TestUnwrap_LeavesForeignDoBlocks(t *testing.T) {
	in := "DO $migration$ BEGIN PERFORM 1; END $migration$;\nDO $x$ BEGIN BEGIN PERFORM 1; EXCEPTION WHEN others THEN NULL; END; END $x$;\n"
	res := rewriter.Unwrap(in)
	assert.Equal(t, in, res.SQL)
	assert.Empty(t, res.Changes)
}

func TestDetectMarkers(t *testing.T) {
	canonical := rewriter.Rewrite("CREATE TYPE a AS ENUM ('x');\n").SQL
	src := canonical + legacyGuarded + "DO $$ BEGIN PERFORM 1; END $$;\n"

	assert.Equal(t, rewriter.Markers{Canonical: 1, Legacy: 1, Other: 1}, rewriter.DetectMarkers(src))
	assert.Equal(t, 3, rewriter.DetectMarkers(src).Total())
}
