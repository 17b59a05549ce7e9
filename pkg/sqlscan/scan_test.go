package sqlscan_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/remigrate/pkg/sqlscan"
)

func bodies(src string) []string {
	var out []string
	for _, st := range sqlscan.Split(src) {
		if st.Empty() {
			continue
		}
		out = append(out, st.SQL())
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "simple statements",
			src:  "CREATE TABLE a (id int);\nCREATE TABLE b (id int);\n",
			want: []string{"CREATE TABLE a (id int);", "CREATE TABLE b (id int);"},
		},
		{
			name: "semicolon inside single quotes",
			src:  "INSERT INTO t VALUES ('a;b');\nSELECT 1;",
			want: []string{"INSERT INTO t VALUES ('a;b');", "SELECT 1;"},
		},
		{
			name: "doubled quote escape",
			src:  "SELECT 'it''s; fine';SELECT 2;",
			want: []string{"SELECT 'it''s; fine';", "SELECT 2;"},
		},
		{
			name: "backslash escape in E string",
			src:  `SELECT E'a\';b';SELECT 2;`,
			want: []string{`SELECT E'a\';b';`, "SELECT 2;"},
		},
		{
			name: "backslash is literal in standard string",
			src:  `SELECT 'a\';SELECT 2;`,
			want: []string{`SELECT 'a\';`, "SELECT 2;"},
		},
		{
			name: "semicolon inside quoted identifier",
			src:  `CREATE TABLE "a;b" (id int);SELECT 1;`,
			want: []string{`CREATE TABLE "a;b" (id int);`, "SELECT 1;"},
		},
		{
			name: "semicolon inside line comment",
			src:  "SELECT 1; -- trailing; comment\nSELECT 2;",
			want: []string{"SELECT 1;", "SELECT 2;"},
		},
		{
			name: "nested block comments",
			src:  "/* outer /* inner; */ still; */ SELECT 1;",
			want: []string{"SELECT 1;"},
		},
		{
			name: "dollar quoted function body",
			src: `CREATE FUNCTION f() RETURNS trigger AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;
SELECT 1;`,
			want: []string{`CREATE FUNCTION f() RETURNS trigger AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;`, "SELECT 1;"},
		},
		{
			name: "tagged dollar quote containing plain dollars",
			src:  "DO $body$ BEGIN PERFORM $$x;y$$; END $body$;SELECT 1;",
			want: []string{"DO $body$ BEGIN PERFORM $$x;y$$; END $body$;", "SELECT 1;"},
		},
		{
			name: "positional parameters are not quotes",
			src:  "PREPARE q AS SELECT $1, $2;SELECT 1;",
			want: []string{"PREPARE q AS SELECT $1, $2;", "SELECT 1;"},
		},
		{
			name: "dollar inside identifier",
			src:  "SELECT a$b FROM t;SELECT 1;",
			want: []string{"SELECT a$b FROM t;", "SELECT 1;"},
		},
		{
			name: "begin atomic body",
			src: `CREATE FUNCTION add(a int, b int) RETURNS int
LANGUAGE sql
BEGIN ATOMIC
    SELECT CASE WHEN a > 0 THEN a ELSE 0 END + b;
END;
SELECT 1;`,
			want: []string{`CREATE FUNCTION add(a int, b int) RETURNS int
LANGUAGE sql
BEGIN ATOMIC
    SELECT CASE WHEN a > 0 THEN a ELSE 0 END + b;
END;`, "SELECT 1;"},
		},
		{
			name: "unterminated final statement",
			src:  "SELECT 1;\nSELECT 2",
			want: []string{"SELECT 1;", "SELECT 2"},
		},
		{
			name: "only comments",
			src:  "-- nothing here\n/* at all */\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bodies(tt.src))
		})
	}
}

func TestSplit_ReassemblesInput(t *testing.T) {
	inputs := []string{
		"",
		"SELECT 1;",
		"  -- leading\nSELECT 1;  \n\n/* c */ SELECT 'x;y';\n-- trailing\n",
		"CREATE FUNCTION f() RETURNS void AS $fn$ SELECT 1; $fn$ LANGUAGE sql;\nSELECT 2",
		"SELECT 'unterminated;",
		"SELECT $$unterminated;",
	}

	for _, src := range inputs {
		var sb strings.Builder
		for _, st := range sqlscan.Split(src) {
			sb.WriteString(st.Text())
		}
		assert.Equal(t, src, sb.String())
	}
}

func TestSplit_Offsets(t *testing.T) {
	src := "-- header\nCREATE TABLE a (id int);\n  SELECT 1;"
	stmts := sqlscan.Split(src)
	require.Len(t, stmts, 2)

	first := stmts[0]
	assert.Equal(t, 0, first.Start)
	assert.Equal(t, "-- header\n", first.Leading())
	assert.Equal(t, "CREATE TABLE a (id int);", first.SQL())
	assert.True(t, first.Terminated)
	assert.Equal(t, 2, first.Line())

	second := stmts[1]
	assert.Equal(t, first.End, second.Start)
	assert.Equal(t, "\n  ", second.Leading())
	assert.Equal(t, 3, second.Line())
}

func TestSplit_UnterminatedRemainder(t *testing.T) {
	stmts := sqlscan.Split("SELECT 1;\n-- done\n")
	require.Len(t, stmts, 2)
	assert.False(t, stmts[1].Terminated)
	assert.True(t, stmts[1].Empty())
	assert.Equal(t, "\n-- done\n", stmts[1].Leading())
}

func TestDollarTags(t *testing.T) {
	tags := sqlscan.DollarTags("DO $migration$ BEGIN PERFORM $$x$$; END $migration$; SELECT $1;")
	assert.ElementsMatch(t, []string{"migration", ""}, tags)
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"-- Policies: begin\n", "\n"},
		{"BEGIN -- open\n", "BEGIN \n"},
		{"BEGIN /* nested /* */ */", "BEGIN  "},
		{"SELECT '-- not a comment' /* x */;", "SELECT '-- not a comment'  ;"},
		{`"a--b" -- trailing`, `"a--b" `},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlscan.StripComments(tt.in), tt.in)
	}
}
