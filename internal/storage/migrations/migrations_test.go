package migrations

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `
-- header comment
CREATE TABLE a (x Int32);

CREATE TABLE b (
    y String
);
`
	stmts := SplitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x Int32)", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b ("))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, ValidateNoSemicolonInStrings(`SELECT 'a''b'; SELECT 1;`))
	assert.Error(t, ValidateNoSemicolonInStrings(`SELECT 'a;b';`))
}

func TestScripts_Order(t *testing.T) {
	fsys := fstest.MapFS{
		"x/002_b.sql":  {Data: []byte("SELECT 2;")},
		"x/001_a.sql":  {Data: []byte("SELECT 1;")},
		"x/003_c.sql":  {Data: []byte("   \n")},
		"x/readme.txt": {Data: []byte("ignored")},
	}

	scripts, err := Scripts(fsys, "x")
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "001_a.sql", scripts[0].Name)
	assert.Equal(t, "002_b.sql", scripts[1].Name)
}

func TestEmbeddedSchemas(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stmts  func() ([]string, error)
		tables []string
	}{
		{"clickhouse", func() ([]string, error) { return Statements(ClickhouseFS, "clickhouse") }, []string{"market_data", "equity_samples", "run_summaries"}},
		{"postgres", func() ([]string, error) { return Statements(PostgresFS, "postgres") }, []string{"trades", "position_snapshots", "audit_logs", "agent_state"}},
		{"sqlite", func() ([]string, error) { return Statements(SqliteFS, "sqlite") }, []string{"agent_state"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stmts, err := tc.stmts()
			require.NoError(t, err)
			joined := strings.Join(stmts, "\n")
			for _, table := range tc.tables {
				assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS "+table)
			}
		})
	}
}
