// Package migrations holds the embedded schema for every storage backend.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS embeds the trade, snapshot, audit and agent state schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the market data and backtest result schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// SqliteFS embeds the local agent state schema.
//
//go:embed sqlite/*.sql
var SqliteFS embed.FS

// Script is one migration file.
type Script struct {
	Name string
	SQL  string
}

// Scripts returns the non-empty .sql files under dir in lexical order.
func Scripts(fsys fs.FS, dir string) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		scripts = append(scripts, Script{Name: name, SQL: string(data)})
	}
	return scripts, nil
}

// SplitStatements splits a script into statements on semicolons after
// dropping blank and "--" comment lines. It does not understand quoting, so
// scripts run through it must not put semicolons inside string literals;
// ValidateNoSemicolonInStrings enforces that.
func SplitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// ValidateNoSemicolonInStrings rejects scripts with a semicolon inside a
// single-quoted literal.
func ValidateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon inside string literal at offset %d", i)
		}
	}
	return nil
}

// Statements returns every statement of every script under dir, validated
// and split, in execution order.
func Statements(fsys fs.FS, dir string) ([]string, error) {
	scripts, err := Scripts(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range scripts {
		if err := ValidateNoSemicolonInStrings(s.SQL); err != nil {
			return nil, fmt.Errorf("validate migration %s: %w", s.Name, err)
		}
		out = append(out, SplitStatements(s.SQL)...)
	}
	return out, nil
}
