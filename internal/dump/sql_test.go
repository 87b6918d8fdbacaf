package dump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		expected []string
	}{
		{
			name:     "empty input",
			script:   "",
			expected: nil,
		},
		{
			name:     "comments and blanks dropped",
			script:   "-- header\n\n-- another\n",
			expected: nil,
		},
		{
			name:   "single statement",
			script: "CREATE TABLE t (id BIGINT);\n",
			expected: []string{
				"CREATE TABLE t (id BIGINT);",
			},
		},
		{
			name:   "multiline statement kept whole",
			script: "CREATE TABLE t (\n    id BIGINT,\n    name TEXT\n);\nINSERT INTO t VALUES (1, 'x');\n",
			expected: []string{
				"CREATE TABLE t (\n    id BIGINT,\n    name TEXT\n);",
				"INSERT INTO t VALUES (1, 'x');",
			},
		},
		{
			name:   "comment between statements",
			script: "INSERT INTO t VALUES (1);\n-- data for table u\nINSERT INTO u VALUES (2);\n",
			expected: []string{
				"INSERT INTO t VALUES (1);",
				"INSERT INTO u VALUES (2);",
			},
		},
		{
			name:   "trailing statement without terminator still executes",
			script: "INSERT INTO t VALUES (1)",
			expected: []string{
				"INSERT INTO t VALUES (1)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitStatements(tt.script))
		})
	}
}

func TestLooksLikeToolError(t *testing.T) {
	assert.False(t, LooksLikeToolError([]byte("-- PostgreSQL database dump\nCREATE TABLE x ();")))
	assert.True(t, LooksLikeToolError([]byte("pg_dump: error: connection to server failed")))
	assert.True(t, LooksLikeToolError([]byte("FATAL:  password authentication failed for user")))
	assert.True(t, LooksLikeToolError([]byte("psql: could not connect to server")))
}

func TestFileName(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, "backup_1700000000.sql", FileName("backup", now))
	assert.Equal(t, "bot_5_1700000000.sql", FileName("bot_5", now))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "NULL", QuoteLiteral(nil))
	assert.Equal(t, "'hello'", QuoteLiteral("hello"))
	assert.Equal(t, "'it''s'", QuoteLiteral("it's"))
	assert.Equal(t, "'42'", QuoteLiteral([]byte("42")))
	assert.Equal(t, "'7'", QuoteLiteral(int64(7)))
	assert.Equal(t, "TRUE", QuoteLiteral(true))
	assert.Equal(t, "FALSE", QuoteLiteral(false))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "'2024-05-01 12:00:00+00'", QuoteLiteral(ts))
}
