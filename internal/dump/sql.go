package dump

import (
	"fmt"
	"strings"
	"time"
)

// dump tool output that signals a broken run even when a file was produced
var errorMarkers = []string{
	"pg_dump: error",
	"pg_dump: [archiver]",
	"FATAL:",
	"could not connect",
	"authentication failed",
	"no password supplied",
}

// LooksLikeToolError reports whether the head of a dump file contains a
// known tool failure marker instead of SQL.
func LooksLikeToolError(head []byte) bool {
	s := string(head)
	for _, m := range errorMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// FileName builds the unique dump name: <prefix>_<timestamp>.sql.
func FileName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%d.sql", prefix, now.Unix())
}

// SplitStatements cuts a dump file into executable statements. Statements
// end with a ';' at end of line; comment-only and blank segments are
// dropped. Good enough for files this engine itself produces and for plain
// pg_dump output.
func SplitStatements(script string) []string {
	var stmts []string
	var buf strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 {
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(buf.String())
			buf.Reset()
			if stmt != "" && stmt != ";" {
				stmts = append(stmts, stmt)
			}
		}
	}

	if tail := strings.TrimSpace(buf.String()); tail != "" && tail != ";" {
		stmts = append(stmts, tail)
	}
	return stmts
}

// QuoteLiteral renders one scanned column value as a SQL literal. Every
// non-NULL value is emitted as an escaped string literal; postgres coerces
// it back to the column type on restore.
func QuoteLiteral(v interface{}) string {
	if v == nil {
		return "NULL"
	}

	var s string
	switch t := v.(type) {
	case []byte:
		s = string(t)
	case string:
		s = t
	case time.Time:
		s = t.UTC().Format("2006-01-02 15:04:05.999999-07")
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		s = fmt.Sprintf("%v", t)
	}

	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
