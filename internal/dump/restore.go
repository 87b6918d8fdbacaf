package dump

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// RestoreFrom replays a dump file into the bound database. The native psql
// client is preferred; without it the engine splits the file into
// statements and executes them itself, continuing past individual failures.
// The file is deleted on success and kept for inspection on failure.
func (e *Engine) RestoreFrom(path string) (bool, string) {
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Sprintf("dump file unreadable: %v", err)
	}

	ok, detail, ran := e.nativeRestore(path)
	if !ran {
		ok, detail = e.streamRestore(path)
	}

	if ok {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("restored but could not remove dump file",
				zap.String("path", path), zap.Error(err))
		}
	}
	return ok, detail
}

// nativeRestore returns ran=false when psql could not be started at all, in
// which case the caller falls back to the streaming path.
func (e *Engine) nativeRestore(path string) (ok bool, detail string, ran bool) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.psql, "--set", "ON_ERROR_STOP=0", "--file", path, e.connURL)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return false, "", false
		}
		return false, outputTail(out), true
	}
	return true, "", true
}

func (e *Engine) streamRestore(path string) (bool, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err.Error()
	}

	var failed []string
	stmts := SplitStatements(string(data))
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", statementHead(stmt), err))
		}
	}

	if len(failed) > 0 {
		e.logger.Warn("restore completed with failed statements",
			zap.Int("total", len(stmts)), zap.Int("failed", len(failed)))
		return false, fmt.Sprintf("%d of %d statements failed; first: %s",
			len(failed), len(stmts), failed[0])
	}
	return true, ""
}

func statementHead(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if len(stmt) > 60 {
		return stmt[:60] + "..."
	}
	return stmt
}

func outputTail(out []byte) string {
	const tail = 500
	s := strings.TrimSpace(string(out))
	if len(s) > tail {
		return "..." + s[len(s)-tail:]
	}
	return s
}
