package executor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrConnect is returned when the batch connection cannot be
	// established. No migration has run when it is returned.
	ErrConnect = errors.New("database connection failed")
	// ErrMigrationFailed is returned when a migration file fails. Files
	// before it are committed; it and every later file are not.
	ErrMigrationFailed = errors.New("migration failed")
)

// IsConnectErr returns true if err is or wraps ErrConnect.
func IsConnectErr(err error) bool { return errors.Is(err, ErrConnect) }

// IsMigrationFailedErr returns true if err is or wraps ErrMigrationFailed.
func IsMigrationFailedErr(err error) bool { return errors.Is(err, ErrMigrationFailed) }

// dbError is the driver-independent view of a server error.
type dbError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
	Where    string
	Position int // 1-based character offset into the query, 0 if unknown
}

func asDBError(err error) (*dbError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &dbError{
			Severity: pgErr.Severity,
			Code:     pgErr.Code,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
			Where:    pgErr.Where,
			Position: int(pgErr.Position),
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		pos, _ := strconv.Atoi(pqErr.Position)
		return &dbError{
			Severity: pqErr.Severity,
			Code:     string(pqErr.Code),
			Message:  pqErr.Message,
			Detail:   pqErr.Detail,
			Hint:     pqErr.Hint,
			Where:    pqErr.Where,
			Position: pos,
		}, true
	}
	return nil, false
}

// DescribeError renders err for the report. Server errors carry their
// SQLSTATE and the line of query the error position points at.
func DescribeError(err error, query string) string {
	e, ok := asDBError(err)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	severity := e.Severity
	if severity == "" {
		severity = "ERROR"
	}
	fmt.Fprintf(&sb, "%s: %s (SQLSTATE %s)", severity, e.Message, e.Code)
	if e.Position > 0 {
		if line := lineOfPosition(query, e.Position); line > 0 {
			fmt.Fprintf(&sb, "\nLINE %d: %s", line, strings.TrimSpace(lineText(query, line)))
		}
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, "\nDETAIL: %s", e.Detail)
	}
	if e.Hint != "" {
		fmt.Fprintf(&sb, "\nHINT: %s", e.Hint)
	}
	if e.Where != "" {
		fmt.Fprintf(&sb, "\nCONTEXT: %s", e.Where)
	}
	return sb.String()
}

// SQLState returns the SQLSTATE code of a server error, or "".
func SQLState(err error) string {
	if e, ok := asDBError(err); ok {
		return e.Code
	}
	return ""
}

// lineOfPosition converts a 1-based character position into a 1-based line.
func lineOfPosition(query string, pos int) int {
	line := 1
	chars := 0
	for i := 0; i < len(query); {
		chars++
		if chars == pos {
			return line
		}
		r, size := utf8.DecodeRuneInString(query[i:])
		if r == '\n' {
			line++
		}
		i += size
	}
	return 0
}

func lineText(query string, line int) string {
	lines := strings.Split(query, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}
