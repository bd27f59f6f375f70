package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// All timestamps are persisted as UTC unix milliseconds.

func msOf(t time.Time) int64 { return t.UTC().UnixMilli() }

func timeOf(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return msOf(*t)
}

func ptrTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := timeOf(n.Int64)
	return &t
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ptrStr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newID returns a time-ordered UUID (v7). Sorting ids lexically follows
// creation order, which the audit log uses as a tie-breaker.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// isDuplicate detects unique-constraint violations on MySQL (1062) and
// SQLite.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

// inClause renders "?, ?, ?" for n placeholders.
func inClause(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// timeRange appends optional inclusive bounds on col to where/args.
func timeRange(col string, from, to *time.Time, where []string, args []any) ([]string, []any) {
	if from != nil {
		where = append(where, col+" >= ?")
		args = append(args, msOf(*from))
	}
	if to != nil {
		where = append(where, col+" <= ?")
		args = append(args, msOf(*to))
	}
	return where, args
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
