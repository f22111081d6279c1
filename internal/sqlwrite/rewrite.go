package sqlwrite

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolvePlaceholders inlines bind arguments into a statement, producing
// SQL a peer can execute with no arguments. Placeholders inside quoted
// regions are left untouched. Errors if the statement references more
// placeholders than arguments supplied.
func ResolvePlaceholders(sqlText string, args []any) (string, error) {
	var b strings.Builder
	b.Grow(len(sqlText) + 16*len(args))

	argIdx := 0
	i := 0
	n := len(sqlText)
	for i < n {
		c := sqlText[i]
		switch c {
		case '\'', '"', '`':
			end := skipQuoted(sqlText, i, c)
			b.WriteString(sqlText[i:end])
			i = end
		case '?':
			if argIdx >= len(args) {
				return "", fmt.Errorf("resolve placeholders: placeholder %d has no bind argument", argIdx)
			}
			b.WriteString(QuoteLiteral(args[argIdx]))
			argIdx++
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// skipQuoted returns the index just past the quoted region starting at i.
func skipQuoted(s string, i int, quote byte) int {
	i++
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// QuoteLiteral renders a Go value as a SQLite literal.
func QuoteLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'"
	case time.Time:
		return "'" + val.UTC().Format(time.RFC3339Nano) + "'"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// StripReturning removes a trailing RETURNING clause. Peers applying a
// payload have no use for the returned rows, and executing RETURNING
// through a plain Exec discards them anyway.
func StripReturning(sqlText string) string {
	upper := strings.ToUpper(sqlText)
	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		if c == '\'' || c == '"' || c == '`' {
			i = skipQuoted(sqlText, i, c)
			continue
		}
		if strings.HasPrefix(upper[i:], " RETURNING ") || strings.HasPrefix(upper[i:], "\nRETURNING ") {
			return strings.TrimRight(sqlText[:i], " \t\n")
		}
		i++
	}
	return sqlText
}

// RewriteInsertOrReplace turns a plain INSERT into INSERT OR REPLACE so a
// replayed insert for an existing primary key overwrites instead of
// failing. Conflict resolution already decided the row should take the
// remote value; a UNIQUE violation here would only mean both nodes
// generated the same key independently. No-op for statements that are not
// plain INSERTs.
func RewriteInsertOrReplace(sqlText string) string {
	trimmed := strings.TrimLeft(sqlText, " \t\n")
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "INSERT INTO ") {
		return sqlText
	}
	offset := len(sqlText) - len(trimmed)
	return sqlText[:offset] + "INSERT OR REPLACE INTO " + trimmed[len("INSERT INTO "):]
}
