package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Dialect selects how string literals are escaped.
type Dialect string

const (
	// DialectANSI doubles single quotes and leaves backslashes alone, as
	// Postgres (standard_conforming_strings) and SQLite read them. It is the
	// default.
	DialectANSI Dialect = "ansi"

	// DialectMySQL also escapes backslashes, which MySQL treats as escape
	// characters inside string literals by default.
	DialectMySQL Dialect = "mysql"
)

// Valid reports whether d is a known dialect. Empty means ANSI.
func (d Dialect) Valid() bool {
	switch d {
	case "", DialectANSI, DialectMySQL:
		return true
	}
	return false
}

// Literal formats v as an ANSI SQL literal. See Dialect.Literal.
func Literal(v any) string { return DialectANSI.Literal(v) }

// Literal formats v as a SQL literal. Strings are single-quoted with embedded
// quotes doubled, numbers are written bare, booleans become TRUE or FALSE and
// nil becomes NULL. Slices become a parenthesised list suitable for IN; an
// empty slice renders as (NULL), which matches no row.
func (d Dialect) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return d.quote(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case json.Number:
		if _, err := x.Float64(); err == nil {
			return x.String()
		}
		return d.quote(x.String())
	case time.Time:
		return d.quote(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return d.quote(string(x))
	case fmt.Stringer:
		return d.quote(x.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "(NULL)"
		}
		parts := make([]string, rv.Len())
		for i := range rv.Len() {
			parts[i] = d.Literal(rv.Index(i).Interface())
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case reflect.Int8, reflect.Int16:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL"
		}
		return d.Literal(rv.Elem().Interface())
	case reflect.String:
		return d.quote(rv.String())
	}
	return d.quote(fmt.Sprint(v))
}

// text is the unquoted form of v used inside an existing string literal.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range rv.Len() {
			parts[i] = text(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	lit := DialectANSI.Literal(v)
	if strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'") && len(lit) >= 2 {
		return strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
	}
	return lit
}

func (d Dialect) quote(s string) string { return "'" + d.escape(s) + "'" }

// escape doubles single quotes and drops NUL bytes. MySQL also gets its
// backslashes doubled.
func (d Dialect) escape(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if d == DialectMySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return strings.ReplaceAll(s, "'", "''")
}
