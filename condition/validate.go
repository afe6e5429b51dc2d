package condition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Options tune Validate.
type Options struct {
	// KnownVariables restricts placeholders to this set. Empty allows any name.
	KnownVariables []string

	// SkipSyntax disables the SQL expression check.
	SkipSyntax bool
}

// Validate checks a row condition template at policy write time. It rejects
// malformed placeholders, unknown variables (when KnownVariables is set),
// statement separators and comments outside string literals, and templates
// that do not parse as a boolean WHERE expression.
func Validate(tmpl string, opts Options) error {
	if strings.TrimSpace(tmpl) == "" {
		return fmt.Errorf("%w: empty condition", ErrSyntax)
	}

	segs, err := scan(tmpl)
	if err != nil {
		return err
	}

	if len(opts.KnownVariables) > 0 {
		for _, s := range segs {
			if s.isVar && !slices.Contains(opts.KnownVariables, s.text) {
				return fmt.Errorf("%w: %q", ErrUnknownVariable, s.text)
			}
		}
	}

	if tok := forbiddenToken(tmpl); tok != "" {
		return fmt.Errorf("%w: %q is not allowed outside string literals", ErrSyntax, tok)
	}

	if opts.SkipSyntax {
		return nil
	}
	return checkExpr(sample(segs))
}

// sample replaces placeholders with stand-in literals so the expression can
// be parsed. A parenthesised value works both as a scalar and as an IN list.
func sample(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		switch {
		case !s.isVar:
			b.WriteString(s.text)
		case s.quoted:
			b.WriteString("x")
		default:
			b.WriteString("(0)")
		}
	}
	return b.String()
}

const wherePrefix = "SELECT 1 FROM t WHERE "

func checkExpr(expr string) error {
	stmt, err := sqlparser.Parse(wherePrefix + expr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return fmt.Errorf("%w: not a boolean expression", ErrSyntax)
	}
	if sel.GroupBy != nil || sel.Having != nil || sel.OrderBy != nil || sel.Limit != nil || sel.Lock != "" {
		return fmt.Errorf("%w: clauses after the condition are not allowed", ErrSyntax)
	}
	return nil
}

// forbiddenToken returns the first statement separator or comment opener
// found outside a quoted string.
func forbiddenToken(tmpl string) string {
	inQuote := false
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c == '\'' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch {
		case c == ';':
			return ";"
		case c == '#':
			return "#"
		case strings.HasPrefix(tmpl[i:], "--"):
			return "--"
		case strings.HasPrefix(tmpl[i:], "/*"):
			return "/*"
		}
	}
	return ""
}

// Columns returns the column names referenced by a template, in order of
// first appearance. Placeholders are ignored.
func Columns(tmpl string) ([]string, error) {
	segs, err := scan(tmpl)
	if err != nil {
		return nil, err
	}
	stmt, err := sqlparser.Parse(wherePrefix + sample(segs))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return nil, fmt.Errorf("%w: not a boolean expression", ErrSyntax)
	}

	var cols []string
	seen := make(map[string]struct{})
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if col, ok := node.(*sqlparser.ColName); ok {
			name := col.Name.String()
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				cols = append(cols, name)
			}
		}
		return true, nil
	}, sel.Where.Expr)
	return cols, nil
}
