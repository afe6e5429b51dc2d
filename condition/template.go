// Package condition renders row condition templates into predicate fragments.
//
// A template is a SQL boolean expression with named placeholders, for example
// "dept_id = ${deptId} AND region = ${region}". Render replaces each
// placeholder with a SQL literal built from a Vars context. The output is an
// opaque fragment for the storage layer to place in a WHERE clause; this
// package never executes it.
package condition

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedPlaceholder is returned when a template has an unterminated
	// or badly named placeholder.
	ErrMalformedPlaceholder = errors.New("condition: malformed placeholder")

	// ErrUnknownVariable is returned by Validate for placeholders outside the
	// known variable set.
	ErrUnknownVariable = errors.New("condition: unknown variable")

	// ErrSyntax is returned when a template is not a boolean SQL expression.
	ErrSyntax = errors.New("condition: invalid syntax")
)

// Vars is the variable context a template is rendered against.
type Vars map[string]any

// segment is either literal template text or a placeholder.
type segment struct {
	text   string
	isVar  bool
	quoted bool
	raw    string
}

// scan splits a template into segments. Malformed placeholders are kept as
// literal text and reported through the returned error.
func scan(tmpl string) ([]segment, error) {
	var (
		segs     []segment
		firstErr error
		inQuote  bool
		start    int
	)
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c == '\'' {
			inQuote = !inQuote
			i++
			continue
		}
		if c != '$' || i+1 >= len(tmpl) || tmpl[i+1] != '{' {
			i++
			continue
		}

		end := strings.IndexByte(tmpl[i+2:], '}')
		if end < 0 {
			fail(fmt.Errorf("%w: unterminated placeholder at offset %d", ErrMalformedPlaceholder, i))
			break
		}
		name := tmpl[i+2 : i+2+end]
		if !validName(name) {
			fail(fmt.Errorf("%w: invalid name %q at offset %d", ErrMalformedPlaceholder, name, i))
			i += 2
			continue
		}

		if start < i {
			segs = append(segs, segment{text: tmpl[start:i]})
		}
		next := i + 3 + end
		segs = append(segs, segment{text: name, isVar: true, quoted: inQuote, raw: tmpl[i:next]})
		i = next
		start = next
	}
	if start < len(tmpl) {
		segs = append(segs, segment{text: tmpl[start:]})
	}
	return segs, firstErr
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Render renders tmpl with ANSI quoting. See Dialect.Render.
func Render(tmpl string, vars Vars) string { return DialectANSI.Render(tmpl, vars) }

// Render substitutes every ${name} placeholder with the SQL literal of
// vars[name]. A placeholder written inside a quoted string ('${region}')
// receives the escaped text without extra quotes. Placeholders with no value
// in vars, and malformed ones, are left verbatim.
func (d Dialect) Render(tmpl string, vars Vars) string {
	segs, _ := scan(tmpl) //nolint:errcheck // malformed placeholders stay verbatim
	var b strings.Builder
	b.Grow(len(tmpl))
	for _, s := range segs {
		if !s.isVar {
			b.WriteString(s.text)
			continue
		}
		v, ok := vars[s.text]
		switch {
		case !ok:
			b.WriteString(s.raw)
		case s.quoted:
			b.WriteString(d.escape(text(v)))
		default:
			b.WriteString(d.Literal(v))
		}
	}
	return b.String()
}

// Placeholders returns the distinct placeholder names in order of first use.
func Placeholders(tmpl string) ([]string, error) {
	segs, err := scan(tmpl)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, s := range segs {
		if !s.isVar {
			continue
		}
		if _, ok := seen[s.text]; ok {
			continue
		}
		seen[s.text] = struct{}{}
		names = append(names, s.text)
	}
	return names, nil
}
