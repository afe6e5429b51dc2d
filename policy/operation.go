package policy

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Operation is a bit set over the data operations a policy covers.
type Operation uint8

const (
	OpSelect Operation = 1 << iota
	OpInsert
	OpUpdate
	OpDelete
)

// OpAll covers every operation.
const OpAll = OpSelect | OpInsert | OpUpdate | OpDelete

var opNames = []struct {
	op   Operation
	name string
}{
	{OpSelect, "select"},
	{OpInsert, "insert"},
	{OpUpdate, "update"},
	{OpDelete, "delete"},
}

// Valid reports whether the mask is non-zero and only uses known bits.
func (o Operation) Valid() bool { return o != 0 && o&^OpAll == 0 }

// Single reports whether the mask names exactly one known operation.
func (o Operation) Single() bool { return o.Valid() && bits.OnesCount8(uint8(o)) == 1 }

// Has reports whether any bit of op is set in o.
func (o Operation) Has(op Operation) bool { return o&op != 0 }

// Names returns the operation names set in the mask, in bit order.
func (o Operation) Names() []string {
	names := make([]string, 0, 4)
	for _, n := range opNames {
		if o&n.op != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

// String renders the mask as "select|update". Unknown bits are appended as a number.
func (o Operation) String() string {
	if o == 0 {
		return ""
	}
	s := strings.Join(o.Names(), "|")
	if rest := o &^ OpAll; rest != 0 {
		if s != "" {
			s += "|"
		}
		s += strconv.Itoa(int(rest))
	}
	return s
}

// ParseOperation parses "select|update", "select,update", a single name or a
// decimal mask. Names are case-insensitive. "all" or "*" means every operation.
func ParseOperation(s string) (Operation, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("policy: empty operation")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > int(OpAll) {
			return 0, fmt.Errorf("policy: operation mask %d out of range", n)
		}
		return Operation(n), nil
	}
	var out Operation
	for part := range strings.FieldsFuncSeq(s, func(r rune) bool { return r == '|' || r == ',' }) {
		op, err := parseOne(strings.TrimSpace(part))
		if err != nil {
			return 0, err
		}
		out |= op
	}
	return out, nil
}

func parseOne(name string) (Operation, error) {
	name = strings.ToLower(name)
	if name == "all" || name == "*" {
		return OpAll, nil
	}
	for _, n := range opNames {
		if n.name == name {
			return n.op, nil
		}
	}
	return 0, fmt.Errorf("policy: unknown operation %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(data []byte) error {
	op, err := ParseOperation(string(data))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// MarshalJSON renders the mask as a list of operation names.
func (o Operation) MarshalJSON() ([]byte, error) { return json.Marshal(o.Names()) }

// UnmarshalJSON accepts a list of names, a single string or a numeric mask.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		var out Operation
		for _, n := range names {
			op, err := parseOne(strings.TrimSpace(n))
			if err != nil {
				return err
			}
			out |= op
		}
		*o = out
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n > 255 {
			return fmt.Errorf("policy: operation mask %d out of range", n)
		}
		*o = Operation(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("policy: operations must be a list, string or number: %w", err)
	}
	return o.UnmarshalText([]byte(s))
}
