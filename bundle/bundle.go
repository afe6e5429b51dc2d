// Package bundle loads data permission policies declared in YAML.
//
// A bundle looks like:
//
//	version: 1
//	tenant: acme
//	policies:
//	  - name: west sales orders
//	    resource: {type: table, id: orders}
//	    subject: {type: role, id: sales}
//	    permission: row_and_column
//	    operations: [select]
//	    row_condition: customer_region = ${region}
//	    columns: {deny: [ssn]}
//	    priority: 10
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// ErrInvalidBundle is returned for documents that cannot be decoded.
var ErrInvalidBundle = errors.New("bundle: invalid document")

// Bundle is a versioned set of policy declarations.
type Bundle struct {
	Version  int         `yaml:"version"`
	Tenant   string      `yaml:"tenant,omitempty"`
	Policies []PolicyDoc `yaml:"policies"`
}

// ResourceRef names the protected resource of a declaration.
type ResourceRef struct {
	Type policy.ResourceType `yaml:"type"`
	ID   string              `yaml:"id"`
}

// PolicyDoc is one policy declaration. ID is optional; a declaration with an
// id updates the stored policy of that id.
type PolicyDoc struct {
	ID           string                `yaml:"id,omitempty"`
	Name         string                `yaml:"name"`
	Description  string                `yaml:"description,omitempty"`
	Resource     ResourceRef           `yaml:"resource"`
	Subject      policy.Subject        `yaml:"subject"`
	Permission   policy.PermissionType `yaml:"permission"`
	Operations   Operations            `yaml:"operations"`
	RowCondition string                `yaml:"row_condition,omitempty"`
	Columns      policy.ColumnConfig   `yaml:"columns,omitempty"`
	Effect       policy.Effect         `yaml:"effect,omitempty"`
	Priority     int                   `yaml:"priority,omitempty"`
	ValidFrom    *time.Time            `yaml:"valid_from,omitempty"`
	ValidTo      *time.Time            `yaml:"valid_to,omitempty"`
	Disabled     bool                  `yaml:"disabled,omitempty"`
	Metadata     map[string]any        `yaml:"metadata,omitempty"`
}

// Operations decodes either a YAML sequence of operation names or a single
// "select|update" style scalar.
type Operations policy.Operation

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Operations) UnmarshalYAML(node *yaml.Node) error {
	var names []string
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&names); err != nil {
			return err
		}
	case yaml.ScalarNode:
		names = []string{node.Value}
	default:
		return fmt.Errorf("line %d: operations must be a list or a string", node.Line)
	}
	op, err := policy.ParseOperation(strings.Join(names, "|"))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*o = Operations(op)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (o Operations) MarshalYAML() (any, error) {
	return policy.Operation(o).Names(), nil
}

// Parse decodes a bundle from YAML bytes. Unknown fields are rejected.
func Parse(data []byte) (*Bundle, error) {
	return Load(bytes.NewReader(data))
}

// Load decodes a bundle from r.
func Load(r io.Reader) (*Bundle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var b Bundle
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, err)
	}
	return &b, nil
}

// LoadFile decodes the bundle stored at path.
func LoadFile(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Marshal encodes b as YAML.
func Marshal(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToPolicies converts the declarations into policies. Tenant, timestamps and
// audit fields are left for the engine to fill in.
func (b *Bundle) ToPolicies() ([]*policy.Policy, error) {
	out := make([]*policy.Policy, 0, len(b.Policies))
	for i := range b.Policies {
		p, err := b.Policies[i].toPolicy()
		if err != nil {
			return nil, fmt.Errorf("%w: policy %d (%s): %w", ErrInvalidBundle, i, b.Policies[i].Name, err)
		}
		p.TenantID = b.Tenant
		out = append(out, p)
	}
	return out, nil
}

func (d *PolicyDoc) toPolicy() (*policy.Policy, error) {
	p := &policy.Policy{
		Name:           d.Name,
		Description:    d.Description,
		ResourceType:   d.Resource.Type,
		ResourceID:     d.Resource.ID,
		SubjectType:    d.Subject.Type,
		SubjectID:      d.Subject.ID,
		PermissionType: d.Permission,
		Operations:     policy.Operation(d.Operations),
		RowCondition:   d.RowCondition,
		ColumnConfig:   d.Columns,
		Effect:         d.Effect,
		Priority:       d.Priority,
		ValidFrom:      d.ValidFrom,
		ValidTo:        d.ValidTo,
		Status:         policy.StatusActive,
		Metadata:       d.Metadata,
	}
	if p.Effect == "" {
		p.Effect = policy.EffectAllow
	}
	if d.Disabled {
		p.Status = policy.StatusDisabled
	}
	if d.ID != "" {
		polID, err := id.ParsePolicyID(d.ID)
		if err != nil {
			return nil, err
		}
		p.ID = polID
	}
	return p, nil
}

// FromPolicies builds a bundle from stored policies, for export.
func FromPolicies(tenant string, policies []*policy.Policy) *Bundle {
	b := &Bundle{Version: 1, Tenant: tenant, Policies: make([]PolicyDoc, 0, len(policies))}
	for _, p := range policies {
		b.Policies = append(b.Policies, PolicyDoc{
			ID:           p.ID.String(),
			Name:         p.Name,
			Description:  p.Description,
			Resource:     ResourceRef{Type: p.ResourceType, ID: p.ResourceID},
			Subject:      p.Subject(),
			Permission:   p.PermissionType,
			Operations:   Operations(p.Operations),
			RowCondition: p.RowCondition,
			Columns:      p.ColumnConfig,
			Effect:       p.Effect,
			Priority:     p.Priority,
			ValidFrom:    p.ValidFrom,
			ValidTo:      p.ValidTo,
			Disabled:     p.Status == policy.StatusDisabled,
			Metadata:     p.Metadata,
		})
	}
	return b
}
