package bundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/rowguard/bundle"
	"github.com/xraph/rowguard/policy"
)

const sample = `
version: 1
tenant: acme
policies:
  - name: west sales orders
    resource: {type: table, id: orders}
    subject: {type: role, id: sales}
    permission: row_and_column
    operations: [select, update]
    row_condition: customer_region = ${region}
    columns:
      deny: [ssn]
    priority: 10
  - name: hide salaries
    resource: {type: table, id: employees}
    subject: {type: department, id: d7}
    permission: column
    operations: select
    effect: deny
    columns: {deny: [salary]}
    disabled: true
`

func TestParse(t *testing.T) {
	b, err := bundle.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Version)
	assert.Equal(t, "acme", b.Tenant)
	require.Len(t, b.Policies, 2)

	policies, err := b.ToPolicies()
	require.NoError(t, err)

	first := policies[0]
	assert.Equal(t, "acme", first.TenantID)
	assert.Equal(t, policy.ResourceTable, first.ResourceType)
	assert.Equal(t, "orders", first.ResourceID)
	assert.Equal(t, policy.SubjectRole, first.SubjectType)
	assert.Equal(t, "sales", first.SubjectID)
	assert.Equal(t, policy.OpSelect|policy.OpUpdate, first.Operations)
	assert.Equal(t, policy.EffectAllow, first.Effect)
	assert.Equal(t, policy.StatusActive, first.Status)
	assert.Equal(t, []string{"ssn"}, first.ColumnConfig.Deny)
	assert.Equal(t, 10, first.Priority)
	assert.True(t, first.ID.IsNil())

	second := policies[1]
	assert.Equal(t, policy.OpSelect, second.Operations)
	assert.Equal(t, policy.EffectDeny, second.Effect)
	assert.Equal(t, policy.StatusDisabled, second.Status)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := bundle.Parse([]byte("policies:\n  - name: x\n    colour: red\n"))
	assert.ErrorIs(t, err, bundle.ErrInvalidBundle)
}

func TestParseRejectsBadOperation(t *testing.T) {
	_, err := bundle.Parse([]byte("policies:\n  - name: x\n    operations: [select, truncate]\n"))
	assert.ErrorIs(t, err, bundle.ErrInvalidBundle)
}

func TestParseEmpty(t *testing.T) {
	b, err := bundle.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, b.Policies)
}

func TestToPoliciesBadID(t *testing.T) {
	b := &bundle.Bundle{Policies: []bundle.PolicyDoc{{ID: "nope", Name: "x"}}}
	_, err := b.ToPolicies()
	assert.ErrorIs(t, err, bundle.ErrInvalidBundle)
}

func TestExportRoundTrip(t *testing.T) {
	b, err := bundle.Parse([]byte(sample))
	require.NoError(t, err)
	policies, err := b.ToPolicies()
	require.NoError(t, err)

	data, err := bundle.Marshal(bundle.FromPolicies("acme", policies))
	require.NoError(t, err)
	assert.Contains(t, string(data), "- select\n")

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	again, err := bundle.LoadFile(path)
	require.NoError(t, err)
	back, err := again.ToPolicies()
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, policies[0].Operations, back[0].Operations)
	assert.Equal(t, policies[0].RowCondition, back[0].RowCondition)
	assert.Equal(t, policies[1].Status, back[1].Status)
}
