package rowguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/rowguard/bundle"
	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/condition"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/store/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []Option{WithStore(s), WithClock(func() time.Time { return testNow })}
	eng, err := NewEngine(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return eng, s
}

func tenantCtx() context.Context {
	return WithTenant(context.Background(), "app1", "t1")
}

func rowPolicy(name, resource string, st policy.SubjectType, subjectID, cond string, priority int) *policy.Policy {
	return &policy.Policy{
		Name:           name,
		ResourceType:   policy.ResourceTable,
		ResourceID:     resource,
		SubjectType:    st,
		SubjectID:      subjectID,
		PermissionType: policy.PermissionRow,
		Operations:     policy.OpSelect,
		RowCondition:   cond,
		Effect:         policy.EffectAllow,
		Priority:       priority,
	}
}

func columnPolicy(name, resource string, st policy.SubjectType, subjectID string, effect policy.Effect, cc policy.ColumnConfig, priority int) *policy.Policy {
	return &policy.Policy{
		Name:           name,
		ResourceType:   policy.ResourceTable,
		ResourceID:     resource,
		SubjectType:    st,
		SubjectID:      subjectID,
		PermissionType: policy.PermissionColumn,
		Operations:     policy.OpSelect,
		ColumnConfig:   cc,
		Effect:         effect,
		Priority:       priority,
	}
}

func mustCreate(t *testing.T, eng *Engine, ctx context.Context, p *policy.Policy) *policy.Policy {
	t.Helper()
	res, err := eng.CreatePolicy(ctx, "admin", p)
	if err != nil {
		t.Fatalf("create %q: %v", p.Name, err)
	}
	return res.Policy
}

func mustEvaluate(t *testing.T, eng *Engine, ctx context.Context, p *Principal, resource string) *Decision {
	t.Helper()
	d, err := eng.Evaluate(ctx, p, policy.ResourceTable, resource, policy.OpSelect)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return d
}

var salesUser = &Principal{
	ID:         "user42",
	Roles:      []string{"sales"},
	Attributes: map[string]any{"region": "west"},
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewEngine_RequiresStore(t *testing.T) {
	if _, err := NewEngine(); err == nil {
		t.Fatal("expected error when store is nil")
	}
}

func TestNewEngine_RejectsUnknownPosture(t *testing.T) {
	_, err := NewEngine(WithStore(memory.New()), WithConfig(Config{DefaultPosture: "maybe"}))
	if err == nil {
		t.Fatal("expected error for unknown posture")
	}
}

func TestNewEngine_RejectsUnknownDialect(t *testing.T) {
	_, err := NewEngine(WithStore(memory.New()), WithConfig(Config{Dialect: "oracle"}))
	if err == nil {
		t.Fatal("expected error for unknown dialect")
	}
}

// ──────────────────────────────────────────────────
// Evaluation
// ──────────────────────────────────────────────────

func TestEvaluate_DialectEscaping(t *testing.T) {
	ctx := tenantCtx()
	owner := &Principal{ID: "u1", Attributes: map[string]any{"owner": `\' OR 1=1 -- `}}

	tests := []struct {
		dialect condition.Dialect
		want    string
	}{
		{"", `owner = '\'' OR 1=1 -- '`},
		{condition.DialectMySQL, `owner = '\\'' OR 1=1 -- '`},
	}
	for _, tt := range tests {
		eng, _ := newTestEngine(t, WithConfig(Config{Dialect: tt.dialect}))
		mustCreate(t, eng, ctx, rowPolicy("own", "orders", policy.SubjectUser, "u1", "owner = ${owner}", 1))
		if got := mustEvaluate(t, eng, ctx, owner, "orders").Predicate(); got != tt.want {
			t.Fatalf("dialect %q: predicate = %q, want %q", tt.dialect, got, tt.want)
		}
	}
}

func TestEvaluate_SalesScenario(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	p := rowPolicy("west orders", "orders", policy.SubjectRole, "sales", "customer_region = ${region}", 10)
	p.PermissionType = policy.PermissionRowAndColumn
	p.ColumnConfig = policy.ColumnConfig{Deny: []string{"ssn"}}
	created := mustCreate(t, eng, ctx, p)

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if !d.Granted {
		t.Fatal("expected granted")
	}
	if got := d.Predicate(); got != "customer_region = 'west'" {
		t.Fatalf("predicate = %q", got)
	}
	if d.VisibleColumns != nil {
		t.Fatalf("visible = %v, want all", d.VisibleColumns.Sorted())
	}
	if !d.DeniedColumns.Has("ssn") || len(d.DeniedColumns) != 1 {
		t.Fatalf("denied = %v, want [ssn]", d.DeniedColumns.Sorted())
	}
	if len(d.MatchedPolicyIDs) != 1 || d.MatchedPolicyIDs[0].String() != created.ID.String() {
		t.Fatalf("matched = %v", d.MatchedPolicyIDs)
	}
	if d.RowPolicyID.String() != created.ID.String() {
		t.Fatalf("row policy = %s", d.RowPolicyID)
	}

	row := d.Project(map[string]any{"id": 1, "customer_region": "west", "ssn": "123"})
	if _, ok := row["ssn"]; ok {
		t.Fatal("ssn should be projected away")
	}
	if len(row) != 2 {
		t.Fatalf("projected row = %v", row)
	}
}

func TestEvaluate_LowestPriorityRowPolicyWins(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	mustCreate(t, eng, ctx, rowPolicy("broad", "orders", policy.SubjectRole, "sales", "1 = 1", 20))
	mustCreate(t, eng, ctx, rowPolicy("own", "orders", policy.SubjectUser, "user42", "owner = ${userId}", 5))

	for range 5 {
		d := mustEvaluate(t, eng, ctx, salesUser, "orders")
		if got := d.Predicate(); got != "owner = 'user42'" {
			t.Fatalf("predicate = %q", got)
		}
		if len(d.MatchedPolicyIDs) != 2 {
			t.Fatalf("matched = %d, want 2", len(d.MatchedPolicyIDs))
		}
	}
}

func TestEvaluate_PriorityTieBrokenByID(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	low, _ := id.ParsePolicyID("dpol_01h2xcejqtf2nbrexx3vqjhp41")
	high, _ := id.ParsePolicyID("dpol_01h2xcejqtf2nbrexx3vqjhp42")

	second := rowPolicy("second", "orders", policy.SubjectRole, "sales", "b = 2", 10)
	second.ID = high
	first := rowPolicy("first", "orders", policy.SubjectUser, "user42", "a = 1", 10)
	first.ID = low
	mustCreate(t, eng, ctx, second)
	mustCreate(t, eng, ctx, first)

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if got := d.Predicate(); got != "a = 1" {
		t.Fatalf("predicate = %q, want the lower id to win", got)
	}
	if d.MatchedPolicyIDs[0].String() != low.String() || d.MatchedPolicyIDs[1].String() != high.String() {
		t.Fatalf("matched order = %v", d.MatchedPolicyIDs)
	}
}

func TestEvaluate_ColumnDenyAlwaysWins(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	mustCreate(t, eng, ctx, columnPolicy("allow", "orders", policy.SubjectUser, "user42",
		policy.EffectAllow, policy.ColumnConfig{Allow: []string{"id", "total", "ssn"}}, 1))
	mustCreate(t, eng, ctx, columnPolicy("more", "orders", policy.SubjectRole, "sales",
		policy.EffectAllow, policy.ColumnConfig{Allow: []string{"region"}}, 50))
	mustCreate(t, eng, ctx, columnPolicy("hide ssn", "orders", policy.SubjectRole, "sales",
		policy.EffectDeny, policy.ColumnConfig{Deny: []string{"ssn"}}, 100))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	want := []string{"id", "region", "total"}
	got := d.VisibleColumns.Sorted()
	if len(got) != len(want) {
		t.Fatalf("visible = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visible = %v, want %v", got, want)
		}
	}
	if !d.DeniedColumns.Has("ssn") {
		t.Fatal("ssn should be denied")
	}
	if d.RowPredicate != nil {
		t.Fatalf("no row policy, predicate should be nil, got %q", *d.RowPredicate)
	}
}

func TestEvaluate_WildcardAllow(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	mustCreate(t, eng, ctx, columnPolicy("all", "orders", policy.SubjectRole, "sales",
		policy.EffectAllow, policy.ColumnConfig{Allow: []string{"*"}, Deny: []string{"ssn"}}, 1))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if d.VisibleColumns != nil {
		t.Fatalf("wildcard allow should leave visible unrestricted, got %v", d.VisibleColumns.Sorted())
	}
	if !d.DeniedColumns.Has("ssn") {
		t.Fatal("ssn should be denied")
	}
}

func TestEvaluate_RowDeny(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	deny := rowPolicy("block", "orders", policy.SubjectUser, "user42", "1 = 1", 1)
	deny.Effect = policy.EffectDeny
	mustCreate(t, eng, ctx, deny)
	mustCreate(t, eng, ctx, rowPolicy("open", "orders", policy.SubjectRole, "sales", "1 = 1", 5))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if d.Granted {
		t.Fatal("expected not granted")
	}
	if got := d.Predicate(); got != "1 = 0" {
		t.Fatalf("predicate = %q", got)
	}
	ok, err := eng.CheckPermission(ctx, salesUser, policy.ResourceTable, "orders", policy.OpSelect)
	if err != nil || ok {
		t.Fatalf("CheckPermission = %v, %v", ok, err)
	}
}

func TestEvaluate_DefaultPosture(t *testing.T) {
	ctx := tenantCtx()

	t.Run("allow", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		d := mustEvaluate(t, eng, ctx, salesUser, "orders")
		if !d.Granted || d.RowPredicate != nil || d.VisibleColumns != nil {
			t.Fatalf("unexpected default allow decision: %+v", d)
		}
		if d.MatchedPolicyIDs == nil || len(d.MatchedPolicyIDs) != 0 {
			t.Fatalf("matched = %v, want empty", d.MatchedPolicyIDs)
		}
	})

	t.Run("deny", func(t *testing.T) {
		eng, _ := newTestEngine(t, WithConfig(Config{DefaultPosture: PostureDeny}))
		d := mustEvaluate(t, eng, ctx, salesUser, "orders")
		if d.Granted {
			t.Fatal("expected not granted")
		}
		if d.Predicate() != "1 = 0" {
			t.Fatalf("predicate = %q", d.Predicate())
		}
		if d.VisibleColumns == nil || len(d.VisibleColumns) != 0 {
			t.Fatalf("visible = %v, want empty set", d.VisibleColumns)
		}
	})

	t.Run("deny applies per dimension", func(t *testing.T) {
		eng, _ := newTestEngine(t, WithConfig(Config{DefaultPosture: PostureDeny}))
		mustCreate(t, eng, ctx, rowPolicy("rows", "orders", policy.SubjectRole, "sales", "1 = 1", 1))
		d := mustEvaluate(t, eng, ctx, salesUser, "orders")
		if !d.Granted || d.Predicate() != "1 = 1" {
			t.Fatalf("row dimension should follow the policy: %+v", d)
		}
		if d.VisibleColumns == nil || len(d.VisibleColumns) != 0 {
			t.Fatal("column dimension has no policy and should fall back to deny")
		}
	})
}

func TestEvaluate_ValidityWindow(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	expired := rowPolicy("expired", "orders", policy.SubjectRole, "sales", "a = 1", 1)
	expired.ValidTo = &past
	pending := rowPolicy("pending", "orders", policy.SubjectRole, "sales", "b = 2", 2)
	pending.ValidFrom = &future
	startsNow := rowPolicy("starts now", "orders", policy.SubjectRole, "sales", "c = 3", 3)
	now := testNow
	startsNow.ValidFrom = &now

	mustCreate(t, eng, ctx, expired)
	mustCreate(t, eng, ctx, pending)
	mustCreate(t, eng, ctx, startsNow)

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if got := d.Predicate(); got != "c = 3" {
		t.Fatalf("predicate = %q, want only the currently valid policy", got)
	}
}

func TestEvaluate_OperationAndSubjectMustMatch(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	upd := rowPolicy("updates", "orders", policy.SubjectRole, "sales", "a = 1", 1)
	upd.Operations = policy.OpUpdate | policy.OpDelete
	mustCreate(t, eng, ctx, upd)
	mustCreate(t, eng, ctx, rowPolicy("other role", "orders", policy.SubjectRole, "support", "b = 2", 1))
	mustCreate(t, eng, ctx, rowPolicy("other table", "invoices", policy.SubjectRole, "sales", "c = 3", 1))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if len(d.MatchedPolicyIDs) != 0 {
		t.Fatalf("matched = %v, want none", d.MatchedPolicyIDs)
	}

	d, err := eng.Evaluate(ctx, salesUser, policy.ResourceTable, "orders", policy.OpUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if d.Predicate() != "a = 1" {
		t.Fatalf("update predicate = %q", d.Predicate())
	}
}

func TestEvaluate_DepartmentAndPositionSubjects(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	mustCreate(t, eng, ctx, rowPolicy("dept", "orders", policy.SubjectDepartment, "d7", "dept_id = ${deptId}", 2))
	mustCreate(t, eng, ctx, columnPolicy("pos", "orders", policy.SubjectPosition, "clerk",
		policy.EffectDeny, policy.ColumnConfig{Deny: []string{"margin"}}, 1))

	p := &Principal{ID: "u9", DepartmentID: "d7", PositionID: "clerk"}
	d := mustEvaluate(t, eng, ctx, p, "orders")
	if d.Predicate() != "dept_id = 'd7'" {
		t.Fatalf("predicate = %q", d.Predicate())
	}
	if !d.DeniedColumns.Has("margin") {
		t.Fatal("margin should be denied")
	}
}

func TestEvaluate_UnresolvablePrincipal(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t, WithConfig(Config{DefaultPosture: PostureDeny}))
	mustCreate(t, eng, ctx, rowPolicy("open", "orders", policy.SubjectRole, "sales", "1 = 1", 1))

	d, err := eng.Evaluate(ctx, &Principal{Roles: []string{"sales"}}, policy.ResourceTable, "orders", policy.OpSelect)
	if err != nil {
		t.Fatalf("unresolvable principal should not be an error: %v", err)
	}
	if d.Granted || d.Predicate() != "1 = 0" {
		t.Fatalf("expected default deny decision, got %+v", d)
	}
}

func TestEvaluate_ResolverError(t *testing.T) {
	ctx := tenantCtx()
	failing := ResolverFunc(func(context.Context, *Principal) ([]Subject, error) {
		return nil, ErrPrincipalUnresolvable
	})
	eng, _ := newTestEngine(t, WithResolver(failing))
	mustCreate(t, eng, ctx, rowPolicy("own", "orders", policy.SubjectUser, "user42", "a = 1", 1))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if len(d.MatchedPolicyIDs) != 0 || !d.Granted {
		t.Fatalf("expected default allow decision, got %+v", d)
	}
}

func TestEvaluate_ResolverSliceUntouched(t *testing.T) {
	ctx := tenantCtx()
	shared := []Subject{
		{Type: policy.SubjectUser, ID: "u1"},
		{Type: policy.SubjectRole, ID: "r"},
		{Type: policy.SubjectRole, ID: "r"},
		{Type: policy.SubjectDepartment, ID: "d"},
	}
	want := append([]Subject(nil), shared...)
	resolver := ResolverFunc(func(context.Context, *Principal) ([]Subject, error) {
		return shared, nil
	})
	eng, _ := newTestEngine(t, WithResolver(resolver))
	mustCreate(t, eng, ctx, rowPolicy("dept", "orders", policy.SubjectDepartment, "d", "dept_id = 1", 1))

	d := mustEvaluate(t, eng, ctx, &Principal{ID: "u1"}, "orders")
	if d.Predicate() != "dept_id = 1" {
		t.Fatalf("predicate = %q", d.Predicate())
	}
	for i := range want {
		if shared[i] != want[i] {
			t.Fatalf("resolver slice changed: got %v, want %v", shared, want)
		}
	}
}

func TestEvaluate_InvalidInput(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	_, err := eng.Evaluate(ctx, salesUser, policy.ResourceTable, "orders", policy.OpSelect|policy.OpUpdate)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
	_, err = eng.Evaluate(ctx, salesUser, policy.ResourceTable, "orders", 0)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, want ErrInvalidOperation", err)
	}
	_, err = eng.Evaluate(ctx, salesUser, "queue", "orders", policy.OpSelect)
	if !errors.Is(err, ErrInvalidResource) {
		t.Fatalf("err = %v, want ErrInvalidResource", err)
	}
}

type unavailableStore struct{ *memory.Store }

func (unavailableStore) ListPoliciesForResource(context.Context, string, policy.ResourceType, string) ([]*policy.Policy, error) {
	return nil, errors.New("connection refused")
}

func TestEvaluate_StoreUnavailable(t *testing.T) {
	eng, err := NewEngine(WithStore(unavailableStore{memory.New()}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = eng.Evaluate(tenantCtx(), salesUser, policy.ResourceTable, "orders", policy.OpSelect)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestEvaluate_TenantIsolation(t *testing.T) {
	eng, _ := newTestEngine(t)
	t1 := tenantCtx()
	t2 := WithTenant(context.Background(), "app1", "t2")

	created := mustCreate(t, eng, t1, rowPolicy("t1 only", "orders", policy.SubjectRole, "sales", "a = 1", 1))

	d := mustEvaluate(t, eng, t2, salesUser, "orders")
	if len(d.MatchedPolicyIDs) != 0 {
		t.Fatal("tenant t2 must not see t1 policies")
	}
	if _, err := eng.GetPolicy(t2, created.ID); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
	if TenantFromContext(t1) != "t1" {
		t.Fatalf("tenant = %q", TenantFromContext(t1))
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "customer_region = ${region}", 1))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := eng.Evaluate(ctx, salesUser, policy.ResourceTable, "orders", policy.OpSelect)
			if err != nil {
				errs <- err
				return
			}
			if got := d.Predicate(); got != "customer_region = 'west'" && got != "customer_region = 'east'" {
				errs <- errors.New("torn predicate: " + got)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		upd := *p
		upd.RowCondition = "customer_region = 'east'"
		if _, err := eng.UpdatePolicy(ctx, "admin", &upd); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

// ──────────────────────────────────────────────────
// Caching
// ──────────────────────────────────────────────────

type mapCache struct {
	mu      sync.Mutex
	entries map[string]mapEntry
	hits    int
	lastTTL time.Duration
}

type mapEntry struct {
	key DecisionKey
	d   *Decision
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string]mapEntry)} }

func (c *mapCache) Get(_ context.Context, key *DecisionKey) (*Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if ok {
		c.hits++
	}
	return e.d, ok
}

func (c *mapCache) Set(_ context.Context, key *DecisionKey, d *Decision, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTTL = ttl
	c.entries[key.String()] = mapEntry{key: *key, d: d}
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, tenantID string, scope ScopeKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.key.TenantID == tenantID && e.key.Covers(scope) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *mapCache) InvalidateTenant(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.key.TenantID == tenantID {
			delete(c.entries, k)
		}
	}
	return nil
}

func TestCache_HitAndInvalidation(t *testing.T) {
	ctx := tenantCtx()
	c := newMapCache()
	eng, _ := newTestEngine(t, WithCache(c))

	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "customer_region = ${region}", 1))

	first := mustEvaluate(t, eng, ctx, salesUser, "orders")
	second := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if c.hits != 1 {
		t.Fatalf("hits = %d, want 1", c.hits)
	}
	if first.Predicate() != second.Predicate() {
		t.Fatal("cached decision differs")
	}

	// Different attribute values must not share a cache entry.
	east := &Principal{ID: "user42", Roles: []string{"sales"}, Attributes: map[string]any{"region": "east"}}
	if got := mustEvaluate(t, eng, ctx, east, "orders").Predicate(); got != "customer_region = 'east'" {
		t.Fatalf("predicate = %q", got)
	}

	upd := *p
	upd.RowCondition = "customer_region = 'north'"
	if _, err := eng.UpdatePolicy(ctx, "admin", &upd); err != nil {
		t.Fatal(err)
	}
	if got := mustEvaluate(t, eng, ctx, salesUser, "orders").Predicate(); got != "customer_region = 'north'" {
		t.Fatalf("stale decision after update: %q", got)
	}

	// A new policy for another subject of the principal invalidates too.
	mustCreate(t, eng, ctx, rowPolicy("own", "orders", policy.SubjectUser, "user42", "owner = ${userId}", 0))
	if got := mustEvaluate(t, eng, ctx, salesUser, "orders").Predicate(); got != "owner = 'user42'" {
		t.Fatalf("stale decision after create: %q", got)
	}
}

func TestCache_FollowsValidityWindows(t *testing.T) {
	ctx := tenantCtx()
	c := newMapCache()
	now := testNow
	eng, _ := newTestEngine(t,
		WithCache(c),
		WithConfig(Config{CacheTTL: 5 * time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	freezeEnd := testNow.Add(time.Minute)
	freeze := rowPolicy("freeze", "orders", policy.SubjectRole, "sales", "1 = 1", 1)
	freeze.Effect = policy.EffectDeny
	freeze.ValidTo = &freezeEnd
	mustCreate(t, eng, ctx, freeze)

	westStart := testNow.Add(3 * time.Minute)
	west := rowPolicy("west", "orders", policy.SubjectRole, "sales", "customer_region = ${region}", 5)
	west.ValidFrom = &westStart
	mustCreate(t, eng, ctx, west)

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if d.Granted {
		t.Fatal("freeze should deny before it ends")
	}
	if !d.ValidUntil.Equal(freezeEnd) {
		t.Fatalf("valid until = %v, want %v", d.ValidUntil, freezeEnd)
	}
	if c.lastTTL != time.Minute {
		t.Fatalf("cache ttl = %v, want capped at 1m", c.lastTTL)
	}
	mustEvaluate(t, eng, ctx, salesUser, "orders")
	if c.hits != 1 {
		t.Fatalf("hits = %d, want 1", c.hits)
	}

	// Past the freeze and before west starts nothing applies.
	now = testNow.Add(2 * time.Minute)
	d = mustEvaluate(t, eng, ctx, salesUser, "orders")
	if !d.Granted || d.RowPredicate != nil || len(d.MatchedPolicyIDs) != 0 {
		t.Fatalf("expired policy still applied: %+v", d)
	}
	if !d.ValidUntil.Equal(westStart) {
		t.Fatalf("valid until = %v, want %v", d.ValidUntil, westStart)
	}

	now = testNow.Add(4 * time.Minute)
	d = mustEvaluate(t, eng, ctx, salesUser, "orders")
	if got := d.Predicate(); got != "customer_region = 'west'" {
		t.Fatalf("predicate = %q, want the policy that became valid", got)
	}
	if !d.ValidUntil.IsZero() {
		t.Fatalf("valid until = %v, want zero", d.ValidUntil)
	}
	if c.lastTTL != 5*time.Minute {
		t.Fatalf("cache ttl = %v, want configured 5m", c.lastTTL)
	}
}

func TestCache_ReturnedDecisionIsACopy(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t, WithCache(newMapCache()))
	mustCreate(t, eng, ctx, columnPolicy("hide", "orders", policy.SubjectRole, "sales",
		policy.EffectDeny, policy.ColumnConfig{Deny: []string{"ssn"}}, 1))

	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	d.DeniedColumns.Add("total")

	again := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if again.DeniedColumns.Has("total") {
		t.Fatal("caller mutation leaked into the cache")
	}
}

// ──────────────────────────────────────────────────
// Policy lifecycle
// ──────────────────────────────────────────────────

func TestCreatePolicy_Defaults(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))
	if p.ID.IsNil() || p.ID.Prefix() != id.PrefixPolicy {
		t.Fatalf("id = %q", p.ID)
	}
	if p.TenantID != "t1" || p.AppID != "app1" {
		t.Fatalf("scope = %s/%s", p.AppID, p.TenantID)
	}
	if p.Status != policy.StatusActive || p.Version != 1 {
		t.Fatalf("status = %s, version = %d", p.Status, p.Version)
	}
	if p.GrantedBy != "admin" || !p.GrantedAt.Equal(testNow) || !p.CreatedAt.Equal(testNow) {
		t.Fatalf("audit fields = %s %v %v", p.GrantedBy, p.GrantedAt, p.CreatedAt)
	}
}

func TestCreatePolicy_Validation(t *testing.T) {
	ctx := tenantCtx()

	tests := []struct {
		name  string
		cfg   Config
		mod   func(p *policy.Policy)
		field string
	}{
		{"missing row condition", Config{}, func(p *policy.Policy) { p.RowCondition = "" }, "row_condition"},
		{"bad syntax", Config{}, func(p *policy.Policy) { p.RowCondition = "a = = 1" }, "row_condition"},
		{"injection", Config{}, func(p *policy.Policy) { p.RowCondition = "1 = 1; DROP TABLE orders" }, "row_condition"},
		{
			"unknown variable",
			Config{KnownVariables: []string{"region"}},
			func(p *policy.Policy) { p.RowCondition = "a = ${colour}" },
			"row_condition",
		},
		{"zero operations", Config{}, func(p *policy.Policy) { p.Operations = 0 }, "operations"},
		{"bad subject", Config{}, func(p *policy.Policy) { p.SubjectType = "team" }, "subject_type"},
		{"missing name", Config{}, func(p *policy.Policy) { p.Name = " " }, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, s := newTestEngine(t, WithConfig(tt.cfg))
			p := rowPolicy("p", "orders", policy.SubjectRole, "sales", "a = 1", 1)
			tt.mod(p)

			_, err := eng.CreatePolicy(ctx, "admin", p)
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("err = %v, want ErrInvalidPolicy", err)
			}
			var verr *policy.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("validation error = %v, want field %s", err, tt.field)
			}
			if n, _ := s.CountPolicies(ctx, nil); n != 0 {
				t.Fatal("invalid policy was stored")
			}
		})
	}
}

func TestPolicyWrites_LeaveInputUntouched(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	bad := rowPolicy("bad", "orders", policy.SubjectRole, "sales", "a = = 1", 1)
	if _, err := eng.CreatePolicy(ctx, "admin", bad); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
	if !bad.ID.IsNil() || bad.TenantID != "" || bad.CreatedBy != "" || bad.Version != 0 || bad.Status != "" {
		t.Fatalf("rejected create changed the input: %+v", bad)
	}

	in := rowPolicy("good", "orders", policy.SubjectRole, "sales", "a = 1", 1)
	res, err := eng.CreatePolicy(ctx, "admin", in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Policy == in || !in.ID.IsNil() || in.Version != 0 {
		t.Fatal("create returned or changed the caller's policy")
	}

	upd := rowPolicy("good", "orders", policy.SubjectRole, "sales", "a = = 2", 1)
	upd.ID = res.Policy.ID
	if _, err := eng.UpdatePolicy(ctx, "editor", upd); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
	if upd.TenantID != "" || upd.UpdatedBy != "" || upd.Version != 0 || upd.CreatedBy != "" {
		t.Fatalf("rejected update changed the input: %+v", upd)
	}
}

func TestCreatePolicy_KnownVariablesAcceptsBuiltins(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t, WithConfig(Config{KnownVariables: []string{"region"}}))

	p := rowPolicy("p", "orders", policy.SubjectRole, "sales", "owner = ${userId} AND region = ${region}", 1)
	if _, err := eng.CreatePolicy(ctx, "admin", p); err != nil {
		t.Fatal(err)
	}
}

func TestCreatePolicy_ConflictWarnings(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	existing := mustCreate(t, eng, ctx, rowPolicy("a", "orders", policy.SubjectRole, "sales", "a = 1", 10))

	res, err := eng.CreatePolicy(ctx, "admin", rowPolicy("b", "orders", policy.SubjectRole, "sales", "b = 2", 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(res.Warnings))
	}
	w := res.Warnings[0]
	if w.PolicyID.String() != existing.ID.String() || w.Kind != ConflictSamePriority || w.Operations != policy.OpSelect {
		t.Fatalf("warning = %+v", w)
	}

	// Non-overlapping validity window: no warning.
	later := testNow.Add(48 * time.Hour)
	future := rowPolicy("c", "orders", policy.SubjectRole, "sales", "c = 3", 10)
	future.ValidFrom = &later
	deadline := testNow.Add(24 * time.Hour)
	for _, q := range []string{existing.ID.String(), res.Policy.ID.String()} {
		pid, _ := id.ParsePolicyID(q)
		p, _ := eng.GetPolicy(ctx, pid)
		p.ValidTo = &deadline
		if _, err := eng.UpdatePolicy(ctx, "admin", p); err != nil {
			t.Fatal(err)
		}
	}
	res, err = eng.CreatePolicy(ctx, "admin", future)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("warnings = %+v, want none", res.Warnings)
	}
}

func TestUpdatePolicy_PreservesIdentity(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))

	upd := rowPolicy("renamed", "orders", policy.SubjectRole, "sales", "a = 2", 3)
	upd.ID = p.ID
	upd.TenantID = "other"
	res, err := eng.UpdatePolicy(ctx, "editor", upd)
	if err != nil {
		t.Fatal(err)
	}
	got := res.Policy
	if got.TenantID != "t1" || got.CreatedBy != "admin" || got.UpdatedBy != "editor" || got.Version != 2 {
		t.Fatalf("updated = %+v", got)
	}

	missing := rowPolicy("x", "orders", policy.SubjectRole, "sales", "a = 1", 1)
	missing.ID = id.NewPolicyID()
	if _, err := eng.UpdatePolicy(ctx, "editor", missing); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
}

func TestEnableDisable(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))

	if _, err := eng.DisablePolicy(ctx, "admin", p.ID); err != nil {
		t.Fatal(err)
	}
	if d := mustEvaluate(t, eng, ctx, salesUser, "orders"); len(d.MatchedPolicyIDs) != 0 {
		t.Fatal("disabled policy must not match")
	}

	got, err := eng.EnablePolicy(ctx, "admin", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != policy.StatusActive || got.Version != 3 {
		t.Fatalf("status = %s, version = %d", got.Status, got.Version)
	}
	if d := mustEvaluate(t, eng, ctx, salesUser, "orders"); d.Predicate() != "a = 1" {
		t.Fatal("re-enabled policy should match")
	}

	// Enabling an active policy is a no-op.
	again, err := eng.EnablePolicy(ctx, "admin", p.ID)
	if err != nil || again.Version != 3 {
		t.Fatalf("no-op enable = %v, %v", again, err)
	}
}

func TestDeletePolicy_SoftDelete(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))

	if err := eng.DeletePolicy(ctx, "admin", p.ID); err != nil {
		t.Fatal(err)
	}
	if d := mustEvaluate(t, eng, ctx, salesUser, "orders"); len(d.MatchedPolicyIDs) != 0 {
		t.Fatal("deleted policy must not match")
	}

	got, err := eng.GetPolicy(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Deleted || got.DeletedBy != "admin" || got.DeletedAt == nil {
		t.Fatalf("deleted record = %+v", got)
	}

	if err := eng.DeletePolicy(ctx, "admin", p.ID); !errors.Is(err, ErrPolicyDeleted) {
		t.Fatalf("err = %v, want ErrPolicyDeleted", err)
	}
	if _, err := eng.EnablePolicy(ctx, "admin", p.ID); !errors.Is(err, ErrPolicyDeleted) {
		t.Fatalf("err = %v, want ErrPolicyDeleted", err)
	}
	if err := eng.DeletePolicy(ctx, "admin", id.NewPolicyID()); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}

	page, err := eng.ListPolicies(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Fatal("deleted policies are hidden from default listings")
	}
	page, err = eng.ListPolicies(ctx, &policy.ListFilter{DeletedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Fatalf("deleted total = %d, want 1", page.Total)
	}
}

func TestListPolicies_Pagination(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	for i := range 5 {
		mustCreate(t, eng, ctx, rowPolicy("p", "orders", policy.SubjectRole, "sales", "a = 1", i))
	}

	page, err := eng.ListPolicies(ctx, &policy.ListFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Items) != 2 {
		t.Fatalf("total = %d, items = %d", page.Total, len(page.Items))
	}
	if page.Items[0].Priority != 1 || page.Items[1].Priority != 2 {
		t.Fatalf("order = %d, %d", page.Items[0].Priority, page.Items[1].Priority)
	}
}

func TestChangeLog(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)
	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))

	upd := *p
	upd.Priority = 7
	if _, err := eng.UpdatePolicy(ctx, "editor", &upd); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.DisablePolicy(ctx, "editor", p.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.DeletePolicy(ctx, "root", p.ID); err != nil {
		t.Fatal(err)
	}

	entries, err := eng.ListChanges(ctx, &changelog.QueryFilter{PolicyID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	versions := map[changelog.Action]int{}
	for _, e := range entries {
		versions[e.Action] = e.Version
		if len(e.Snapshot) == 0 || e.TenantID != "t1" {
			t.Fatalf("entry = %+v", e)
		}
	}
	want := map[changelog.Action]int{
		changelog.ActionCreated:  1,
		changelog.ActionUpdated:  2,
		changelog.ActionDisabled: 3,
		changelog.ActionDeleted:  4,
	}
	for action, v := range want {
		if versions[action] != v {
			t.Fatalf("%s version = %d, want %d", action, versions[action], v)
		}
	}

	deletes, err := eng.ListChanges(ctx, &changelog.QueryFilter{Actor: "root"})
	if err != nil {
		t.Fatal(err)
	}
	if len(deletes) != 1 || deletes[0].Action != changelog.ActionDeleted {
		t.Fatalf("actor filter = %+v", deletes)
	}
}

func TestGetStatistics(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	a := mustCreate(t, eng, ctx, rowPolicy("a", "orders", policy.SubjectRole, "sales", "a = 1", 1))
	b := mustCreate(t, eng, ctx, columnPolicy("b", "orders", policy.SubjectUser, "u1",
		policy.EffectDeny, policy.ColumnConfig{Deny: []string{"ssn"}}, 1))
	mustCreate(t, eng, ctx, rowPolicy("c", "invoices", policy.SubjectDepartment, "d1", "a = 1", 1))
	if _, err := eng.DisablePolicy(ctx, "admin", a.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.DeletePolicy(ctx, "admin", b.ID); err != nil {
		t.Fatal(err)
	}

	st, err := eng.GetStatistics(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.Active != 1 || st.Disabled != 1 || st.Deleted != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByResourceType[policy.ResourceTable] != 2 || st.ByResourceType[policy.ResourceView] != 0 {
		t.Fatalf("by resource type = %v", st.ByResourceType)
	}
	if st.BySubjectType[policy.SubjectRole] != 1 || st.BySubjectType[policy.SubjectUser] != 0 {
		t.Fatalf("by subject type = %v", st.BySubjectType)
	}
	if st.ByPermissionType[policy.PermissionRow] != 2 || st.ByEffect[policy.EffectAllow] != 2 {
		t.Fatalf("by permission = %v, by effect = %v", st.ByPermissionType, st.ByEffect)
	}

	scoped, err := eng.GetStatistics(ctx, &StatsFilter{ResourceID: "invoices"})
	if err != nil {
		t.Fatal(err)
	}
	if scoped.Total != 1 {
		t.Fatalf("scoped total = %d", scoped.Total)
	}
}

func TestImportBundle(t *testing.T) {
	ctx := tenantCtx()
	eng, _ := newTestEngine(t)

	b, err := bundle.Parse([]byte(`
policies:
  - name: west orders
    resource: {type: table, id: orders}
    subject: {type: role, id: sales}
    permission: row_and_column
    operations: [select]
    row_condition: customer_region = ${region}
    columns: {deny: [ssn]}
    priority: 10
`))
	if err != nil {
		t.Fatal(err)
	}
	results, err := eng.ImportBundle(ctx, "ci", b)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Policy.TenantID != "t1" {
		t.Fatalf("results = %+v", results)
	}
	d := mustEvaluate(t, eng, ctx, salesUser, "orders")
	if d.Predicate() != "customer_region = 'west'" || !d.DeniedColumns.Has("ssn") {
		t.Fatalf("decision = %+v", d)
	}

	// Re-importing with the id updates in place.
	b.Policies[0].ID = results[0].Policy.ID.String()
	b.Policies[0].RowCondition = "customer_region = 'south'"
	if _, err := eng.ImportBundle(ctx, "ci", b); err != nil {
		t.Fatal(err)
	}
	page, _ := eng.ListPolicies(ctx, nil)
	if page.Total != 1 || page.Items[0].Version != 2 {
		t.Fatalf("page = %+v", page)
	}

	// A bad declaration aborts before anything is written.
	b.Policies = append(b.Policies, bundle.PolicyDoc{Name: "broken", Resource: bundle.ResourceRef{Type: policy.ResourceTable, ID: "x"}})
	b.Policies[0].ID = ""
	if _, err := eng.ImportBundle(ctx, "ci", b); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("err = %v, want ErrInvalidPolicy", err)
	}
	page, _ = eng.ListPolicies(ctx, nil)
	if page.Total != 1 {
		t.Fatalf("total = %d after failed import", page.Total)
	}
}

// ──────────────────────────────────────────────────
// Plugins
// ──────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnPolicyCreated(context.Context, *policy.Policy) error {
	r.add("created")
	return nil
}

func (r *recorder) OnPolicyDeleted(context.Context, id.PolicyID) error {
	r.add("deleted")
	return nil
}

func (r *recorder) OnAfterEvaluate(_ context.Context, _, decision any) error {
	if _, ok := decision.(*Decision); ok {
		r.add("evaluated")
	}
	return nil
}

func TestPluginHooks(t *testing.T) {
	ctx := tenantCtx()
	rec := &recorder{}
	eng, _ := newTestEngine(t, WithPlugin(rec))

	p := mustCreate(t, eng, ctx, rowPolicy("west", "orders", policy.SubjectRole, "sales", "a = 1", 1))
	mustEvaluate(t, eng, ctx, salesUser, "orders")
	if err := eng.DeletePolicy(ctx, "admin", p.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{"created", "evaluated", "deleted"}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", rec.events, want)
		}
	}
}
