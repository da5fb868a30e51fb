package rules

import (
	"errors"
	"sync"
	"testing"

	"github.com/liamcoop/torquesign/errdefs"
)

func expressionRule(id, expr string) *Rule {
	return &Rule{
		ID:       id,
		Name:     "Expression " + id,
		Kind:     KindExpression,
		Params:   ExpressionParams{Expression: expr},
		Active:   true,
		Severity: SeverityWarning,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(NewInMemoryRuleStore())
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	return registry
}

func TestNewRegistryCompilesExistingExpressions(t *testing.T) {
	store := NewInMemoryRuleStore()
	if err := store.Add(expressionRule("hot", `reading.temperature > 40.0`)); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	registry, err := NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	matched, err := registry.EvaluateExpression("hot",
		map[string]any{"temperature": 45.0},
		map[string]any{})
	if err != nil {
		t.Fatalf("EvaluateExpression() failed for pre-compiled rule: %v", err)
	}
	if !matched {
		t.Error("EvaluateExpression() = false, want true")
	}
}

func TestNewRegistryRejectsBrokenStoredExpression(t *testing.T) {
	store := NewInMemoryRuleStore()
	store.Add(expressionRule("broken", `reading.value >`))

	if _, err := NewRegistry(store); err == nil {
		t.Fatal("NewRegistry() should fail on an uncompilable stored expression")
	}
}

func TestAddRule(t *testing.T) {
	tests := []struct {
		name    string
		rule    *Rule
		wantErr error
	}{
		{
			name: "tolerance",
			rule: toleranceRule("tight", true),
		},
		{
			name: "warning zone",
			rule: &Rule{ID: "wz", Kind: KindWarningZone, Params: WarningZoneParams{Percent: 10}, Active: true},
		},
		{
			name: "multi condition",
			rule: &Rule{ID: "mc", Kind: KindMultiCondition, Active: true, Severity: SeverityWarning,
				Params: MultiConditionParams{Conditions: []Condition{{Field: FieldAngle, Min: ptr(30), Max: ptr(60)}}}},
		},
		{
			name: "expression",
			rule: expressionRule("expr", `reading.value > spec.target`),
		},
		{
			name:    "unknown kind",
			rule:    &Rule{ID: "bad", Kind: Kind("REGEX"), Params: ExpressionParams{Expression: "true"}},
			wantErr: ErrInvalidRuleType,
		},
		{
			name:    "mismatched params",
			rule:    &Rule{ID: "mismatch", Kind: KindTolerance, Params: WarningZoneParams{Percent: 5}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "inverted tolerance",
			rule:    &Rule{ID: "inverted", Kind: KindTolerance, Params: ToleranceParams{Lower: ptr(160), Upper: ptr(140)}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "warning zone too wide",
			rule:    &Rule{ID: "wide", Kind: KindWarningZone, Params: WarningZoneParams{Percent: 75}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "bad identifier",
			rule:    &Rule{ID: "has space", Kind: KindWarningZone, Params: WarningZoneParams{Percent: 5}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "uncompilable expression",
			rule:    expressionRule("syntax", `reading.value >`),
			wantErr: ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry(t)
			err := registry.AddRule(tt.rule)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("AddRule() failed: %v", err)
				}
				if _, ok := registry.GetRule(tt.rule.ID); !ok {
					t.Error("GetRule() should find the added rule")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddRule() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, errdefs.ErrInvalidInput) {
				t.Errorf("AddRule() error %v should classify as invalid input", err)
			}
			if _, ok := registry.GetRule(tt.rule.ID); ok {
				t.Error("rejected rule must not be stored")
			}
		})
	}
}

func TestAddRuleDuplicate(t *testing.T) {
	registry := newTestRegistry(t)
	if err := registry.AddRule(toleranceRule("dup", true)); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	err := registry.AddRule(toleranceRule("dup", true))
	if !errors.Is(err, ErrDuplicateRule) {
		t.Fatalf("AddRule() duplicate error = %v, want ErrDuplicateRule", err)
	}
	if !errors.Is(err, errdefs.ErrConflict) {
		t.Errorf("duplicate error should classify as conflict")
	}
}

func TestUpdateRule(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(expressionRule("swap", `reading.value > 100.0`))

	update := expressionRule("ignored-id", `reading.value > 200.0`)
	if err := registry.UpdateRule("swap", update); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}
	if update.ID != "swap" {
		t.Errorf("UpdateRule() should rewrite the rule ID, got %s", update.ID)
	}

	matched, err := registry.EvaluateExpression("swap", map[string]any{"value": 150.0}, map[string]any{})
	if err != nil {
		t.Fatalf("EvaluateExpression() failed: %v", err)
	}
	if matched {
		t.Error("UpdateRule() should recompile the expression")
	}

	if err := registry.UpdateRule("missing", toleranceRule("missing", true)); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("UpdateRule() on missing rule error = %v, want ErrRuleNotFound", err)
	}
}

func TestUpdateRuleInvalidKeepsOriginal(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(toleranceRule("keep", true))

	bad := &Rule{Kind: KindTolerance, Params: ToleranceParams{}}
	if err := registry.UpdateRule("keep", bad); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("UpdateRule() error = %v, want ErrInvalidRule", err)
	}

	got, _ := registry.GetRule("keep")
	if *got.Params.(ToleranceParams).Lower != 145 {
		t.Error("failed update must leave the stored rule unchanged")
	}
}

func TestRemoveRule(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(expressionRule("gone", `true`))

	if !registry.RemoveRule("gone") {
		t.Fatal("RemoveRule() = false for an existing rule")
	}
	if registry.RemoveRule("gone") {
		t.Error("RemoveRule() = true for an already removed rule")
	}
	if _, err := registry.EvaluateExpression("gone", nil, nil); err == nil {
		t.Error("removed expression should no longer evaluate")
	}
}

func TestActiveRulesTracksMutations(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(toleranceRule("first", true))
	registry.AddRule(toleranceRule("inactive", false))
	registry.AddRule(toleranceRule("second", true))

	active, err := registry.ActiveRules()
	if err != nil {
		t.Fatalf("ActiveRules() failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "first" || active[1].ID != "second" {
		t.Fatalf("ActiveRules() = %v, want [first second]", ids(active))
	}

	registry.UpdateRule("inactive", toleranceRule("inactive", true))
	registry.RemoveRule("first")

	active, _ = registry.ActiveRules()
	if len(active) != 2 || active[0].ID != "inactive" || active[1].ID != "second" {
		t.Errorf("ActiveRules() after mutations = %v, want [inactive second]", ids(active))
	}
}

// stallingStore holds the first ListActive call after it has read the store
// until release is closed
type stallingStore struct {
	*InMemoryRuleStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *stallingStore) ListActive() ([]*Rule, error) {
	active, err := s.InMemoryRuleStore.ListActive()
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return active, err
}

func TestActiveRulesDoesNotCacheListLoadedBeforeMutation(t *testing.T) {
	store := &stallingStore{
		InMemoryRuleStore: NewInMemoryRuleStore(),
		loaded:            make(chan struct{}),
		release:           make(chan struct{}),
	}
	registry, err := NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	if err := registry.AddRule(toleranceRule("r1", true)); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	done := make(chan []*Rule)
	go func() {
		active, _ := registry.ActiveRules()
		done <- active
	}()

	<-store.loaded
	if err := registry.UpdateRule("r1", toleranceRule("r1", false)); err != nil {
		t.Fatalf("UpdateRule() failed: %v", err)
	}
	close(store.release)
	<-done

	active, err := registry.ActiveRules()
	if err != nil {
		t.Fatalf("ActiveRules() failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ActiveRules() after deactivation = %v, want none", ids(active))
	}

	registry.UpdateRule("r1", toleranceRule("r1", true))
	registry.ActiveRules()
	registry.RemoveRule("r1")
	if active, _ := registry.ActiveRules(); len(active) != 0 {
		t.Errorf("ActiveRules() after removal = %v, want none", ids(active))
	}
}

func TestEvaluateExpressionNonBoolean(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(expressionRule("number", `reading.value * 2.0`))

	matched, err := registry.EvaluateExpression("number", map[string]any{"value": 3.0}, map[string]any{})
	if err != nil {
		t.Fatalf("EvaluateExpression() failed: %v", err)
	}
	if matched {
		t.Error("non-boolean result should count as not matched")
	}
}

func TestEvaluateExpressionMissingKey(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(expressionRule("angle", `reading.angle > 45.0`))

	if _, err := registry.EvaluateExpression("angle", map[string]any{"value": 150.0}, map[string]any{}); err == nil {
		t.Error("EvaluateExpression() should fail when the reading lacks the key")
	}
}

func TestRegistryConcurrentEvaluate(t *testing.T) {
	registry := newTestRegistry(t)
	registry.AddRule(expressionRule("over-target", `reading.value > spec.target`))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			matched, err := registry.EvaluateExpression("over-target",
				map[string]any{"value": float64(140 + i)},
				map[string]any{"target": 150.0})
			if err != nil {
				t.Errorf("EvaluateExpression() failed: %v", err)
				return
			}
			if want := 140+i > 150; matched != want {
				t.Errorf("value %d: matched = %v, want %v", 140+i, matched, want)
			}
		}(i)
	}
	wg.Wait()
}

func ids(list []*Rule) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID
	}
	return out
}
