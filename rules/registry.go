package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/torquesign/internal/logger"
)

// expressionCostLimit bounds CEL evaluation so a bad rule cannot stall the
// validation pipeline
const expressionCostLimit = 1000000

// Registry owns rule definitions: it validates and stores rules, keeps the
// active list cached, and holds compiled programs for EXPRESSION rules.
type Registry struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache
	programs map[string]cel.Program // ruleID -> compiled program
	mu       sync.RWMutex           // guards programs
	writeMu  sync.Mutex             // serializes mutations

	cacheMu    sync.Mutex // guards generation and cache fills
	generation uint64     // bumped by every mutation
}

// NewRegistry creates a registry over store and compiles any expression rules
// already present in it.
func NewRegistry(store RuleStore) (*Registry, error) {
	return NewRegistryWithCache(store, NewInMemoryRulesCache(DefaultCacheConfig()))
}

// NewRegistryWithCache is NewRegistry with a caller-supplied cache
func NewRegistryWithCache(store RuleStore, cache RulesCache) (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("reading", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("spec", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	r := &Registry{
		env:      env,
		store:    store,
		cache:    cache,
		programs: make(map[string]cel.Program),
	}
	if err := r.compileAll(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}
	return r, nil
}

func (r *Registry) compileAll() error {
	all, err := r.store.List()
	if err != nil {
		return err
	}
	for _, rule := range all {
		p, ok := rule.Params.(ExpressionParams)
		if !ok {
			continue
		}
		prog, err := r.compile(p.Expression)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		r.setProgram(rule.ID, prog)
	}
	return nil
}

// compile turns an expression into a cost-limited program with state tracking
func (r *Registry) compile(expression string) (cel.Program, error) {
	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %v: %w", issues.Err(), ErrInvalidRule)
	}
	prog, err := r.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(expressionCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %v: %w", err, ErrInvalidRule)
	}
	return prog, nil
}

func (r *Registry) setProgram(id string, prog cel.Program) {
	r.mu.Lock()
	if prog == nil {
		delete(r.programs, id)
	} else {
		r.programs[id] = prog
	}
	r.mu.Unlock()
}

// prepare validates a rule and compiles its expression, if any
func (r *Registry) prepare(rule *Rule) (cel.Program, error) {
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if p, ok := rule.Params.(ExpressionParams); ok {
		return r.compile(p.Expression)
	}
	return nil, nil
}

// AddRule validates, compiles and stores a new rule. It fails with
// ErrDuplicateRule if the id exists and ErrInvalidRuleType for unknown kinds.
func (r *Registry) AddRule(rule *Rule) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.store.Get(rule.ID); err == nil {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrDuplicateRule)
	}

	prog, err := r.prepare(rule)
	if err != nil {
		return err
	}

	if err := r.store.Add(rule); err != nil {
		return err
	}
	r.setProgram(rule.ID, prog)
	r.invalidate()

	logger.Debug("rule registered", "rule_id", rule.ID, "rule_type", rule.Kind, "active", rule.Active)
	return nil
}

// UpdateRule replaces the rule stored under id
func (r *Registry) UpdateRule(id string, rule *Rule) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.store.Get(id); err != nil {
		return err
	}

	updated := rule.clone()
	updated.ID = id
	prog, err := r.prepare(updated)
	if err != nil {
		return err
	}

	if err := r.store.Update(updated); err != nil {
		return err
	}
	r.setProgram(id, prog)
	r.invalidate()

	*rule = *updated
	logger.Debug("rule updated", "rule_id", id, "active", updated.Active)
	return nil
}

// RemoveRule deletes a rule and reports whether it existed
func (r *Registry) RemoveRule(id string) bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.Delete(id); err != nil {
		if !errors.Is(err, ErrRuleNotFound) {
			logger.Error("rule removal failed", "rule_id", id, "error", err)
		}
		return false
	}
	r.setProgram(id, nil)
	r.invalidate()
	return true
}

// GetRule returns the rule stored under id
func (r *Registry) GetRule(id string) (*Rule, bool) {
	rule, err := r.store.Get(id)
	if err != nil {
		if !errors.Is(err, ErrRuleNotFound) {
			logger.Warn("rule lookup failed", "rule_id", id, "error", err)
		}
		return nil, false
	}
	return rule, true
}

// ListRules returns every rule in registration order
func (r *Registry) ListRules() ([]*Rule, error) {
	return r.store.List()
}

// ActiveRules returns the active rules in registration order, served from the
// cache when possible
func (r *Registry) ActiveRules() ([]*Rule, error) {
	if cached := r.cache.Get(); cached != nil {
		return cached, nil
	}

	r.cacheMu.Lock()
	gen := r.generation
	r.cacheMu.Unlock()

	active, err := r.store.ListActive()
	if err != nil {
		return nil, err
	}

	// A list loaded before a concurrent mutation is returned but never cached.
	r.cacheMu.Lock()
	if r.generation == gen {
		r.cache.Set(active)
	}
	r.cacheMu.Unlock()
	return active, nil
}

// invalidate drops the cached active list and fences out in-flight fills
func (r *Registry) invalidate() {
	r.cacheMu.Lock()
	r.generation++
	r.cache.Invalidate()
	r.cacheMu.Unlock()
}

// EvaluateExpression runs the compiled program of an EXPRESSION rule.
// Non-boolean results count as not matched.
func (r *Registry) EvaluateExpression(ruleID string, reading, spec map[string]any) (bool, error) {
	r.mu.RLock()
	prog, exists := r.programs[ruleID]
	r.mu.RUnlock()

	if !exists {
		return false, fmt.Errorf("rule %s is not compiled", ruleID)
	}

	out, _, err := prog.Eval(map[string]any{
		"reading": reading,
		"spec":    spec,
	})
	if err != nil {
		return false, err
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}
