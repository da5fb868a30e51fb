package rules

import (
	"fmt"
	"math"
	"regexp"
)

var ruleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// ValidateRule type-checks a rule before it is registered or updated.
// Expression syntax is checked separately by the registry's CEL compiler.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("nil rule: %w", ErrInvalidRule)
	}
	if err := validateIdentifier(r.ID); err != nil {
		return fmt.Errorf("invalid rule id %q: %v: %w", r.ID, err, ErrInvalidRule)
	}
	if !knownKind(r.Kind) {
		return fmt.Errorf("rule %s has type %q: %w", r.ID, r.Kind, ErrInvalidRuleType)
	}
	if r.Params == nil {
		return fmt.Errorf("rule %s has no parameters: %w", r.ID, ErrInvalidRule)
	}
	if r.Params.Kind() != r.Kind {
		return fmt.Errorf("rule %s declares type %s but carries %s parameters: %w", r.ID, r.Kind, r.Params.Kind(), ErrInvalidRule)
	}
	if _, ok := severityNames[r.Severity]; !ok {
		return fmt.Errorf("rule %s has unknown severity %d: %w", r.ID, int(r.Severity), ErrInvalidRule)
	}
	if err := r.Params.validate(); err != nil {
		return fmt.Errorf("rule %s: %v: %w", r.ID, err, ErrInvalidRule)
	}
	return nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindTolerance, KindWarningZone, KindMultiCondition, KindExpression:
		return true
	}
	return false
}

// validateIdentifier checks rule ids: 1-100 characters, starting with a letter,
// digit or underscore, followed by letters, digits, '_', '.', or '-'
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !ruleIDPattern.MatchString(name) {
		return fmt.Errorf("must match pattern %s", ruleIDPattern.String())
	}
	return nil
}

func (p ToleranceParams) validate() error {
	if p.Lower == nil && p.Upper == nil {
		return fmt.Errorf("tolerance rule needs a lower or upper limit")
	}
	if p.Lower != nil && !finite(*p.Lower) {
		return fmt.Errorf("lower limit is not a finite number")
	}
	if p.Upper != nil && !finite(*p.Upper) {
		return fmt.Errorf("upper limit is not a finite number")
	}
	if p.Lower != nil && p.Upper != nil && *p.Lower > *p.Upper {
		return fmt.Errorf("lower limit %g exceeds upper limit %g", *p.Lower, *p.Upper)
	}
	return nil
}

func (p WarningZoneParams) validate() error {
	if !finite(p.Percent) || p.Percent <= 0 || p.Percent > 50 {
		return fmt.Errorf("warning zone percent %g must be in (0, 50]", p.Percent)
	}
	return nil
}

func (p MultiConditionParams) validate() error {
	if len(p.Conditions) == 0 {
		return fmt.Errorf("multi-condition rule needs at least one condition")
	}
	for i, c := range p.Conditions {
		switch c.Field {
		case FieldValue, FieldAngle, FieldTemperature, FieldBattery:
		default:
			return fmt.Errorf("condition %d: unknown field %q", i, c.Field)
		}
		if c.Min == nil && c.Max == nil {
			return fmt.Errorf("condition %d on %s needs a min or max", i, c.Field)
		}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("condition %d on %s: min %g exceeds max %g", i, c.Field, *c.Min, *c.Max)
		}
	}
	return nil
}

func (p ExpressionParams) validate() error {
	if p.Expression == "" {
		return fmt.Errorf("expression cannot be empty")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
