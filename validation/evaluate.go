package validation

import (
	"fmt"
	"math"

	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/rules"
)

// RuleSource supplies active rules and evaluates expression rules
type RuleSource interface {
	ActiveRules() ([]*rules.Rule, error)
	EvaluateExpression(ruleID string, reading, spec map[string]any) (bool, error)
}

// classify places value in [lower, upper], boundaries inclusive
func classify(value, lower, upper float64) Status {
	switch {
	case value < lower:
		return StatusUnderTorque
	case value > upper:
		return StatusOverTorque
	default:
		return StatusPass
	}
}

// guard rejects readings that cannot be compared with the specification
func guard(spec models.Specification, reading models.Reading) (string, bool) {
	v := reading.Value
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Sprintf("Invalid torque value %v: not a finite number", v), true
	case v < 0:
		return fmt.Sprintf("Invalid torque value %.2f: negative torque", v), true
	case reading.Unit != "" && spec.Unit != "" && reading.Unit != spec.Unit:
		return fmt.Sprintf("Invalid torque value %.2f: reading unit %s does not match specification unit %s",
			v, reading.Unit, spec.Unit), true
	}
	return "", false
}

func attribute(r models.Reading, f rules.Field) (float64, bool) {
	switch f {
	case rules.FieldValue:
		return r.Value, true
	case rules.FieldAngle:
		return deref(r.Angle)
	case rules.FieldTemperature:
		return deref(r.Temperature)
	case rules.FieldBattery:
		return deref(r.BatteryLevel)
	}
	return 0, false
}

func deref(f *float64) (float64, bool) {
	if f == nil {
		return 0, false
	}
	return *f, true
}

func within(v float64, c rules.Condition) bool {
	if c.Min != nil && v < *c.Min {
		return false
	}
	if c.Max != nil && v > *c.Max {
		return false
	}
	return true
}

func ruleLabel(r *rules.Rule) string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// evaluate builds the result for one reading. It has no side effects beyond
// expression evaluation and never fails: guard violations become ERROR
// results.
func evaluate(src RuleSource, spec models.Specification, reading models.Reading, active []*rules.Rule) Result {
	res := Result{
		Value:        reading.Value,
		Target:       spec.Target,
		Deviation:    reading.Value - spec.Target,
		AppliedRules: []string{},
		Warnings:     []string{},
		Reading:      reading,
	}
	if spec.Target != 0 {
		res.PercentDeviation = res.Deviation / spec.Target * 100
	}

	if msg, bad := guard(spec, reading); bad {
		res.Status = StatusError
		res.IsValid = false
		res.Severity = rules.SeverityError
		res.Message = msg
		if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
			// NaN does not survive JSON encoding
			res.Value, res.Deviation, res.PercentDeviation = 0, 0, 0
		}
		return res
	}

	res.Status = classify(reading.Value, spec.LowerBound, spec.UpperBound)
	res.IsValid = res.Status == StatusPass
	res.Severity = rules.SeverityInfo
	if !res.IsValid {
		res.Severity = rules.SeverityError
		if spec.IsCritical() {
			res.Severity = rules.SeverityCritical
		}
	}

	// effective window for the message; each tolerance rule still
	// classifies against its own bounds
	effLower, effUpper := spec.LowerBound, spec.UpperBound
	var readingFacts, specFacts map[string]any
	for _, rule := range active {
		res.AppliedRules = append(res.AppliedRules, rule.ID)
		triggered := false

		switch p := rule.Params.(type) {
		case rules.ToleranceParams:
			lower, upper := p.Bounds(spec.LowerBound, spec.UpperBound)
			if status := classify(reading.Value, lower, upper); status != StatusPass {
				triggered = true
				res.IsValid = false
				effLower, effUpper = math.Max(effLower, lower), math.Min(effUpper, upper)
				if res.Status == StatusPass {
					res.Status = status
				}
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: torque %.2f outside tightened window [%.2f, %.2f]",
					ruleLabel(rule), reading.Value, lower, upper))
			}

		case rules.WarningZoneParams:
			if res.Status != StatusPass || !res.IsValid {
				break
			}
			margin := (spec.UpperBound - spec.LowerBound) * p.Percent / 100
			switch {
			case reading.Value-spec.LowerBound <= margin:
				triggered = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: torque %.2f within %.0f%% of lower limit %.2f",
					ruleLabel(rule), reading.Value, p.Percent, spec.LowerBound))
			case spec.UpperBound-reading.Value <= margin:
				triggered = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: torque %.2f within %.0f%% of upper limit %.2f",
					ruleLabel(rule), reading.Value, p.Percent, spec.UpperBound))
			}

		case rules.MultiConditionParams:
			evaluated, failed := 0, 0
			for _, c := range p.Conditions {
				v, ok := attribute(reading, c.Field)
				if !ok {
					res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s not reported, condition skipped",
						ruleLabel(rule), c.Field))
					continue
				}
				evaluated++
				if !within(v, c) {
					failed++
					res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s %.2f fails %s",
						ruleLabel(rule), c.Field, v, c))
				}
			}
			if p.RequireAll {
				triggered = failed > 0
			} else {
				triggered = evaluated > 0 && failed == evaluated
			}
			if triggered && p.Blocking {
				res.IsValid = false
			}

		case rules.ExpressionParams:
			if readingFacts == nil {
				readingFacts, specFacts = reading.Facts(), spec.Facts()
			}
			matched, err := src.EvaluateExpression(rule.ID, readingFacts, specFacts)
			if err != nil {
				logger.Warn("expression rule evaluation failed", "rule_id", rule.ID, "error", err)
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: could not be evaluated: %v", ruleLabel(rule), err))
				break
			}
			if matched {
				triggered = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: condition matched", ruleLabel(rule)))
				if p.Blocking {
					res.IsValid = false
				}
			}
		}

		if triggered {
			res.Severity = rules.MaxSeverity(res.Severity, rule.Severity)
		}
	}

	res.Message = message(spec, res, effLower, effUpper)
	return res
}

func message(spec models.Specification, res Result, lower, upper float64) string {
	switch res.Status {
	case StatusUnderTorque:
		return fmt.Sprintf("Torque %.2f %s below lower limit %.2f", res.Value, spec.Unit, lower)
	case StatusOverTorque:
		return fmt.Sprintf("Torque %.2f %s above upper limit %.2f", res.Value, spec.Unit, upper)
	}
	if !res.IsValid {
		return fmt.Sprintf("Torque %.2f %s rejected by blocking rule", res.Value, spec.Unit)
	}
	if len(res.Warnings) > 0 {
		return fmt.Sprintf("Torque %.2f %s within specification with %d warning(s)", res.Value, spec.Unit, len(res.Warnings))
	}
	return fmt.Sprintf("Torque %.2f %s within specification [%.2f, %.2f]", res.Value, spec.Unit, spec.LowerBound, spec.UpperBound)
}
