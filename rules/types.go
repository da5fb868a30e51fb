package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/torquesign/errdefs"
)

var (
	ErrDuplicateRule   = errdefs.New(errdefs.ErrConflict, "rule already exists")
	ErrRuleNotFound    = errdefs.New(errdefs.ErrNotFound, "rule not found")
	ErrInvalidRuleType = errdefs.New(errdefs.ErrInvalidInput, "invalid rule type")
	ErrInvalidRule     = errdefs.New(errdefs.ErrInvalidInput, "invalid rule")
)

// Kind identifies how a rule is evaluated. The set is closed; every switch over
// Kind must handle all four values.
type Kind string

const (
	KindTolerance      Kind = "TOLERANCE"
	KindWarningZone    Kind = "WARNING_ZONE"
	KindMultiCondition Kind = "MULTI_CONDITION"
	KindExpression     Kind = "EXPRESSION"
)

// Kinds lists every known rule kind
func Kinds() []Kind {
	return []Kind{KindTolerance, KindWarningZone, KindMultiCondition, KindExpression}
}

// Severity orders the impact of a result or a triggered rule
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "INFO",
	SeverityWarning:  "WARNING",
	SeverityError:    "ERROR",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity converts a severity name to its value
func ParseSeverity(name string) (Severity, error) {
	for sev, n := range severityNames {
		if strings.EqualFold(n, name) {
			return sev, nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q: %w", name, ErrInvalidRule)
}

func (s Severity) MarshalText() ([]byte, error) {
	if _, ok := severityNames[s]; !ok {
		return nil, fmt.Errorf("unknown severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the highest of the given severities
func MaxSeverity(first Severity, rest ...Severity) Severity {
	max := first
	for _, s := range rest {
		if s > max {
			max = s
		}
	}
	return max
}

// Params is the typed parameter payload of a rule. Only the payloads declared
// in this package satisfy it.
type Params interface {
	Kind() Kind
	validate() error
}

// ToleranceParams tightens the specification window. A nil limit keeps the
// specification bound.
type ToleranceParams struct {
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

func (ToleranceParams) Kind() Kind { return KindTolerance }

// Bounds returns the effective window for a specification window. Limits only
// ever tighten.
func (p ToleranceParams) Bounds(lower, upper float64) (float64, float64) {
	if p.Lower != nil && *p.Lower > lower {
		lower = *p.Lower
	}
	if p.Upper != nil && *p.Upper < upper {
		upper = *p.Upper
	}
	return lower, upper
}

// WarningZoneParams flags passing readings within Percent of the band width
// from either tolerance boundary.
type WarningZoneParams struct {
	Percent float64 `json:"percent"`
}

func (WarningZoneParams) Kind() Kind { return KindWarningZone }

// Field names a reading attribute a condition can test
type Field string

const (
	FieldValue       Field = "value"
	FieldAngle       Field = "angle"
	FieldTemperature Field = "temperature"
	FieldBattery     Field = "battery"
)

// Condition is a range check on one reading attribute
type Condition struct {
	Field Field    `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

func (c Condition) String() string {
	var b strings.Builder
	b.WriteString(string(c.Field))
	if c.Min != nil {
		fmt.Fprintf(&b, " >= %g", *c.Min)
	}
	if c.Min != nil && c.Max != nil {
		b.WriteString(" and")
	}
	if c.Max != nil {
		fmt.Fprintf(&b, " <= %g", *c.Max)
	}
	return b.String()
}

// MultiConditionParams evaluates several range checks together. With
// RequireAll the rule triggers when any condition fails; otherwise only when
// all of them fail. Blocking rules invalidate the result when triggered.
type MultiConditionParams struct {
	Conditions []Condition `json:"conditions"`
	RequireAll bool        `json:"requireAll"`
	Blocking   bool        `json:"blocking"`
}

func (MultiConditionParams) Kind() Kind { return KindMultiCondition }

// ExpressionParams is a CEL predicate over the reading and specification
type ExpressionParams struct {
	Expression string `json:"expression"`
	Blocking   bool   `json:"blocking"`
}

func (ExpressionParams) Kind() Kind { return KindExpression }

// Rule represents a single validation rule
type Rule struct {
	ID        string
	Name      string
	Kind      Kind
	Params    Params
	Active    bool
	Severity  Severity
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ruleJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"ruleType"`
	Params    json.RawMessage `json:"parameters"`
	Active    bool            `json:"active"`
	Severity  Severity        `json:"severity"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	params, err := EncodeParams(r.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      r.Kind,
		Params:    params,
		Active:    r.Active,
		Severity:  r.Severity,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	params, err := DecodeParams(raw.Kind, raw.Params)
	if err != nil {
		return err
	}
	*r = Rule{
		ID:        raw.ID,
		Name:      raw.Name,
		Kind:      raw.Kind,
		Params:    params,
		Active:    raw.Active,
		Severity:  raw.Severity,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
	}
	return nil
}

// EncodeParams serializes a payload for storage
func EncodeParams(p Params) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s parameters: %w", p.Kind(), err)
	}
	return b, nil
}

// DecodeParams restores the payload type belonging to kind
func DecodeParams(kind Kind, raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		params Params
		err    error
	)
	switch kind {
	case KindTolerance:
		var p ToleranceParams
		err = json.Unmarshal(raw, &p)
		params = p
	case KindWarningZone:
		var p WarningZoneParams
		err = json.Unmarshal(raw, &p)
		params = p
	case KindMultiCondition:
		var p MultiConditionParams
		err = json.Unmarshal(raw, &p)
		params = p
	case KindExpression:
		var p ExpressionParams
		err = json.Unmarshal(raw, &p)
		params = p
	default:
		return nil, fmt.Errorf("rule type %q: %w", kind, ErrInvalidRuleType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s parameters: %v: %w", kind, err, ErrInvalidRule)
	}
	return params, nil
}

// clone copies the rule so stored rules never alias caller memory
func (r *Rule) clone() *Rule {
	c := *r
	switch p := r.Params.(type) {
	case MultiConditionParams:
		p.Conditions = append([]Condition(nil), p.Conditions...)
		c.Params = p
	case ToleranceParams:
		p.Lower = copyFloat(p.Lower)
		p.Upper = copyFloat(p.Upper)
		c.Params = p
	}
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
