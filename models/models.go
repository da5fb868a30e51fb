package models

import (
	"fmt"
	"time"
)

// SafetyLevel classifies how critical a fastening operation is
type SafetyLevel string

const (
	SafetyNormal   SafetyLevel = "NORMAL"
	SafetyCritical SafetyLevel = "CRITICAL"
)

// Specification describes the acceptable range for a measurement.
// It is owned by the engineering data system and treated as read-only here.
type Specification struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Target      float64     `json:"target"`
	LowerBound  float64     `json:"lowerBound"`
	UpperBound  float64     `json:"upperBound"`
	Unit        string      `json:"unit"`
	SafetyLevel SafetyLevel `json:"safetyLevel"`
	Method      string      `json:"method,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	ApprovedBy  string      `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time  `json:"approvedAt,omitempty"`
}

// Validate checks the tolerance window is well formed
func (s Specification) Validate() error {
	if s.LowerBound > s.UpperBound {
		return fmt.Errorf("specification %s: lower bound %.4f exceeds upper bound %.4f", s.ID, s.LowerBound, s.UpperBound)
	}
	switch s.SafetyLevel {
	case "", SafetyNormal, SafetyCritical:
	default:
		return fmt.Errorf("specification %s: unknown safety level %q", s.ID, s.SafetyLevel)
	}
	return nil
}

// IsCritical reports whether the specification is safety critical
func (s Specification) IsCritical() bool {
	return s.SafetyLevel == SafetyCritical
}

// Reading is a single measurement event from a fastening tool.
type Reading struct {
	InstrumentID string    `json:"instrumentId"`
	Value        float64   `json:"value"`
	Angle        *float64  `json:"angle,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	BatteryLevel *float64  `json:"batteryLevel,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Clone returns a copy that shares no pointers with r
func (r Reading) Clone() Reading {
	c := r
	c.Angle = cloneFloat(r.Angle)
	c.Temperature = cloneFloat(r.Temperature)
	c.BatteryLevel = cloneFloat(r.BatteryLevel)
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Facts flattens the reading into the map shape used by expression rules
func (r Reading) Facts() map[string]any {
	facts := map[string]any{
		"instrumentId": r.InstrumentID,
		"value":        r.Value,
		"unit":         r.Unit,
	}
	if r.Angle != nil {
		facts["angle"] = *r.Angle
	}
	if r.Temperature != nil {
		facts["temperature"] = *r.Temperature
	}
	if r.BatteryLevel != nil {
		facts["battery"] = *r.BatteryLevel
	}
	return facts
}

// Facts flattens the specification for expression rules
func (s Specification) Facts() map[string]any {
	return map[string]any{
		"id":          s.ID,
		"target":      s.Target,
		"lowerBound":  s.LowerBound,
		"upperBound":  s.UpperBound,
		"unit":        s.Unit,
		"safetyLevel": string(s.SafetyLevel),
	}
}

// ReportSummary aggregates the validation outcome carried by a report
type ReportSummary struct {
	TotalValidations int     `json:"totalValidations"`
	PassCount        int     `json:"passCount"`
	OutOfSpecEvents  int     `json:"outOfSpecEvents"`
	PassRate         float64 `json:"passRate"`
}

// ReportData is the document submitted for sign-off.
type ReportData struct {
	DocumentID    string         `json:"documentId"`
	SessionID     string         `json:"sessionId,omitempty"`
	Specification *Specification `json:"specification,omitempty"`
	Summary       ReportSummary  `json:"summary"`
	Notes         string         `json:"notes,omitempty"`
}
