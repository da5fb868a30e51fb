package validation

import (
	"time"

	"github.com/liamcoop/torquesign/errdefs"
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/rules"
)

var (
	ErrSessionNotFound = errdefs.New(errdefs.ErrNotFound, "validation session not found")
	ErrSessionExists   = errdefs.New(errdefs.ErrConflict, "validation session already exists")
	ErrSessionInactive = errdefs.New(errdefs.ErrStateConflict, "validation session is closed")
	ErrInvalidSpec     = errdefs.New(errdefs.ErrInvalidInput, "invalid specification")
)

// Status classifies a reading against the tolerance window
type Status string

const (
	StatusPass        Status = "PASS"
	StatusUnderTorque Status = "UNDER_TORQUE"
	StatusOverTorque  Status = "OVER_TORQUE"
	StatusError       Status = "ERROR"
)

// Result is the outcome of validating one reading. Results are never modified
// after they are appended to a session.
type Result struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"sessionId"`
	IsValid          bool           `json:"isValid"`
	Status           Status         `json:"status"`
	Value            float64        `json:"value"`
	Target           float64        `json:"target"`
	Deviation        float64        `json:"deviation"`
	PercentDeviation float64        `json:"percentDeviation"`
	AppliedRules     []string       `json:"appliedRules"`
	Warnings         []string       `json:"warnings"`
	Severity         rules.Severity `json:"severity"`
	Message          string         `json:"message"`
	Reading          models.Reading `json:"reading"`
	Timestamp        time.Time      `json:"timestamp"`
}

// clone returns a copy that shares no backing arrays with r
func (r Result) clone() Result {
	c := r
	c.AppliedRules = append([]string{}, r.AppliedRules...)
	c.Warnings = append([]string{}, r.Warnings...)
	c.Reading = r.Reading.Clone()
	return c
}

func cloneResults(results []Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = r.clone()
	}
	return out
}

// Session is a snapshot of a validation session
type Session struct {
	ID            string               `json:"id"`
	Specification models.Specification `json:"specification"`
	Active        bool                 `json:"active"`
	StartTime     time.Time            `json:"startTime"`
	EndTime       *time.Time           `json:"endTime,omitempty"`
	Results       []Result             `json:"results"`
}
