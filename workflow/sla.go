package workflow

import "time"

type SLAState string

const (
	SLAOnTrack  SLAState = "on-track"
	SLAAtRisk   SLAState = "at-risk"
	SLABreached SLAState = "breached"
)

// SLAPolicy sets the expected completion time and the hard deadline for a
// workflow type
type SLAPolicy struct {
	Target     time.Duration `json:"target"`
	Escalation time.Duration `json:"escalation"`
}

func DefaultSLAPolicies() map[Type]SLAPolicy {
	return map[Type]SLAPolicy{
		TypeCompletion:         {Target: 24 * time.Hour, Escalation: 48 * time.Hour},
		TypeReworkApproval:     {Target: 8 * time.Hour, Escalation: 24 * time.Hour},
		TypeSupervisorOverride: {Target: 4 * time.Hour, Escalation: 8 * time.Hour},
	}
}

type SLA struct {
	WorkflowID         string        `json:"workflowId"`
	Status             SLAState      `json:"status"`
	Elapsed            time.Duration `json:"elapsed"`
	TargetDeadline     time.Time     `json:"targetDeadline"`
	EscalationDeadline time.Time     `json:"escalationDeadline"`
}

// evaluateSLA measures a pending workflow against now and a closed one against
// its completion time. Escalation marks a workflow at-risk unless it is
// already breached.
func evaluateSLA(w Workflow, policy SLAPolicy, now time.Time) SLA {
	end := now
	if w.Status.Terminal() && w.CompletedAt != nil {
		end = *w.CompletedAt
	}
	elapsed := end.Sub(w.CreatedAt)

	s := SLA{
		WorkflowID:         w.ID,
		Elapsed:            elapsed,
		TargetDeadline:     w.CreatedAt.Add(policy.Target),
		EscalationDeadline: w.CreatedAt.Add(policy.Escalation),
	}
	switch {
	case elapsed > policy.Escalation:
		s.Status = SLABreached
	case elapsed > policy.Target || (w.Escalated && w.Status == StatusPending):
		s.Status = SLAAtRisk
	default:
		s.Status = SLAOnTrack
	}
	return s
}
