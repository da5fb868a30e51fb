package workflow

import (
	"time"

	"github.com/liamcoop/torquesign/errdefs"
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/signature"
)

var (
	ErrWorkflowNotFound    = errdefs.New(errdefs.ErrNotFound, "workflow not found")
	ErrDuplicateWorkflow   = errdefs.New(errdefs.ErrConflict, "workflow already exists")
	ErrInvalidWorkflowType = errdefs.New(errdefs.ErrInvalidInput, "invalid workflow type")
	ErrWorkflowClosed      = errdefs.New(errdefs.ErrStateConflict, "cannot add signature to completed or rejected workflow")
	ErrNotPending          = errdefs.New(errdefs.ErrStateConflict, "workflow is not pending")
	ErrStepAlreadySigned   = errdefs.New(errdefs.ErrStateConflict, "workflow step was signed concurrently")
	ErrAlreadyEscalated    = errdefs.New(errdefs.ErrStateConflict, "workflow already escalated")
	ErrUnauthorizedSigner  = errdefs.New(errdefs.ErrInvalidInput, "signer is not authorized for the current step")
	ErrReasonRequired      = errdefs.New(errdefs.ErrInvalidInput, "reason required")
	ErrNotInitiator        = errdefs.New(errdefs.ErrInvalidInput, "only the initiator may withdraw a workflow")
	ErrInvalidDelegation   = errdefs.New(errdefs.ErrInvalidInput, "invalid delegation")
	ErrInvalidRequest      = errdefs.New(errdefs.ErrInvalidInput, "invalid workflow request")
)

type Type string

const (
	TypeCompletion         Type = "COMPLETION"
	TypeReworkApproval     Type = "REWORK_APPROVAL"
	TypeSupervisorOverride Type = "SUPERVISOR_OVERRIDE"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCompletion, TypeReworkApproval, TypeSupervisorOverride:
		return true
	}
	return false
}

type Role string

const (
	RoleOperator         Role = "operator"
	RoleSupervisor       Role = "supervisor"
	RoleQualityInspector Role = "quality_inspector"
	RoleQualityEngineer  Role = "quality_engineer"
)

// roleOrder is the stable order requirements are listed in
var roleOrder = []Role{RoleOperator, RoleSupervisor, RoleQualityInspector, RoleQualityEngineer}

func (r Role) Valid() bool {
	for _, known := range roleOrder {
		if r == known {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusTimeout   Status = "TIMEOUT"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Requirement is one signing step. Steps are signed in order.
type Requirement struct {
	Step     int  `json:"step"`
	Role     Role `json:"role"`
	Required bool `json:"required"`
}

// Workflow is a snapshot of an approval workflow. Snapshots returned by the
// engine are copies.
type Workflow struct {
	ID               string                `json:"id"`
	Type             Type                  `json:"type"`
	Report           models.ReportData     `json:"report"`
	Initiator        string                `json:"initiator"`
	OverrideReason   string                `json:"overrideReason,omitempty"`
	Requirements     []Requirement         `json:"requirements"`
	Signatures       []signature.Signature `json:"signatures"`
	CurrentStepIndex int                   `json:"currentStepIndex"`
	Status           Status                `json:"status"`
	Escalated        bool                  `json:"escalated"`
	EscalationReason string                `json:"escalationReason,omitempty"`
	EscalatedAt      *time.Time            `json:"escalatedAt,omitempty"`
	RejectionReason  string                `json:"rejectionReason,omitempty"`
	WithdrawalReason string                `json:"withdrawalReason,omitempty"`
	WithdrawnBy      string                `json:"withdrawnBy,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
}

// CurrentStep returns the requirement awaiting a signature
func (w Workflow) CurrentStep() (Requirement, bool) {
	if w.Status != StatusPending || w.CurrentStepIndex >= len(w.Requirements) {
		return Requirement{}, false
	}
	return w.Requirements[w.CurrentStepIndex], true
}

func (w Workflow) clone() Workflow {
	c := w
	c.Requirements = append([]Requirement(nil), w.Requirements...)
	c.Signatures = append([]signature.Signature{}, w.Signatures...)
	if w.Report.Specification != nil {
		spec := *w.Report.Specification
		c.Report.Specification = &spec
	}
	c.EscalatedAt = copyTime(w.EscalatedAt)
	c.CompletedAt = copyTime(w.CompletedAt)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type CreateRequest struct {
	ID             string            `json:"id,omitempty"`
	Type           Type              `json:"type"`
	Report         models.ReportData `json:"report"`
	Initiator      string            `json:"initiator"`
	OverrideReason string            `json:"overrideReason,omitempty"`
}

type SignRequest struct {
	WorkflowID string         `json:"-"`
	SignerID   string         `json:"signerId"`
	SignerName string         `json:"signerName,omitempty"`
	Role       Role           `json:"role"`
	Type       signature.Type `json:"type"`
	Reason     string         `json:"reason,omitempty"`
}

// Delegation lets DelegatedTo sign steps requiring Role during
// [ValidFrom, ValidTo). An empty ScopedTypes covers every workflow type.
type Delegation struct {
	ID          string    `json:"id"`
	DelegatedBy string    `json:"delegatedBy"`
	DelegatedTo string    `json:"delegatedTo"`
	Role        Role      `json:"role"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	ScopedTypes []Type    `json:"scopedTypes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActiveAt reports whether the delegation is in force at t
func (d Delegation) ActiveAt(t time.Time) bool {
	return !t.Before(d.ValidFrom) && t.Before(d.ValidTo)
}

// Covers reports whether the delegation applies to workflows of type t
func (d Delegation) Covers(t Type) bool {
	if len(d.ScopedTypes) == 0 {
		return true
	}
	for _, scoped := range d.ScopedTypes {
		if scoped == t {
			return true
		}
	}
	return false
}

type DelegationRequest struct {
	DelegatedBy string    `json:"delegatedBy"`
	DelegatedTo string    `json:"delegatedTo"`
	Role        Role      `json:"role"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	ScopedTypes []Type    `json:"scopedTypes,omitempty"`
}
