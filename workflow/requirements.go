package workflow

import (
	"fmt"

	"github.com/liamcoop/torquesign/models"
)

// ResolveRequirements derives the signing steps for a workflow type and the
// report it approves. Roles are de-duplicated and listed operator, supervisor,
// quality_inspector, quality_engineer.
func ResolveRequirements(t Type, report models.ReportData) ([]Requirement, error) {
	needed := map[Role]bool{}

	switch t {
	case TypeCompletion, TypeReworkApproval:
		needed[RoleOperator] = true
		if report.Specification != nil && report.Specification.IsCritical() {
			needed[RoleSupervisor] = true
		}
		if report.Summary.OutOfSpecEvents > 0 {
			needed[RoleSupervisor] = true
			needed[RoleQualityInspector] = true
		}
	case TypeSupervisorOverride:
		needed[RoleSupervisor] = true
		needed[RoleQualityEngineer] = true
	default:
		return nil, fmt.Errorf("workflow type %q: %w", t, ErrInvalidWorkflowType)
	}

	reqs := make([]Requirement, 0, len(needed))
	for _, role := range roleOrder {
		if needed[role] {
			reqs = append(reqs, Requirement{Step: len(reqs) + 1, Role: role, Required: true})
		}
	}
	return reqs, nil
}
