package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/torquesign/events"
	"github.com/liamcoop/torquesign/internal/logger"
)

type delegations struct {
	mu   sync.RWMutex
	list []Delegation
}

func (d *delegations) add(del Delegation) {
	d.mu.Lock()
	d.list = append(d.list, del)
	d.mu.Unlock()
}

func (d *delegations) matching(keep func(Delegation) bool) []Delegation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []Delegation{}
	for _, del := range d.list {
		if keep(del) {
			out = append(out, del)
		}
	}
	return out
}

func validateDelegation(req DelegationRequest) error {
	var problems []string
	if strings.TrimSpace(req.DelegatedBy) == "" {
		problems = append(problems, "delegatedBy is required")
	}
	if strings.TrimSpace(req.DelegatedTo) == "" {
		problems = append(problems, "delegatedTo is required")
	}
	if req.DelegatedBy != "" && req.DelegatedBy == req.DelegatedTo {
		problems = append(problems, "cannot delegate to self")
	}
	if !req.Role.Valid() {
		problems = append(problems, fmt.Sprintf("unknown role %q", req.Role))
	}
	if !req.ValidTo.After(req.ValidFrom) {
		problems = append(problems, "validTo must be after validFrom")
	}
	for _, t := range req.ScopedTypes {
		if !t.Valid() {
			problems = append(problems, fmt.Sprintf("unknown workflow type %q", t))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), ErrInvalidDelegation)
	}
	return nil
}

// DelegateApprovalAuthority records that DelegatedTo may sign for Role within
// the validity window
func (e *Engine) DelegateApprovalAuthority(ctx context.Context, req DelegationRequest) (Delegation, error) {
	if err := validateDelegation(req); err != nil {
		return Delegation{}, err
	}
	del := Delegation{
		ID:          uuid.NewString(),
		DelegatedBy: req.DelegatedBy,
		DelegatedTo: req.DelegatedTo,
		Role:        req.Role,
		ValidFrom:   req.ValidFrom,
		ValidTo:     req.ValidTo,
		ScopedTypes: append([]Type(nil), req.ScopedTypes...),
		CreatedAt:   e.now(),
	}
	e.delegations.add(del)

	if e.repo != nil {
		if err := e.repo.SaveDelegation(ctx, del); err != nil {
			logger.Error("persist delegation failed", "delegation_id", del.ID, "error", err)
		}
	}
	logger.Info("approval authority delegated",
		"delegation_id", del.ID,
		"delegated_by", del.DelegatedBy,
		"delegated_to", del.DelegatedTo,
		"role", del.Role)
	e.events.Emit(events.New(events.DelegationCreated, del.ID, del))
	return del, nil
}

// ActiveDelegations returns the delegations granted to userID that are in
// force at the given time
func (e *Engine) ActiveDelegations(userID string, at time.Time) []Delegation {
	return e.delegations.matching(func(d Delegation) bool {
		return d.DelegatedTo == userID && d.ActiveAt(at)
	})
}

// Delegations lists every delegation granted by or to userID, newest first.
// An empty userID lists all of them.
func (e *Engine) Delegations(userID string) []Delegation {
	out := e.delegations.matching(func(d Delegation) bool {
		return userID == "" || d.DelegatedTo == userID || d.DelegatedBy == userID
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// delegatedTo reports whether signer holds an active delegation for role on
// workflows of type t
func (e *Engine) delegatedTo(signer string, role Role, t Type, at time.Time) bool {
	for _, d := range e.ActiveDelegations(signer, at) {
		if d.Role == role && d.Covers(t) {
			return true
		}
	}
	return false
}
