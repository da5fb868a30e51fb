// Package workflow runs multi-step signature approval of validation reports.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/torquesign/events"
	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/internal/metrics"
	"github.com/liamcoop/torquesign/signature"
)

const DefaultTimeout = 72 * time.Hour

// Engine owns approval workflows and delegations. Every workflow mutation is
// serialized by that workflow's lock; signatures are minted outside it.
type Engine struct {
	store       *store
	delegations *delegations
	signer      signature.Service
	events      events.Emitter
	repo        Repository
	timeout     time.Duration
	sla         map[Type]SLAPolicy
	now         func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTimeout sets how long a workflow may stay pending before a sweep times
// it out
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithRepository(r Repository) Option {
	return func(e *Engine) { e.repo = r }
}

func WithSLAPolicies(p map[Type]SLAPolicy) Option {
	return func(e *Engine) {
		for t, policy := range p {
			e.sla[t] = policy
		}
	}
}

// NewEngine creates an engine minting signatures through signer. emitter may
// be nil.
func NewEngine(signer signature.Service, emitter events.Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = events.Discard{}
	}
	e := &Engine{
		store:       newStore(),
		delegations: &delegations{},
		signer:      signer,
		events:      emitter,
		timeout:     DefaultTimeout,
		sla:         DefaultSLAPolicies(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore loads persisted workflows and delegations into an empty engine
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	wfs, err := e.repo.LoadWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	for _, wf := range wfs {
		if err := e.store.add(newRecord(wf)); err != nil {
			return err
		}
	}
	dels, err := e.repo.LoadDelegations(ctx)
	if err != nil {
		return fmt.Errorf("load delegations: %w", err)
	}
	for _, d := range dels {
		e.delegations.add(d)
	}
	logger.Info("workflow state restored", "workflows", len(wfs), "delegations", len(dels))
	return nil
}

// CreateWorkflow opens a pending workflow with requirements resolved from its
// report
func (e *Engine) CreateWorkflow(ctx context.Context, req CreateRequest) (Workflow, error) {
	reqs, err := ResolveRequirements(req.Type, req.Report)
	if err != nil {
		return Workflow{}, err
	}
	if strings.TrimSpace(req.Initiator) == "" {
		return Workflow{}, fmt.Errorf("initiator is required: %w", ErrInvalidRequest)
	}
	if req.Type == TypeSupervisorOverride && strings.TrimSpace(req.OverrideReason) == "" {
		return Workflow{}, fmt.Errorf("supervisor override: %w", ErrReasonRequired)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := e.now()
	rec := newRecord(Workflow{
		ID:             req.ID,
		Type:           req.Type,
		Report:         req.Report,
		Initiator:      req.Initiator,
		OverrideReason: req.OverrideReason,
		Requirements:   reqs,
		Signatures:     []signature.Signature{},
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	rec.wf = rec.wf.clone()
	if err := e.store.add(rec); err != nil {
		return Workflow{}, err
	}

	wf := rec.snapshot()
	e.persist(ctx, wf)
	metrics.WorkflowTransition(string(wf.Type), string(wf.Status))
	logger.Info("workflow created",
		"workflow_id", wf.ID,
		"type", wf.Type,
		"session_id", wf.Report.SessionID,
		"steps", len(wf.Requirements))
	e.events.Emit(events.New(events.WorkflowCreated, wf.ID, wf))
	return wf, nil
}

// AddSignature signs the current step. A rejection closes the workflow; the
// last required approval completes it.
func (e *Engine) AddSignature(ctx context.Context, req SignRequest) (Workflow, error) {
	rec, err := e.store.get(req.WorkflowID)
	if err != nil {
		return Workflow{}, err
	}
	if strings.TrimSpace(req.SignerID) == "" {
		return Workflow{}, fmt.Errorf("signerId is required: %w", ErrInvalidRequest)
	}
	rejecting := req.Type == signature.TypeRejection
	if rejecting && strings.TrimSpace(req.Reason) == "" {
		return Workflow{}, fmt.Errorf("rejection: %w", ErrReasonRequired)
	}

	rec.mu.Lock()
	if rec.wf.Status != StatusPending {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s is %s: %w", req.WorkflowID, rec.wf.Status, ErrWorkflowClosed)
	}
	step, ok := rec.wf.CurrentStep()
	if !ok {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s has no open step: %w", req.WorkflowID, ErrWorkflowClosed)
	}
	stepIndex := rec.wf.CurrentStepIndex
	wfType := rec.wf.Type
	docID := rec.wf.Report.DocumentID
	eligible := []Role{step.Role}
	if rejecting {
		for _, r := range rec.wf.Requirements {
			eligible = append(eligible, r.Role)
		}
	}
	rec.mu.Unlock()

	if docID == "" {
		docID = req.WorkflowID
	}
	role, ok := e.authorizedRole(req, eligible, wfType)
	if !ok {
		return Workflow{}, fmt.Errorf("step %d requires %s, signer %s has %q: %w",
			step.Step, step.Role, req.SignerID, req.Role, ErrUnauthorizedSigner)
	}

	sig, err := e.signer.CreateSignature(ctx, signature.Request{
		DocumentID: docID,
		SignerID:   req.SignerID,
		SignerName: req.SignerName,
		Role:       string(role),
		Type:       req.Type,
		Reason:     req.Reason,
	})
	if err != nil {
		return Workflow{}, err
	}

	rec.mu.Lock()
	if rec.wf.Status != StatusPending {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s is %s: %w", req.WorkflowID, rec.wf.Status, ErrWorkflowClosed)
	}
	if !rejecting && rec.wf.CurrentStepIndex != stepIndex {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s step %d: %w", req.WorkflowID, step.Step, ErrStepAlreadySigned)
	}

	now := e.now()
	rec.wf.Signatures = append(rec.wf.Signatures, sig)
	rec.wf.UpdatedAt = now
	if rejecting || sig.Status == signature.StatusRejected {
		if _, err := fire(ctx, rec.machine, eventReject); err != nil {
			rec.wf.Signatures = rec.wf.Signatures[:len(rec.wf.Signatures)-1]
			rec.mu.Unlock()
			return Workflow{}, err
		}
		rec.wf.Status = StatusRejected
		rec.wf.RejectionReason = req.Reason
		rec.wf.CompletedAt = &now
	} else {
		rec.wf.CurrentStepIndex++
		if requiredSatisfied(rec.wf) {
			if _, err := fire(ctx, rec.machine, eventComplete); err != nil {
				rec.wf.Signatures = rec.wf.Signatures[:len(rec.wf.Signatures)-1]
				rec.wf.CurrentStepIndex--
				rec.mu.Unlock()
				return Workflow{}, err
			}
			rec.wf.Status = StatusCompleted
			rec.wf.CompletedAt = &now
		}
	}
	wf := rec.wf.clone()
	rec.mu.Unlock()

	e.persist(ctx, wf)
	logger.Info("signature added",
		"workflow_id", wf.ID,
		"signature_id", sig.ID,
		"signer_id", sig.SignerID,
		"role", role,
		"type", sig.Type,
		"status", wf.Status)
	e.events.Emit(events.New(events.SignatureAdded, wf.ID, sig))

	switch wf.Status {
	case StatusCompleted:
		metrics.WorkflowTransition(string(wf.Type), string(wf.Status))
		e.events.Emit(events.New(events.WorkflowCompleted, wf.ID, wf))
	case StatusRejected:
		metrics.WorkflowTransition(string(wf.Type), string(wf.Status))
		e.events.Emit(events.New(events.WorkflowRejected, wf.ID, wf))
	}
	return wf, nil
}

// authorizedRole returns the first eligible role the signer holds directly
// or through an active delegation. Approvals are eligible for the current
// step's role only; rejections for any role the workflow requires.
func (e *Engine) authorizedRole(req SignRequest, eligible []Role, t Type) (Role, bool) {
	for _, r := range eligible {
		if req.Role == r {
			return r, true
		}
	}
	now := e.now()
	for _, r := range eligible {
		if e.delegatedTo(req.SignerID, r, t, now) {
			return r, true
		}
	}
	return "", false
}

// requiredSatisfied reports whether no required step remains unsigned
func requiredSatisfied(wf Workflow) bool {
	for _, r := range wf.Requirements[wf.CurrentStepIndex:] {
		if r.Required {
			return false
		}
	}
	return true
}

// EscalateWorkflow flags a pending workflow for attention. Its SLA reads
// at-risk until it closes or breaches.
func (e *Engine) EscalateWorkflow(ctx context.Context, id, reason string) (Workflow, error) {
	if strings.TrimSpace(reason) == "" {
		return Workflow{}, fmt.Errorf("escalation: %w", ErrReasonRequired)
	}
	rec, err := e.store.get(id)
	if err != nil {
		return Workflow{}, err
	}

	rec.mu.Lock()
	if rec.wf.Status != StatusPending {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s is %s: %w", id, rec.wf.Status, ErrNotPending)
	}
	if rec.wf.Escalated {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s: %w", id, ErrAlreadyEscalated)
	}
	now := e.now()
	rec.wf.Escalated = true
	rec.wf.EscalationReason = reason
	rec.wf.EscalatedAt = &now
	rec.wf.UpdatedAt = now
	wf := rec.wf.clone()
	rec.mu.Unlock()

	e.persist(ctx, wf)
	logger.Warn("workflow escalated", "workflow_id", id, "reason", reason)
	e.events.Emit(events.New(events.WorkflowEscalated, id, wf))
	return wf, nil
}

// WithdrawWorkflow lets the initiator abandon a pending workflow
func (e *Engine) WithdrawWorkflow(ctx context.Context, id, requester, reason string) (Workflow, error) {
	rec, err := e.store.get(id)
	if err != nil {
		return Workflow{}, err
	}

	rec.mu.Lock()
	if rec.wf.Initiator != requester {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s requested by %q: %w", id, requester, ErrNotInitiator)
	}
	if _, err := fire(ctx, rec.machine, eventWithdraw); err != nil {
		rec.mu.Unlock()
		return Workflow{}, fmt.Errorf("workflow %s: %w", id, err)
	}
	now := e.now()
	rec.wf.Status = StatusWithdrawn
	rec.wf.WithdrawnBy = requester
	rec.wf.WithdrawalReason = reason
	rec.wf.CompletedAt = &now
	rec.wf.UpdatedAt = now
	wf := rec.wf.clone()
	rec.mu.Unlock()

	e.persist(ctx, wf)
	metrics.WorkflowTransition(string(wf.Type), string(wf.Status))
	logger.Info("workflow withdrawn", "workflow_id", id, "requester", requester)
	e.events.Emit(events.New(events.WorkflowWithdrawn, id, wf))
	return wf, nil
}

// CheckWorkflowTimeouts moves pending workflows older than the timeout to
// TIMEOUT and returns their ids. Repeated sweeps never time out a workflow
// twice.
func (e *Engine) CheckWorkflowTimeouts(ctx context.Context) []string {
	now := e.now()
	var expired []string
	for _, rec := range e.store.all() {
		if ctx.Err() != nil {
			break
		}

		rec.mu.Lock()
		if rec.wf.Status != StatusPending || now.Sub(rec.wf.CreatedAt) <= e.timeout {
			rec.mu.Unlock()
			continue
		}
		if _, err := fire(ctx, rec.machine, eventTimeout); err != nil {
			rec.mu.Unlock()
			continue
		}
		rec.wf.Status = StatusTimeout
		rec.wf.CompletedAt = &now
		rec.wf.UpdatedAt = now
		wf := rec.wf.clone()
		rec.mu.Unlock()

		expired = append(expired, wf.ID)
		e.persist(ctx, wf)
		metrics.WorkflowTransition(string(wf.Type), string(wf.Status))
		logger.Warn("workflow timed out", "workflow_id", wf.ID, "age", now.Sub(wf.CreatedAt).String())
		e.events.Emit(events.New(events.WorkflowTimeout, wf.ID, wf))
	}
	if len(expired) > 0 {
		logger.Info("workflow timeout sweep", "expired", len(expired))
	}
	return expired
}

func (e *Engine) Get(id string) (Workflow, error) {
	rec, err := e.store.get(id)
	if err != nil {
		return Workflow{}, err
	}
	return rec.snapshot(), nil
}

// List returns every workflow in creation order
func (e *Engine) List() []Workflow {
	return e.store.filter(func(Workflow) bool { return true })
}

func (e *Engine) BySession(sessionID string) []Workflow {
	return e.store.filter(func(w Workflow) bool { return w.Report.SessionID == sessionID })
}

func (e *Engine) ByInitiator(userID string) []Workflow {
	return e.store.filter(func(w Workflow) bool { return w.Initiator == userID })
}

func (e *Engine) ByStatus(status Status) []Workflow {
	return e.store.filter(func(w Workflow) bool { return w.Status == status })
}

// PendingForRole lists pending workflows whose current step needs role
func (e *Engine) PendingForRole(role Role) []Workflow {
	return e.store.filter(func(w Workflow) bool {
		step, ok := w.CurrentStep()
		return ok && step.Role == role
	})
}

// SLA reports the workflow's standing against its type's policy
func (e *Engine) SLA(id string) (SLA, error) {
	wf, err := e.Get(id)
	if err != nil {
		return SLA{}, err
	}
	return evaluateSLA(wf, e.sla[wf.Type], e.now()), nil
}

// persist writes a committed snapshot. The in-memory state stays
// authoritative when the repository is down.
func (e *Engine) persist(ctx context.Context, wf Workflow) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveWorkflow(context.WithoutCancel(ctx), wf); err != nil {
		logger.Error("persist workflow failed", "workflow_id", wf.ID, "status", wf.Status, "error", err)
	}
}
