package validation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/torquesign/events"
	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/internal/metrics"
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/rules"
	"github.com/liamcoop/torquesign/stats"
)

// Engine validates readings against a session's specification and the active
// rules, and records results per session.
type Engine struct {
	rules    RuleSource
	sessions *SessionStore
	stats    *stats.Engine
	events   events.Emitter
	now      func() time.Time
}

type Option func(*Engine)

// WithSessionStore shares a session store between engines
func WithSessionStore(s *SessionStore) Option {
	return func(e *Engine) { e.sessions = s }
}

func WithStats(s *stats.Engine) Option {
	return func(e *Engine) { e.stats = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over src. emitter may be nil.
func NewEngine(src RuleSource, emitter events.Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = events.Discard{}
	}
	e := &Engine{
		rules:    src,
		sessions: NewSessionStore(),
		stats:    stats.NewEngine(0),
		events:   emitter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartSession opens a session for spec. An empty id gets a generated one.
func (e *Engine) StartSession(id string, spec models.Specification) (Session, error) {
	if err := spec.Validate(); err != nil {
		return Session{}, fmt.Errorf("%v: %w", err, ErrInvalidSpec)
	}
	if id == "" {
		id = uuid.NewString()
	}

	sess := &session{
		id:      id,
		spec:    spec,
		active:  true,
		start:   e.now(),
		results: []Result{},
	}
	if err := e.sessions.add(sess); err != nil {
		return Session{}, err
	}
	metrics.SessionStarted()
	logger.Info("validation session started", "session_id", id, "spec_id", spec.ID, "safety_level", spec.SafetyLevel)
	return sess.snapshot(false), nil
}

// EndSession closes a session. Closing twice is a state conflict.
func (e *Engine) EndSession(id string) (Session, error) {
	sess, err := e.sessions.get(id)
	if err != nil {
		return Session{}, err
	}

	sess.mu.Lock()
	if !sess.active {
		sess.mu.Unlock()
		return Session{}, fmt.Errorf("session %s: %w", id, ErrSessionInactive)
	}
	end := e.now()
	sess.active = false
	sess.end = &end
	count := len(sess.results)
	sess.mu.Unlock()

	metrics.SessionEnded()
	logger.Info("validation session ended", "session_id", id, "results", count)
	return sess.snapshot(false), nil
}

// Validate evaluates reading within a session and appends the result. Readings
// failing the input guard produce an ERROR result rather than an error.
func (e *Engine) Validate(sessionID string, reading models.Reading) (Result, error) {
	sess, err := e.sessions.get(sessionID)
	if err != nil {
		return Result{}, err
	}
	sess.mu.Lock()
	open := sess.active
	sess.mu.Unlock()
	if !open {
		return Result{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionInactive)
	}

	active, err := e.rules.ActiveRules()
	if err != nil {
		return Result{}, fmt.Errorf("load active rules: %w", err)
	}

	// spec is immutable, so rules run without the session lock
	res := evaluate(e.rules, sess.spec, reading, active)
	res.ID = uuid.NewString()
	res.SessionID = sessionID
	res.Timestamp = reading.Timestamp
	if res.Timestamp.IsZero() {
		res.Timestamp = e.now()
	}

	sess.mu.Lock()
	if !sess.active {
		sess.mu.Unlock()
		return Result{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionInactive)
	}
	sess.results = append(sess.results, res.clone())
	e.stats.Invalidate(sessionID)
	sess.mu.Unlock()

	metrics.ObserveValidation(string(res.Status), res.Severity.String())
	logger.Debug("reading validated",
		"session_id", sessionID,
		"result_id", res.ID,
		"status", res.Status,
		"severity", res.Severity.String(),
		"applied_rules", len(res.AppliedRules))

	e.events.Emit(events.New(events.ValidationComplete, sessionID, res.clone()))
	if !res.IsValid || res.Severity >= rules.SeverityError {
		e.events.Emit(events.New(events.OutOfSpecAlert, sessionID, res.clone()))
	}
	return res, nil
}

// Session returns a snapshot of a session including its results
func (e *Engine) Session(id string) (Session, bool) {
	sess, err := e.sessions.get(id)
	if err != nil {
		return Session{}, false
	}
	return sess.snapshot(true), true
}

// Sessions lists sessions without their results, oldest first
func (e *Engine) Sessions() []Session {
	all := e.sessions.all()
	out := make([]Session, 0, len(all))
	for _, sess := range all {
		out = append(out, sess.snapshot(false))
	}
	return out
}

// Results returns the session's results in append order
func (e *Engine) Results(id string) ([]Result, error) {
	sess, err := e.sessions.get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return cloneResults(sess.results), nil
}

// Statistics returns the session's report, computing it on a cache miss
func (e *Engine) Statistics(id string) (stats.Report, bool) {
	sess, err := e.sessions.get(id)
	if err != nil {
		return stats.Report{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	spec := sess.spec
	return e.stats.Report(id, &spec, func() []stats.Sample {
		samples := make([]stats.Sample, len(sess.results))
		for i, r := range sess.results {
			samples[i] = stats.Sample{
				Value: r.Value,
				Pass:  r.IsValid,
				Error: r.Status == StatusError,
			}
		}
		return samples
	}), true
}

// BuildReport assembles the document an approval workflow signs off on
func (e *Engine) BuildReport(id string) (models.ReportData, error) {
	report, ok := e.Statistics(id)
	if !ok {
		return models.ReportData{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	sess, _ := e.sessions.get(id)
	spec := sess.spec
	return models.ReportData{
		DocumentID:    "validation-report-" + id,
		SessionID:     id,
		Specification: &spec,
		Summary:       report.Summary(),
	}, nil
}
