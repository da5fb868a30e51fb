package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/liamcoop/torquesign/errdefs"
	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/internal/metrics"
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/rules"
	"github.com/liamcoop/torquesign/validation"
	"github.com/liamcoop/torquesign/workflow"
)

type Server struct {
	db         *sql.DB // nil when running on in-memory stores
	rules      *rules.Registry
	validation *validation.Engine
	workflows  *workflow.Engine
	router     *chi.Mux
}

func NewServer(db *sql.DB, registry *rules.Registry, validator *validation.Engine, workflows *workflow.Engine) *Server {
	s := &Server{
		db:         db,
		rules:      registry,
		validation: validator,
		workflows:  workflows,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleStartSession)
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/end", s.handleEndSession)
				r.Post("/readings", s.handleValidate)
				r.Get("/results", s.handleResults)
				r.Get("/statistics", s.handleStatistics)
				r.Get("/report", s.handleReport)
				r.Get("/workflows", s.handleSessionWorkflows)
			})
		})

		r.Post("/requirements", s.handleRequirements)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleCreateWorkflow)
			r.Route("/{workflowId}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Post("/signatures", s.handleAddSignature)
				r.Post("/escalate", s.handleEscalate)
				r.Post("/withdraw", s.handleWithdraw)
				r.Get("/sla", s.handleSLA)
			})
		})

		r.Route("/delegations", func(r chi.Router) {
			r.Get("/", s.handleListDelegations)
			r.Post("/", s.handleDelegate)
		})

		r.Post("/admin/sweep", s.handleSweep)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe records request metrics by route pattern
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
		logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	all, err := s.rules.ListRules()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Storage:  storage,
		Rules:    len(all),
		Sessions: len(s.validation.Sessions()),
	})
}

// Rules

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.rules.ListRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.rules.AddRule(&rule); err != nil {
		writeError(w, "failed to add rule", err)
		return
	}
	created, _ := s.rules.GetRule(rule.ID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	rule, ok := s.rules.GetRule(ruleID)
	if !ok {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.rules.UpdateRule(ruleID, &rule); err != nil {
		writeError(w, "failed to update rule", err)
		return
	}
	updated, _ := s.rules.GetRule(ruleID)
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.rules.RemoveRule(chi.URLParam(r, "ruleId")) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SessionsListResponse{Sessions: s.validation.Sessions()})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	sess, err := s.validation.StartSession(req.ID, req.Specification)
	if err != nil {
		writeError(w, "failed to start session", err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.validation.Session(chi.URLParam(r, "sessionId"))
	if !ok {
		respondError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.validation.EndSession(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, "failed to end session", err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	res, err := s.validation.Validate(chi.URLParam(r, "sessionId"), reading)
	if err != nil {
		writeError(w, "validation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	results, err := s.validation.Results(sessionID)
	if err != nil {
		writeError(w, "failed to load results", err)
		return
	}
	respondJSON(w, http.StatusOK, ResultsResponse{SessionID: sessionID, Results: results})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	report, ok := s.validation.Statistics(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, StatisticsResponse{SessionID: sessionID, Statistics: report})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.validation.BuildReport(chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, "failed to build report", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSessionWorkflows(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, WorkflowsListResponse{
		Workflows: s.workflows.BySession(chi.URLParam(r, "sessionId")),
	})
}

// Workflows

// reportFor returns the explicit report or builds one from the session
func (s *Server) reportFor(report *models.ReportData, sessionID string) (models.ReportData, error) {
	if report != nil {
		return *report, nil
	}
	if sessionID == "" {
		return models.ReportData{}, nil
	}
	return s.validation.BuildReport(sessionID)
}

func (s *Server) handleRequirements(w http.ResponseWriter, r *http.Request) {
	var req RequirementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	report, err := s.reportFor(req.Report, req.SessionID)
	if err != nil {
		writeError(w, "failed to build report", err)
		return
	}
	reqs, err := workflow.ResolveRequirements(req.Type, report)
	if err != nil {
		writeError(w, "failed to resolve requirements", err)
		return
	}
	respondJSON(w, http.StatusOK, RequirementsResponse{Type: req.Type, Requirements: reqs})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var list []workflow.Workflow
	switch {
	case q.Get("role") != "":
		list = s.workflows.PendingForRole(workflow.Role(q.Get("role")))
	case q.Get("status") != "":
		list = s.workflows.ByStatus(workflow.Status(q.Get("status")))
	case q.Get("initiator") != "":
		list = s.workflows.ByInitiator(q.Get("initiator"))
	default:
		list = s.workflows.List()
	}
	respondJSON(w, http.StatusOK, WorkflowsListResponse{Workflows: list})
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	report, err := s.reportFor(req.Report, req.SessionID)
	if err != nil {
		writeError(w, "failed to build report", err)
		return
	}
	wf, err := s.workflows.CreateWorkflow(r.Context(), workflow.CreateRequest{
		ID:             req.ID,
		Type:           req.Type,
		Report:         report,
		Initiator:      req.Initiator,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		writeError(w, "failed to create workflow", err)
		return
	}
	respondJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflows.Get(chi.URLParam(r, "workflowId"))
	if err != nil {
		writeError(w, "workflow not found", err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleAddSignature(w http.ResponseWriter, r *http.Request) {
	var req AddSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wf, err := s.workflows.AddSignature(r.Context(), workflow.SignRequest{
		WorkflowID: chi.URLParam(r, "workflowId"),
		SignerID:   req.SignerID,
		SignerName: req.SignerName,
		Role:       req.Role,
		Type:       req.Type,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(w, "failed to add signature", errdefs.Upstream(err))
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wf, err := s.workflows.EscalateWorkflow(r.Context(), chi.URLParam(r, "workflowId"), req.Reason)
	if err != nil {
		writeError(w, "failed to escalate workflow", err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wf, err := s.workflows.WithdrawWorkflow(r.Context(), chi.URLParam(r, "workflowId"), req.Requester, req.Reason)
	if err != nil {
		writeError(w, "failed to withdraw workflow", err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleSLA(w http.ResponseWriter, r *http.Request) {
	sla, err := s.workflows.SLA(chi.URLParam(r, "workflowId"))
	if err != nil {
		writeError(w, "workflow not found", err)
		return
	}
	respondJSON(w, http.StatusOK, sla)
}

// Delegations

func (s *Server) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")
	if q.Get("active") == "true" {
		if user == "" {
			respondError(w, http.StatusBadRequest, "user is required for active delegations", nil)
			return
		}
		respondJSON(w, http.StatusOK, DelegationsListResponse{
			Delegations: s.workflows.ActiveDelegations(user, time.Now()),
		})
		return
	}
	respondJSON(w, http.StatusOK, DelegationsListResponse{Delegations: s.workflows.Delegations(user)})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req workflow.DelegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	del, err := s.workflows.DelegateApprovalAuthority(r.Context(), req)
	if err != nil {
		writeError(w, "failed to delegate approval authority", err)
		return
	}
	respondJSON(w, http.StatusCreated, del)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	expired := s.workflows.CheckWorkflowTimeouts(r.Context())
	if expired == nil {
		expired = []string{}
	}
	respondJSON(w, http.StatusOK, SweepResponse{TimedOut: expired})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// writeError picks the status from the error's kind. Signing service
// failures map to 502, other unclassified errors to 500.
func writeError(w http.ResponseWriter, message string, err error) {
	status := errdefs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}
