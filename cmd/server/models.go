package main

import (
	"github.com/liamcoop/torquesign/models"
	"github.com/liamcoop/torquesign/rules"
	"github.com/liamcoop/torquesign/signature"
	"github.com/liamcoop/torquesign/stats"
	"github.com/liamcoop/torquesign/validation"
	"github.com/liamcoop/torquesign/workflow"
)

// StartSessionRequest opens a validation session. ID is optional.
type StartSessionRequest struct {
	ID            string               `json:"id,omitempty" example:"station-4-shift-a"`
	Specification models.Specification `json:"specification"`
}

// RulesListResponse lists rules in registration order
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

type SessionsListResponse struct {
	Sessions []validation.Session `json:"sessions"`
}

type ResultsResponse struct {
	SessionID string              `json:"sessionId"`
	Results   []validation.Result `json:"results"`
}

type StatisticsResponse struct {
	SessionID  string       `json:"sessionId"`
	Statistics stats.Report `json:"statistics"`
}

// RequirementsRequest previews the signing steps for a workflow. Report
// takes precedence over SessionID.
type RequirementsRequest struct {
	Type      workflow.Type      `json:"type" example:"COMPLETION"`
	SessionID string             `json:"sessionId,omitempty"`
	Report    *models.ReportData `json:"report,omitempty"`
}

type RequirementsResponse struct {
	Type         workflow.Type          `json:"type"`
	Requirements []workflow.Requirement `json:"requirements"`
}

// CreateWorkflowRequest starts an approval. When Report is omitted it is built
// from the session's results.
type CreateWorkflowRequest struct {
	ID             string             `json:"id,omitempty"`
	Type           workflow.Type      `json:"type" example:"COMPLETION"`
	SessionID      string             `json:"sessionId,omitempty"`
	Report         *models.ReportData `json:"report,omitempty"`
	Initiator      string             `json:"initiator" example:"op-17"`
	OverrideReason string             `json:"overrideReason,omitempty"`
}

type AddSignatureRequest struct {
	SignerID   string         `json:"signerId" example:"sup-3"`
	SignerName string         `json:"signerName,omitempty"`
	Role       workflow.Role  `json:"role" example:"supervisor"`
	Type       signature.Type `json:"type" example:"APPROVAL"`
	Reason     string         `json:"reason,omitempty"`
}

type EscalateRequest struct {
	Reason string `json:"reason"`
}

type WithdrawRequest struct {
	Requester string `json:"requester"`
	Reason    string `json:"reason,omitempty"`
}

type WorkflowsListResponse struct {
	Workflows []workflow.Workflow `json:"workflows"`
}

type DelegationsListResponse struct {
	Delegations []workflow.Delegation `json:"delegations"`
}

// SweepResponse lists the workflows a manual timeout sweep closed
type SweepResponse struct {
	TimedOut []string `json:"timedOut"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"workflow not found"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	Storage  string `json:"storage" example:"postgres"`
	Rules    int    `json:"rules"`
	Sessions int    `json:"sessions"`
}
