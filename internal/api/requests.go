package api

import (
	"github.com/nebula-protocol/nebula/internal/middleware"
	"github.com/nebula-protocol/nebula/internal/types"
	"github.com/nebula-protocol/nebula/internal/version"
)

// RecordErrorRequest is the body of POST /project/:id/error
type RecordErrorRequest struct {
	Level      types.Level            `json:"level,omitempty" validate:"omitempty,oneof=ERROR CRITICAL"`
	PhaseRef   string                 `json:"phase_ref,omitempty" validate:"max=128"`
	FilePath   string                 `json:"file_path,omitempty" validate:"max=1024"`
	LineNumber int                    `json:"line_number,omitempty" validate:"min=0"`
	ErrorCode  string                 `json:"error_code,omitempty" validate:"max=128"`
	Message    string                 `json:"message" validate:"maxbytes"`
	StackTrace string                 `json:"stack_trace,omitempty" validate:"maxbytes"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Event converts the request into an error event
func (r *RecordErrorRequest) Event() *types.ErrorEvent {
	return &types.ErrorEvent{
		Level:      r.Level,
		PhaseRef:   r.PhaseRef,
		FilePath:   r.FilePath,
		LineNumber: r.LineNumber,
		ErrorCode:  r.ErrorCode,
		Message:    r.Message,
		StackTrace: r.StackTrace,
		Context:    r.Context,
	}
}

// NewRecordErrorRequest is the inverse of Event
func NewRecordErrorRequest(ev *types.ErrorEvent) *RecordErrorRequest {
	return &RecordErrorRequest{
		Level:      ev.Level,
		PhaseRef:   ev.PhaseRef,
		FilePath:   ev.FilePath,
		LineNumber: ev.LineNumber,
		ErrorCode:  ev.ErrorCode,
		Message:    ev.Message,
		StackTrace: ev.StackTrace,
		Context:    ev.Context,
	}
}

// RecordSolutionRequest is the body of POST /project/:id/solution
type RecordSolutionRequest struct {
	ErrorID       int64           `json:"error_id" validate:"required,gt=0"`
	Description   string          `json:"description" validate:"required,maxbytes"`
	CodeChangeRef string          `json:"code_change_ref,omitempty" validate:"max=512"`
	AppliedBy     types.AppliedBy `json:"applied_by" validate:"required,oneof=ai human"`
	Effectiveness int             `json:"effectiveness" validate:"required,min=1,max=5"`
}

// Solution converts the request into a solution
func (r *RecordSolutionRequest) Solution() *types.Solution {
	return &types.Solution{
		ErrorID:       r.ErrorID,
		Description:   r.Description,
		CodeChangeRef: r.CodeChangeRef,
		AppliedBy:     r.AppliedBy,
		Effectiveness: r.Effectiveness,
	}
}

// FindSimilarRequest is the body of POST /project/:id/errors/similar
type FindSimilarRequest struct {
	Text  string `json:"text" validate:"maxbytes"`
	Limit int    `json:"limit,omitempty" validate:"min=0,max=50"`
}

// RecordDecisionRequest is the body of POST /project/:id/decision
type RecordDecisionRequest struct {
	PhaseRef     string   `json:"phase_ref,omitempty" validate:"max=128"`
	Category     string   `json:"category" validate:"required,max=64"`
	Question     string   `json:"question" validate:"required,maxbytes"`
	ChosenOption string   `json:"chosen_option" validate:"required,maxbytes"`
	Alternatives []string `json:"alternatives,omitempty" validate:"max=32,dive,max=1024"`
	Rationale    string   `json:"rationale,omitempty" validate:"maxbytes"`
	MadeBy       string   `json:"made_by" validate:"required,max=128"`
}

// Decision converts the request into a decision
func (r *RecordDecisionRequest) Decision() *types.Decision {
	return &types.Decision{
		PhaseRef:     r.PhaseRef,
		Category:     r.Category,
		Question:     r.Question,
		ChosenOption: r.ChosenOption,
		Alternatives: r.Alternatives,
		Rationale:    r.Rationale,
		MadeBy:       r.MadeBy,
	}
}

// GateRequest is the body of POST /project/:id/star-gate. An empty status
// asks for a pass if the criteria allow it.
type GateRequest struct {
	PhaseRef    string            `json:"phase_ref" validate:"required,max=128"`
	PhaseNumber int               `json:"phase_number" validate:"min=0"`
	Status      types.GateStatus  `json:"status,omitempty" validate:"omitempty,oneof=passed failed skipped"`
	Results     types.GateResults `json:"results"`
}

// Decision converts the request into a gate decision
func (r *GateRequest) Decision() *types.GateDecision {
	return &types.GateDecision{
		PhaseRef:    r.PhaseRef,
		PhaseNumber: r.PhaseNumber,
		Status:      r.Status,
		Results:     r.Results,
	}
}

// SetVersionRequest is the body of PUT /project/:id/version
type SetVersionRequest struct {
	Version string `json:"version" validate:"required,max=64"`
	Reason  string `json:"reason" validate:"required,max=1024"`
	Force   bool   `json:"force,omitempty"`
}

// BumpVersionRequest is the body of POST /project/:id/version/bump
type BumpVersionRequest struct {
	Component version.Component `json:"component" validate:"required,oneof=major minor patch"`
	Reason    string            `json:"reason,omitempty" validate:"max=1024"`
	PhaseRef  string            `json:"phase_ref,omitempty" validate:"max=128"`
	Reset     bool              `json:"reset,omitempty"`
}

// SyncRequest is the optional body of POST /project/:id/sync
type SyncRequest struct {
	Milestone string `json:"milestone,omitempty" validate:"max=64"`
}

// VersionResponse is the body returned by the version routes
type VersionResponse struct {
	Version string `json:"version"`
	*types.VersionState
}

// SimilarResponse wraps findSimilar matches
type SimilarResponse struct {
	Matches []types.SimilarMatch `json:"matches"`
}

// PatternsResponse wraps getPatterns results
type PatternsResponse struct {
	Patterns []*types.ErrorPattern `json:"patterns"`
}

// DecisionResponse carries the new decision id
type DecisionResponse struct {
	ID string `json:"id"`
}

// ContextResponse carries the context summary line
type ContextResponse struct {
	Summary string `json:"summary"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse = middleware.ErrorBody
