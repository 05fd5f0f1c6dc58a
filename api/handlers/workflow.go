package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/api"
	"github.com/researchflow/researchflow/types"
	"github.com/researchflow/researchflow/workflow"
)

// runTimeout bounds one background drive of a workflow. Generous: a
// full pipeline makes roughly a dozen LLM calls.
const runTimeout = 30 * time.Minute

// WorkflowHandler serves the workflow resource.
type WorkflowHandler struct {
	orc    *workflow.Orchestrator
	logger *zap.Logger
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(orc *workflow.Orchestrator, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		orc:    orc,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// Register mounts the workflow routes on mux.
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", h.Create)
	mux.HandleFunc("GET /api/v1/workflows", h.List)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/workflows/{id}/result", h.Result)
	mux.HandleFunc("GET /api/v1/workflows/{id}/statistics", h.Statistics)
	mux.HandleFunc("GET /api/v1/workflows/{id}/report", h.Report)
	mux.HandleFunc("POST /api/v1/workflows/{id}/approvals", h.SubmitApproval)
}

// Create submits a topic and starts the run in the background. The
// response carries the fresh record; clients poll Get or wait for the
// approval gate.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	rec, err := h.orc.Create(r.Context(), req.Topic)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.drive(rec.ID)
	WriteStatus(w, http.StatusAccepted, rec)
}

// List returns all workflows, newest first.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.orc.List(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ListWorkflowsResponse{Count: len(recs), Workflows: recs})
}

// Get returns the full current state of one workflow.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// Delete cancels and soft-deletes a workflow.
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.orc.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"workflow_id": r.PathValue("id"), "status": "deleted"})
}

// Result returns the artifact bundle of a completed workflow, 409
// while the run is still moving.
func (h *WorkflowHandler) Result(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orc.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// Statistics returns the audit-table aggregates for one workflow.
func (h *WorkflowHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orc.Statistics(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, stats)
}

// Report streams the rendered report. Only HTML is produced; other
// formats get 406 so clients can degrade cleanly.
func (h *WorkflowHandler) Report(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "html" {
		WriteErrorMessage(w, http.StatusNotAcceptable, types.ErrInvalidRequest,
			"unsupported report format "+format+", only html is available", h.logger)
		return
	}

	html, err := h.orc.RenderReport(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

// SubmitApproval records a human gate decision and resumes the run.
func (h *WorkflowHandler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	var req api.ApprovalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	decision := workflow.Decision(req.Decision)
	switch decision {
	case workflow.DecisionApprove, workflow.DecisionReject, workflow.DecisionRequestChanges:
	default:
		WriteError(w, types.NewError(types.ErrValidation, "decision must be approve, reject or request_changes"), h.logger)
		return
	}
	if decision == workflow.DecisionRequestChanges && req.Notes == "" {
		WriteError(w, types.NewError(types.ErrValidation, "request_changes requires notes"), h.logger)
		return
	}

	id := r.PathValue("id")
	rec, err := h.orc.SubmitApproval(r.Context(), id, workflow.ApprovalType(req.Type), decision, req.Notes)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if !rec.Terminal() {
		h.drive(id)
	}
	WriteStatus(w, http.StatusAccepted, rec)
}

// drive advances the workflow in the background until the next gate or
// terminal state. Stage failures are already persisted on the record,
// so the error here is only logged.
func (h *WorkflowHandler) drive(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		if _, err := h.orc.Run(ctx, id); err != nil {
			h.logger.Warn("background run stopped",
				zap.String("workflow_id", id),
				zap.Error(err),
			)
		}
	}()
}
