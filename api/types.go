package api

import "github.com/researchflow/researchflow/workflow"

// CreateWorkflowRequest submits a new research topic.
type CreateWorkflowRequest struct {
	Topic string `json:"topic"`
}

// ApprovalRequest records a human decision at a pending gate.
type ApprovalRequest struct {
	// Type names the gate: "plan" or "escalation".
	Type string `json:"type"`
	// Decision is "approve", "reject" or "request_changes".
	Decision string `json:"decision"`
	// Notes carries the reviewer's feedback; required for
	// request_changes, optional otherwise.
	Notes string `json:"notes,omitempty"`
}

// ListWorkflowsResponse wraps the workflow listing with its count.
type ListWorkflowsResponse struct {
	Count     int                        `json:"count"`
	Workflows []*workflow.WorkflowRecord `json:"workflows"`
}

// HealthResponse reports process liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}
