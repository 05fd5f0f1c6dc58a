// Package workflow implements the research pipeline state machine.
//
// A WorkflowRecord tracks one research run from topic submission to the
// rendered report. The Orchestrator drives it through a fixed sequence
// of stages, pausing at human-approval gates and escalating when an
// automated quality loop exhausts its iteration budget.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/researchflow/researchflow/types"
)

// Status is the coarse lifecycle state of a run.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for the forward-only invariant.
var statusRank = map[Status]int{
	StatusSubmitted:  0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// Stage is the current pipeline position.
type Stage string

const (
	StagePlanning       Stage = "planning"
	StagePlanApproval   Stage = "plan_approval"
	StageResearching    Stage = "researching"
	StageResearchReview Stage = "research_review"
	StageWriting        Stage = "writing"
	StageReviewing      Stage = "reviewing"
	StageFactChecking   Stage = "fact_checking"
	StageFormatting     Stage = "formatting"
	StageSummarizing    Stage = "summarizing"
	StageDocumenting    Stage = "documenting"
	StageCompleted      Stage = "completed"
	StageEscalated      Stage = "escalated"
	StageFailed         Stage = "failed"
)

// stageGraph lists the legal forward transitions. Failed is reachable
// from every non-terminal stage and is added in init.
var stageGraph = map[Stage][]Stage{
	StagePlanning:       {StagePlanApproval},
	StagePlanApproval:   {StageResearching, StagePlanning}, // request-changes re-runs planning
	StageResearching:    {StageResearchReview},
	StageResearchReview: {StageResearching, StageWriting, StageEscalated},
	StageWriting:        {StageReviewing},
	StageReviewing:      {StageReviewing, StageFactChecking, StageEscalated},
	StageFactChecking:   {StageFormatting},
	StageFormatting:     {StageSummarizing},
	StageSummarizing:    {StageDocumenting},
	StageDocumenting:    {StageCompleted},
	StageEscalated:      {StageWriting, StageFactChecking, StageResearching, StageReviewing},
	StageCompleted:      {},
	StageFailed:         {},
}

func init() {
	for from, targets := range stageGraph {
		if from == StageCompleted || from == StageFailed {
			continue
		}
		stageGraph[from] = append(targets, StageFailed)
	}
}

// CanTransition reports whether the stage graph allows from → to.
func CanTransition(from, to Stage) bool {
	for _, t := range stageGraph[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Artifact keys within WorkflowRecord.Artifacts. Each stage writes
// exactly one of these on completion.
const (
	ArtifactPlan           = "plan"
	ArtifactResearchNotes  = "research_notes"
	ArtifactDraft          = "draft"
	ArtifactReviewFeedback = "review_feedback"
	ArtifactFactCheck      = "fact_check"
	ArtifactFinalReport    = "final_report"
	ArtifactSummary        = "summary"
	ArtifactOutputPath     = "output_path"
)

// ApprovalType names a human decision point.
type ApprovalType string

const (
	ApprovalPlan       ApprovalType = "plan"
	ApprovalEscalation ApprovalType = "escalation"
)

// Decision is a human gate verdict.
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionReject         Decision = "reject"
	DecisionRequestChanges Decision = "request_changes"
)

// Approval is one appended human decision. The list on a record is the
// audit trail and is never truncated or reordered.
type Approval struct {
	Type     ApprovalType `json:"type"`
	Decision Decision     `json:"decision"`
	Approved bool         `json:"approved"`
	// Stage is the stage the decision addressed: the gate stage for
	// plan approvals, the escalating loop's check stage for escalation
	// approvals. It disambiguates which loop a request-changes targets.
	Stage           Stage     `json:"stage,omitempty"`
	ContentSnapshot string    `json:"content_snapshot"`
	Notes           string    `json:"notes"`
	Timestamp       time.Time `json:"timestamp"`
}

// WorkflowRecord is the complete state of one research run.
type WorkflowRecord struct {
	ID     string `json:"workflow_id"`
	Topic  string `json:"topic"`
	Status Status `json:"status"`
	Stage  Stage  `json:"stage"`

	// EscalatedFrom remembers which loop escalated so that an approval
	// can resume at the stage following that loop.
	EscalatedFrom Stage `json:"escalated_from,omitempty"`

	Artifacts map[string]string `json:"artifacts"`

	// Loop counters record how many producer passes each bounded loop
	// ran. They are audit counts and survive to the terminal state.
	ResearchIterations int `json:"research_iterations"`
	RevisionIterations int `json:"revision_iterations"`

	Approvals []Approval `json:"approvals"`

	// Error holds the last fatal message; set only when Status is failed.
	Error string `json:"error,omitempty"`

	// Version increments on every save.
	Version int `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRecord creates a fresh record for the given topic.
func NewRecord(topic string) *WorkflowRecord {
	now := time.Now().UTC()
	return &WorkflowRecord{
		ID:        uuid.NewString(),
		Topic:     topic,
		Status:    StatusSubmitted,
		Stage:     StagePlanning,
		Artifacts: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the run has reached a final state.
func (r *WorkflowRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// AwaitingApproval returns the pending gate type, if the record sits at
// a human gate.
func (r *WorkflowRecord) AwaitingApproval() (ApprovalType, bool) {
	switch r.Stage {
	case StagePlanApproval:
		return ApprovalPlan, true
	case StageEscalated:
		return ApprovalEscalation, true
	default:
		return "", false
	}
}

// Transition moves the record to the next stage, enforcing the stage
// graph and the forward-only status invariant.
func (r *WorkflowRecord) Transition(to Stage) error {
	if !CanTransition(r.Stage, to) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("illegal stage transition %s -> %s", r.Stage, to))
	}
	r.Stage = to
	return nil
}

// SetStatus applies a status change, rejecting backwards movement.
func (r *WorkflowRecord) SetStatus(s Status) error {
	if statusRank[s] < statusRank[r.Status] {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("illegal status transition %s -> %s", r.Status, s))
	}
	r.Status = s
	return nil
}

// SetArtifact records a stage output.
func (r *WorkflowRecord) SetArtifact(key, content string) {
	if r.Artifacts == nil {
		r.Artifacts = make(map[string]string)
	}
	r.Artifacts[key] = content
}

// Artifact returns a stage output, empty if absent.
func (r *WorkflowRecord) Artifact(key string) string {
	return r.Artifacts[key]
}

// AppendApproval adds a human decision to the audit trail.
func (r *WorkflowRecord) AppendApproval(a Approval) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	r.Approvals = append(r.Approvals, a)
}

// Fail moves the record to the failed terminal state, preserving all
// artifacts produced so far.
func (r *WorkflowRecord) Fail(msg string) {
	r.Stage = StageFailed
	r.Status = StatusFailed
	r.Error = msg
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Complete marks the run finished.
func (r *WorkflowRecord) Complete() {
	r.Stage = StageCompleted
	r.Status = StatusCompleted
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Clone returns a deep copy of the record.
func (r *WorkflowRecord) Clone() *WorkflowRecord {
	out := *r
	out.Artifacts = make(map[string]string, len(r.Artifacts))
	for k, v := range r.Artifacts {
		out.Artifacts[k] = v
	}
	out.Approvals = append([]Approval(nil), r.Approvals...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
