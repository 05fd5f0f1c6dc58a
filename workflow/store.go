package workflow

import (
	"context"
	"time"
)

// ResearchNote is one synthesized notes pass, appended per research
// iteration. Audit data only; control flow never reads it back.
type ResearchNote struct {
	WorkflowID string    `json:"workflow_id"`
	Pass       int       `json:"pass"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Iteration logs one quality-check verdict of a bounded loop.
type Iteration struct {
	WorkflowID string    `json:"workflow_id"`
	Loop       string    `json:"loop"` // "research" or "revision"
	Number     int       `json:"number"`
	Sufficient bool      `json:"sufficient"`
	Feedback   string    `json:"feedback"`
	CreatedAt  time.Time `json:"created_at"`
}

// SearchRecord logs one tool adapter call issued during research.
type SearchRecord struct {
	WorkflowID  string    `json:"workflow_id"`
	Tool        string    `json:"tool"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	Succeeded   bool      `json:"succeeded"`
	CreatedAt   time.Time `json:"created_at"`
}

// Statistics aggregates the child tables for one workflow.
type Statistics struct {
	Iterations    int `json:"iterations"`
	ResearchNotes int `json:"research_notes"`
	Searches      int `json:"searches"`
	Approvals     int `json:"approvals"`
}

// Store is the durable home of workflow state. Save must be atomic with
// respect to a concurrent Load of the same id, and writes to one record
// are serialized while unrelated records proceed in parallel.
type Store interface {
	// Save persists the record exactly as given.
	Save(ctx context.Context, rec *WorkflowRecord) error

	// Load returns the record or a NOT_FOUND error.
	Load(ctx context.Context, id string) (*WorkflowRecord, error)

	// List returns all non-deleted records, newest first.
	List(ctx context.Context) ([]*WorkflowRecord, error)

	// Delete soft-deletes the record; history rows are kept.
	Delete(ctx context.Context, id string) error

	// AppendNote, AppendIteration and AppendSearch write audit rows.
	AppendNote(ctx context.Context, note *ResearchNote) error
	AppendIteration(ctx context.Context, it *Iteration) error
	AppendSearch(ctx context.Context, rec *SearchRecord) error

	// Statistics aggregates the audit tables for one workflow.
	Statistics(ctx context.Context, id string) (*Statistics, error)
}
