package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/types"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu         sync.Mutex
	records    map[string]*WorkflowRecord
	order      []string
	notes      []*ResearchNote
	iterations []*Iteration
	searches   []*SearchRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*WorkflowRecord)}
}

func (s *memStore) Save(_ context.Context, rec *WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *memStore) Load(_ context.Context, id string) (*WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "workflow not found")
	}
	return rec.Clone(), nil
}

func (s *memStore) List(_ context.Context) ([]*WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkflowRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec, ok := s.records[s.order[i]]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return types.NewError(types.ErrNotFound, "workflow not found")
	}
	delete(s.records, id)
	return nil
}

func (s *memStore) AppendNote(_ context.Context, note *ResearchNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
	return nil
}

func (s *memStore) AppendIteration(_ context.Context, it *Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, it)
	return nil
}

func (s *memStore) AppendSearch(_ context.Context, rec *SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, rec)
	return nil
}

func (s *memStore) Statistics(_ context.Context, id string) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &Statistics{}
	for _, n := range s.notes {
		if n.WorkflowID == id {
			stats.ResearchNotes++
		}
	}
	for _, it := range s.iterations {
		if it.WorkflowID == id {
			stats.Iterations++
		}
	}
	for _, sr := range s.searches {
		if sr.WorkflowID == id {
			stats.Searches++
		}
	}
	if rec, ok := s.records[id]; ok {
		stats.Approvals = len(rec.Approvals)
	}
	return stats, nil
}

type invokeResult struct {
	content string
	err     error
}

// scriptedInvoker replays canned completions per role, in order.
type scriptedInvoker struct {
	mu        sync.Mutex
	responses map[agent.Role][]invokeResult
	prompts   map[agent.Role][]string
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		responses: make(map[agent.Role][]invokeResult),
		prompts:   make(map[agent.Role][]string),
	}
}

func (s *scriptedInvoker) script(role agent.Role, contents ...string) {
	for _, c := range contents {
		s.responses[role] = append(s.responses[role], invokeResult{content: c})
	}
}

func (s *scriptedInvoker) scriptErr(role agent.Role, err error) {
	s.responses[role] = append(s.responses[role], invokeResult{err: err})
}

func (s *scriptedInvoker) Invoke(_ context.Context, role agent.Role, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[role] = append(s.prompts[role], prompt)
	queue := s.responses[role]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for role %s", role)
	}
	s.responses[role] = queue[1:]
	return queue[0].content, queue[0].err
}

type stubAdapter struct {
	mu      sync.Mutex
	name    string
	results []tools.Result
	err     error
	calls   int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Search(_ context.Context, _ string) ([]tools.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.results, a.err
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		MaxResearchIterations: 3,
		MaxRevisionIterations: 3,
		OutputDir:             t.TempDir(),
		MaxConcurrentTools:    2,
		ToolFailureThreshold:  2,
	}
}

func newTestOrchestrator(t *testing.T, store Store, inv Invoker, reg *tools.Registry, cfg Config) *Orchestrator {
	t.Helper()
	return NewOrchestrator(store, inv, reg, cfg, zap.NewNop())
}

func TestCreateValidation(t *testing.T) {
	o := newTestOrchestrator(t, newMemStore(), newScriptedInvoker(), nil, testConfig(t))

	_, err := o.Create(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	_, err = o.Create(context.Background(), strings.Repeat("x", 2001))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	rec, err := o.Create(context.Background(), "  graph databases  ")
	require.NoError(t, err)
	assert.Equal(t, "graph databases", rec.Topic)
	assert.Equal(t, 1, rec.Version)
}

func TestRunParksAtPlanGate(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. What are the fundamentals of the field?")
	o := newTestOrchestrator(t, newMemStore(), inv, nil, testConfig(t))

	rec, err := o.Create(context.Background(), "vector databases")
	require.NoError(t, err)

	rec, err = o.Run(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, StagePlanApproval, rec.Stage)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.NotEmpty(t, rec.Artifact(ArtifactPlan))

	gate, waiting := rec.AwaitingApproval()
	assert.True(t, waiting)
	assert.Equal(t, ApprovalPlan, gate)
}

// Full pipeline with a two-pass research loop and an exhausted revision
// loop that escalates to a human and is approved through.
func TestRunFullPipelineWithEscalation(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. What are the key mechanisms at play in this area?")
	inv.script(agent.RoleResearcher, "notes pass 1", "notes pass 2")
	inv.script(agent.RoleReviewer,
		"needs more coverage of recent results",
		"the research is sufficient",
		"major issues: claims lack citations",
		"major issues: conclusion is unsupported",
		"major issues remain in section 2",
	)
	inv.script(agent.RoleWriter, "draft-v1")
	inv.script(agent.RoleReviser, "draft-v2", "draft-v3")
	inv.script(agent.RoleFactChecker, "all claims check out")
	inv.script(agent.RoleFormatter, "# Final Report\n\nFormatted body.")
	inv.script(agent.RoleSummarizer, "One-paragraph executive summary.")

	store := newMemStore()
	cfg := testConfig(t)
	o := newTestOrchestrator(t, store, inv, nil, cfg)
	ctx := context.Background()

	rec, err := o.Create(ctx, "long-context attention mechanisms")
	require.NoError(t, err)
	id := rec.ID

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StagePlanApproval, rec.Stage)

	rec, err = o.SubmitApproval(ctx, id, ApprovalPlan, DecisionApprove, "looks good")
	require.NoError(t, err)
	require.Equal(t, StageResearching, rec.Stage)

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StageEscalated, rec.Stage)
	assert.Equal(t, StageReviewing, rec.EscalatedFrom)
	assert.Equal(t, 2, rec.ResearchIterations)
	assert.Equal(t, 3, rec.RevisionIterations)
	assert.Equal(t, "draft-v3", rec.Artifact(ArtifactDraft))
	assert.Equal(t, "notes pass 2", rec.Artifact(ArtifactResearchNotes))

	rec, err = o.SubmitApproval(ctx, id, ApprovalEscalation, DecisionApprove, "ship it")
	require.NoError(t, err)
	require.Equal(t, StageFactChecking, rec.Stage)
	assert.Empty(t, rec.EscalatedFrom)

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, StageCompleted, rec.Stage)
	assert.Equal(t, 2, rec.ResearchIterations, "counters survive to the terminal state")
	assert.Equal(t, 3, rec.RevisionIterations)
	require.NotNil(t, rec.CompletedAt)

	outputPath := rec.Artifact(ArtifactOutputPath)
	require.NotEmpty(t, outputPath)
	_, statErr := os.Stat(outputPath)
	assert.NoError(t, statErr, "rendered report must exist on disk")

	require.Len(t, rec.Approvals, 2)
	assert.Equal(t, ApprovalPlan, rec.Approvals[0].Type)
	assert.True(t, rec.Approvals[0].Approved)
	assert.Equal(t, ApprovalEscalation, rec.Approvals[1].Type)

	result, err := o.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "# Final Report\n\nFormatted body.", result.Artifact(ArtifactFinalReport))

	stats, err := o.Statistics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Iterations, "two research verdicts plus three revision verdicts")
	assert.Equal(t, 2, stats.ResearchNotes)
	assert.Equal(t, 2, stats.Approvals)
}

func TestEscalationReject(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec := NewRecord("rejected run")
	rec.Status = StatusInProgress
	rec.Stage = StageEscalated
	rec.EscalatedFrom = StageReviewing
	rec.SetArtifact(ArtifactDraft, "draft under review")
	require.NoError(t, store.Save(ctx, rec))

	rec, err := o.SubmitApproval(ctx, rec.ID, ApprovalEscalation, DecisionReject, "quality unacceptable")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "escalation rejected")
	assert.Contains(t, rec.Error, "quality unacceptable")
	assert.Equal(t, "draft under review", rec.Artifact(ArtifactDraft), "artifacts survive failure")
}

func TestEscalationApproveResumesAfterResearchLoop(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec := NewRecord("escalated research")
	rec.Status = StatusInProgress
	rec.Stage = StageEscalated
	rec.EscalatedFrom = StageResearchReview
	require.NoError(t, store.Save(ctx, rec))

	rec, err := o.SubmitApproval(ctx, rec.ID, ApprovalEscalation, DecisionApprove, "good enough to write from")
	require.NoError(t, err)

	assert.Equal(t, StageWriting, rec.Stage)
	assert.Empty(t, rec.EscalatedFrom)
}

func TestEscalationRequestChangesRerunsProducer(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec := NewRecord("escalated research")
	rec.Status = StatusInProgress
	rec.Stage = StageEscalated
	rec.EscalatedFrom = StageResearchReview
	require.NoError(t, store.Save(ctx, rec))

	rec, err := o.SubmitApproval(ctx, rec.ID, ApprovalEscalation, DecisionRequestChanges, "dig into the benchmarks")
	require.NoError(t, err)

	assert.Equal(t, StageResearching, rec.Stage)
	assert.Empty(t, rec.EscalatedFrom)
	assert.Equal(t, 0, rec.ResearchIterations, "human feedback does not consume the loop budget")
}

// A request-changes at a revision-loop escalation must yield a fresh
// revision from the human notes, not just another review verdict on the
// unchanged draft.
func TestEscalationRequestChangesRevisesDraft(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. What should the report cover before anything else?")
	inv.script(agent.RoleResearcher, "notes")
	inv.script(agent.RoleReviewer,
		"the research is sufficient",
		"major issues: claims lack citations",
		"major issues: still no citations",
		"major issues remain throughout",
		"no major issues",
	)
	inv.script(agent.RoleWriter, "draft-v1")
	inv.script(agent.RoleReviser, "draft-v2", "draft-v3", "draft-v4")
	inv.script(agent.RoleFactChecker, "verified")
	inv.script(agent.RoleFormatter, "final")
	inv.script(agent.RoleSummarizer, "summary")

	store := newMemStore()
	o := newTestOrchestrator(t, store, inv, nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "citation-starved report")
	require.NoError(t, err)
	id := rec.ID

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)
	rec, err = o.SubmitApproval(ctx, id, ApprovalPlan, DecisionApprove, "")
	require.NoError(t, err)

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StageEscalated, rec.Stage)
	require.Equal(t, StageReviewing, rec.EscalatedFrom)
	require.Equal(t, "draft-v3", rec.Artifact(ArtifactDraft))
	require.Len(t, inv.prompts[agent.RoleReviser], 2)

	rec, err = o.SubmitApproval(ctx, id, ApprovalEscalation, DecisionRequestChanges,
		"please add citations to section 2")
	require.NoError(t, err)
	require.Equal(t, StageReviewing, rec.Stage)
	assert.Equal(t, StageReviewing, rec.Approvals[len(rec.Approvals)-1].Stage)

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "draft-v4", rec.Artifact(ArtifactDraft), "the human feedback produced a new revision")
	assert.Equal(t, 3, rec.RevisionIterations, "human pacing stays outside the loop budget")

	prompts := inv.prompts[agent.RoleReviser]
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "please add citations to section 2")
	assert.Contains(t, prompts[2], "draft-v3")
}

func TestPlanRequestChangesFeedsNextPlanningPass(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "plan draft one", "plan draft two")
	store := newMemStore()
	o := newTestOrchestrator(t, store, inv, nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "plan feedback loop")
	require.NoError(t, err)
	id := rec.ID

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StagePlanApproval, rec.Stage)

	rec, err = o.SubmitApproval(ctx, id, ApprovalPlan, DecisionRequestChanges, "add a section on costs")
	require.NoError(t, err)
	require.Equal(t, StagePlanning, rec.Stage)

	rec, err = o.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StagePlanApproval, rec.Stage)
	assert.Equal(t, "plan draft two", rec.Artifact(ArtifactPlan))

	prompts := inv.prompts[agent.RolePlanner]
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "add a section on costs")
	assert.Contains(t, prompts[1], "plan draft one")
}

func TestRunAutoApprove(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. What defines the current state of the art?")
	inv.script(agent.RoleResearcher, "notes")
	inv.script(agent.RoleReviewer, "the research is sufficient", "no major issues")
	inv.script(agent.RoleWriter, "draft")
	inv.script(agent.RoleFactChecker, "verified")
	inv.script(agent.RoleFormatter, "final")
	inv.script(agent.RoleSummarizer, "summary")

	cfg := testConfig(t)
	cfg.AutoApprove = true
	o := newTestOrchestrator(t, newMemStore(), inv, nil, cfg)
	ctx := context.Background()

	rec, err := o.Create(ctx, "unattended run")
	require.NoError(t, err)

	rec, err = o.Run(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.ResearchIterations)
	assert.Equal(t, 1, rec.RevisionIterations)
	require.Len(t, rec.Approvals, 1, "only the plan gate fires when nothing escalates")
	assert.Equal(t, "auto-approved by policy", rec.Approvals[0].Notes)
}

func TestStageFailureMarksWorkflowFailed(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. What should the report establish first of all?")
	inv.script(agent.RoleResearcher, "notes")
	inv.script(agent.RoleReviewer, "the research is sufficient")
	inv.scriptErr(agent.RoleWriter, types.NewError(types.ErrAPI, "model endpoint unavailable"))

	cfg := testConfig(t)
	cfg.AutoApprove = true
	store := newMemStore()
	o := newTestOrchestrator(t, store, inv, nil, cfg)
	ctx := context.Background()

	rec, err := o.Create(ctx, "doomed run")
	require.NoError(t, err)

	_, err = o.Run(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrAPI, types.GetErrorCode(err))

	rec, err = o.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "model endpoint unavailable", rec.Error)
	assert.Equal(t, "notes", rec.Artifact(ArtifactResearchNotes), "artifacts before the failure are kept")
}

func TestSubmitApprovalGateChecks(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(t, store, newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "gate checks")
	require.NoError(t, err)

	_, err = o.SubmitApproval(ctx, rec.ID, ApprovalPlan, DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err), "no gate is pending yet")

	loaded, err := o.Get(ctx, rec.ID)
	require.NoError(t, err)
	loaded.Status = StatusInProgress
	loaded.Stage = StagePlanApproval
	require.NoError(t, store.Save(ctx, loaded))

	_, err = o.SubmitApproval(ctx, rec.ID, ApprovalEscalation, DecisionApprove, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err), "wrong gate type")
}

func TestCancelStopsBeforeNextStep(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "unused plan")
	o := newTestOrchestrator(t, newMemStore(), inv, nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "cancelled run")
	require.NoError(t, err)

	o.Cancel(rec.ID)

	_, err = o.Run(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowCancelled, types.GetErrorCode(err))

	rec, err = o.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "workflow cancelled", rec.Error)
	assert.Empty(t, inv.prompts[agent.RolePlanner], "no stage ran after cancellation")
}

func TestResultConflictWhileRunning(t *testing.T) {
	o := newTestOrchestrator(t, newMemStore(), newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "still running")
	require.NoError(t, err)

	_, err = o.Result(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))
}

func TestListNewestFirst(t *testing.T) {
	o := newTestOrchestrator(t, newMemStore(), newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	first, err := o.Create(ctx, "first topic")
	require.NoError(t, err)
	second, err := o.Create(ctx, "second topic")
	require.NoError(t, err)

	list, err := o.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestAdvanceOneStepOnly(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. Which open problems should the survey prioritize?")
	o := newTestOrchestrator(t, newMemStore(), inv, nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "stepwise run")
	require.NoError(t, err)

	rec, err = o.Advance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StagePlanApproval, rec.Stage)

	_, err = o.Advance(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err), "Advance refuses to cross a gate")
}

func TestGatherSourcesToleratesFailuresWithinThreshold(t *testing.T) {
	good1 := &stubAdapter{name: "web_search", results: []tools.Result{
		{Title: "alpha", URL: "https://one.example", Snippet: "first finding", Source: "web_search"},
	}}
	good2 := &stubAdapter{name: "semantic_scholar", results: []tools.Result{
		{Title: "beta", URL: "https://two.example", Snippet: "second finding", Source: "semantic_scholar"},
	}}
	broken := &stubAdapter{name: "arxiv", err: types.NewError(types.ErrTimeout, "upstream timeout")}

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(good1, tools.CategoryWeb))
	require.NoError(t, reg.Register(good2, tools.CategoryAcademic))
	require.NoError(t, reg.Register(broken, tools.CategoryAcademic))

	inv := newScriptedInvoker()
	inv.script(agent.RoleResearcher, "notes built from sources")

	store := newMemStore()
	o := newTestOrchestrator(t, store, inv, reg, testConfig(t))
	ctx := context.Background()

	rec := NewRecord("tolerant research")
	rec.Status = StatusInProgress
	rec.Stage = StageResearching
	rec.SetArtifact(ArtifactPlan, "narrative plan without numbered questions")
	require.NoError(t, store.Save(ctx, rec))

	rec, err := o.Advance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StageResearchReview, rec.Stage)

	prompts := inv.prompts[agent.RoleResearcher]
	require.Len(t, prompts, 1)
	// Merge order follows registration order regardless of completion order.
	alphaIdx := strings.Index(prompts[0], "alpha")
	betaIdx := strings.Index(prompts[0], "beta")
	require.GreaterOrEqual(t, alphaIdx, 0)
	require.GreaterOrEqual(t, betaIdx, 0)
	assert.Less(t, alphaIdx, betaIdx)

	require.Len(t, store.searches, 3, "every call is audited, including the failed one")
	var failed int
	for _, sr := range store.searches {
		if !sr.Succeeded {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestGatherSourcesFailsPastThreshold(t *testing.T) {
	reg := tools.NewRegistry()
	for _, name := range []string{"web_search", "semantic_scholar", "arxiv"} {
		require.NoError(t, reg.Register(&stubAdapter{
			name: name,
			err:  types.NewError(types.ErrNetwork, "connection refused"),
		}, tools.CategoryWeb))
	}

	store := newMemStore()
	o := newTestOrchestrator(t, store, newScriptedInvoker(), reg, testConfig(t))
	ctx := context.Background()

	rec := NewRecord("broken tools")
	rec.Status = StatusInProgress
	rec.Stage = StageResearching
	rec.SetArtifact(ArtifactPlan, "plan")
	require.NoError(t, store.Save(ctx, rec))

	_, err := o.Advance(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNetwork, types.GetErrorCode(err))

	rec, err = o.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "tool calls failed")
}

func TestDeleteRemovesFromListing(t *testing.T) {
	o := newTestOrchestrator(t, newMemStore(), newScriptedInvoker(), nil, testConfig(t))
	ctx := context.Background()

	rec, err := o.Create(ctx, "short-lived")
	require.NoError(t, err)

	require.NoError(t, o.Delete(ctx, rec.ID))

	_, err = o.Get(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestEventObserverReceivesLifecycleEvents(t *testing.T) {
	good := &stubAdapter{name: "web_search", results: []tools.Result{
		{Title: "alpha", URL: "https://one.example", Snippet: "finding", Source: "web_search"},
	}}
	broken := &stubAdapter{name: "arxiv", err: types.NewError(types.ErrTimeout, "upstream timeout")}
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(good, tools.CategoryWeb))
	require.NoError(t, reg.Register(broken, tools.CategoryAcademic))

	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "narrative plan without numbered questions")
	inv.script(agent.RoleResearcher, "notes")
	inv.script(agent.RoleReviewer,
		"the research is sufficient",
		"major issues", "major issues", "major issues",
	)
	inv.script(agent.RoleWriter, "draft-v1")
	inv.script(agent.RoleReviser, "draft-v2", "draft-v3")
	inv.script(agent.RoleFactChecker, "verified")
	inv.script(agent.RoleFormatter, "final")
	inv.script(agent.RoleSummarizer, "summary")

	var (
		created     int
		escalations []string
		decisions   []string
		toolErrs    = make(map[string]bool)
	)

	cfg := testConfig(t)
	cfg.AutoApprove = true
	o := NewOrchestrator(newMemStore(), inv, reg, cfg, zap.NewNop(),
		WithEventObserver(EventObserver{
			WorkflowCreated: func() { created++ },
			Escalated:       func(loop string) { escalations = append(escalations, loop) },
			ApprovalRecorded: func(gate ApprovalType, decision Decision) {
				decisions = append(decisions, string(gate)+":"+string(decision))
			},
			ToolCalled: func(tool string, err error) { toolErrs[tool] = err != nil },
		}))
	ctx := context.Background()

	rec, err := o.Create(ctx, "instrumented run")
	require.NoError(t, err)

	rec, err = o.Run(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	assert.Equal(t, 1, created)
	assert.Equal(t, []string{"revision"}, escalations)
	assert.Equal(t, []string{"plan:approve", "escalation:approve"}, decisions)
	assert.Equal(t, map[string]bool{"web_search": false, "arxiv": true}, toolErrs)
}

func TestStageObserverReceivesOutcomes(t *testing.T) {
	inv := newScriptedInvoker()
	inv.script(agent.RolePlanner, "1. Where does the field currently stand overall?")

	var observed []Stage
	o := NewOrchestrator(newMemStore(), inv, nil, testConfig(t), zap.NewNop(),
		WithStageObserver(func(stage Stage, _ time.Duration, err error) {
			require.NoError(t, err)
			observed = append(observed, stage)
		}))
	ctx := context.Background()

	rec, err := o.Create(ctx, "observed run")
	require.NoError(t, err)

	_, err = o.Run(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StagePlanning}, observed)
}
