package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/types"
)

// Invoker is the slice of the agent layer the orchestrator needs.
// Satisfied by *agent.Invoker.
type Invoker interface {
	Invoke(ctx context.Context, role agent.Role, prompt string) (string, error)
}

// Config is the orchestration policy.
type Config struct {
	// MaxResearchIterations bounds the research-completeness loop.
	MaxResearchIterations int
	// MaxRevisionIterations bounds the review/revision loop.
	MaxRevisionIterations int
	// AutoApprove answers both human gates with an automatic approval.
	AutoApprove bool
	// OutputDir receives the rendered report documents.
	OutputDir string
	// MaxConcurrentTools bounds parallel tool calls inside one research
	// pass.
	MaxConcurrentTools int
	// ToolFailureThreshold is how many tool-call failures one research
	// pass tolerates before the stage fails.
	ToolFailureThreshold int
}

// DefaultConfig returns the standard orchestration policy.
func DefaultConfig() Config {
	return Config{
		MaxResearchIterations: 3,
		MaxRevisionIterations: 3,
		OutputDir:             "reports",
		MaxConcurrentTools:    4,
		ToolFailureThreshold:  2,
	}
}

// StageObserver receives the outcome of each executed stage step.
type StageObserver func(stage Stage, duration time.Duration, err error)

// EventObserver receives lifecycle events outside the per-stage
// outcomes. Nil callbacks are skipped.
type EventObserver struct {
	WorkflowCreated  func()
	Escalated        func(loop string)
	ApprovalRecorded func(gate ApprovalType, decision Decision)
	ToolCalled       func(tool string, err error)
}

// Orchestrator drives WorkflowRecords through the pipeline. Each record
// advances strictly sequentially; independent records run in parallel.
type Orchestrator struct {
	store    Store
	invoker  Invoker
	registry *tools.Registry
	renderer *Renderer
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	observer StageObserver
	events   EventObserver

	// locks serializes all work per workflow id.
	locks sync.Map // id -> *sync.Mutex
	// cancels holds ids flagged for cancellation; checked before each
	// stage step, never mid-call.
	cancels sync.Map // id -> struct{}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithStageObserver registers a per-stage outcome callback.
func WithStageObserver(o StageObserver) OrchestratorOption {
	return func(orc *Orchestrator) { orc.observer = o }
}

// WithEventObserver registers lifecycle event callbacks.
func WithEventObserver(ev EventObserver) OrchestratorOption {
	return func(orc *Orchestrator) { orc.events = ev }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store Store, invoker Invoker, registry *tools.Registry, cfg Config, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResearchIterations <= 0 {
		cfg.MaxResearchIterations = 3
	}
	if cfg.MaxRevisionIterations <= 0 {
		cfg.MaxRevisionIterations = 3
	}
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = 4
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "reports"
	}

	o := &Orchestrator{
		store:    store,
		invoker:  invoker,
		registry: registry,
		renderer: NewRenderer(),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orchestrator")),
		tracer:   otel.Tracer("researchflow/workflow"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create registers a new run for the given topic. The record starts in
// Planning with status submitted; nothing executes until Run or Advance.
func (o *Orchestrator) Create(ctx context.Context, topic string) (*WorkflowRecord, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, types.NewError(types.ErrValidation, "topic must not be empty")
	}
	if len(topic) > 2000 {
		return nil, types.NewError(types.ErrValidation, "topic exceeds 2000 characters")
	}

	rec := NewRecord(topic)
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}
	if o.events.WorkflowCreated != nil {
		o.events.WorkflowCreated()
	}

	o.logger.Info("workflow created",
		zap.String("workflow_id", rec.ID),
		zap.String("topic", topic),
	)
	return rec, nil
}

// Get returns the current state of a run.
func (o *Orchestrator) Get(ctx context.Context, id string) (*WorkflowRecord, error) {
	return o.store.Load(ctx, id)
}

// List returns all runs.
func (o *Orchestrator) List(ctx context.Context) ([]*WorkflowRecord, error) {
	return o.store.List(ctx)
}

// Result returns the full artifact bundle of a completed run, or a
// conflict error while the run is still moving.
func (o *Orchestrator) Result(ctx context.Context, id string) (*WorkflowRecord, error) {
	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusCompleted {
		return nil, types.NewError(types.ErrConflict,
			fmt.Sprintf("workflow is %s, result available once completed", rec.Status))
	}
	return rec, nil
}

// Statistics aggregates the audit tables for one run.
func (o *Orchestrator) Statistics(ctx context.Context, id string) (*Statistics, error) {
	return o.store.Statistics(ctx, id)
}

// RenderReport renders the completed run's report as HTML.
func (o *Orchestrator) RenderReport(ctx context.Context, id string) ([]byte, error) {
	rec, err := o.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.renderer.RenderHTML(rec)
}

// Cancel flags a run for cancellation. The flag is honored before the
// next stage step; an in-flight LLM or tool call is never interrupted.
func (o *Orchestrator) Cancel(id string) {
	o.cancels.Store(id, struct{}{})
}

// Delete cancels and soft-deletes a run. Audit history is kept.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.Cancel(id)
	return o.store.Delete(ctx, id)
}

func (o *Orchestrator) cancelled(id string) bool {
	_, ok := o.cancels.Load(id)
	return ok
}

// Run advances the workflow until it reaches a terminal state or parks
// at a human gate. It returns the record as last persisted; when the
// record sits at a gate the caller resumes it via SubmitApproval
// followed by another Run.
func (o *Orchestrator) Run(ctx context.Context, id string) (*WorkflowRecord, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	for {
		if rec.Terminal() {
			return rec, nil
		}

		if gate, waiting := rec.AwaitingApproval(); waiting {
			if !o.cfg.AutoApprove {
				return rec, nil
			}
			if err := o.applyApproval(ctx, rec, gate, DecisionApprove, "auto-approved by policy"); err != nil {
				return rec, err
			}
			continue
		}

		if err := o.stepOnce(ctx, rec); err != nil {
			return rec, err
		}
	}
}

// Advance executes exactly one stage step. Exposed for step-wise
// debugging and tests; Run is the normal driver.
func (o *Orchestrator) Advance(ctx context.Context, id string) (*WorkflowRecord, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return rec, nil
	}
	if _, waiting := rec.AwaitingApproval(); waiting {
		return rec, types.NewError(types.ErrConflict, "workflow is awaiting approval")
	}

	err = o.stepOnce(ctx, rec)
	return rec, err
}

// stepOnce runs the current stage's step function and persists the
// outcome before returning. Callers hold the per-id lock.
func (o *Orchestrator) stepOnce(ctx context.Context, rec *WorkflowRecord) error {
	if o.cancelled(rec.ID) {
		rec.Fail("workflow cancelled")
		if err := o.save(ctx, rec); err != nil {
			return err
		}
		return types.NewError(types.ErrWorkflowCancelled, "workflow cancelled")
	}

	stage := rec.Stage
	ctx, span := o.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.id", rec.ID),
			attribute.String("workflow.stage", string(stage)),
		))
	defer span.End()

	if rec.Status == StatusSubmitted {
		if err := rec.SetStatus(StatusInProgress); err != nil {
			return err
		}
	}

	start := time.Now()
	var err error
	switch stage {
	case StagePlanning:
		err = o.stepPlanning(ctx, rec)
	case StageResearching:
		err = o.stepResearching(ctx, rec)
	case StageResearchReview:
		err = o.stepResearchReview(ctx, rec)
	case StageWriting:
		err = o.stepWriting(ctx, rec)
	case StageReviewing:
		err = o.stepReviewing(ctx, rec)
	case StageFactChecking:
		err = o.stepFactChecking(ctx, rec)
	case StageFormatting:
		err = o.stepFormatting(ctx, rec)
	case StageSummarizing:
		err = o.stepSummarizing(ctx, rec)
	case StageDocumenting:
		err = o.stepDocumenting(ctx, rec)
	default:
		err = types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("no step defined for stage %s", stage))
	}
	duration := time.Since(start)

	if o.observer != nil {
		o.observer(stage, duration, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// Failed runs keep every artifact produced so far.
		rec.Fail(errorMessage(err))
		if saveErr := o.save(ctx, rec); saveErr != nil {
			o.logger.Error("failed to persist failed workflow",
				zap.String("workflow_id", rec.ID), zap.Error(saveErr))
		}

		o.logger.Warn("stage failed",
			zap.String("workflow_id", rec.ID),
			zap.String("stage", string(stage)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	if err := o.save(ctx, rec); err != nil {
		return err
	}

	o.logger.Info("stage completed",
		zap.String("workflow_id", rec.ID),
		zap.String("stage", string(stage)),
		zap.String("next_stage", string(rec.Stage)),
		zap.Duration("duration", duration),
	)
	return nil
}

// SubmitApproval records a human decision at the current gate and
// applies it. The workflow does not advance further here; the caller
// invokes Run to resume.
func (o *Orchestrator) SubmitApproval(ctx context.Context, id string, typ ApprovalType, decision Decision, notes string) (*WorkflowRecord, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	gate, waiting := rec.AwaitingApproval()
	if !waiting {
		return rec, types.NewError(types.ErrConflict, "workflow is not awaiting approval")
	}
	if typ != gate {
		return rec, types.NewError(types.ErrValidation,
			fmt.Sprintf("gate expects approval type %q, got %q", gate, typ))
	}

	if err := o.applyApproval(ctx, rec, gate, decision, notes); err != nil {
		return rec, err
	}
	return rec, nil
}

// applyApproval appends the decision to the audit trail and moves the
// record accordingly. Callers hold the per-id lock.
func (o *Orchestrator) applyApproval(ctx context.Context, rec *WorkflowRecord, gate ApprovalType, decision Decision, notes string) error {
	var snapshot string
	gateStage := StagePlanApproval
	switch gate {
	case ApprovalPlan:
		snapshot = rec.Artifact(ArtifactPlan)
	case ApprovalEscalation:
		snapshot = rec.Artifact(ArtifactReviewFeedback)
		gateStage = rec.EscalatedFrom
	}

	rec.AppendApproval(Approval{
		Type:            gate,
		Decision:        decision,
		Approved:        decision == DecisionApprove,
		Stage:           gateStage,
		ContentSnapshot: truncate(snapshot, 4000),
		Notes:           notes,
	})

	var err error
	switch decision {
	case DecisionApprove:
		err = o.approveGate(rec, gate)
	case DecisionReject:
		rec.Fail(fmt.Sprintf("%s rejected: %s", gate, notes))
	case DecisionRequestChanges:
		err = o.requestChanges(rec, gate)
	default:
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown decision %q", decision))
	}
	if err != nil {
		return err
	}

	if err := o.save(ctx, rec); err != nil {
		return err
	}
	if o.events.ApprovalRecorded != nil {
		o.events.ApprovalRecorded(gate, decision)
	}

	o.logger.Info("approval recorded",
		zap.String("workflow_id", rec.ID),
		zap.String("gate", string(gate)),
		zap.String("decision", string(decision)),
		zap.String("next_stage", string(rec.Stage)),
	)
	return nil
}

func (o *Orchestrator) approveGate(rec *WorkflowRecord, gate ApprovalType) error {
	switch gate {
	case ApprovalPlan:
		return rec.Transition(StageResearching)
	case ApprovalEscalation:
		// Resume at the stage after the escalated loop: the last
		// artifact is carried forward even if still imperfect.
		next := StageFactChecking
		if rec.EscalatedFrom == StageResearchReview {
			next = StageWriting
		}
		rec.EscalatedFrom = ""
		return rec.Transition(next)
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("unknown gate %q", gate))
	}
}

// requestChanges re-runs the gate's producing stage with the human
// feedback. For a revision-loop escalation the re-entered review stage
// runs a revision pass from the human notes before its next check. This
// path is human-paced and deliberately does not touch the bounded loop
// counters.
func (o *Orchestrator) requestChanges(rec *WorkflowRecord, gate ApprovalType) error {
	switch gate {
	case ApprovalPlan:
		return rec.Transition(StagePlanning)
	case ApprovalEscalation:
		next := StageReviewing
		if rec.EscalatedFrom == StageResearchReview {
			next = StageResearching
		}
		rec.EscalatedFrom = ""
		return rec.Transition(next)
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("unknown gate %q", gate))
	}
}

// save persists the record with an incremented version. Every stage
// transition goes through here before the next step starts.
func (o *Orchestrator) save(ctx context.Context, rec *WorkflowRecord) error {
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return o.store.Save(ctx, rec)
}

// errorMessage extracts the human-readable message recorded on a failed
// run. Classified errors surface their message without the cause chain.
func errorMessage(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
