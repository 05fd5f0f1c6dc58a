package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/types"
)

// maxResearchQueries caps how many queries one research pass issues per
// adapter.
const maxResearchQueries = 3

func (o *Orchestrator) stepPlanning(ctx context.Context, rec *WorkflowRecord) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s\n", rec.Topic)
	if feedback := lastRequestChangesNotes(rec, ApprovalPlan, StagePlanApproval); feedback != "" {
		fmt.Fprintf(&sb, "\nThe previous plan was sent back with this feedback; address it:\n%s\n", feedback)
		if prev := rec.Artifact(ArtifactPlan); prev != "" {
			fmt.Fprintf(&sb, "\nPrevious plan:\n%s\n", prev)
		}
	}

	plan, err := o.invoker.Invoke(ctx, agent.RolePlanner, sb.String())
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactPlan, plan)
	return rec.Transition(StagePlanApproval)
}

func (o *Orchestrator) stepResearching(ctx context.Context, rec *WorkflowRecord) error {
	material, err := o.gatherSources(ctx, rec)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s\n\nResearch plan:\n%s\n", rec.Topic, rec.Artifact(ArtifactPlan))
	if material != "" {
		fmt.Fprintf(&sb, "\nSource material:\n%s\n", material)
	}
	if prev := rec.Artifact(ArtifactResearchNotes); prev != "" {
		fmt.Fprintf(&sb, "\nNotes from the previous pass (extend and correct them):\n%s\n", prev)
	}
	if feedback := rec.Artifact(ArtifactReviewFeedback); feedback != "" && rec.ResearchIterations > 0 {
		fmt.Fprintf(&sb, "\nCompleteness feedback to address:\n%s\n", feedback)
	}
	if notes := lastRequestChangesNotes(rec, ApprovalEscalation, StageResearchReview); notes != "" {
		fmt.Fprintf(&sb, "\nHuman reviewer guidance:\n%s\n", notes)
	}

	notes, err := o.invoker.Invoke(ctx, agent.RoleResearcher, sb.String())
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactResearchNotes, notes)

	if err := o.store.AppendNote(ctx, &ResearchNote{
		WorkflowID: rec.ID,
		Pass:       rec.ResearchIterations + 1,
		Content:    notes,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		o.logger.Warn("failed to append research note", zap.Error(err))
	}

	return rec.Transition(StageResearchReview)
}

// gatherSources fans the research queries out across the registered
// search adapters. Calls run concurrently up to MaxConcurrentTools, and
// results are merged in issuance order so the stage artifact is
// deterministic for a given set of responses. Individual call failures
// are tolerated up to ToolFailureThreshold.
func (o *Orchestrator) gatherSources(ctx context.Context, rec *WorkflowRecord) (string, error) {
	if o.registry == nil {
		return "", nil
	}
	adapters := o.registry.ForCategory(tools.CategoryWeb, tools.CategoryAcademic)
	if len(adapters) == 0 {
		return "", nil
	}

	queries := buildQueries(rec)

	type task struct {
		adapter tools.Adapter
		query   string
	}
	var tasks []task
	for _, q := range queries {
		for _, a := range adapters {
			tasks = append(tasks, task{adapter: a, query: q})
		}
	}

	results := make([][]tools.Result, len(tasks))
	errs := make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentTools)
	for i, t := range tasks {
		g.Go(func() error {
			results[i], errs[i] = t.adapter.Search(gctx, t.query)
			return nil
		})
	}
	_ = g.Wait()

	var failures int
	var lastErr error
	var sb strings.Builder

	for i, t := range tasks {
		succeeded := errs[i] == nil
		if o.events.ToolCalled != nil {
			o.events.ToolCalled(t.adapter.Name(), errs[i])
		}
		if !succeeded {
			failures++
			lastErr = errs[i]
			o.logger.Warn("tool call failed",
				zap.String("tool", t.adapter.Name()),
				zap.String("query", t.query),
				zap.Error(errs[i]),
			)
		}

		if err := o.store.AppendSearch(ctx, &SearchRecord{
			WorkflowID:  rec.ID,
			Tool:        t.adapter.Name(),
			Query:       t.query,
			ResultCount: len(results[i]),
			Succeeded:   succeeded,
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			o.logger.Warn("failed to append search record", zap.Error(err))
		}

		for _, r := range results[i] {
			fmt.Fprintf(&sb, "- [%s] %s (%s)\n  %s\n", r.Source, r.Title, r.URL, truncate(r.Snippet, 1200))
		}
	}

	if failures > o.cfg.ToolFailureThreshold {
		return "", types.NewError(types.GetErrorCode(lastErr),
			fmt.Sprintf("research pass failed: %d of %d tool calls failed", failures, len(tasks))).
			WithCause(lastErr)
	}

	return sb.String(), nil
}

func (o *Orchestrator) stepResearchReview(ctx context.Context, rec *WorkflowRecord) error {
	prompt := fmt.Sprintf(
		"Assess whether the research notes below sufficiently answer every question in the plan. "+
			"If they do, state clearly that the research is sufficient. Otherwise list what is missing.\n\n"+
			"Plan:\n%s\n\nResearch notes:\n%s\n",
		rec.Artifact(ArtifactPlan), rec.Artifact(ArtifactResearchNotes))

	feedback, err := o.invoker.Invoke(ctx, agent.RoleReviewer, prompt)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactReviewFeedback, feedback)
	sufficient := isSufficient(feedback)

	if rec.ResearchIterations < o.cfg.MaxResearchIterations {
		rec.ResearchIterations++
	}

	if err := o.store.AppendIteration(ctx, &Iteration{
		WorkflowID: rec.ID,
		Loop:       "research",
		Number:     rec.ResearchIterations,
		Sufficient: sufficient,
		Feedback:   truncate(feedback, 4000),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		o.logger.Warn("failed to append iteration", zap.Error(err))
	}

	switch {
	case sufficient:
		return rec.Transition(StageWriting)
	case rec.ResearchIterations < o.cfg.MaxResearchIterations:
		return rec.Transition(StageResearching)
	default:
		// Budget exhausted: a human decides whether the notes are good
		// enough to write from.
		rec.EscalatedFrom = StageResearchReview
		if o.events.Escalated != nil {
			o.events.Escalated("research")
		}
		return rec.Transition(StageEscalated)
	}
}

func (o *Orchestrator) stepWriting(ctx context.Context, rec *WorkflowRecord) error {
	prompt := fmt.Sprintf(
		"Write the report for this research run.\n\nTopic: %s\n\nPlan:\n%s\n\nResearch notes:\n%s\n",
		rec.Topic, rec.Artifact(ArtifactPlan), rec.Artifact(ArtifactResearchNotes))

	draft, err := o.invoker.Invoke(ctx, agent.RoleWriter, prompt)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactDraft, draft)
	return rec.Transition(StageReviewing)
}

func (o *Orchestrator) stepReviewing(ctx context.Context, rec *WorkflowRecord) error {
	humanNotes := lastRequestChangesNotes(rec, ApprovalEscalation, StageReviewing)
	if humanNotes != "" {
		// A human sent the escalated draft back for changes. Produce the
		// requested revision before the next check; the counter is
		// already at its maximum, so an insufficient verdict re-escalates
		// instead of re-entering this branch.
		revisePrompt := fmt.Sprintf(
			"Revise the report to address the reviewer's requested changes.\n\nDraft:\n%s\n\nRequested changes:\n%s\n",
			rec.Artifact(ArtifactDraft), humanNotes)
		revised, err := o.invoker.Invoke(ctx, agent.RoleReviser, revisePrompt)
		if err != nil {
			return err
		}
		rec.SetArtifact(ArtifactDraft, revised)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review this report draft against the plan.\n\nPlan:\n%s\n\nDraft:\n%s\n",
		rec.Artifact(ArtifactPlan), rec.Artifact(ArtifactDraft))
	if humanNotes != "" {
		fmt.Fprintf(&sb, "\nA human reviewer asked for these changes; confirm they are addressed:\n%s\n", humanNotes)
	}

	feedback, err := o.invoker.Invoke(ctx, agent.RoleReviewer, sb.String())
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactReviewFeedback, feedback)
	sufficient := isSufficient(feedback)

	if rec.RevisionIterations < o.cfg.MaxRevisionIterations {
		rec.RevisionIterations++
	}

	if err := o.store.AppendIteration(ctx, &Iteration{
		WorkflowID: rec.ID,
		Loop:       "revision",
		Number:     rec.RevisionIterations,
		Sufficient: sufficient,
		Feedback:   truncate(feedback, 4000),
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		o.logger.Warn("failed to append iteration", zap.Error(err))
	}

	if sufficient {
		return rec.Transition(StageFactChecking)
	}

	if rec.RevisionIterations >= o.cfg.MaxRevisionIterations {
		// Budget exhausted with the draft still flagged; park it for a
		// human verdict, keeping draft and feedback as persisted.
		rec.EscalatedFrom = StageReviewing
		if o.events.Escalated != nil {
			o.events.Escalated("revision")
		}
		return rec.Transition(StageEscalated)
	}

	revisePrompt := fmt.Sprintf(
		"Revise the report to address the review feedback.\n\nDraft:\n%s\n\nReview feedback:\n%s\n",
		rec.Artifact(ArtifactDraft), feedback)
	revised, err := o.invoker.Invoke(ctx, agent.RoleReviser, revisePrompt)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactDraft, revised)
	return rec.Transition(StageReviewing)
}

func (o *Orchestrator) stepFactChecking(ctx context.Context, rec *WorkflowRecord) error {
	prompt := fmt.Sprintf(
		"Cross-check the report's claims against the research notes.\n\nReport:\n%s\n\nResearch notes:\n%s\n",
		rec.Artifact(ArtifactDraft), rec.Artifact(ArtifactResearchNotes))

	check, err := o.invoker.Invoke(ctx, agent.RoleFactChecker, prompt)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactFactCheck, check)
	return rec.Transition(StageFormatting)
}

func (o *Orchestrator) stepFormatting(ctx context.Context, rec *WorkflowRecord) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Format this report.\n\nReport:\n%s\n", rec.Artifact(ArtifactDraft))
	if check := rec.Artifact(ArtifactFactCheck); check != "" {
		fmt.Fprintf(&sb, "\nApply any corrections from this fact check:\n%s\n", check)
	}

	formatted, err := o.invoker.Invoke(ctx, agent.RoleFormatter, sb.String())
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactFinalReport, formatted)
	return rec.Transition(StageSummarizing)
}

func (o *Orchestrator) stepSummarizing(ctx context.Context, rec *WorkflowRecord) error {
	prompt := fmt.Sprintf("Write the executive summary for this report.\n\n%s\n",
		rec.Artifact(ArtifactFinalReport))

	summary, err := o.invoker.Invoke(ctx, agent.RoleSummarizer, prompt)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactSummary, summary)
	return rec.Transition(StageDocumenting)
}

func (o *Orchestrator) stepDocumenting(_ context.Context, rec *WorkflowRecord) error {
	path, err := o.renderer.WriteDocument(rec, o.cfg.OutputDir)
	if err != nil {
		return err
	}

	rec.SetArtifact(ArtifactOutputPath, path)
	rec.Complete()
	return nil
}

// isSufficient interprets a quality-check verdict. The check agents are
// instructed to state sufficiency explicitly; negative phrasings are
// tested first so "not sufficient" never reads as a pass.
func isSufficient(feedback string) bool {
	f := strings.ToLower(feedback)

	negatives := []string{
		"not sufficient", "insufficient", "not ready", "needs more",
		"major issues", "not yet", "incomplete",
	}
	for _, n := range negatives {
		if strings.Contains(f, n) {
			// "no major issues" is a pass despite containing "major issues".
			if n == "major issues" && strings.Contains(f, "no major issues") {
				continue
			}
			return false
		}
	}

	positives := []string{
		"sufficient", "excellent", "no major issues",
		"ready to publish", "ready to proceed", "approved",
	}
	for _, p := range positives {
		if strings.Contains(f, p) {
			return true
		}
	}
	return false
}

// buildQueries derives the search queries for one research pass: the
// topic itself plus the first numbered questions of the plan.
func buildQueries(rec *WorkflowRecord) []string {
	queries := []string{rec.Topic}

	for _, line := range strings.Split(rec.Artifact(ArtifactPlan), "\n") {
		if len(queries) > maxResearchQueries {
			break
		}
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < 3 || trimmed[0] < '1' || trimmed[0] > '9' {
			continue
		}
		rest := strings.TrimLeft(trimmed, "0123456789")
		rest = strings.TrimLeft(rest, ".) ")
		if len(rest) > 10 {
			queries = append(queries, rest)
		}
	}

	return queries
}

// lastRequestChangesNotes returns the notes of the most recent
// request-changes decision for the given gate and originating stage,
// but only if it is the most recent approval overall, i.e. the feedback
// has not already been superseded by a later decision. An empty origin
// matches any stage.
func lastRequestChangesNotes(rec *WorkflowRecord, gate ApprovalType, origin Stage) string {
	if len(rec.Approvals) == 0 {
		return ""
	}
	last := rec.Approvals[len(rec.Approvals)-1]
	if last.Type != gate || last.Decision != DecisionRequestChanges {
		return ""
	}
	if origin != "" && last.Stage != origin {
		return ""
	}
	return last.Notes
}
