package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/config"
	"github.com/researchflow/researchflow/internal/cache"
	"github.com/researchflow/researchflow/internal/store"
	"github.com/researchflow/researchflow/providers"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/workflow"
)

// runRun drives a single workflow end to end in the terminal. Gates are
// answered interactively on stdin unless --auto-approve is given.
func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	topic := fs.String("topic", "", "Research topic")
	autoApprove := fs.Bool("auto-approve", false, "Answer both gates with an automatic approval")
	fs.Parse(args)

	if strings.TrimSpace(*topic) == "" {
		fmt.Fprintln(os.Stderr, "run requires --topic")
		os.Exit(2)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	orc, err := buildRunPipeline(cfg, logger, *autoApprove)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	rec, err := orc.Create(ctx, *topic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create workflow: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Workflow %s created for topic: %s\n", rec.ID, rec.Topic)

	in := bufio.NewReader(os.Stdin)
	for {
		rec, err = orc.Run(ctx, rec.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Workflow error: %v\n", err)
			os.Exit(1)
		}
		if rec.Terminal() {
			break
		}
		gate, waiting := rec.AwaitingApproval()
		if !waiting {
			fmt.Fprintf(os.Stderr, "Workflow parked in stage %s without a gate\n", rec.Stage)
			os.Exit(1)
		}

		decision, notes := promptApproval(in, rec, gate)
		rec, err = orc.SubmitApproval(ctx, rec.ID, gate, decision, notes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Approval failed: %v\n", err)
			os.Exit(1)
		}
		if rec.Terminal() {
			break
		}
	}

	fmt.Printf("\nWorkflow finished: stage=%s status=%s\n", rec.Stage, rec.Status)
	fmt.Printf("Research iterations: %d, revision iterations: %d\n",
		rec.ResearchIterations, rec.RevisionIterations)
	if path := rec.Artifacts[workflow.ArtifactOutputPath]; path != "" {
		fmt.Printf("Report written to %s\n", path)
	}
	if rec.Stage == workflow.StageFailed {
		os.Exit(1)
	}
}

// buildRunPipeline assembles the same pipeline as the server, minus the
// HTTP and metrics layers; the tool cache is in-process only.
func buildRunPipeline(cfg *config.Config, logger *zap.Logger, autoApprove bool) (*workflow.Orchestrator, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.New(db, logger)
	if err != nil {
		return nil, err
	}

	provider, err := providers.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	invoker := agent.NewInvoker(provider, logger)

	limits := tools.Limits{
		MaxResults: cfg.Tools.MaxResults,
		Timeout:    cfg.Tools.Timeout,
	}
	registry := tools.NewRegistry()
	type entry struct {
		adapter  tools.Adapter
		category tools.Category
	}
	var entries []entry
	if cfg.Tools.TavilyAPIKey != "" {
		entries = append(entries, entry{tools.NewWebSearch(cfg.Tools.TavilyAPIKey, "", limits, logger), tools.CategoryWeb})
	}
	entries = append(entries,
		entry{tools.NewScholar("", limits, logger), tools.CategoryAcademic},
		entry{tools.NewArxiv("", limits, logger), tools.CategoryAcademic},
		entry{tools.NewScraper(limits, logger), tools.CategoryScrape},
	)
	for _, e := range entries {
		adapter := e.adapter
		if cfg.Tools.CacheTTL > 0 {
			adapter = tools.NewCachedAdapter(adapter, cache.NewMemoryCache(cfg.Tools.CacheTTL), cfg.Tools.CacheTTL, logger)
		}
		if err := registry.Register(adapter, e.category); err != nil {
			return nil, err
		}
	}

	wfCfg := workflow.Config{
		MaxResearchIterations: cfg.Workflow.MaxResearchIterations,
		MaxRevisionIterations: cfg.Workflow.MaxRevisionIterations,
		AutoApprove:           autoApprove || cfg.Workflow.AutoApprove,
		OutputDir:             cfg.Workflow.OutputDir,
		MaxConcurrentTools:    cfg.Tools.MaxConcurrent,
		ToolFailureThreshold:  cfg.Tools.FailureThreshold,
	}
	return workflow.NewOrchestrator(st, invoker, registry, wfCfg, logger), nil
}

// promptApproval shows the gated content and reads a decision.
func promptApproval(in *bufio.Reader, rec *workflow.WorkflowRecord, gate workflow.ApprovalType) (workflow.Decision, string) {
	fmt.Printf("\n=== Approval required: %s ===\n", gate)
	switch gate {
	case workflow.ApprovalPlan:
		fmt.Println(rec.Artifacts[workflow.ArtifactPlan])
	case workflow.ApprovalEscalation:
		fmt.Printf("Escalated from %s after exhausting the iteration budget.\n", rec.EscalatedFrom)
		if fb := rec.Artifacts[workflow.ArtifactReviewFeedback]; fb != "" {
			fmt.Printf("Latest feedback:\n%s\n", fb)
		}
	}

	for {
		fmt.Print("\n[a]pprove / [r]eject / request [c]hanges? ")
		line, err := in.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr, "\nstdin closed, rejecting")
			return workflow.DecisionReject, "stdin closed"
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "approve":
			return workflow.DecisionApprove, ""
		case "r", "reject":
			return workflow.DecisionReject, readLine(in, "Rejection reason (optional): ")
		case "c", "changes":
			notes := readLine(in, "What should change? ")
			if strings.TrimSpace(notes) == "" {
				fmt.Println("Change requests need a note.")
				continue
			}
			return workflow.DecisionRequestChanges, notes
		}
	}
}

func readLine(in *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}
