// Package quick provides a one-call research run for scripts and
// experiments. It wires a default pipeline (SQLite store, Claude
// provider, auto-approved gates) so a report can be produced without
// standing up the server.
//
// Usage:
//
//	import "github.com/researchflow/researchflow/quick"
//
//	rec, err := quick.Research(ctx, "quantum error correction")
//	rec, err := quick.Research(ctx, topic, quick.WithModel("claude-opus-4-1"))
//	rec, err := quick.Research(ctx, topic, quick.WithProvider(myProvider))
package quick

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/agent"
	"github.com/researchflow/researchflow/config"
	"github.com/researchflow/researchflow/internal/store"
	"github.com/researchflow/researchflow/llm"
	"github.com/researchflow/researchflow/providers"
	"github.com/researchflow/researchflow/tools"
	"github.com/researchflow/researchflow/workflow"
)

// Option configures the pipeline built by Research.
type Option func(*options)

type options struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *zap.Logger

	apiKey    string
	model     string
	baseURL   string
	dbPath    string
	outputDir string

	workflowCfg *workflow.Config
}

// WithProvider sets a pre-built LLM provider. When set, WithAPIKey,
// WithModel and WithBaseURL are ignored.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithAPIKey overrides the API key. Defaults to the ANTHROPIC_API_KEY
// environment variable.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithTools sets the tool registry used during the research stage.
// Defaults to an empty registry, in which case the researcher works
// from the planner's outline alone.
func WithTools(registry *tools.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithDatabase sets the SQLite file backing the run. Defaults to
// researchflow.db in the working directory.
func WithDatabase(path string) Option {
	return func(o *options) { o.dbPath = path }
}

// WithOutputDir sets the directory receiving the rendered report.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithWorkflowConfig replaces the orchestration policy wholesale. The
// caller keeps control of AutoApprove; without it the run will park at
// the first human gate and Research returns the gated record.
func WithWorkflowConfig(cfg workflow.Config) Option {
	return func(o *options) { o.workflowCfg = &cfg }
}

// Research runs the full pipeline for one topic and returns the final
// record. Both approval gates answer themselves unless overridden with
// WithWorkflowConfig.
func Research(ctx context.Context, topic string, opts ...Option) (*workflow.WorkflowRecord, error) {
	defaults := config.DefaultConfig()
	o := &options{
		model:     defaults.LLM.Model,
		baseURL:   defaults.LLM.BaseURL,
		dbPath:    defaults.Database.Name,
		outputDir: defaults.Workflow.OutputDir,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	p := o.provider
	if p == nil {
		key := o.apiKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("API key is required: set ANTHROPIC_API_KEY or use WithAPIKey")
		}
		var err error
		p, err = providers.New(config.LLMConfig{
			Provider: "claude",
			APIKey:   key,
			BaseURL:  o.baseURL,
			Model:    o.model,
			Timeout:  defaults.LLM.Timeout,
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
	}

	db, err := store.Open("sqlite", o.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.New(db, o.logger)
	if err != nil {
		return nil, err
	}

	registry := o.registry
	if registry == nil {
		registry = tools.NewRegistry()
	}

	wfCfg := workflow.DefaultConfig()
	wfCfg.AutoApprove = true
	wfCfg.OutputDir = o.outputDir
	if o.workflowCfg != nil {
		wfCfg = *o.workflowCfg
	}

	orc := workflow.NewOrchestrator(st, agent.NewInvoker(p, o.logger), registry, wfCfg, o.logger)

	rec, err := orc.Create(ctx, topic)
	if err != nil {
		return nil, err
	}
	return orc.Run(ctx, rec.ID)
}
