// Package researchflow provides a top-level convenience entry point for
// running a research pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/researchflow/researchflow"
//
//	rec, err := researchflow.Research(ctx, "quantum error correction")
//	rec, err := researchflow.Research(ctx, topic, researchflow.WithModel("claude-opus-4-1"))
//
// This is a thin wrapper around [quick.Research]; both produce identical
// results. Use this package when you prefer the shorter import path.
package researchflow

import (
	"context"

	"github.com/researchflow/researchflow/quick"
	"github.com/researchflow/researchflow/workflow"
)

// Option configures the pipeline built by [Research].
type Option = quick.Option

// Research runs the full pipeline for one topic and returns the final
// record. Both approval gates answer themselves unless overridden with
// [WithWorkflowConfig].
func Research(ctx context.Context, topic string, opts ...Option) (*workflow.WorkflowRecord, error) {
	return quick.Research(ctx, topic, opts...)
}

// Re-export options so callers never need to import quick/.

// WithProvider sets a pre-built LLM provider.
var WithProvider = quick.WithProvider

// WithAPIKey overrides the API key. Defaults to ANTHROPIC_API_KEY.
var WithAPIKey = quick.WithAPIKey

// WithModel overrides the model name.
var WithModel = quick.WithModel

// WithBaseURL overrides the provider endpoint.
var WithBaseURL = quick.WithBaseURL

// WithTools sets the tool registry used during the research stage.
var WithTools = quick.WithTools

// WithDatabase sets the SQLite file backing the run.
var WithDatabase = quick.WithDatabase

// WithOutputDir sets the directory receiving the rendered report.
var WithOutputDir = quick.WithOutputDir

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithWorkflowConfig replaces the orchestration policy wholesale.
var WithWorkflowConfig = quick.WithWorkflowConfig
