// Package types defines the shared error model used across the
// ResearchFlow pipeline. Every component (agent invoker, tool adapters,
// orchestrator, REST handlers) speaks the same error taxonomy so that
// retry and escalation decisions can be made uniformly.
package types
