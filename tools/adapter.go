// Package tools provides the search and scraping adapters used during
// the research stage.
//
// Every adapter satisfies the same Adapter interface so the orchestrator
// can fan a query out across whatever the registry holds for a category
// without caring which backend answers.
package tools

import (
	"context"
	"time"
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	// Source names the adapter that produced the result.
	Source string `json:"source"`
	// PublishedAt is the publication date when the backend reports one.
	PublishedAt string `json:"published_at,omitempty"`
}

// Limits bounds a single adapter call.
type Limits struct {
	MaxResults int
	Timeout    time.Duration
}

// DefaultLimits returns the standard per-call bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxResults: 5,
		Timeout:    20 * time.Second,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxResults <= 0 {
		l.MaxResults = 5
	}
	if l.Timeout <= 0 {
		l.Timeout = 20 * time.Second
	}
	return l
}

// Adapter is a single research tool backend.
type Adapter interface {
	// Name returns a stable adapter identifier, e.g. "tavily".
	Name() string

	// Search runs one query and returns normalized results. Failures are
	// classified with types error codes so callers can decide between
	// retry and giving up.
	Search(ctx context.Context, query string) ([]Result, error)
}
