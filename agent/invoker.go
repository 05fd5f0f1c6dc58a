package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/llm"
	"github.com/researchflow/researchflow/llm/retry"
	"github.com/researchflow/researchflow/types"
)

// Observer receives the outcome of each completion. Used to feed
// metrics without coupling this package to the collector.
type Observer func(role Role, usage llm.Usage, duration time.Duration, err error)

// Invoker executes role-scoped completions with retry.
type Invoker struct {
	provider  llm.Provider
	retryer   retry.Retryer
	estimator *TokenEstimator
	logger    *zap.Logger
	observer  Observer
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(i *Invoker) { i.observer = o }
}

// WithRetryer replaces the default retry policy.
func WithRetryer(r retry.Retryer) Option {
	return func(i *Invoker) { i.retryer = r }
}

// NewInvoker creates an invoker over the given provider.
func NewInvoker(provider llm.Provider, logger *zap.Logger, opts ...Option) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}

	inv := &Invoker{
		provider:  provider,
		retryer:   retry.NewBackoffRetryer(retry.DefaultPolicy(), logger),
		estimator: NewTokenEstimator(),
		logger:    logger.With(zap.String("component", "agent")),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs a single completion in the given role. The role profile
// supplies the system prompt, token ceiling and timeout; transient
// provider failures are retried per the backoff policy.
func (i *Invoker) Invoke(ctx context.Context, role Role, prompt string) (string, error) {
	profile := ProfileFor(role)

	ctx, cancel := context.WithTimeout(ctx, profile.Timeout)
	defer cancel()

	req := &llm.ChatRequest{
		System:      profile.SystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	}

	i.logger.Debug("invoking role",
		zap.String("role", string(role)),
		zap.Int("prompt_tokens_est", i.estimator.Estimate(profile.SystemPrompt+prompt)),
	)

	start := time.Now()
	var resp *llm.ChatResponse
	err := i.retryer.Do(ctx, func() error {
		var callErr error
		resp, callErr = i.provider.Completion(ctx, req)
		return callErr
	})
	duration := time.Since(start)

	if err == nil && resp.Content == "" {
		err = types.NewError(types.ErrAPI, "provider returned empty completion").
			WithSource(i.provider.Name())
	}

	if i.observer != nil {
		var usage llm.Usage
		if resp != nil {
			usage = resp.Usage
		}
		i.observer(role, usage, duration, err)
	}

	if err != nil {
		i.logger.Warn("role invocation failed",
			zap.String("role", string(role)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return "", err
	}

	i.logger.Info("role invocation completed",
		zap.String("role", string(role)),
		zap.Duration("duration", duration),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)

	return resp.Content, nil
}
