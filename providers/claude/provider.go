// Package claude implements the Anthropic Claude LLM provider.
//
// The Claude API differs from OpenAI-style APIs in two ways that matter
// here: authentication uses the x-api-key header rather than a Bearer
// token, and the system prompt is passed out-of-band in a dedicated
// request field.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/llm"
	"github.com/researchflow/researchflow/types"
)

const (
	apiVersion       = "2023-06-01"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Config configures the Claude provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Provider is the Anthropic Claude llm.Provider implementation.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewProvider creates a Claude provider.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("provider", "claude")),
	}
}

func (p *Provider) Name() string { return "claude" }

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage,omitempty"`
}

type claudeErrorResp struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Completion implements llm.Provider.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	system, messages := convertMessages(req)
	if len(messages) == 0 {
		return nil, types.NewError(types.ErrValidation, "request has no user messages")
	}

	body := claudeRequest{
		Model:       chooseModel(req, p.cfg.Model),
		Messages:    messages,
		System:      system,
		MaxTokens:   chooseMaxTokens(req),
		Temperature: req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to encode request").WithCause(err)
	}
	endpoint := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.cfg.BaseURL, "/"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build request").WithCause(err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		code := types.Classify(err)
		return nil, types.NewError(code, "claude request failed").
			WithCause(err).
			WithSource("claude")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapAPIError(resp.StatusCode, readErrMsg(resp.Body))
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, types.NewError(types.ErrAPI, "failed to decode claude response").
			WithCause(err).
			WithSource("claude")
	}

	out := toChatResponse(cr)

	p.logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.String("stop_reason", out.StopReason),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Duration("latency", time.Since(start)),
	)

	return out, nil
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// convertMessages extracts the system prompt and converts the remaining
// messages into Claude's content-block form.
func convertMessages(req *llm.ChatRequest) (string, []claudeMessage) {
	system := req.System
	var out []claudeMessage

	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		if m.Content == "" {
			continue
		}
		out = append(out, claudeMessage{
			Role:    string(m.Role),
			Content: []claudeContent{{Type: "text", Text: m.Content}},
		})
	}

	return system, out
}

func chooseModel(req *llm.ChatRequest, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return fallback
}

func chooseMaxTokens(req *llm.ChatRequest) int {
	if req != nil && req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

func toChatResponse(cr claudeResponse) *llm.ChatResponse {
	var sb strings.Builder
	for _, c := range cr.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}

	out := &llm.ChatResponse{
		Content:    sb.String(),
		Model:      cr.Model,
		StopReason: cr.StopReason,
	}
	if cr.Usage != nil {
		out.Usage = llm.Usage{
			InputTokens:  cr.Usage.InputTokens,
			OutputTokens: cr.Usage.OutputTokens,
		}
	}
	return out
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var er claudeErrorResp
	if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(data)
}

// mapAPIError maps Claude HTTP failures onto the shared error taxonomy.
// Rate limiting, overload and 5xx are retryable; auth and request-shape
// failures are not.
func mapAPIError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(status).
			WithSource("claude")
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithSource("claude")
	case http.StatusBadRequest:
		if strings.Contains(msg, "credit") || strings.Contains(msg, "quota") {
			return types.NewError(types.ErrResource, msg).
				WithHTTPStatus(status).
				WithSource("claude")
		}
		return types.NewError(types.ErrValidation, msg).
			WithHTTPStatus(status).
			WithSource("claude")
	case http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, msg).
			WithHTTPStatus(status).
			WithSource("claude")
	case 529: // anthropic-specific overloaded status
		return types.NewError(types.ErrAPI, msg).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithSource("claude")
	default:
		return types.NewError(types.ErrAPI, msg).
			WithHTTPStatus(status).
			WithRetryable(status >= 500).
			WithSource("claude")
	}
}
