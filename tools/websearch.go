package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/types"
)

const tavilyBaseURL = "https://api.tavily.com"

// WebSearch queries the Tavily search API.
type WebSearch struct {
	apiKey  string
	baseURL string
	limits  Limits
	client  *http.Client
	logger  *zap.Logger
}

// NewWebSearch creates a Tavily adapter. baseURL is overridable for tests;
// empty selects the public endpoint.
func NewWebSearch(apiKey, baseURL string, limits Limits, logger *zap.Logger) *WebSearch {
	if baseURL == "" {
		baseURL = tavilyBaseURL
	}
	limits = limits.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebSearch{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  limits,
		client:  &http.Client{Timeout: limits.Timeout},
		logger:  logger.With(zap.String("tool", "tavily")),
	}
}

func (w *WebSearch) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

func (w *WebSearch) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrValidation, "search query cannot be empty")
	}

	payload, _ := json.Marshal(tavilyRequest{
		APIKey:     w.apiKey,
		Query:      query,
		MaxResults: w.limits.MaxResults,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build search request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.Classify(err), "tavily request failed").
			WithCause(err).
			WithSource(w.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapToolHTTPError(w.Name(), resp.StatusCode, resp.Body)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, types.NewError(types.ErrAPI, "failed to decode tavily response").
			WithCause(err).
			WithSource(w.Name())
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Source:  w.Name(),
		})
	}

	w.logger.Debug("web search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// mapToolHTTPError classifies tool backend HTTP failures.
func mapToolHTTPError(source string, status int, body io.Reader) *types.Error {
	data, _ := io.ReadAll(io.LimitReader(body, 2048))
	msg := fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(data)))

	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithSource(source)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(status).
			WithSource(source)
	case status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, msg).
			WithHTTPStatus(status).
			WithSource(source)
	case status >= 500:
		return types.NewError(types.ErrAPI, msg).
			WithHTTPStatus(status).
			WithRetryable(true).
			WithSource(source)
	default:
		return types.NewError(types.ErrValidation, msg).
			WithHTTPStatus(status).
			WithSource(source)
	}
}
