package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/types"
)

const scholarBaseURL = "https://api.semanticscholar.org"

// Scholar queries the Semantic Scholar graph API for academic papers.
type Scholar struct {
	baseURL string
	limits  Limits
	client  *http.Client
	logger  *zap.Logger
}

// NewScholar creates a Semantic Scholar adapter.
func NewScholar(baseURL string, limits Limits, logger *zap.Logger) *Scholar {
	if baseURL == "" {
		baseURL = scholarBaseURL
	}
	limits = limits.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scholar{
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  limits,
		client:  &http.Client{Timeout: limits.Timeout},
		logger:  logger.With(zap.String("tool", "scholar")),
	}
}

func (s *Scholar) Name() string { return "semantic_scholar" }

type scholarPaper struct {
	Title           string `json:"title"`
	URL             string `json:"url"`
	Abstract        string `json:"abstract"`
	PublicationDate string `json:"publicationDate"`
}

type scholarResponse struct {
	Data []scholarPaper `json:"data"`
}

func (s *Scholar) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrValidation, "search query cannot be empty")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("fields", "title,url,abstract,publicationDate")
	params.Set("limit", strconv.Itoa(s.limits.MaxResults))

	endpoint := s.baseURL + "/graph/v1/paper/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build scholar request").WithCause(err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.Classify(err), "semantic scholar request failed").
			WithCause(err).
			WithSource(s.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapToolHTTPError(s.Name(), resp.StatusCode, resp.Body)
	}

	var sr scholarResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, types.NewError(types.ErrAPI, "failed to decode scholar response").
			WithCause(err).
			WithSource(s.Name())
	}

	results := make([]Result, 0, len(sr.Data))
	for _, p := range sr.Data {
		results = append(results, Result{
			Title:       p.Title,
			URL:         p.URL,
			Snippet:     p.Abstract,
			Source:      s.Name(),
			PublishedAt: p.PublicationDate,
		})
	}

	s.logger.Debug("scholar search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	return results, nil
}
