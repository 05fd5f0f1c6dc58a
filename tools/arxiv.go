package tools

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/researchflow/researchflow/types"
)

const arxivBaseURL = "http://export.arxiv.org"

// Arxiv queries the arXiv Atom API for preprints.
type Arxiv struct {
	baseURL string
	limits  Limits
	client  *http.Client
	logger  *zap.Logger
}

// NewArxiv creates an arXiv adapter.
func NewArxiv(baseURL string, limits Limits, logger *zap.Logger) *Arxiv {
	if baseURL == "" {
		baseURL = arxivBaseURL
	}
	limits = limits.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Arxiv{
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  limits,
		client:  &http.Client{Timeout: limits.Timeout},
		logger:  logger.With(zap.String("tool", "arxiv")),
	}
}

func (a *Arxiv) Name() string { return "arxiv" }

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Links     []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e arxivEntry) url() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

func (a *Arxiv) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrValidation, "search query cannot be empty")
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(a.limits.MaxResults))

	endpoint := a.baseURL + "/api/query?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build arxiv request").WithCause(err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.Classify(err), "arxiv request failed").
			WithCause(err).
			WithSource(a.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapToolHTTPError(a.Name(), resp.StatusCode, resp.Body)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, types.NewError(types.ErrAPI, "failed to decode arxiv feed").
			WithCause(err).
			WithSource(a.Name())
	}

	results := make([]Result, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		results = append(results, Result{
			Title:       strings.TrimSpace(e.Title),
			URL:         e.url(),
			Snippet:     strings.TrimSpace(e.Summary),
			Source:      a.Name(),
			PublishedAt: e.Published,
		})
	}

	a.logger.Debug("arxiv search completed",
		zap.String("query", query),
		zap.Int("results", len(results)),
	)

	return results, nil
}
