package tools

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/researchflow/researchflow/types"
)

// maxScrapeBytes caps how much of a page body is read.
const maxScrapeBytes = 1 << 20

// maxSnippetRunes caps the extracted text per page.
const maxSnippetRunes = 8000

// Scraper fetches a web page and extracts its readable text. Its
// "query" is the page URL, which lets it sit behind the same Adapter
// interface as the search backends.
type Scraper struct {
	limits Limits
	client *http.Client
	logger *zap.Logger
}

// NewScraper creates a page scraper.
func NewScraper(limits Limits, logger *zap.Logger) *Scraper {
	limits = limits.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scraper{
		limits: limits,
		client: &http.Client{Timeout: limits.Timeout},
		logger: logger.With(zap.String("tool", "scraper")),
	}
}

func (s *Scraper) Name() string { return "scraper" }

func (s *Scraper) Search(ctx context.Context, pageURL string) ([]Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, types.NewError(types.ErrValidation, "scrape target must be an http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build scrape request").WithCause(err)
	}
	req.Header.Set("User-Agent", "researchflow/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.Classify(err), "page fetch failed").
			WithCause(err).
			WithSource(s.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapToolHTTPError(s.Name(), resp.StatusCode, resp.Body)
	}

	title, text, err := extractText(io.LimitReader(resp.Body, maxScrapeBytes))
	if err != nil {
		return nil, types.NewError(types.ErrAPI, "failed to parse page").
			WithCause(err).
			WithSource(s.Name())
	}

	s.logger.Debug("page scraped",
		zap.String("url", pageURL),
		zap.Int("chars", len(text)),
	)

	return []Result{{
		Title:   title,
		URL:     pageURL,
		Snippet: text,
		Source:  s.Name(),
	}}, nil
}

// extractText walks the HTML tree collecting visible text, skipping
// script, style and nav-like containers.
func extractText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "footer", "header":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	out := strings.TrimSpace(sb.String())
	if runes := []rune(out); len(runes) > maxSnippetRunes {
		out = string(runes[:maxSnippetRunes])
	}
	return title, out, nil
}
