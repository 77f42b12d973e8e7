package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dossier-hq/dossier/pkg/models"
)

// ArxivProvider searches arXiv's Atom feed API. No API key needed.
type ArxivProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewArxivProvider(client *http.Client) *ArxivProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &ArxivProvider{
		BaseURL: "https://export.arxiv.org/api/query",
		Client:  client,
	}
}

func (p *ArxivProvider) Name() string                    { return "arxiv" }
func (p *ArxivProvider) Category() models.SourceCategory { return models.CategoryAcademic }

type arxivFeed struct {
	Entries []struct {
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		Links   []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
			Type string `xml:"type,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

func (p *ArxivProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	rawURL := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d",
		p.BaseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv: unexpected status %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to parse feed: %w", err)
	}

	var results []Result
	for _, e := range feed.Entries {
		if len(results) >= limit {
			break
		}
		// The abstract page link is rel="alternate"; fall back to the
		// first link present.
		var pageURL string
		for _, l := range e.Links {
			if l.Rel == "alternate" {
				pageURL = l.Href
				break
			}
		}
		if pageURL == "" && len(e.Links) > 0 {
			pageURL = e.Links[0].Href
		}

		snippet := strings.ReplaceAll(strings.TrimSpace(e.Summary), "\n", " ")
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		results = append(results, Result{
			Title:    strings.ReplaceAll(strings.TrimSpace(e.Title), "\n", " "),
			URL:      pageURL,
			Snippet:  snippet,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}
	return results, nil
}
