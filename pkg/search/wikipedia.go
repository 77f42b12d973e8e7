package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dossier-hq/dossier/pkg/models"
)

// WikipediaProvider searches Wikipedia: a MediaWiki full-text search for
// page titles, then a REST summary lookup per page.
type WikipediaProvider struct {
	SearchURL  string
	SummaryURL string
	Client     *http.Client
}

func NewWikipediaProvider(client *http.Client) *WikipediaProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &WikipediaProvider{
		SearchURL:  "https://en.wikipedia.org/w/api.php",
		SummaryURL: "https://en.wikipedia.org/api/rest_v1/page/summary",
		Client:     client,
	}
}

func (p *WikipediaProvider) Name() string                    { return "wikipedia" }
func (p *WikipediaProvider) Category() models.SourceCategory { return models.CategoryEncyclopedia }

func (p *WikipediaProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	searchParams := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(limit)},
		"format":   {"json"},
	}
	var searchPayload struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := getJSON(ctx, p.Client, p.SearchURL+"?"+searchParams.Encode(), &searchPayload); err != nil {
		return nil, fmt.Errorf("wikipedia: %w", err)
	}

	var results []Result
	for _, page := range searchPayload.Query.Search {
		if len(results) >= limit {
			break
		}

		var summary struct {
			Title       string `json:"title"`
			Extract     string `json:"extract"`
			ContentURLs struct {
				Desktop struct {
					Page string `json:"page"`
				} `json:"desktop"`
			} `json:"content_urls"`
		}
		summaryURL := p.SummaryURL + "/" + url.PathEscape(page.Title)
		if err := getJSON(ctx, p.Client, summaryURL, &summary); err != nil {
			// One missing summary should not sink the whole search.
			continue
		}

		title := summary.Title
		if title == "" {
			title = page.Title
		}
		results = append(results, Result{
			Title:    title,
			URL:      summary.ContentURLs.Desktop.Page,
			Snippet:  summary.Extract,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}
	return results, nil
}
