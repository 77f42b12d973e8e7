package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dossier-hq/dossier/pkg/models"
)

// NewsAPIProvider searches recent news through newsapi.org.
type NewsAPIProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewNewsAPIProvider(apiKey string, client *http.Client) *NewsAPIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &NewsAPIProvider{
		APIKey:  apiKey,
		BaseURL: "https://newsapi.org/v2/everything",
		Client:  client,
	}
}

func (p *NewsAPIProvider) Name() string                    { return "newsapi" }
func (p *NewsAPIProvider) Category() models.SourceCategory { return models.CategoryNews }

func (p *NewsAPIProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	// Last 30 days only, to keep stale articles out.
	fromDate := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	params := url.Values{
		"q":        {query},
		"language": {"en"},
		"sortBy":   {"relevancy"},
		"pageSize": {strconv.Itoa(min(limit, 100))},
		"from":     {fromDate},
		"apiKey":   {p.APIKey},
	}

	var payload struct {
		Articles []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"articles"`
	}
	if err := getJSON(ctx, p.Client, p.BaseURL+"?"+params.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}

	var results []Result
	for _, a := range payload.Articles {
		if len(results) >= limit {
			break
		}
		results = append(results, Result{
			Title:    a.Title,
			URL:      a.URL,
			Snippet:  a.Description,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}
	return results, nil
}
