package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dossier-hq/dossier/pkg/models"
)

// SerpAPIProvider searches the web through SerpAPI's Google engine.
type SerpAPIProvider struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewSerpAPIProvider(apiKey string, client *http.Client) *SerpAPIProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &SerpAPIProvider{
		APIKey:  apiKey,
		BaseURL: "https://serpapi.com/search",
		Client:  client,
	}
}

func (p *SerpAPIProvider) Name() string                    { return "serpapi" }
func (p *SerpAPIProvider) Category() models.SourceCategory { return models.CategoryWeb }

func (p *SerpAPIProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{
		"api_key": {p.APIKey},
		"engine":  {"google"},
		"q":       {query},
		"num":     {strconv.Itoa(min(limit, 100))},
		"hl":      {"en"},
		"gl":      {"us"},
	}

	var payload struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
		KnowledgeGraph struct {
			Title       string `json:"title"`
			Website     string `json:"website"`
			Description string `json:"description"`
			Source      struct {
				Link string `json:"link"`
			} `json:"source"`
		} `json:"knowledge_graph"`
	}
	if err := getJSON(ctx, p.Client, p.BaseURL+"?"+params.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}

	var results []Result
	// Knowledge graph entry goes first when it carries a URL.
	kgURL := payload.KnowledgeGraph.Website
	if kgURL == "" {
		kgURL = payload.KnowledgeGraph.Source.Link
	}
	if kgURL != "" {
		results = append(results, Result{
			Title:    payload.KnowledgeGraph.Title,
			URL:      kgURL,
			Snippet:  payload.KnowledgeGraph.Description,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}

	for _, item := range payload.OrganicResults {
		if len(results) >= limit {
			break
		}
		results = append(results, Result{
			Title:    item.Title,
			URL:      item.Link,
			Snippet:  item.Snippet,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}
	return results, nil
}

// getJSON issues a GET and decodes a JSON body, treating any non-200
// status as an error.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
