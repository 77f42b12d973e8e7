package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dossier-hq/dossier/pkg/models"
)

// PubMedProvider searches PubMed through the NCBI E-utilities: an
// esearch call for PMIDs, then an efetch call for article details.
type PubMedProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewPubMedProvider(client *http.Client) *PubMedProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &PubMedProvider{
		BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		Client:  client,
	}
}

func (p *PubMedProvider) Name() string                    { return "pubmed" }
func (p *PubMedProvider) Category() models.SourceCategory { return models.CategoryAcademic }

type pubmedFetchResult struct {
	Articles []struct {
		MedlineCitation struct {
			PMID    string `xml:"PMID"`
			Article struct {
				Title    string `xml:"ArticleTitle"`
				Abstract struct {
					Text []string `xml:"AbstractText"`
				} `xml:"Abstract"`
			} `xml:"Article"`
		} `xml:"MedlineCitation"`
	} `xml:"PubmedArticle"`
}

func (p *PubMedProvider) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	searchParams := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {strconv.Itoa(limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	var searchPayload struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := getJSON(ctx, p.Client, p.BaseURL+"/esearch.fcgi?"+searchParams.Encode(), &searchPayload); err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}

	ids := searchPayload.ESearchResult.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	fetchParams := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.BaseURL+"/efetch.fcgi?"+fetchParams.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubmed: unexpected status %d", resp.StatusCode)
	}

	var fetched pubmedFetchResult
	if err := xml.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		return nil, fmt.Errorf("pubmed: failed to parse articles: %w", err)
	}

	var results []Result
	for _, a := range fetched.Articles {
		if len(results) >= limit {
			break
		}
		pmid := a.MedlineCitation.PMID
		if pmid == "" {
			continue
		}
		snippet := strings.Join(a.MedlineCitation.Article.Abstract.Text, " ")
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		results = append(results, Result{
			Title:    a.MedlineCitation.Article.Title,
			URL:      fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid),
			Snippet:  snippet,
			Provider: p.Name(),
			Category: p.Category(),
		})
	}
	return results, nil
}
