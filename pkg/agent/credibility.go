package agent

import (
	"net/url"
	"strings"
)

// credibleDomains maps known domains (and TLD suffixes) to a baseline
// credibility score.
var credibleDomains = map[string]float64{
	// Government and education
	".gov":    0.95,
	".gov.uk": 0.95,
	".edu":    0.90,

	// Academic publishers
	"nature.com":            0.95,
	"science.org":           0.95,
	"sciencedirect.com":     0.90,
	"springer.com":          0.90,
	"wiley.com":             0.90,
	"arxiv.org":             0.85,
	"pubmed.ncbi.nlm.nih.gov": 0.95,

	// Established media
	"reuters.com":        0.90,
	"apnews.com":         0.90,
	"bbc.com":            0.85,
	"bbc.co.uk":          0.85,
	"nytimes.com":        0.80,
	"washingtonpost.com": 0.80,
	"theguardian.com":    0.80,

	// Reference
	"wikipedia.org":  0.70,
	"britannica.com": 0.85,
}

// biasIndicators maps a bias bucket to the loaded terms that signal it.
var biasIndicators = map[string][]string{
	"extreme_left":  {"socialist", "marxist", "far-left"},
	"left":          {"progressive", "liberal"},
	"center":        {"moderate", "centrist", "bipartisan"},
	"right":         {"conservative", "traditional"},
	"extreme_right": {"far-right", "nationalist"},
}

// CredibilityForURL scores a source URL by domain heuristics. Unknown
// domains score the neutral 0.5; personal-publishing platforms are
// capped low; unknown outlets that merely sound like news get a mild
// cap. Unparseable URLs score 0.3.
func CredibilityForURL(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0.3
	}
	domain := strings.ToLower(u.Host)
	domain = strings.TrimPrefix(domain, "www.")

	score := 0.5
	for known, s := range credibleDomains {
		if domain == known || strings.HasSuffix(domain, known) {
			score = s
			break
		}
	}

	for _, platform := range []string{"blog", "wordpress", "medium", "substack"} {
		if strings.Contains(domain, platform) {
			if score > 0.5 {
				score = 0.5
			}
			break
		}
	}

	if _, known := credibleDomains[domain]; !known {
		for _, hint := range []string{"news", "daily", "times"} {
			if strings.Contains(domain, hint) {
				if score > 0.6 {
					score = 0.6
				}
				break
			}
		}
	}

	return clamp01(score)
}

// DetectBias scans text for loaded political terms and returns the
// bias bucket with the most hits, or "neutral" when nothing matches.
func DetectBias(text string) string {
	lower := strings.ToLower(text)

	best := "neutral"
	bestHits := 0
	for bucket, terms := range biasIndicators {
		hits := 0
		for _, term := range terms {
			hits += strings.Count(lower, term)
		}
		if hits > bestHits {
			bestHits = hits
			best = bucket
		}
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
