package agent

import (
	"fmt"
	"html"
	"strings"

	"github.com/dossier-hq/dossier/pkg/models"
)

// renderMarkdown assembles the report sections in order. Sections with
// no content are dropped rather than rendered empty.
func renderMarkdown(inputs *reportInputs) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Research Report: %s\n\n", inputs.Session.Query)
	fmt.Fprintf(&sb, "*Generated %s | %d sources | confidence %.0f%% (%s)*\n\n",
		inputs.GeneratedAt.Format("2006-01-02"), len(inputs.Sources),
		inputs.Confidence.Overall*100, inputs.Confidence.Level)

	sb.WriteString("## Executive Summary\n\n")
	sb.WriteString(strings.TrimSpace(inputs.ExecSummary))
	sb.WriteString("\n\n")

	if len(inputs.Organized.KeyInsights) > 0 {
		sb.WriteString("## Key Insights\n\n")
		for _, insight := range inputs.Organized.KeyInsights {
			fmt.Fprintf(&sb, "- %s\n", insight)
		}
		sb.WriteString("\n")
	}

	if len(inputs.Findings) > 0 {
		fmt.Fprintf(&sb, "## Findings\n\n*Basis: %s*\n\n", inputs.FindingBasis)
		for i, f := range inputs.Findings {
			marker := ""
			if f.Verified {
				marker = " ✓"
			}
			fmt.Fprintf(&sb, "%d. %s%s\n", i+1, f.Text, marker)
		}
		sb.WriteString("\n")
	}

	if len(inputs.Organized.Patterns) > 0 {
		sb.WriteString("## Patterns and Trends\n\n")
		for _, p := range inputs.Organized.Patterns {
			fmt.Fprintf(&sb, "- **%s**", p.Description)
			if p.Evidence != "" {
				fmt.Fprintf(&sb, " %s", p.Evidence)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(inputs.Organized.Contradictions) > 0 {
		sb.WriteString("## Contradictions\n\n")
		for _, c := range inputs.Organized.Contradictions {
			fmt.Fprintf(&sb, "- \"%s\" vs \"%s\"", c.ClaimA, c.ClaimB)
			if c.Assessment != "" {
				fmt.Fprintf(&sb, " — %s", c.Assessment)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Conclusions\n\n")
	sb.WriteString(strings.TrimSpace(inputs.Conclusions))
	sb.WriteString("\n\n")

	sb.WriteString(methodologySection(inputs))

	if len(inputs.Sources) > 0 {
		sb.WriteString("## References\n\n")
		style := inputs.Session.CitationStyle
		for i, s := range inputs.Sources {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, formatCitation(style, s, inputs.GeneratedAt.Year()))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func methodologySection(inputs *reportInputs) string {
	var sb strings.Builder
	sb.WriteString("## Methodology\n\n")
	fmt.Fprintf(&sb, "Sources were gathered from multiple search providers, deduplicated, and filtered for relevance, yielding %d sources.\n",
		len(inputs.Sources))
	if inputs.FindingBasis == "verified findings" {
		sb.WriteString("Findings were cross-referenced against the source material and statistical claims were checked for plausibility.\n")
	} else {
		fmt.Fprintf(&sb, "Verification was unavailable for this run; the findings section is based on %s.\n", inputs.FindingBasis)
	}
	if inputs.Bias != nil && inputs.Bias.SampleSize > 0 {
		fmt.Fprintf(&sb, "A sample of %d sources was screened for bias; the dominant leaning was %s.\n",
			inputs.Bias.SampleSize, inputs.Bias.Dominant)
	}
	sb.WriteString("\n")
	return sb.String()
}

// formatCitation renders one reference entry. MLA puts the title first
// in quotes; anything else gets the APA-style default.
func formatCitation(style string, s models.Source, year int) string {
	title := s.Title
	if title == "" {
		title = "Untitled"
	}
	site := siteName(s.URL)
	switch strings.ToLower(style) {
	case "mla":
		return fmt.Sprintf("\"%s.\" *%s*, %s.", title, site, s.URL)
	case "chicago":
		return fmt.Sprintf("%s. \"%s.\" Accessed %d. %s.", site, title, year, s.URL)
	default:
		return fmt.Sprintf("%s. (%d). *%s*. %s", site, year, title, s.URL)
	}
}

func siteName(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	trimmed = strings.TrimPrefix(trimmed, "www.")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return "Unknown"
	}
	return trimmed
}

// markdownToHTML covers the subset of markdown the renderer emits:
// headings, bullet and numbered lists, bold, italics, and paragraphs.
func markdownToHTML(md string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<body>\n")

	inUL, inOL := false, false
	closeLists := func() {
		if inUL {
			sb.WriteString("</ul>\n")
			inUL = false
		}
		if inOL {
			sb.WriteString("</ol>\n")
			inOL = false
		}
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			closeLists()
		case strings.HasPrefix(trimmed, "## "):
			closeLists()
			fmt.Fprintf(&sb, "<h2>%s</h2>\n", inlineHTML(strings.TrimPrefix(trimmed, "## ")))
		case strings.HasPrefix(trimmed, "# "):
			closeLists()
			fmt.Fprintf(&sb, "<h1>%s</h1>\n", inlineHTML(strings.TrimPrefix(trimmed, "# ")))
		case strings.HasPrefix(trimmed, "- "):
			if !inUL {
				closeLists()
				sb.WriteString("<ul>\n")
				inUL = true
			}
			fmt.Fprintf(&sb, "<li>%s</li>\n", inlineHTML(strings.TrimPrefix(trimmed, "- ")))
		case isNumberedItem(trimmed):
			if !inOL {
				closeLists()
				sb.WriteString("<ol>\n")
				inOL = true
			}
			fmt.Fprintf(&sb, "<li>%s</li>\n", inlineHTML(trimmed[strings.IndexByte(trimmed, ' ')+1:]))
		default:
			closeLists()
			fmt.Fprintf(&sb, "<p>%s</p>\n", inlineHTML(trimmed))
		}
	}
	closeLists()

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func isNumberedItem(line string) bool {
	dot := strings.IndexByte(line, '.')
	if dot <= 0 || dot+1 >= len(line) || line[dot+1] != ' ' {
		return false
	}
	for _, c := range line[:dot] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// inlineHTML escapes the text then re-applies bold and italic spans.
func inlineHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = replacePairs(escaped, "**", "<strong>", "</strong>")
	escaped = replacePairs(escaped, "*", "<em>", "</em>")
	return escaped
}

func replacePairs(s, delim, open, closeTag string) string {
	var sb strings.Builder
	opened := false
	for {
		idx := strings.Index(s, delim)
		if idx < 0 {
			break
		}
		sb.WriteString(s[:idx])
		if opened {
			sb.WriteString(closeTag)
		} else {
			sb.WriteString(open)
		}
		opened = !opened
		s = s[idx+len(delim):]
	}
	sb.WriteString(s)
	out := sb.String()
	if opened {
		// Unbalanced delimiter, drop the dangling tag.
		out = strings.Replace(out, open, delim, 1)
	}
	return out
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, item := range items {
		fmt.Fprintf(&sb, "- %s\n", item)
	}
	return sb.String()
}

func validatedList(findings []ValidatedFinding, limit int) string {
	if len(findings) == 0 {
		return "(none)"
	}
	if len(findings) > limit {
		findings = findings[:limit]
	}
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s\n", f.Text)
	}
	return sb.String()
}
