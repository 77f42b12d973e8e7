package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoIndices is returned when a reply contains no parseable index list.
var ErrNoIndices = errors.New("no index list in reply")

// ParseIndexList parses a comma-separated list of integer indices from a
// model reply ("1, 4, 17"). The literal NONE (any case) means an empty
// selection and parses successfully. Surrounding prose is tolerated as
// long as the last non-empty line carries the list.
func ParseIndexList(reply string) ([]int, error) {
	line := lastNonEmptyLine(reply)
	if line == "" {
		return nil, ErrNoIndices
	}
	if strings.EqualFold(strings.TrimSpace(line), "NONE") {
		return []int{}, nil
	}

	var indices []int
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrNoIndices, line)
		}
		indices = append(indices, n)
	}
	if indices == nil {
		return nil, ErrNoIndices
	}
	return indices, nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// ExtractJSON pulls the first JSON object or array out of a reply,
// tolerating markdown code fences and surrounding prose. Models wrap
// JSON in ```json fences often enough that strict parsing is useless.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)

	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := -1
	var open, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			closer = '}'
			if open == '[' {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", errors.New("no JSON found in reply")
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON in reply")
}

// UnmarshalReply extracts and decodes the first JSON value in a reply.
func UnmarshalReply(reply string, out any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode reply JSON: %w", err)
	}
	return nil
}
