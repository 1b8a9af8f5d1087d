package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/policyqa/backend/internal/domain"
)

// sectionRef matches bracketed manual references such as [C5.1.2] or
// [Section C1.3].
var sectionRef = regexp.MustCompile(`\[(?:[Ss]ection\s+)?([A-Z]{0,3}\d+(?:\.\d+)*)\]`)

type generatedAnswer struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// parseOutput decodes the backend's JSON reply, repairing it when needed.
func parseOutput(raw string) (string, []string, error) {
	input := stripFences(raw)
	if input == "" {
		return "", nil, fmt.Errorf("%w: empty output", domain.ErrMalformedOutput)
	}

	var out generatedAnswer
	if err := json.Unmarshal([]byte(input), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(input)
		if repairErr != nil {
			return "", nil, fmt.Errorf("%w: %v", domain.ErrMalformedOutput, repairErr)
		}
		out = generatedAnswer{}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return "", nil, fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err)
		}
	}

	text := strings.TrimSpace(out.Answer)
	if text == "" {
		return "", nil, fmt.Errorf("%w: no answer field", domain.ErrMalformedOutput)
	}

	return text, extractCitations(text, out.Citations), nil
}

// extractCitations merges declared citations with references found in the
// text, keeping first-appearance order.
func extractCitations(text string, declared []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		c = strings.Trim(strings.TrimSpace(c), "[]")
		c = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(c, "Section "), "section "))
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	for _, c := range declared {
		add(c)
	}
	for _, m := range sectionRef.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return out
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
