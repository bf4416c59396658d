package harvest

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseModalities parses a ";"-separated list of modality codes, dropping
// duplicates while preserving order.
func ParseModalities(raw string) ([]int, error) {
	var codes []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ";") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		code, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid modality code %q", trimmed)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no modality codes in %q", raw)
	}
	return codes, nil
}

// ParseTerms splits a ";"-separated term list, dropping empties.
func ParseTerms(raw string) []string {
	var terms []string
	for _, part := range strings.Split(raw, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			terms = append(terms, trimmed)
		}
	}
	return terms
}
