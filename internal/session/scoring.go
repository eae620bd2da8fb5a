package session

import (
	"sort"
	"strconv"
	"strings"
)

// ParseResponse turns a stored MCQ response ("0,2") into a sorted,
// de-duplicated slice of choice indices. Malformed segments invalidate
// the whole response.
func ParseResponse(response string) ([]int, bool) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, true
	}

	seen := make(map[int]bool)
	out := make([]int, 0, 4)
	for _, part := range strings.Split(response, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, false
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, true
}

// FormatResponse is the inverse of ParseResponse.
func FormatResponse(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, idx := range sorted {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

// ScoreMCQ awards the full point value only when the selected set equals
// the correct set exactly. Partial overlap scores zero.
func ScoreMCQ(response string, correct []int, points float64) float64 {
	selected, ok := ParseResponse(response)
	if !ok {
		return 0
	}
	if len(selected) != len(correct) {
		return 0
	}

	sortedCorrect := append([]int(nil), correct...)
	sort.Ints(sortedCorrect)
	for i := range selected {
		if selected[i] != sortedCorrect[i] {
			return 0
		}
	}
	if len(selected) == 0 {
		return 0
	}
	return points
}
