package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DetailLevel selects the progressive-disclosure formatting mode of
// spec.md §4.4.
type DetailLevel string

const (
	DetailCompact  DetailLevel = "compact"
	DetailTimeline DetailLevel = "timeline"
	DetailFull     DetailLevel = "full"
)

// DefaultTokenBudget and FullViewTokenBudget are spec.md §4.4's defaults.
const (
	DefaultTokenBudget  = 2000
	FullViewTokenBudget = 4000
	tokenReserve        = 100
)

// EstimateTokens approximates token count as ceil(chars/4), per spec.md §4.4.
func EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4.0))
}

// FormattedResponse is the output of Format: the rendered body plus
// whether any candidate was dropped for budget reasons.
type FormattedResponse struct {
	Body      string
	Truncated bool
	ItemCount int
}

// Format renders results at the given detail level within budget tokens,
// adding items in rank order until the next item would exceed
// budget-tokenReserve, per spec.md §4.4.
func Format(results []Result, detail DetailLevel, budget int) FormattedResponse {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if detail == DetailFull && len(results) == 1 {
		return formatSingleFull(results[0], FullViewTokenBudget)
	}

	var lines []string
	var truncated bool

	switch detail {
	case DetailTimeline:
		lines, _, truncated = formatTimeline(results, budget)
	case DetailFull:
		lines, _, truncated = formatFull(results, budget)
	default:
		lines, _, truncated = formatCompact(results, budget)
	}

	return FormattedResponse{Body: strings.Join(lines, "\n"), Truncated: truncated, ItemCount: len(lines)}
}

func formatCompact(results []Result, budget int) ([]string, int, bool) {
	var lines []string
	used := 0
	for idx, r := range results {
		short := r.Observation.ID
		if len(short) > 8 {
			short = short[:8]
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Observation.Content
		}
		if len(snippet) > 100 {
			snippet = snippet[:100]
		}
		line := fmt.Sprintf("[%d] %s | %s | %.3f | %s | %s",
			idx+1, short, r.Observation.Title, r.Score, snippet, r.Observation.CreatedAt.Format("2006-01-02"))
		if used+EstimateTokens(line) > budget-tokenReserve {
			return lines, used, true
		}
		lines = append(lines, line)
		used += EstimateTokens(line)
	}
	return lines, used, false
}

func formatTimeline(results []Result, budget int) ([]string, int, bool) {
	byDate := map[string][]Result{}
	var dates []string
	for _, r := range results {
		d := r.Observation.CreatedAt.Format("2006-01-02")
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], r)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	var lines []string
	used := 0
	for _, d := range dates {
		header := "## " + d
		if used+EstimateTokens(header) > budget-tokenReserve {
			return lines, used, true
		}
		lines = append(lines, header)
		used += EstimateTokens(header)
		for _, r := range byDate[d] {
			line := fmt.Sprintf("  %s | %s | %s", r.Observation.CreatedAt.Format("15:04"), r.Observation.Source, r.Observation.Title)
			if used+EstimateTokens(line) > budget-tokenReserve {
				return lines, used, true
			}
			lines = append(lines, line)
			used += EstimateTokens(line)
		}
	}
	return lines, used, false
}

func formatFull(results []Result, budget int) ([]string, int, bool) {
	var lines []string
	used := 0
	for _, r := range results {
		block := fmt.Sprintf("--- %s ---\n%s\n", r.Observation.Title, r.Observation.Content)
		if used+EstimateTokens(block) > budget-tokenReserve {
			return lines, used, true
		}
		lines = append(lines, block)
		used += EstimateTokens(block)
	}
	return lines, used, false
}

func formatSingleFull(r Result, budget int) FormattedResponse {
	body := fmt.Sprintf("--- %s ---\n%s\n", r.Observation.Title, r.Observation.Content)
	truncated := false
	if EstimateTokens(body) > budget {
		maxChars := budget * 4
		if maxChars < len(body) {
			body = body[:maxChars]
			truncated = true
		}
	}
	return FormattedResponse{Body: body, Truncated: truncated, ItemCount: 1}
}
