package analysis

import "regexp"

// riskPattern pairs a compiled statement-shape pattern with its weight.
type riskPattern struct {
	name    string
	pattern *regexp.Regexp
	weight  float64
}

// patternScoreCap bounds the cumulative pattern contribution so stacked
// matches cannot dominate the cost signal.
const patternScoreCap = 0.7

var riskPatterns = []riskPattern{
	{"delete", regexp.MustCompile(`(?i)\bDELETE\b`), 0.3},
	{"drop", regexp.MustCompile(`(?i)\bDROP\b`), 0.4},
	{"truncate", regexp.MustCompile(`(?i)\bTRUNCATE\b`), 0.3},
	{"alter", regexp.MustCompile(`(?i)\bALTER\b`), 0.2},
	{"create", regexp.MustCompile(`(?i)\bCREATE\b`), 0.2},
	{"update_where", regexp.MustCompile(`(?i)\bUPDATE\b.*\bWHERE\b`), 0.1},
	{"join", regexp.MustCompile(`(?i)\bJOIN\b`), 0.1},
	{"or_clause", regexp.MustCompile(`(?i)\bOR\b`), 0.1},
	{"like_clause", regexp.MustCompile(`(?i)\bLIKE\b`), 0.1},
}

// PatternScore sums the weights of every matching risk pattern, capped.
// Returns the score and the names of the patterns that fired.
func PatternScore(query string) (float64, []string) {
	var score float64
	var matched []string
	for _, rp := range riskPatterns {
		if rp.pattern.MatchString(query) {
			score += rp.weight
			matched = append(matched, rp.name)
		}
	}
	if score > patternScoreCap {
		score = patternScoreCap
	}
	return score, matched
}
