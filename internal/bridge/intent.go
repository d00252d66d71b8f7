// Package bridge parses natural-language terminal input into a capability
// dispatch, routes the call through the capability manager, and formats
// the response (spec.md §4.7).
package bridge

import "strings"

// Intent is a parsed representation of a user command.
type Intent struct {
	Action     string
	Target     string
	Parameters map[string]string
	Confidence float64
}

// IsAICommand reports whether text's first whitespace-delimited token is a
// configured command prefix, and returns the text with that token
// stripped (spec.md §4.7, "command detection").
func IsAICommand(text string, prefixes []string) (stripped string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	for _, p := range prefixes {
		if strings.EqualFold(fields[0], p) {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0])), true
		}
	}
	return "", false
}

// template is one fixed-form command the parser recognizes exactly.
type template struct {
	action     string
	hasTarget  bool
	match      func(normalized string) (target string, matched bool)
}

var templates = []template{
	{action: "help", match: func(n string) (string, bool) { return "", n == "help" }},
	{action: "status", match: func(n string) (string, bool) { return "", n == "status" }},
	{action: "run_tests", match: func(n string) (string, bool) { return "", n == "run tests" }},
	{action: "suggest_improvements", match: func(n string) (string, bool) { return "", n == "suggest improvements" }},
	{
		action: "analyze", hasTarget: true,
		match: func(n string) (string, bool) {
			if n == "analyze" {
				return "", true
			}
			if strings.HasPrefix(n, "analyze ") {
				return strings.TrimSpace(strings.TrimPrefix(n, "analyze ")), true
			}
			return "", false
		},
	},
	{
		action: "explain", hasTarget: true,
		match: func(n string) (string, bool) {
			if n == "explain" {
				return "", true
			}
			if strings.HasPrefix(n, "explain ") {
				return strings.TrimSpace(strings.TrimPrefix(n, "explain ")), true
			}
			return "", false
		},
	},
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ParseIntent turns already-prefix-stripped command text into an Intent
// (spec.md §4.7, "intent parsing"). Template matches score 0.95; a
// recognized action with a missing/odd target scores 0.7; anything else
// falls through to the free-form parse at 0.4.
func ParseIntent(text string) Intent {
	normalized := normalize(text)
	if normalized == "" {
		return Intent{Action: "help", Parameters: map[string]string{}, Confidence: 0.95}
	}

	for _, tpl := range templates {
		if target, ok := tpl.match(normalized); ok {
			if tpl.hasTarget && target == "" {
				return Intent{Action: tpl.action, Parameters: map[string]string{}, Confidence: 0.7}
			}
			return Intent{Action: tpl.action, Target: target, Parameters: map[string]string{}, Confidence: 0.95}
		}
	}

	return freeForm(normalized)
}

// freeForm treats the first token as the action and the rest as the
// target, at the lowest confidence tier (spec.md §4.7).
func freeForm(normalized string) Intent {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return Intent{Action: "help", Parameters: map[string]string{}, Confidence: 0.4}
	}
	return Intent{
		Action:     fields[0],
		Target:     strings.Join(fields[1:], " "),
		Parameters: map[string]string{},
		Confidence: 0.4,
	}
}
