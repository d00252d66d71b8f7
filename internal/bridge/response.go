package bridge

import "strings"

// Outcome classifies how a process_ai_command call resolved (spec.md §7
// error taxonomy plus the success case).
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeInvalidArguments Outcome = "invalid_arguments"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeUnhealthy        Outcome = "unhealthy"
	OutcomeError            Outcome = "error"
)

// Response is the formatted result of one process_ai_command call.
type Response struct {
	Outcome     Outcome  `json:"outcome"`
	Text        string   `json:"text"`
	Capability  string   `json:"capability,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

const maxSuggestions = 5

// successResponse renders a capability's raw output as a readable block,
// preserving any fenced code sections verbatim.
func successResponse(capabilityName, output string) *Response {
	return &Response{
		Outcome:    OutcomeSuccess,
		Text:       strings.TrimRight(output, "\n"),
		Capability: capabilityName,
	}
}

// errorResponse renders a one-line summary plus up to maxSuggestions
// suggestion strings drawn from available capability descriptions
// (spec.md §7: "error responses include remediation suggestions").
func errorResponse(outcome Outcome, summary string, available []string) *Response {
	suggestions := available
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return &Response{
		Outcome:     outcome,
		Text:        summary,
		Suggestions: suggestions,
	}
}
