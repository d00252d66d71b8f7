package bridge

import (
	"strings"
	"time"

	"github.com/aegntic/termvisor/internal/capability"
)

// actionToolAffinity is the static action→tool-type weighting used to
// resolve which capability best matches a parsed intent (spec.md §4.7:
// e.g. "analyze" → CodeAnalysis 1.0, Other 0.2).
var actionToolAffinity = map[string]map[capability.ToolType]float64{
	"analyze": {capability.ToolCodeAnalysis: 1.0, capability.ToolOther: 0.2},
	"explain": {capability.ToolDocumentation: 1.0, capability.ToolCodeAnalysis: 0.6, capability.ToolOther: 0.2},
	"run_tests": {capability.ToolTesting: 1.0, capability.ToolOther: 0.2},
	"status":    {capability.ToolOther: 0.5},
	"suggest_improvements": {capability.ToolCodeAnalysis: 0.8, capability.ToolDocumentation: 0.4, capability.ToolOther: 0.2},
	"deploy":    {capability.ToolDeployment: 1.0, capability.ToolOther: 0.2},
	"query":     {capability.ToolDatabaseQuery: 1.0, capability.ToolOther: 0.2},
	"scaffold":  {capability.ToolScaffolding: 1.0, capability.ToolOther: 0.2},
	"commit":    {capability.ToolGitOperation: 1.0, capability.ToolOther: 0.2},
}

func affinityFor(action string, toolType capability.ToolType) float64 {
	table, ok := actionToolAffinity[action]
	if !ok {
		return 0.1
	}
	if w, ok := table[toolType]; ok {
		return w
	}
	return 0
}

// candidateScore grounds resolution in token overlap over the
// capability's name/description, weighted by the action→tool-type
// affinity table (spec.md §4.7, "intent resolution").
func candidateScore(intent Intent, cap capability.Capability) float64 {
	overlap := tokenOverlap(intent.Action+" "+intent.Target, cap.Name+" "+cap.Description)
	affinity := affinityFor(intent.Action, cap.ToolType)
	return overlap + affinity
}

func tokenOverlap(a, b string) float64 {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	matches := 0
	for t := range aTokens {
		if bTokens[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(aTokens))
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		set[f] = true
	}
	return set
}

// candidate pairs a capability with the instance currently exposing it and
// its score; ties in score are broken by the instance's activation recency
// (see recencyOf).
type candidate struct {
	capability capability.Capability
	instance   *capability.Instance
	score      float64
}

// ResolveCapability selects the best-scoring capability across the
// session's exposed capabilities, breaking ties by descending activation
// recency (spec.md §4.7).
func ResolveCapability(intent Intent, instances []*capability.Instance) (capability.Capability, *capability.Instance, error) {
	var best *candidate

	for _, inst := range instances {
		for _, cap := range inst.Manifest.Capabilities {
			score := candidateScore(intent, cap)
			if score <= 0 {
				continue
			}
			c := candidate{capability: cap, instance: inst, score: score}
			if best == nil || c.score > best.score ||
				(c.score == best.score && recencyOf(inst) > recencyOf(best.instance)) {
				best = &c
			}
		}
	}

	if best == nil {
		return capability.Capability{}, nil, ErrNoMatch
	}
	return best.capability, best.instance, nil
}

func recencyOf(inst *capability.Instance) time.Time {
	if inst == nil {
		return time.Time{}
	}
	return inst.StartedAt()
}

// PrepareArguments merges context fields with intent parameters and
// enforces the capability's required input schema (spec.md §4.7,
// "argument preparation").
func PrepareArguments(intent Intent, ctxFields map[string]string, cap capability.Capability) (map[string]string, error) {
	args := make(map[string]string, len(ctxFields)+len(intent.Parameters)+1)
	for k, v := range ctxFields {
		args[k] = v
	}
	for k, v := range intent.Parameters {
		args[k] = v
	}
	if intent.Target != "" {
		args["target"] = intent.Target
	}

	for _, required := range cap.InputSchema.Required {
		if _, ok := args[required]; !ok {
			return nil, ErrInvalidArguments
		}
	}

	return args, nil
}
