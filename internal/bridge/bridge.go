package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/aegntic/termvisor/internal/capability"
	"github.com/aegntic/termvisor/internal/integration"
	"github.com/google/uuid"
)

// DefaultPrefixes are the command prefixes recognized when no
// configuration overrides them (spec.md §4.7: "default set: ai, ae").
var DefaultPrefixes = []string{"ai", "ae"}

// DefaultCallTimeout bounds one capability invocation (spec.md §5:
// "capability call 30 s").
const DefaultCallTimeout = 30 * time.Second

// Bridge parses natural-language terminal input into a capability
// dispatch, executes it through the capability manager, and formats the
// response (spec.md §4.7).
type Bridge struct {
	prefixes    []string
	callTimeout time.Duration
	log         *Log
}

// NewBridge builds a Bridge. Zero-value prefixes/timeout fall back to
// DefaultPrefixes/DefaultCallTimeout.
func NewBridge(prefixes []string, callTimeout time.Duration) *Bridge {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Bridge{prefixes: prefixes, callTimeout: callTimeout, log: NewLog()}
}

// IsAICommand reports whether text should be routed to the bridge instead
// of passed straight through to the pty.
func (b *Bridge) IsAICommand(text string) (string, bool) {
	return IsAICommand(text, b.prefixes)
}

// State returns the session's current conversation state.
func (b *Bridge) State(sessionID uuid.UUID) ConversationState {
	return b.log.State(sessionID)
}

// ProcessAICommand parses, resolves, executes, and formats one AI command
// for a session (spec.md §4.7's `process_ai_command`). commandText must
// already have its command prefix stripped (see IsAICommand).
func (b *Bridge) ProcessAICommand(ctx context.Context, sessionID uuid.UUID, commandText string, binding *integration.Binding, termCtx *integration.Context) *Response {
	intent := ParseIntent(commandText)
	intent = b.log.ResolveFollowUp(sessionID, intent)
	b.log.SetState(sessionID, StateAwaitingCapability)

	if binding == nil || len(binding.ActivatedServers) == 0 {
		resp := errorResponse(OutcomeNoMatch, "no capability servers are active for this session", nil)
		b.log.Record(sessionID, intent, resp, time.Now())
		return resp
	}

	cap, inst, err := ResolveCapability(intent, binding.ActivatedServers)
	if err != nil {
		resp := errorResponse(OutcomeNoMatch, "no capability matches that request", descriptionsOf(binding.Capabilities))
		b.log.Record(sessionID, intent, resp, time.Now())
		return resp
	}

	b.log.SetState(sessionID, StateExecuting)

	args, err := PrepareArguments(intent, contextFields(termCtx), cap)
	if err != nil {
		resp := errorResponse(OutcomeInvalidArguments, "missing required argument for "+cap.Name, descriptionsOf(binding.Capabilities))
		b.log.Record(sessionID, intent, resp, time.Now())
		return resp
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	output, err := inst.Invoke(callCtx, cap.Name, args)

	b.log.SetState(sessionID, StateFormatting)

	var resp *Response
	switch {
	case err == nil:
		resp = successResponse(cap.Name, output)
	case errors.Is(err, context.DeadlineExceeded):
		resp = errorResponse(OutcomeTimeout, cap.Name+" timed out", descriptionsOf(binding.Capabilities))
	case errors.Is(err, capability.ErrNotRunning):
		resp = errorResponse(OutcomeUnhealthy, cap.Name+" is not running", descriptionsOf(binding.Capabilities))
	default:
		resp = errorResponse(OutcomeError, err.Error(), descriptionsOf(binding.Capabilities))
	}

	b.log.Record(sessionID, intent, resp, time.Now())
	return resp
}

func contextFields(termCtx *integration.Context) map[string]string {
	fields := map[string]string{}
	if termCtx == nil {
		return fields
	}
	fields["current_directory"] = termCtx.CurrentDir
	if termCtx.LastAnalysis != nil {
		fields["project_type"] = termCtx.LastAnalysis.BuildSystem
		fields["primary_language"] = termCtx.LastAnalysis.PrimaryLanguage
	}
	return fields
}

func descriptionsOf(caps []capability.Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Name+": "+c.Description)
	}
	return out
}
