package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// callRequest/callResult are the line-delimited JSON wire shapes a
// capability server's stdin/stdout exchange (spec.md §4.7 "Execution":
// "invokes the capability through the Manager, which routes to the
// Running server bound to the current project"). One request, one
// response, one line each, matching the teacher's own stdlib-JSON wire
// message idiom (internal/ws/protocol.go).
type callRequest struct {
	Capability string            `json:"capability"`
	Arguments  map[string]string `json:"arguments"`
}

type callResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// ErrNotRunning is returned by Invoke when the instance has no live
// stdin/stdout pipe to call through.
var ErrNotRunning = errors.New("capability: instance is not running")

// Invoke sends one request to the instance's child process and waits for
// its response line, honoring ctx's deadline (spec.md §5: "capability
// call 30s").
func (in *Instance) Invoke(ctx context.Context, capabilityName string, args map[string]string) (string, error) {
	in.callMu.Lock()
	defer in.callMu.Unlock()

	in.mu.Lock()
	stdin, stdout, status := in.stdin, in.stdout, in.status
	in.mu.Unlock()

	if status != StatusRunning || stdin == nil || stdout == nil {
		return "", ErrNotRunning
	}

	req, err := json.Marshal(callRequest{Capability: capabilityName, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("capability: encode request: %w", err)
	}

	type callOutcome struct {
		result callResult
		err    error
	}
	outcome := make(chan callOutcome, 1)

	go func() {
		if _, err := stdin.Write(append(req, '\n')); err != nil {
			outcome <- callOutcome{err: fmt.Errorf("capability: write request: %w", err)}
			return
		}
		line, err := stdout.ReadBytes('\n')
		if err != nil {
			outcome <- callOutcome{err: fmt.Errorf("capability: read response: %w", err)}
			return
		}
		var res callResult
		if err := json.Unmarshal(line, &res); err != nil {
			outcome <- callOutcome{err: fmt.Errorf("capability: decode response: %w", err)}
			return
		}
		outcome <- callOutcome{result: res}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case o := <-outcome:
		if o.err != nil {
			return "", o.err
		}
		if o.result.Error != "" {
			return "", errors.New(o.result.Error)
		}
		return o.result.Output, nil
	}
}
