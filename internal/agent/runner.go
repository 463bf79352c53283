// ABOUTME: Runner boundary types for the upstream agent runtime
// ABOUTME: Defines role-tagged messages, the closed streaming event union and the Runner interface

package agent

import (
	"context"
	"errors"
)

// ErrService wraps every upstream agent failure (network, provider error,
// timeout). It is surfaced to the caller as a retryable service condition
// and is never retried inside the core.
var ErrService = errors.New("agent service failure")

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry in a conversation history.
type Message struct {
	Role    string
	Content string
}

// EventKind tags the variants of the streaming event union. The set is
// closed: consumers switch exhaustively and explicitly drop the kinds
// they ignore, so a new variant fails review instead of silently falling
// through.
type EventKind int

const (
	// EventTextDelta carries an incremental chunk of assistant text.
	EventTextDelta EventKind = iota
	// EventToolCallStarted announces that the agent began a tool
	// invocation; only the tool name is known at this point.
	EventToolCallStarted
	// EventToolCallArgsReady signals that argument assembly for a tool
	// call finished; ArgsJSON holds the full argument payload.
	EventToolCallArgsReady
	// EventWebSearchStarted announces a hosted web search invocation.
	EventWebSearchStarted
	// EventError terminates the stream with Err set. A stream ends either
	// with this event or with a plain channel close (normal completion).
	EventError
)

// Event is one element of the upstream streaming sequence.
type Event struct {
	Kind     EventKind
	Text     string // EventTextDelta
	ToolName string // tool events
	ArgsJSON string // EventToolCallArgsReady
	Err      error  // EventError
}

// Runner is the upstream agent runtime boundary: given an ordered
// message history it produces either a final answer or a stream of typed
// events. Both calls respect ctx for cancellation and timeouts.
type Runner interface {
	Run(ctx context.Context, history []Message) (string, error)
	RunStreamed(ctx context.Context, history []Message) (<-chan Event, error)
}

// Explainer produces a short narrated explanation of a tool call as a
// stream of text chunks. Used to enrich the client-facing stream while a
// search executes; failures end the stream early and are not fatal to
// the turn.
type Explainer interface {
	Explain(ctx context.Context, toolName, argsJSON string) (<-chan string, error)
}
