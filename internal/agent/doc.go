// Package agent defines the boundary to the upstream agent runtime and
// provides the OpenAI-backed implementation.
//
// # Runner
//
// A Runner takes an ordered, role-tagged message history and either
// returns the final assistant text (Run) or a stream of typed events
// (RunStreamed). The event vocabulary is a closed union:
//
//   - EventTextDelta: incremental assistant text
//   - EventToolCallStarted: a tool invocation began (name only)
//   - EventToolCallArgsReady: argument assembly finished
//   - EventWebSearchStarted: a hosted web search began
//   - EventError: terminal failure
//
// A stream ends with a channel close (normal completion) or a single
// EventError. Unknown provider event shapes never reach consumers; the
// runner drops what it does not recognize.
//
// # Tool loop
//
// The OpenAI runner executes requested tool calls locally between model
// rounds, bounded by maxToolRounds. Tool failures are fed back to the
// model as tool messages so the turn can still complete.
//
// # Failure semantics
//
// Every provider failure is wrapped in ErrService. Nothing is retried
// here; the caller decides whether the condition is worth retrying.
package agent
