// Package chat is the conversation core: it turns a client request plus
// a session's stored history into an agent invocation, and turns the
// agent's reply back into persisted turns and wire frames.
//
// Three pieces compose per turn:
//
//   - the encoder (encoder.go): pure key/value framing for the
//     streaming transport
//   - the Classifier: maps the upstream event union onto transcript
//     payloads, announcing tool calls and narrating searches
//   - the Orchestrator: the per-turn state machine for blocking and
//     streaming modes
//
// Streaming turns accumulate exactly what was shown to the client and
// persist that transcript only after the upstream stream completes
// normally. An upstream failure mid-stream produces the
// error/data/end_error frame triple and leaves the session's history
// untouched. Backpressure is cooperative: the next upstream event is
// not pulled until the sink accepts the previous frame.
package chat
