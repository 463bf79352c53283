// ABOUTME: Wire framing for the streaming chat transport
// ABOUTME: Pure functions that wrap key/value pairs into self-delimiting event frames

package chat

import "strings"

// Frame keys recognized by clients.
const (
	KeySessionUUID = "session_uuid"
	KeyData        = "data"
	KeyEvent       = "event"
)

// Terminal event values. Exactly one of end_ok or end_error closes a
// stream; error precedes the data frame carrying the failure detail.
const (
	EventEndOK    = "end_ok"
	EventEndError = "end_error"
	EventError    = "error"
)

// valueEscaper neutralizes the characters that would break the XML-like
// framing. Applied to values only; keys are fixed literals.
var valueEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EncodeFrame produces one self-delimiting frame for a key/value pair.
// Deterministic and side-effect free; the caller owns ordering.
func EncodeFrame(key, value string) string {
	var b strings.Builder
	b.Grow(len(key) + len(value) + 48)
	b.WriteString("<event><key>")
	b.WriteString(key)
	b.WriteString("</key><value>")
	b.WriteString(valueEscaper.Replace(value))
	b.WriteString("</value></event>\n")
	return b.String()
}

// SessionFrame announces the session token. Emitted first, exactly once
// per stream.
func SessionFrame(sessionUUID string) string {
	return EncodeFrame(KeySessionUUID, sessionUUID)
}

// DataFrame carries one transcript chunk.
func DataFrame(text string) string {
	return EncodeFrame(KeyData, text)
}

// TerminalFrame signals stream completion with one of the terminal
// event values.
func TerminalFrame(event string) string {
	return EncodeFrame(KeyEvent, event)
}
