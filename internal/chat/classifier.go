// ABOUTME: Maps upstream agent events onto the transcript payload vocabulary
// ABOUTME: Tracks in-flight tool-call state and drives the explanation sub-stream

package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptotrial/chat-gateway/internal/agent"
)

// explainedTool is the tool whose argument assembly triggers a narrated
// explanation sub-stream.
const explainedTool = "list_studies"

// Explanation chunks are wrapped in these markers so clients can render
// or strip them as a unit.
const (
	explanationOpen  = "\n<explanation>\n"
	explanationClose = "\n</explanation>\n"
)

// announcements maps tool names to the message shown when the tool
// starts. Unrecognized tools get a generic announcement.
var announcements = map[string]string{
	"list_studies": "Searching ClinicalTrials.gov…\n\n",
	"fetch_study":  "Fetching study details…\n\n",
}

const (
	genericAnnouncement   = "Using a tool…\n\n"
	webSearchAnnouncement = "Searching the web…\n\n"
)

// Classifier turns the upstream event union into transcript payloads.
// It remembers the most recently announced tool name so argument-ready
// events with no name can still be attributed; when two tool starts
// arrive before a completion, the later name wins.
//
// Not safe for concurrent use; each stream gets its own Classifier.
type Classifier struct {
	explainer agent.Explainer
	logger    *slog.Logger
	lastTool  string
}

// NewClassifier creates a classifier. explainer may be nil, which
// disables the explanation sub-stream.
func NewClassifier(explainer agent.Explainer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		explainer: explainer,
		logger:    logger.With("component", "classifier"),
	}
}

// Classify maps one upstream event into zero or more transcript
// payloads, delivered through emit in order. An error from emit stops
// classification immediately and is returned unchanged. An upstream
// EventError is returned as its carried error.
func (c *Classifier) Classify(ctx context.Context, ev agent.Event, emit func(string) error) error {
	switch ev.Kind {
	case agent.EventTextDelta:
		return emit(ev.Text)

	case agent.EventToolCallStarted:
		c.lastTool = ev.ToolName
		return emit(announcementFor(ev.ToolName))

	case agent.EventWebSearchStarted:
		c.lastTool = ev.ToolName
		return emit(webSearchAnnouncement)

	case agent.EventToolCallArgsReady:
		name := ev.ToolName
		if name == "" {
			name = c.lastTool
		}
		if err := emit(fmt.Sprintf("Calling %s with %s\n\n", name, ev.ArgsJSON)); err != nil {
			return err
		}
		if name == explainedTool {
			return c.explain(ctx, name, ev.ArgsJSON, emit)
		}
		return nil

	case agent.EventError:
		return ev.Err

	default:
		// Unknown upstream event shapes never abort the stream.
		c.logger.Debug("dropping unrecognized event", "kind", ev.Kind)
		return nil
	}
}

// explain streams a plain-language narration of the tool call as
// transcript payloads between explicit open/close markers. Explanation
// failures are logged and skipped; they never fail the turn.
func (c *Classifier) explain(ctx context.Context, toolName, argsJSON string, emit func(string) error) error {
	if c.explainer == nil {
		return nil
	}

	chunks, err := c.explainer.Explain(ctx, toolName, argsJSON)
	if err != nil {
		c.logger.Warn("explanation unavailable", "tool", toolName, "error", err)
		return nil
	}

	if err := emit(explanationOpen); err != nil {
		return err
	}
	for chunk := range chunks {
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return emit(explanationClose)
}

func announcementFor(toolName string) string {
	if msg, ok := announcements[toolName]; ok {
		return msg
	}
	return genericAnnouncement
}
