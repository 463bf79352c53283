// ABOUTME: TurnOrchestrator drives blocking and streaming chat turns end to end
// ABOUTME: Resolves sessions, invokes the agent, and persists completed transcripts

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uptotrial/chat-gateway/internal/agent"
	"github.com/uptotrial/chat-gateway/internal/store"
)

// ErrPersistence marks a failure to record a completed turn. The client
// may already have received the full response when this is raised.
var ErrPersistence = errors.New("turn persistence failed")

// errClientGone marks a sink failure: the consumer stopped accepting
// frames, so there is nobody left to stream error frames to.
var errClientGone = errors.New("stream consumer gone")

// Persisted transcripts are wrapped in these boundary markers; they are
// stripped again when history is reconstructed.
const (
	responseOpen  = "<response>\n"
	responseClose = "\n</response>"
)

// FrameSink accepts one encoded frame. The orchestrator does not pull
// the next upstream event until the sink has accepted the previous
// frame, so a slow consumer paces the whole stream.
type FrameSink func(frame string) error

// Turn is the result of a completed turn or a history lookup: the
// session token plus the flattened, oldest-first message list.
type Turn struct {
	SessionUUID string
	Messages    []agent.Message
}

// Orchestrator coordinates the turn state machine across the store, the
// agent runner, and the wire encoding. Safe for concurrent use; per-turn
// state lives on the stack.
type Orchestrator struct {
	store       store.Store
	runner      agent.Runner
	explainer   agent.Explainer
	turnTimeout time.Duration
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator. explainer may be nil to
// disable tool-call explanations; turnTimeout bounds each agent call
// when positive.
func NewOrchestrator(st store.Store, runner agent.Runner, explainer agent.Explainer, turnTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       st,
		runner:      runner,
		explainer:   explainer,
		turnTimeout: turnTimeout,
		logger:      logger.With("component", "chat"),
	}
}

// PostTurn executes a blocking turn. A nil token creates a new session;
// an unknown token fails with store.ErrNotFound. The returned Turn
// carries the full message list including the new exchange.
func (o *Orchestrator) PostTurn(ctx context.Context, token *string, ownerID, text, correlationID string) (*Turn, error) {
	session, err := o.resolveSession(ctx, token, ownerID)
	if err != nil {
		return nil, err
	}

	messages, err := o.loadMessages(ctx, session)
	if err != nil {
		return nil, err
	}
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: text})

	runCtx, cancel := o.turnContext(ctx)
	defer cancel()

	started := time.Now()
	answer, err := o.runner.Run(runCtx, messages)
	if err != nil {
		return nil, err
	}

	record := &store.ResponseRecord{Role: agent.RoleAssistant, Content: wrapResponse(answer)}
	if _, err := o.store.AppendTurn(ctx, session, text, record, correlationID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	o.logger.Info("turn completed",
		"session", session.UUID,
		"correlation_id", correlationID,
		"duration", time.Since(started))

	messages = append(messages, agent.Message{Role: agent.RoleAssistant, Content: answer})
	return &Turn{SessionUUID: session.UUID, Messages: messages}, nil
}

// PostTurnStreamed executes a streaming turn, writing encoded frames to
// sink. The session token is always the first frame. On upstream
// failure the error/data/end_error frames are emitted and nothing is
// persisted; on success the accumulated transcript is persisted before
// end_ok. A sink error means the client went away: the stream stops and
// nothing is persisted.
func (o *Orchestrator) PostTurnStreamed(ctx context.Context, token *string, ownerID, text, correlationID string, sink FrameSink) error {
	session, err := o.resolveSession(ctx, token, ownerID)
	if err != nil {
		return err
	}
	if err := sink(SessionFrame(session.UUID)); err != nil {
		return err
	}

	messages, err := o.loadMessages(ctx, session)
	if err != nil {
		o.failStream(sink, err)
		return err
	}
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: text})

	runCtx, cancel := o.turnContext(ctx)
	defer cancel()

	events, err := o.runner.RunStreamed(runCtx, messages)
	if err != nil {
		o.failStream(sink, err)
		return err
	}

	classifier := NewClassifier(o.explainer, o.logger)
	var transcript strings.Builder
	emitData := func(payload string) error {
		if err := sink(DataFrame(payload)); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		// Only what the client actually saw goes into the record.
		transcript.WriteString(payload)
		return nil
	}

	started := time.Now()
	for ev := range events {
		if err := classifier.Classify(runCtx, ev, emitData); err != nil {
			// Stop pulling before anything else so the producer can exit.
			cancel()
			if errors.Is(err, errClientGone) {
				return err
			}
			// Any other classifier error is an upstream failure; the
			// client is still listening and gets the error frames.
			o.failStream(sink, err)
			return err
		}
	}

	// A timeout or disconnect can close the event channel without an
	// error event; either way the turn did not finish and must not be
	// half-recorded.
	if ctxErr := runCtx.Err(); ctxErr != nil {
		err := fmt.Errorf("%w: %v", agent.ErrService, ctxErr)
		o.failStream(sink, err)
		return err
	}

	record := &store.ResponseRecord{Role: agent.RoleAssistant, Content: wrapResponse(transcript.String())}
	if _, err := o.store.AppendTurn(ctx, session, text, record, correlationID); err != nil {
		err = fmt.Errorf("%w: %v", ErrPersistence, err)
		o.failStream(sink, err)
		return err
	}

	o.logger.Info("streamed turn completed",
		"session", session.UUID,
		"correlation_id", correlationID,
		"duration", time.Since(started))

	return sink(TerminalFrame(EventEndOK))
}

// SessionMessages reconstructs the flattened message list for an
// existing session. Fails with store.ErrNotFound on an unknown token.
func (o *Orchestrator) SessionMessages(ctx context.Context, token string) (*Turn, error) {
	session, err := o.store.GetSessionByUUID(ctx, token)
	if err != nil {
		return nil, err
	}
	messages, err := o.loadMessages(ctx, session)
	if err != nil {
		return nil, err
	}
	return &Turn{SessionUUID: session.UUID, Messages: messages}, nil
}

// resolveSession creates a session when no token was supplied, else
// looks the token up.
func (o *Orchestrator) resolveSession(ctx context.Context, token *string, ownerID string) (*store.Session, error) {
	if token == nil || *token == "" {
		session, err := o.store.CreateSession(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("session created", "session", session.UUID)
		return session, nil
	}
	return o.store.GetSessionByUUID(ctx, *token)
}

// loadMessages flattens the turn chain into alternating user/assistant
// messages, oldest first.
func (o *Orchestrator) loadMessages(ctx context.Context, session *store.Session) ([]agent.Message, error) {
	turns, err := o.store.History(ctx, session)
	if err != nil {
		return nil, err
	}

	messages := make([]agent.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages, agent.Message{Role: agent.RoleUser, Content: turn.RequestText})
		role := turn.Response.Role
		if role == "" {
			role = agent.RoleAssistant
		}
		messages = append(messages, agent.Message{Role: role, Content: unwrapResponse(turn.Response.Content)})
	}
	return messages, nil
}

// failStream emits the error/data/end_error frame triple. Sink failures
// here mean the client is gone; there is nobody left to tell.
func (o *Orchestrator) failStream(sink FrameSink, cause error) {
	for _, frame := range []string{
		TerminalFrame(EventError),
		DataFrame(cause.Error()),
		TerminalFrame(EventEndError),
	} {
		if err := sink(frame); err != nil {
			o.logger.Debug("client gone during error frames", "error", err)
			return
		}
	}
}

func (o *Orchestrator) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.turnTimeout > 0 {
		return context.WithTimeout(ctx, o.turnTimeout)
	}
	return context.WithCancel(ctx)
}

func wrapResponse(transcript string) string {
	return responseOpen + transcript + responseClose
}

func unwrapResponse(content string) string {
	content = strings.TrimPrefix(content, responseOpen)
	return strings.TrimSuffix(content, responseClose)
}
