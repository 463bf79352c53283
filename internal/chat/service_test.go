// ABOUTME: Tests for the turn orchestrator in blocking and streaming modes
// ABOUTME: Exercises frame ordering, persistence policy and failure semantics with scripted agents

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptotrial/chat-gateway/internal/agent"
	"github.com/uptotrial/chat-gateway/internal/store"
)

// scriptedRunner replays a fixed event sequence for streamed turns and
// a fixed answer for blocking ones.
type scriptedRunner struct {
	answer string
	runErr error
	events []agent.Event

	gotHistory []agent.Message
}

func (r *scriptedRunner) Run(ctx context.Context, history []agent.Message) (string, error) {
	r.gotHistory = history
	if r.runErr != nil {
		return "", r.runErr
	}
	return r.answer, nil
}

func (r *scriptedRunner) RunStreamed(ctx context.Context, history []agent.Message) (<-chan agent.Event, error) {
	r.gotHistory = history
	if r.runErr != nil {
		return nil, r.runErr
	}
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		for _, ev := range r.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestOrchestrator(t *testing.T, runner agent.Runner) (*Orchestrator, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	return NewOrchestrator(st, runner, nil, 0, nil), st
}

// captureFrames returns a sink appending to frames, failing after limit
// accepted frames when limit >= 0.
func captureFrames(frames *[]string, limit int) FrameSink {
	return func(frame string) error {
		if limit >= 0 && len(*frames) >= limit {
			return errors.New("client gone")
		}
		*frames = append(*frames, frame)
		return nil
	}
}

// dataPayload extracts the value from a single data frame.
func dataPayload(t *testing.T, frame string) string {
	t.Helper()
	const prefix = "<event><key>data</key><value>"
	const suffix = "</value></event>\n"
	require.True(t, strings.HasPrefix(frame, prefix), "not a data frame: %q", frame)
	return strings.TrimSuffix(strings.TrimPrefix(frame, prefix), suffix)
}

func TestPostTurn_NewSession(t *testing.T) {
	runner := &scriptedRunner{answer: "Hello, I can search trials."}
	o, _ := newTestOrchestrator(t, runner)

	turn, err := o.PostTurn(context.Background(), nil, "", "hi", "corr-1")
	require.NoError(t, err)
	assert.NotEmpty(t, turn.SessionUUID)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, agent.RoleUser, turn.Messages[0].Role)
	assert.Equal(t, "hi", turn.Messages[0].Content)
	assert.Equal(t, agent.RoleAssistant, turn.Messages[1].Role)
	assert.Equal(t, "Hello, I can search trials.", turn.Messages[1].Content)
}

func TestPostTurn_UnknownToken(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	token := "no-such-session"
	_, err := o.PostTurn(context.Background(), &token, "", "hi", "corr-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostTurn_HistoryGrowsAcrossTurns(t *testing.T) {
	runner := &scriptedRunner{answer: "second answer"}
	o, _ := newTestOrchestrator(t, runner)

	first, err := o.PostTurn(context.Background(), nil, "", "first question", "corr-1")
	require.NoError(t, err)

	turn, err := o.PostTurn(context.Background(), &first.SessionUUID, "", "second question", "corr-2")
	require.NoError(t, err)

	require.Len(t, turn.Messages, 4)
	assert.Equal(t, "first question", turn.Messages[0].Content)
	assert.Equal(t, "second question", turn.Messages[2].Content)
	// The runner saw the prior exchange plus the new user message.
	require.Len(t, runner.gotHistory, 3)
}

func TestPostTurn_RunnerFailureDoesNotPersist(t *testing.T) {
	runner := &scriptedRunner{runErr: fmt.Errorf("%w: model down", agent.ErrService)}
	o, _ := newTestOrchestrator(t, runner)

	first, err := o.PostTurn(context.Background(), nil, "", "hi", "corr-1")
	require.Error(t, err)
	assert.Nil(t, first)
}

func TestPostTurn_PersistFailure(t *testing.T) {
	o, st := newTestOrchestrator(t, &scriptedRunner{answer: "x"})
	st.FailAppend = errors.New("disk full")

	_, err := o.PostTurn(context.Background(), nil, "", "hi", "corr-1")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestPostTurnStreamed_ToolSequence(t *testing.T) {
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventToolCallStarted, ToolName: "list_studies"},
		{Kind: agent.EventToolCallArgsReady, ToolName: "list_studies", ArgsJSON: "{}"},
		{Kind: agent.EventTextDelta, Text: "Found 3 trials."},
	}}
	o, _ := newTestOrchestrator(t, runner)

	var frames []string
	err := o.PostTurnStreamed(context.Background(), nil, "", "find asthma trials", "corr-1", captureFrames(&frames, -1))
	require.NoError(t, err)

	require.Len(t, frames, 5)
	assert.Contains(t, frames[0], "<key>session_uuid</key>")
	assert.Contains(t, dataPayload(t, frames[1]), "Searching ClinicalTrials.gov")
	assert.Contains(t, dataPayload(t, frames[2]), "list_studies")
	assert.Equal(t, "Found 3 trials.", dataPayload(t, frames[3]))
	assert.Equal(t, TerminalFrame(EventEndOK), frames[4])
}

func TestPostTurnStreamed_RoundTrip(t *testing.T) {
	// The transcript later reconstructed from history equals the
	// concatenation of every data payload the client saw.
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "Found "},
		{Kind: agent.EventTextDelta, Text: "3 trials."},
	}}
	o, _ := newTestOrchestrator(t, runner)

	var frames []string
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, -1))
	require.NoError(t, err)

	var shown strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		shown.WriteString(dataPayload(t, f))
	}

	const prefix = "<event><key>session_uuid</key><value>"
	token := strings.TrimSuffix(strings.TrimPrefix(frames[0], prefix), "</value></event>\n")

	turn, err := o.SessionMessages(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, turn.Messages, 2)
	assert.Equal(t, shown.String(), turn.Messages[1].Content)
}

func TestPostTurnStreamed_EmptyStream(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	var frames []string
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, -1))
	require.NoError(t, err)

	// Session frame plus exactly one terminal frame.
	require.Len(t, frames, 2)
	assert.Equal(t, TerminalFrame(EventEndOK), frames[1])
}

func TestPostTurnStreamed_UpstreamErrorAfterDeltas(t *testing.T) {
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "partial "},
		{Kind: agent.EventTextDelta, Text: "answer"},
		{Kind: agent.EventError, Err: fmt.Errorf("%w: stream cut", agent.ErrService)},
	}}
	o, _ := newTestOrchestrator(t, runner)

	var frames []string
	token := ""
	sink := func(frame string) error {
		frames = append(frames, frame)
		return nil
	}
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", sink)
	require.Error(t, err)

	require.Len(t, frames, 6)
	assert.Equal(t, TerminalFrame(EventError), frames[3])
	assert.Contains(t, dataPayload(t, frames[4]), "stream cut")
	assert.Equal(t, TerminalFrame(EventEndError), frames[5])

	// No turn became visible: the session has no history.
	const prefix = "<event><key>session_uuid</key><value>"
	token = strings.TrimSuffix(strings.TrimPrefix(frames[0], prefix), "</value></event>\n")
	turn, err := o.SessionMessages(context.Background(), token)
	require.NoError(t, err)
	assert.Empty(t, turn.Messages)
}

// The error frames must go out even when the upstream error is not one
// of the runner's wrapped sentinels.
func TestPostTurnStreamed_BareUpstreamErrorStillTerminates(t *testing.T) {
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "partial"},
		{Kind: agent.EventError, Err: errors.New("provider exploded")},
	}}
	o, _ := newTestOrchestrator(t, runner)

	var frames []string
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, -1))
	require.Error(t, err)

	require.Len(t, frames, 5)
	assert.Equal(t, TerminalFrame(EventError), frames[2])
	assert.Contains(t, dataPayload(t, frames[3]), "provider exploded")
	assert.Equal(t, TerminalFrame(EventEndError), frames[4])
}

func TestPostTurnStreamed_ExactlyOneTerminalFrame(t *testing.T) {
	cases := map[string][]agent.Event{
		"empty":     nil,
		"text only": {{Kind: agent.EventTextDelta, Text: "hi"}},
		"error mid": {
			{Kind: agent.EventTextDelta, Text: "hi"},
			{Kind: agent.EventError, Err: fmt.Errorf("%w: boom", agent.ErrService)},
		},
		"bare error mid": {
			{Kind: agent.EventTextDelta, Text: "hi"},
			{Kind: agent.EventError, Err: errors.New("boom")},
		},
	}

	for name, events := range cases {
		t.Run(name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, &scriptedRunner{events: events})

			var frames []string
			_ = o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, -1))

			terminals := 0
			for _, f := range frames {
				if f == TerminalFrame(EventEndOK) || f == TerminalFrame(EventEndError) {
					terminals++
				}
			}
			assert.Equal(t, 1, terminals)
		})
	}
}

func TestPostTurnStreamed_UnknownToken(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	var frames []string
	token := "no-such-session"
	err := o.PostTurnStreamed(context.Background(), &token, "", "hi", "corr-1", captureFrames(&frames, -1))
	assert.ErrorIs(t, err, store.ErrNotFound)
	// Resolution failed before any frame went out.
	assert.Empty(t, frames)
}

func TestPostTurnStreamed_ClientGoneStopsWithoutPersist(t *testing.T) {
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "a"},
		{Kind: agent.EventTextDelta, Text: "b"},
		{Kind: agent.EventTextDelta, Text: "c"},
	}}
	o, st := newTestOrchestrator(t, runner)

	var frames []string
	// Accept the session frame and one data frame, then disconnect.
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, 2))
	require.Error(t, err)

	session, err := st.GetSessionByUUID(context.Background(), strings.TrimSuffix(
		strings.TrimPrefix(frames[0], "<event><key>session_uuid</key><value>"), "</value></event>\n"))
	require.NoError(t, err)
	assert.Nil(t, session.HeadTurnID)
}

func TestPostTurnStreamed_PersistFailure(t *testing.T) {
	runner := &scriptedRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "done"},
	}}
	o, st := newTestOrchestrator(t, runner)
	st.FailAppend = errors.New("disk full")

	var frames []string
	err := o.PostTurnStreamed(context.Background(), nil, "", "hi", "corr-1", captureFrames(&frames, -1))
	require.ErrorIs(t, err, ErrPersistence)

	// The client gets the error triple, not end_ok.
	assert.Equal(t, TerminalFrame(EventEndError), frames[len(frames)-1])
}

func TestSessionMessages_UnknownToken(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedRunner{})

	_, err := o.SessionMessages(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionMessages_AlternatingRoles(t *testing.T) {
	runner := &scriptedRunner{answer: "answer"}
	o, _ := newTestOrchestrator(t, runner)

	first, err := o.PostTurn(context.Background(), nil, "", "q1", "corr-1")
	require.NoError(t, err)
	_, err = o.PostTurn(context.Background(), &first.SessionUUID, "", "q2", "corr-2")
	require.NoError(t, err)

	turn, err := o.SessionMessages(context.Background(), first.SessionUUID)
	require.NoError(t, err)
	require.Len(t, turn.Messages, 4)
	for i, msg := range turn.Messages {
		if i%2 == 0 {
			assert.Equal(t, agent.RoleUser, msg.Role)
		} else {
			assert.Equal(t, agent.RoleAssistant, msg.Role)
		}
	}
}
