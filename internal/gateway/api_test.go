// ABOUTME: Tests for the chat API handlers
// ABOUTME: Covers blocking turns, history retrieval, HTML rendering and SSE streaming

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptotrial/chat-gateway/internal/agent"
	"github.com/uptotrial/chat-gateway/internal/chat"
	"github.com/uptotrial/chat-gateway/internal/config"
	"github.com/uptotrial/chat-gateway/internal/store"
)

// stubRunner returns a fixed answer (blocking) or event script (streaming).
type stubRunner struct {
	answer string
	runErr error
	events []agent.Event
}

func (r *stubRunner) Run(ctx context.Context, history []agent.Message) (string, error) {
	if r.runErr != nil {
		return "", r.runErr
	}
	return r.answer, nil
}

func (r *stubRunner) RunStreamed(ctx context.Context, history []agent.Message) (<-chan agent.Event, error) {
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

func newTestGateway(t *testing.T, runner agent.Runner) (http.Handler, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			GlobalRequests:        1000,
			CorrelationIDRequests: 1000,
			Period:                time.Minute,
		},
	}
	g := &Gateway{
		config: cfg,
		store:  st,
		chats:  chat.NewOrchestrator(st, runner, nil, 0, logger),
		logger: logger,
	}
	return g.buildHandler(nil), st
}

func apiRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(correlationHeader, uuid.New().String())
	return req
}

func decodeChatResponse(t *testing.T, body io.Reader) ChatResponse {
	t.Helper()
	var resp ChatResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestNewChat_CreatesSessionAndAnswers(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{answer: "Hello."})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{"text":"hi"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeChatResponse(t, rec.Body)
	assert.NotEmpty(t, resp.SessionUUID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "Hello.", resp.Messages[1].Content)
}

func TestNewChat_MissingText(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewChat_InvalidJSON(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{not json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatTurn_UnknownSession(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat/"+uuid.New().String(), `{"text":"hi"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatTurn_ContinuesSession(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{answer: "again"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{"text":"first"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	session := decodeChatResponse(t, rec.Body).SessionUUID

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat/"+session, `{"text":"second"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChatResponse(t, rec.Body)
	assert.Equal(t, session, resp.SessionUUID)
	assert.Len(t, resp.Messages, 4)
}

func TestChatTurn_AgentDown(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{runErr: fmt.Errorf("%w: model down", agent.ErrService)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{"text":"hi"}`))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatHistory_JSON(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{answer: "answer"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{"text":"question"}`))
	session := decodeChatResponse(t, rec.Body).SessionUUID

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/chat/"+session, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeChatResponse(t, rec.Body)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "question", resp.Messages[0].Content)
}

func TestChatHistory_HTML(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{answer: "Trials for **asthma**"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat", `{"text":"<script>alert(1)</script>"}`))
	session := decodeChatResponse(t, rec.Body).SessionUUID

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/chat/"+session+"?format=html", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	// Assistant Markdown is rendered, user text is escaped.
	assert.Contains(t, body, "<strong>asthma</strong>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
}

func TestChatHistory_UnknownSession(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodGet, "/api/chat/"+uuid.New().String(), ""))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamingNew_EmitsFrames(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "Found "},
		{Kind: agent.EventTextDelta, Text: "3 trials."},
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat/streaming/new", `{"text":"hi"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<key>session_uuid</key>")
	assert.Contains(t, body, "<value>Found </value>")
	assert.Contains(t, body, "<value>end_ok</value>")
}

func TestStreamingTurn_UnknownSession(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat/streaming/"+uuid.New().String(), `{"text":"hi"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamingTurn_UpstreamErrorFrames(t *testing.T) {
	handler, st := newTestGateway(t, &stubRunner{events: []agent.Event{
		{Kind: agent.EventTextDelta, Text: "partial"},
		{Kind: agent.EventError, Err: fmt.Errorf("%w: cut off", agent.ErrService)},
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/chat/streaming/new", `{"text":"hi"}`))

	body := rec.Body.String()
	assert.Contains(t, body, "<value>error</value>")
	assert.Contains(t, body, "<value>end_error</value>")
	assert.NotContains(t, body, "<value>end_ok</value>")

	// The failed turn left no history behind.
	session := strings.TrimSuffix(strings.TrimPrefix(strings.SplitN(body, "\n", 2)[0],
		"<event><key>session_uuid</key><value>"), "</value></event>")
	got, err := st.GetSessionByUUID(context.Background(), session)
	require.NoError(t, err)
	assert.Nil(t, got.HeadTurnID)
}

func TestHealth(t *testing.T) {
	handler, _ := newTestGateway(t, &stubRunner{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
