// ABOUTME: HTTP API handlers for the chat endpoints
// ABOUTME: Blocking turns return JSON; streaming turns emit event frames over SSE

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/uptotrial/chat-gateway/internal/agent"
	"github.com/uptotrial/chat-gateway/internal/auth"
	"github.com/uptotrial/chat-gateway/internal/chat"
	"github.com/uptotrial/chat-gateway/internal/store"
)

// ChatRequest is the JSON request body for chat turns.
type ChatRequest struct {
	Text string `json:"text"`
}

// MessageResponse is one message in a chat response.
type MessageResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the JSON response for blocking turns and history.
type ChatResponse struct {
	SessionUUID string            `json:"session_uuid"`
	Messages    []MessageResponse `json:"messages"`
}

// handleNewChat handles POST /api/chat: a blocking turn on a fresh session.
func (g *Gateway) handleNewChat(w http.ResponseWriter, r *http.Request) {
	g.blockingTurn(w, r, nil)
}

// handleChatTurn handles POST /api/chat/{uuid}: a blocking turn on an
// existing session.
func (g *Gateway) handleChatTurn(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("uuid")
	g.blockingTurn(w, r, &token)
}

func (g *Gateway) blockingTurn(w http.ResponseWriter, r *http.Request, token *string) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := g.chats.PostTurn(r.Context(), token,
		auth.OwnerFromContext(r.Context()), req.Text, correlationID(r.Context()))
	if err != nil {
		g.sendMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(turn))
}

// handleChatHistory handles GET /api/chat/{uuid}: the session's message
// history as JSON, or as rendered HTML with ?format=html.
func (g *Gateway) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	turn, err := g.chats.SessionMessages(r.Context(), r.PathValue("uuid"))
	if err != nil {
		g.sendMappedError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		g.writeHistoryHTML(w, turn)
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(turn))
}

// handleStreamingNew handles POST /api/chat/streaming/new.
func (g *Gateway) handleStreamingNew(w http.ResponseWriter, r *http.Request) {
	g.streamingTurn(w, r, nil)
}

// handleStreamingTurn handles POST /api/chat/streaming/{uuid}.
func (g *Gateway) handleStreamingTurn(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("uuid")
	g.streamingTurn(w, r, &token)
}

// streamingTurn runs a streamed turn over SSE. Each encoded frame is
// flushed before the next upstream event is pulled.
func (g *Gateway) streamingTurn(w http.ResponseWriter, r *http.Request, token *string) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	wroteFrame := false
	sink := func(frame string) error {
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
		wroteFrame = true
		flusher.Flush()
		return nil
	}

	err = g.chats.PostTurnStreamed(r.Context(), token,
		auth.OwnerFromContext(r.Context()), req.Text, correlationID(r.Context()), sink)
	if err != nil {
		if !wroteFrame {
			// Nothing has gone out; a proper status is still possible.
			g.sendMappedError(w, r, err)
			return
		}
		g.logger.Error("streamed turn failed",
			"error", err,
			"correlation_id", correlationID(r.Context()))
	}
}

// writeHistoryHTML renders the session transcript as an HTML page,
// converting assistant Markdown to HTML.
func (g *Gateway) writeHistoryHTML(w http.ResponseWriter, turn *chat.Turn) {
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head><title>Conversation ")
	page.WriteString(html.EscapeString(turn.SessionUUID))
	page.WriteString("</title></head>\n<body>\n")

	for _, msg := range turn.Messages {
		if msg.Role == agent.RoleAssistant {
			page.WriteString(`<div class="assistant">`)
			if err := goldmark.Convert([]byte(msg.Content), &page); err != nil {
				g.logger.Warn("markdown rendering failed", "error", err)
				page.WriteString("<pre>" + html.EscapeString(msg.Content) + "</pre>")
			}
			page.WriteString("</div>\n")
			continue
		}
		page.WriteString(`<div class="user"><p>` + html.EscapeString(msg.Content) + "</p></div>\n")
	}

	page.WriteString("</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Bytes())
}

// sendMappedError translates domain errors into HTTP statuses.
func (g *Gateway) sendMappedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrConflict):
		sendJSONError(w, http.StatusConflict, "concurrent update, retry the request")
	case errors.Is(err, agent.ErrService):
		g.logger.Error("agent service failure", "error", err, "path", r.URL.Path)
		sendJSONError(w, http.StatusServiceUnavailable, "agent service unavailable")
	case errors.Is(err, store.ErrCorruptChain):
		g.logger.Error("corrupt session history", "error", err, "path", r.URL.Path)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.logger.Error("request failed", "error", err, "path", r.URL.Path)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func toChatResponse(turn *chat.Turn) ChatResponse {
	resp := ChatResponse{
		SessionUUID: turn.SessionUUID,
		Messages:    make([]MessageResponse, len(turn.Messages)),
	}
	for i, msg := range turn.Messages {
		resp.Messages[i] = MessageResponse{Role: msg.Role, Content: msg.Content}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}
	return &req, nil
}
