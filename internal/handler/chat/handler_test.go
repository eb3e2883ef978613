package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
	chatService "github.com/zhouzirui/camp-guide/backend/internal/service/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
)

type fakeOrchestrator struct {
	mu       sync.Mutex
	requests []chatService.TurnRequest
	err      error
	sessions map[string]*chat.Session
}

func (f *fakeOrchestrator) HandleTurn(_ context.Context, req chatService.TurnRequest) (chatService.TurnResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return chatService.TurnResponse{}, f.err
	}
	id := req.SessionID
	if id == "" {
		id = "generated-1"
	}
	return chatService.TurnResponse{
		Response:  "echo: " + req.Message,
		SessionID: id,
		Context:   chatService.TurnContext{Intent: intent.General, ConversationLength: len(f.requests)},
	}, nil
}

func (f *fakeOrchestrator) Session(_ context.Context, id string) (*chat.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, session.ErrSessionNotFound
}

func (f *fakeOrchestrator) ResetSession(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func setupRouter() (*chi.Mux, *fakeOrchestrator) {
	orch := &fakeOrchestrator{sessions: map[string]*chat.Session{
		"known": chat.NewSession("known", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
	}}
	handler := New(orch, true, nil)
	handler.heartbeat = 5 * time.Millisecond

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, orch
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestPostChat(t *testing.T) {
	r, orch := setupRouter()
	resp := postJSON(r, "/chat", `{"message":"Find soccer camps","session_id":"abc"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "echo: Find soccer camps", body["response"])
	assert.Equal(t, "abc", body["session_id"])
	ctx := body["context"].(map[string]any)
	assert.Equal(t, "general", ctx["intent"])
	assert.Contains(t, ctx, "search_count")
	assert.Contains(t, ctx, "has_cached_results")

	require.Len(t, orch.requests, 1)
	assert.Equal(t, "abc", orch.requests[0].SessionID)
}

func TestPostChatAcceptsEmptyMessage(t *testing.T) {
	r, _ := setupRouter()
	resp := postJSON(r, "/chat", `{"message":"  "}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"session_id":"generated-1"`)
}

func TestPostChatRejectsMalformedBody(t *testing.T) {
	r, _ := setupRouter()
	resp := postJSON(r, "/chat", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPostChatInternalFailure(t *testing.T) {
	r, orch := setupRouter()
	orch.err = errors.New("store down")
	resp := postJSON(r, "/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "store down")
}

func TestGetSession(t *testing.T) {
	r, _ := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/known", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"dialog_step":"awaiting_parent_name"`)
	assert.Contains(t, resp.Body.String(), `"result_count":0`)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeleteSession(t *testing.T) {
	r, orch := setupRouter()

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/sessions/known", nil))
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.NotContains(t, orch.sessions, "known")

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/sessions/known", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chat/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"ai_enabled":true`)
}

func TestStreamDeliversResult(t *testing.T) {
	r, _ := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chat/stream?message=hello&session_id=s1", nil))

	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	body := resp.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\n"))
	assert.Contains(t, body, "event: result\n")
	assert.Contains(t, body, `"response":"echo: hello"`)
}

func TestStreamReportsFailure(t *testing.T) {
	r, orch := setupRouter()
	orch.err = errors.New("boom")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chat/stream?message=hello", nil))
	assert.Contains(t, resp.Body.String(), "event: error\n")
}

func TestWebSocketRoundTrip(t *testing.T) {
	r, orch := setupRouter()
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame struct {
		Type      string                   `json:"type"`
		SessionID string                   `json:"session_id"`
		Data      chatService.TurnResponse `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "Hi"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "result", frame.Type)
	assert.Equal(t, "generated-1", frame.SessionID)
	assert.Equal(t, "echo: Hi", frame.Data.Response)

	// 后续帧沿用连接上记住的会话
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "Jane"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "generated-1", frame.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "audio"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)

	orch.mu.Lock()
	defer orch.mu.Unlock()
	require.Len(t, orch.requests, 2)
	assert.Equal(t, "generated-1", orch.requests[1].SessionID)
}
