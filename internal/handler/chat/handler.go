package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
	chatService "github.com/zhouzirui/camp-guide/backend/internal/service/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
	"github.com/zhouzirui/camp-guide/backend/pkg/utils"
)

// Orchestrator 是处理器依赖的对话编排能力。
type Orchestrator interface {
	HandleTurn(ctx context.Context, req chatService.TurnRequest) (chatService.TurnResponse, error)
	Session(ctx context.Context, id string) (*chat.Session, error)
	ResetSession(ctx context.Context, id string) error
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	orch      Orchestrator
	aiEnabled bool
	logger    *zap.Logger
	heartbeat time.Duration
	ws        *wsHandler
}

// New 创建聊天处理器
func New(orch Orchestrator, aiEnabled bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		orch:      orch,
		aiEnabled: aiEnabled,
		logger:    logger.Named("chat"),
		heartbeat: 8 * time.Second,
	}
	h.ws = newWSHandler(orch, h.logger)
	return h
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleTurn)
	r.Get("/chat/stream", h.handleStream)
	r.Get("/chat/ws", h.ws.serve)
	r.Get("/chat/health", h.handleHealth)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

// handleTurn 处理一轮对话。空消息不会被拒绝，由编排器回复澄清提示。
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req chatService.TurnRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.orch.HandleTurn(r.Context(), req)
	if err != nil {
		h.logger.Error("turn failed", zap.String("session", req.SessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleStream 以 SSE 方式返回一轮对话，等待期间发送心跳。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req := chatService.TurnRequest{
		Message:   r.URL.Query().Get("message"),
		SessionID: r.URL.Query().Get("session_id"),
	}

	type result struct {
		resp chatService.TurnResponse
		err  error
	}
	done := make(chan result, 1)
	ctx := r.Context()
	go func() {
		resp, err := h.orch.HandleTurn(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "processing"})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 等本轮退出后再返回，不遗留 goroutine。
			<-done
			return
		case t := <-ticker.C:
			_ = utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			})
		case res := <-done:
			if res.err != nil {
				h.logger.Error("streamed turn failed", zap.Error(res.err))
				_ = utils.SendSSEEvent(w, flusher, "error", utils.ErrorBody{Error: "failed to process message"})
				return
			}
			_ = utils.SendSSEEvent(w, flusher, "result", res.resp)
			return
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"ai_enabled":  h.aiEnabled,
		"active_ws":   h.ws.active(),
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// sessionView 是诊断接口返回的会话快照。
type sessionView struct {
	ID              string          `json:"session_id"`
	Profile         chat.Profile    `json:"profile"`
	DialogStep      chat.DialogStep `json:"dialog_step"`
	ProfileComplete bool            `json:"profile_complete"`
	ResultCount     int             `json:"result_count"`
	History         []chat.Turn     `json:"history"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.orch.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionView{
		ID:              s.ID,
		Profile:         s.Profile,
		DialogStep:      s.DialogStep,
		ProfileComplete: s.ProfileComplete(),
		ResultCount:     len(s.LastResults),
		History:         s.History,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ResetSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error("session lookup failed", zap.Error(err))
	utils.RespondError(w, http.StatusInternalServerError, "session lookup failed")
}
