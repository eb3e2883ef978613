package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatService "github.com/zhouzirui/camp-guide/backend/internal/service/chat"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxFrame     = 64 << 10
)

type inboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type outboundFrame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsHandler 每个入站帧处理一轮对话。连接会记住最近的会话 ID，后续帧可以省略。
type wsHandler struct {
	orch     Orchestrator
	logger   *zap.Logger
	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func newWSHandler(orch Orchestrator, logger *zap.Logger) *wsHandler {
	return &wsHandler{
		orch:   orch,
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			// 跨域由 CORS 白名单控制
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *wsHandler) active() int64 {
	return h.conns.Load()
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.conns.Add(1)
	defer h.conns.Add(-1)

	sessionID := r.URL.Query().Get("session_id")
	h.logger.Debug("connection opened", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.write(conn, outboundFrame{Type: "connected", SessionID: sessionID})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(conn, sessionID, "invalid frame")
			continue
		}

		switch frame.Type {
		case "", "message":
		case "ping":
			h.write(conn, outboundFrame{Type: "pong", SessionID: sessionID})
			continue
		default:
			h.sendError(conn, sessionID, "unsupported frame type: "+frame.Type)
			continue
		}

		if frame.SessionID != "" {
			sessionID = frame.SessionID
		}
		resp, err := h.orch.HandleTurn(ctx, chatService.TurnRequest{Message: frame.Message, SessionID: sessionID})
		if err != nil {
			h.logger.Error("turn failed", zap.String("session", sessionID), zap.Error(err))
			h.sendError(conn, sessionID, "failed to process message")
			continue
		}
		sessionID = resp.SessionID
		h.write(conn, outboundFrame{Type: "result", SessionID: sessionID, Data: resp})
	}
}

func (h *wsHandler) sendError(conn *websocket.Conn, sessionID, message string) {
	h.write(conn, outboundFrame{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
	})
}

// write 只在读循环所在的 goroutine 调用；心跳走 WriteControl，可以并发。
func (h *wsHandler) write(conn *websocket.Conn, frame outboundFrame) {
	frame.Timestamp = time.Now().Unix()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Warn("write failed", zap.String("type", frame.Type), zap.Error(err))
	}
}

func (h *wsHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
