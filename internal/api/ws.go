package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"calcstream/internal/models"
	"calcstream/internal/orchestrator"
	"calcstream/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// Pipeline - то, что нужно обработчикам от конвейера
type Pipeline interface {
	Submit(origin, expression string, mode models.Mode) error
	Subscribe(origin string, sink orchestrator.Sink) (*orchestrator.Subscriber, error)
	Unsubscribe(sub *orchestrator.Subscriber)
	Notify(sub *orchestrator.Subscriber, msg types.ServerMessage) bool
	History() []models.HistoryEntry
}

// wsSink отправляет сообщения подписчику через WebSocket
type wsSink struct {
	conn     *websocket.Conn
	encoding types.Encoding
}

func (s *wsSink) Send(msg types.ServerMessage) error {
	data, err := s.encoding.Marshal(msg)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if s.encoding == types.EncodingMsgpack {
		messageType = websocket.BinaryMessage
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsSink) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return s.conn.Close()
}

// WebSocketHandler обслуживает GET /ws: подписка на историю и прием выражений
type WebSocketHandler struct {
	pipeline Pipeline
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *slog.Logger
}

func NewWebSocketHandler(pipeline Pipeline, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Проверку источника выполняет CORS
			CheckOrigin: func(*http.Request) bool { return true },
		},
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoding, err := types.ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade", "error", err)
		return
	}

	origin := GetOriginFromContext(r.Context())
	sink := &wsSink{conn: conn, encoding: encoding}

	sub, err := h.pipeline.Subscribe(origin, sink)
	if err != nil {
		h.logger.Warn("подписка отклонена", "origin", origin, "error", err)
		_ = sink.Send(types.Rejected(types.CodeShuttingDown, err.Error()))
		_ = sink.Close()
		return
	}
	defer h.pipeline.Unsubscribe(sub)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(conn, sub, stop)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("соединение закрыто", "origin", origin, "error", err)
			}
			return
		}
		h.handleMessage(sub, origin, messageType, data)
	}
}

func (h *WebSocketHandler) keepalive(conn *websocket.Conn, sub *orchestrator.Subscriber, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sub.Done():
			return
		case <-stop:
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(sub *orchestrator.Subscriber, origin string, messageType int, data []byte) {
	decoder := types.EncodingJSON
	if messageType == websocket.BinaryMessage {
		decoder = types.EncodingMsgpack
	}

	var msg types.ClientMessage
	if err := decoder.Unmarshal(data, &msg); err != nil {
		h.pipeline.Notify(sub, types.Rejected(types.CodeInvalidMessage, "malformed message"))
		return
	}
	if err := h.validate.Struct(msg); err != nil {
		h.pipeline.Notify(sub, types.Rejected(types.CodeInvalidMessage, "unsupported message type "+msg.Type))
		return
	}

	err := h.pipeline.Submit(origin, msg.Expression, models.Mode(msg.Mode))
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrQueueFull):
		h.pipeline.Notify(sub, types.Rejected(types.CodeQueueFull, "queue is full, retry later"))
	case errors.Is(err, models.ErrInvalidMode):
		h.pipeline.Notify(sub, types.Rejected(types.CodeInvalidMode, err.Error()))
	case errors.Is(err, orchestrator.ErrPipelineClosed):
		h.pipeline.Notify(sub, types.Rejected(types.CodeShuttingDown, "server is shutting down"))
	default:
		h.logger.Error("ошибка приема задачи", "origin", origin, "error", err)
	}
}
