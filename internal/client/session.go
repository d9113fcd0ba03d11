package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"calcstream/internal/models"
	"calcstream/internal/types"
)

// DefaultReconnectInterval - пауза между попытками подключения
const DefaultReconnectInterval = 5 * time.Second

var ErrNotConnected = errors.New("not connected to server")

type Options struct {
	Encoding          types.Encoding
	ReconnectInterval time.Duration
	Logger            *slog.Logger

	// OnBaseline вызывается на каждое окно full_history, в том числе пустое
	OnBaseline func()
	// OnUpdate получает записи, впервые добавленные в локальный журнал
	OnUpdate func(added []models.HistoryEntry)
	// OnRejected получает отказы сервера в приеме выражения
	OnRejected func(msg types.ServerMessage)
	// OnState сообщает о подключении и отключении
	OnState func(connected bool)
}

// Conn - подключение к серверу истории: WebSocket или gRPC
type Conn interface {
	Run(ctx context.Context) error
	Submit(expression string, mode models.Mode) error
	Log() *LocalLog
}

var (
	_ Conn = (*Session)(nil)
	_ Conn = (*GRPCSession)(nil)
)

// Session - подключение клиента к /ws с автоматическим переподключением
type Session struct {
	url     string
	opts    Options
	log     *LocalLog
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSession создает сессию для адреса вида ws://host:8000/ws
func NewSession(rawURL string, opts Options) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if opts.Encoding == "" {
		opts.Encoding = types.EncodingJSON
	}
	if opts.Encoding != types.EncodingJSON {
		q := u.Query()
		q.Set("encoding", string(opts.Encoding))
		u.RawQuery = q.Encode()
	}
	opts.setDefaults()

	return &Session{
		url:     u.String(),
		opts:    opts,
		log:     NewLocalLog(),
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		dialer:  websocket.DefaultDialer,
		logger:  opts.Logger,
	}, nil
}

func (o *Options) setDefaults() {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Log - локальная копия истории
func (s *Session) Log() *LocalLog {
	return s.log
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run держит подключение до отмены контекста
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("соединение с сервером потеряно", "url", s.url, "error", err,
			"retry_in", s.opts.ReconnectInterval)
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}

	s.setConn(conn)
	defer s.setConn(nil)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		if err := s.handle(messageType, data); err != nil {
			s.logger.Warn("некорректное сообщение сервера", "error", err)
		}
	}
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(conn != nil)
	}
}

func (s *Session) handle(messageType int, data []byte) error {
	decoder := types.EncodingJSON
	if messageType == websocket.BinaryMessage {
		decoder = types.EncodingMsgpack
	}

	var msg types.ServerMessage
	if err := decoder.Unmarshal(data, &msg); err != nil {
		return err
	}
	return deliver(s.log, &s.opts, msg)
}

// deliver сливает окно истории в журнал и вызывает обработчики
func deliver(log *LocalLog, opts *Options, msg types.ServerMessage) error {
	switch {
	case msg.IsWindow():
		added := log.Merge(msg.Data)
		if len(added) > 0 && opts.OnUpdate != nil {
			opts.OnUpdate(added)
		}
		if msg.Type == types.TypeFullHistory && opts.OnBaseline != nil {
			opts.OnBaseline()
		}
	case msg.Type == types.TypeRejected:
		if opts.OnRejected != nil {
			opts.OnRejected(msg)
		}
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// Submit отправляет выражение; результат придет обновлением истории
func (s *Session) Submit(expression string, mode models.Mode) error {
	msg := types.ClientMessage{
		Type:       types.TypeNewExpression,
		Expression: expression,
		Mode:       string(mode),
	}
	data, err := s.opts.Encoding.Marshal(msg)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if s.opts.Encoding == types.EncodingMsgpack {
		messageType = websocket.BinaryMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(messageType, data)
}
