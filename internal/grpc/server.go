package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"calcstream/internal/models"
	"calcstream/internal/orchestrator"
	"calcstream/internal/types"
)

const evictionGrace = 5 * time.Second

// Pipeline - операции конвейера, которые использует сервис
type Pipeline interface {
	Submit(origin, expression string, mode models.Mode) error
	Subscribe(origin string, sink orchestrator.Sink) (*orchestrator.Subscriber, error)
	Unsubscribe(sub *orchestrator.Subscriber)
}

// HistoryServer реализует gRPC сервис истории поверх конвейера
type HistoryServer struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewHistoryServer создает новый экземпляр gRPC сервиса
func NewHistoryServer(pipeline Pipeline, logger *slog.Logger) *HistoryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryServer{
		pipeline: pipeline,
		logger:   logger,
	}
}

// Submit ставит выражение в очередь; результат придет подписчикам
func (s *HistoryServer) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	origin := peerOrigin(ctx)

	err := s.pipeline.Submit(origin, req.Expression, models.Mode(req.Mode))
	switch {
	case err == nil:
		s.logger.Debug("выражение принято", "origin", origin, "expression", req.Expression)
		return &SubmitResponse{Accepted: true}, nil
	case errors.Is(err, orchestrator.ErrQueueFull):
		return nil, status.Error(codes.ResourceExhausted, "queue is full, retry later")
	case errors.Is(err, models.ErrInvalidMode):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, orchestrator.ErrPipelineClosed):
		return nil, status.Error(codes.Unavailable, "server is shutting down")
	default:
		s.logger.Error("ошибка приема задачи", "origin", origin, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// Subscribe отправляет текущее окно истории, затем обновления,
// пока клиент не отключится или конвейер не закроет подписку.
func (s *HistoryServer) Subscribe(_ *SubscribeRequest, stream HistorySubscribeStream) error {
	ctx := stream.Context()
	origin := peerOrigin(ctx)
	sink := newStreamSink(stream)

	sub, err := s.pipeline.Subscribe(origin, sink)
	if err != nil {
		return status.Error(codes.Unavailable, "server is shutting down")
	}
	s.logger.Info("подписчик подключен", "origin", origin, "subscriber", sub.ID())

	select {
	case <-ctx.Done():
		s.pipeline.Unsubscribe(sub)
		// Отправка в завершенный поток сразу возвращает ошибку
		<-sub.Done()
		s.logger.Info("подписчик отключился", "subscriber", sub.ID())
		return status.FromContextError(ctx.Err()).Err()
	case <-sink.closed:
	}

	// Вытесненный подписчик может еще находиться внутри Send. Поток нельзя
	// использовать после выхода из обработчика, поэтому ждем завершения
	// отправки; по истечении evictionGrace выход отменит поток и прервет ее.
	select {
	case <-sub.Done():
	case <-time.After(evictionGrace):
		s.logger.Warn("отправка вытесненному подписчику не завершилась", "subscriber", sub.ID())
	}

	if sub.Evicted() {
		return status.Error(codes.Aborted, "subscriber evicted")
	}
	return status.Error(codes.Unavailable, "server is shutting down")
}

var errSinkClosed = errors.New("subscription stream closed")

// streamSink - транспорт подписчика поверх серверного потока.
// Close освобождает обработчик Subscribe, после чего gRPC завершает поток.
type streamSink struct {
	stream HistorySubscribeStream
	closed chan struct{}
	once   sync.Once
}

func newStreamSink(stream HistorySubscribeStream) *streamSink {
	return &streamSink{stream: stream, closed: make(chan struct{})}
}

func (s *streamSink) Send(msg types.ServerMessage) error {
	select {
	case <-s.closed:
		return errSinkClosed
	default:
	}
	return s.stream.Send(&msg)
}

func (s *streamSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func peerOrigin(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// ServerOptions - настройки keepalive и размеров сообщений
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(16 * 1024 * 1024), // 16MB
		grpc.MaxSendMsgSize(16 * 1024 * 1024), // 16MB
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     time.Minute,
			MaxConnectionAge:      5 * time.Minute,
			MaxConnectionAgeGrace: 20 * time.Second,
			Time:                  20 * time.Second,
			Timeout:               10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// NewServer создает gRPC сервер с зарегистрированным сервисом истории
func NewServer(service HistoryService, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(append(ServerOptions(), opts...)...)
	RegisterHistoryService(s, service)
	return s
}

// StartServer запускает gRPC сервер на адресе и блокируется до остановки
func StartServer(address string, s *grpc.Server, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	logger.Info("gRPC сервер запущен", "addr", address)
	return s.Serve(lis)
}
