package client

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	calcgrpc "calcstream/internal/grpc"
	"calcstream/internal/models"
	"calcstream/internal/types"
)

const submitTimeout = 10 * time.Second

// GRPCSession - подписка на историю через gRPC с переподключением.
// Отказы в приеме приходят в OnRejected, как и у WebSocket сессии.
type GRPCSession struct {
	client  *calcgrpc.HistoryClient
	opts    Options
	log     *LocalLog
	limiter *rate.Limiter
}

func NewGRPCSession(client *calcgrpc.HistoryClient, opts Options) *GRPCSession {
	opts.setDefaults()
	return &GRPCSession{
		client:  client,
		opts:    opts,
		log:     NewLocalLog(),
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
	}
}

func (s *GRPCSession) Log() *LocalLog {
	return s.log
}

// Run держит поток открытым до отмены контекста
func (s *GRPCSession) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.opts.Logger.Warn("поток истории прерван", "error", err,
			"retry_in", s.opts.ReconnectInterval)
	}
}

func (s *GRPCSession) runOnce(ctx context.Context) error {
	sub, err := s.client.Subscribe(ctx)
	if err != nil {
		return err
	}

	connected := false
	defer func() {
		if connected && s.opts.OnState != nil {
			s.opts.OnState(false)
		}
	}()

	return sub.Each(func(msg types.ServerMessage) {
		if !connected {
			connected = true
			if s.opts.OnState != nil {
				s.opts.OnState(true)
			}
		}
		if err := deliver(s.log, &s.opts, msg); err != nil {
			s.opts.Logger.Warn("некорректное сообщение сервера", "error", err)
		}
	})
}

func (s *GRPCSession) Submit(expression string, mode models.Mode) error {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	err := s.client.Submit(ctx, expression, mode)
	if err == nil {
		return nil
	}

	var code string
	switch status.Code(err) {
	case codes.ResourceExhausted:
		code = types.CodeQueueFull
	case codes.InvalidArgument:
		code = types.CodeInvalidMode
	case codes.Unavailable:
		code = types.CodeShuttingDown
	default:
		return err
	}
	if s.opts.OnRejected != nil {
		s.opts.OnRejected(types.Rejected(code, status.Convert(err).Message()))
	}
	return nil
}
