package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"calcstream/internal/calculator"
	"calcstream/internal/database"
	"calcstream/internal/evaluator"
	calcgrpc "calcstream/internal/grpc"
	"calcstream/internal/logging"
	"calcstream/internal/models"
	"calcstream/internal/orchestrator"
	"calcstream/internal/types"
)

const bufSize = 1024 * 1024

func calcEvaluator() orchestrator.Evaluator {
	return orchestrator.EvaluatorFunc(func(_ context.Context, expr string, mode models.Mode) (string, error) {
		res, err := calculator.Calc(expr, mode)
		if err != nil {
			return "", &evaluator.Error{Kind: evaluator.KindFailed, Message: err.Error()}
		}
		return res, nil
	})
}

func startPipeline(t *testing.T) *orchestrator.Pipeline {
	t.Helper()

	log, err := database.OpenBadger("", logging.Discard())
	require.NoError(t, err)

	p := orchestrator.New(calcEvaluator(), log, orchestrator.Options{
		Workers:       2,
		QueueCapacity: 10,
		HistoryWindow: 100,
		Logger:        logging.Discard(),
	})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p
}

// setupGRPCServer поднимает сервис поверх bufconn и возвращает клиента
func setupGRPCServer(t *testing.T, pipeline calcgrpc.Pipeline) *calcgrpc.HistoryClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := calcgrpc.NewServer(calcgrpc.NewHistoryServer(pipeline, logging.Discard()))
	go func() {
		_ = srv.Serve(lis)
	}()

	client, err := calcgrpc.NewHistoryClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		srv.Stop()
		lis.Close()
	})
	return client
}

func recv(t *testing.T, sub *calcgrpc.Subscription) types.ServerMessage {
	t.Helper()

	type result struct {
		msg types.ServerMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := sub.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(5 * time.Second):
		t.Fatal("сообщение не получено")
		return types.ServerMessage{}
	}
}

func TestGRPCSubmitAndSubscribe(t *testing.T) {
	client := setupGRPCServer(t, startPipeline(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)

	baseline := recv(t, sub)
	assert.Equal(t, types.TypeFullHistory, baseline.Type)
	assert.Empty(t, baseline.Data)

	require.NoError(t, client.Submit(ctx, "2+2*2", models.ModeInt))

	update := recv(t, sub)
	require.Equal(t, types.TypeHistoryUpdate, update.Type)
	require.Len(t, update.Data, 1)
	entry := update.Data[0]
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, "2+2*2", entry.Expression)
	require.NotNil(t, entry.Result)
	assert.Equal(t, "6", *entry.Result)

	require.NoError(t, client.Submit(ctx, "1/0", models.ModeInt))
	update = recv(t, sub)
	require.Len(t, update.Data, 2)
	failed := update.Data[1]
	assert.Nil(t, failed.Result)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "division by zero")
}

func TestGRPCSubscribeReceivesExistingHistory(t *testing.T) {
	p := startPipeline(t)
	client := setupGRPCServer(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	completion, err := p.SubmitAndWait(ctx, "test", "1.5*2", models.ModeFloat)
	require.NoError(t, err)
	require.NoError(t, completion.Err)

	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)

	baseline := recv(t, sub)
	assert.Equal(t, types.TypeFullHistory, baseline.Type)
	require.Len(t, baseline.Data, 1)
	assert.Equal(t, "3.0000", *baseline.Data[0].Result)
	assert.Equal(t, models.ModeFloat, baseline.Data[0].Mode)
}

// stubPipeline возвращает заданную ошибку и запоминает источник
type stubPipeline struct {
	err    error
	origin string
}

func (s *stubPipeline) Submit(origin, _ string, _ models.Mode) error {
	s.origin = origin
	return s.err
}

func (s *stubPipeline) Subscribe(string, orchestrator.Sink) (*orchestrator.Subscriber, error) {
	return nil, orchestrator.ErrPipelineClosed
}

func (s *stubPipeline) Unsubscribe(*orchestrator.Subscriber) {}

func TestGRPCSubmitErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"Очередь заполнена", orchestrator.ErrQueueFull, codes.ResourceExhausted},
		{"Неизвестный режим", models.ErrInvalidMode, codes.InvalidArgument},
		{"Остановка сервера", orchestrator.ErrPipelineClosed, codes.Unavailable},
		{"Прочая ошибка", assert.AnError, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupGRPCServer(t, &stubPipeline{err: tt.err})

			err := client.Submit(context.Background(), "1+1", models.ModeInt)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGRPCSubmitUsesPeerAddress(t *testing.T) {
	stub := &stubPipeline{}
	client := setupGRPCServer(t, stub)

	require.NoError(t, client.Submit(context.Background(), "1+1", models.ModeInt))
	assert.Equal(t, "bufconn", stub.origin)
}

func TestGRPCInvalidModeAgainstPipeline(t *testing.T) {
	client := setupGRPCServer(t, startPipeline(t))

	err := client.Submit(context.Background(), "1+1", models.Mode("hex"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCSubscribeRejectedWhenClosed(t *testing.T) {
	client := setupGRPCServer(t, &stubPipeline{})

	sub, err := client.Subscribe(context.Background())
	require.NoError(t, err)

	_, err = sub.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPCShutdownEndsStream(t *testing.T) {
	p := startPipeline(t)
	client := setupGRPCServer(t, p)

	sub, err := client.Subscribe(context.Background())
	require.NoError(t, err)
	recv(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	_, err = sub.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))

	err = client.Submit(context.Background(), "1+1", models.ModeInt)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPCClientDisconnectUnsubscribes(t *testing.T) {
	p := startPipeline(t)
	client := setupGRPCServer(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)
	recv(t, sub)
	assert.Equal(t, 1, p.Subscribers())

	cancel()
	assert.Eventually(t, func() bool { return p.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}
