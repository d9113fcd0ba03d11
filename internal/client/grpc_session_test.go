package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
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

func newGRPCBackend(t *testing.T, queueCapacity int) (*orchestrator.Pipeline, *calcgrpc.HistoryClient) {
	t.Helper()

	log, err := database.OpenBadger("", logging.Discard())
	require.NoError(t, err)

	eval := orchestrator.EvaluatorFunc(func(_ context.Context, expr string, mode models.Mode) (string, error) {
		res, err := calculator.Calc(expr, mode)
		if err != nil {
			return "", &evaluator.Error{Kind: evaluator.KindFailed, Message: err.Error()}
		}
		return res, nil
	})
	p := orchestrator.New(eval, log, orchestrator.Options{
		Workers:       1,
		QueueCapacity: queueCapacity,
		Logger:        logging.Discard(),
	})
	require.NoError(t, p.Start(context.Background()))

	lis := bufconn.Listen(1024 * 1024)
	srv := calcgrpc.NewServer(calcgrpc.NewHistoryServer(p, logging.Discard()))
	go func() { _ = srv.Serve(lis) }()

	c, err := calcgrpc.NewHistoryClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p, c
}

func TestGRPCSessionMergesUpdates(t *testing.T) {
	_, c := newGRPCBackend(t, 10)

	baseline := make(chan struct{}, 1)
	s := NewGRPCSession(c, Options{
		ReconnectInterval: 10 * time.Millisecond,
		Logger:            logging.Discard(),
		OnBaseline: func() {
			select {
			case baseline <- struct{}{}:
			default:
			}
		},
	})
	runSession(t, s)

	select {
	case <-baseline:
	case <-time.After(5 * time.Second):
		t.Fatal("базовое окно не получено")
	}

	require.NoError(t, s.Submit("3 + 4", models.ModeInt))
	require.NoError(t, s.Submit("10 / 0", models.ModeInt))

	require.Eventually(t, func() bool { return s.Log().Len() == 2 }, 5*time.Second, 10*time.Millisecond)
	got := s.Log().Entries()
	assert.Equal(t, "7", *got[0].Result)
	assert.Equal(t, "division by zero", *got[1].Error)
	assert.Less(t, got[0].ID, got[1].ID)
}

func TestGRPCSessionRejectionGoesToCallback(t *testing.T) {
	_, c := newGRPCBackend(t, 10)

	var rejected []types.ServerMessage
	s := NewGRPCSession(c, Options{
		Logger:     logging.Discard(),
		OnRejected: func(msg types.ServerMessage) { rejected = append(rejected, msg) },
	})

	require.NoError(t, s.Submit("1+1", models.Mode("hex")))
	require.Len(t, rejected, 1)
	assert.Equal(t, types.CodeInvalidMode, rejected[0].Code)
}
