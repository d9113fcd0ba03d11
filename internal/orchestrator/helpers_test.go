package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"calcstream/internal/calculator"
	"calcstream/internal/evaluator"
	"calcstream/internal/logging"
	"calcstream/internal/models"
	"calcstream/internal/observability"
	"calcstream/internal/types"
)

var errDiskFull = errors.New("disk full")

// memLog - журнал в памяти с возможностью имитировать сбой записи
type memLog struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	nextID  int64
	fail    bool
	closed  bool
}

func (l *memLog) Append(_ context.Context, entry models.HistoryEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return 0, errDiskFull
	}
	l.nextID++
	entry.ID = l.nextID
	l.entries = append(l.entries, entry)
	return entry.ID, nil
}

func (l *memLog) Recent(_ context.Context, n int) ([]models.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.HistoryEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out, nil
}

func (l *memLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *memLog) setFail(fail bool) {
	l.mu.Lock()
	l.fail = fail
	l.mu.Unlock()
}

func (l *memLog) all() []models.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.HistoryEntry(nil), l.entries...)
}

func (l *memLog) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// recordingSink запоминает отправленные сообщения
type recordingSink struct {
	mu      sync.Mutex
	msgs    []types.ServerMessage
	sendErr error
	gate    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{closed: make(chan struct{})}
}

func (s *recordingSink) Send(msg types.ServerMessage) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.closed:
			return errors.New("sink closed")
		}
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *recordingSink) messages() []types.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ServerMessage(nil), s.msgs...)
}

func (s *recordingSink) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// calcEvaluator вычисляет выражения в процессе, как это делал бы внешний вычислитель
func calcEvaluator() Evaluator {
	return EvaluatorFunc(func(_ context.Context, expr string, mode models.Mode) (string, error) {
		res, err := calculator.Calc(expr, mode)
		if err != nil {
			return "", &evaluator.Error{Kind: evaluator.KindFailed, Message: err.Error()}
		}
		return res, nil
	})
}

func testOptions() Options {
	return Options{
		Workers:          4,
		QueueCapacity:    100,
		HistoryWindow:    100,
		SubscriberBuffer: 64,
		Logger:           logging.Discard(),
		Metrics:          observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func startPipeline(t *testing.T, eval Evaluator, log HistoryLog, opts Options) *Pipeline {
	t.Helper()
	p := New(eval, log, opts)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p
}

func entryIDs(entries []models.HistoryEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

const waitTimeout = 5 * time.Second
const tick = 5 * time.Millisecond
