package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"calcstream/internal/types"
)

// Sink - транспорт подписчика (WebSocket, gRPC поток)
type Sink interface {
	Send(msg types.ServerMessage) error
	Close() error
}

type SubscriberState int

const (
	Connecting SubscriberState = iota
	Subscribed
	Closed
)

func (s SubscriberState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Subscriber - одно подключение клиента. Сообщения попадают в ограниченный
// буфер и отправляются отдельной горутиной, так что медленный клиент
// не задерживает фиксацию.
type Subscriber struct {
	id     string
	origin string
	sink   Sink
	outbox chan types.ServerMessage
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	state    SubscriberState
	evicted  bool
	sinkOnce sync.Once

	onSendFailure func(*Subscriber, error)
}

func newSubscriber(origin string, sink Sink, buffer int, logger *slog.Logger) *Subscriber {
	id := uuid.New().String()
	return &Subscriber{
		id:     id,
		origin: origin,
		sink:   sink,
		outbox: make(chan types.ServerMessage, buffer),
		done:   make(chan struct{}),
		logger: logger.With("subscriber", id, "origin", origin),
		state:  Connecting,
	}
}

func (s *Subscriber) ID() string     { return s.id }
func (s *Subscriber) Origin() string { return s.origin }

func (s *Subscriber) State() SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done закрывается, когда горутина отправки завершилась и транспорт закрыт
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// enqueue ставит сообщение в буфер без ожидания; false при переполнении или после закрытия
func (s *Subscriber) enqueue(msg types.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return false
	}
	select {
	case s.outbox <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) markSubscribed() {
	s.mu.Lock()
	if s.state == Connecting {
		s.state = Subscribed
	}
	s.mu.Unlock()
}

// close переводит подписчика в Closed. При вытеснении транспорт закрывается
// сразу, чтобы прервать зависшую отправку, а оставшиеся сообщения
// отбрасываются. Иначе горутина отправки дописывает буфер.
func (s *Subscriber) close(evicted bool) bool {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return false
	}
	s.state = Closed
	s.evicted = evicted
	close(s.outbox)
	s.mu.Unlock()

	if evicted {
		s.closeSink()
	}
	return true
}

func (s *Subscriber) closeSink() {
	s.sinkOnce.Do(func() {
		if err := s.sink.Close(); err != nil {
			s.logger.Debug("ошибка закрытия транспорта подписчика", "error", err)
		}
	})
}

// Evicted сообщает, был ли подписчик вытеснен конвейером
func (s *Subscriber) Evicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *Subscriber) writeLoop() {
	defer close(s.done)
	defer s.closeSink()

	for msg := range s.outbox {
		if s.Evicted() {
			return
		}
		if err := s.sink.Send(msg); err != nil {
			if !s.Evicted() && s.onSendFailure != nil {
				s.onSendFailure(s, err)
			}
			return
		}
	}
}
