package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"calcstream/internal/observability"
	"calcstream/internal/types"
)

// broadcaster - реестр подключений. Рассылка не блокируется: подписчик
// с переполненным буфером удаляется, остальные получают сообщение.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool
	wg          sync.WaitGroup

	logger  *slog.Logger
	metrics *observability.Metrics
}

func newBroadcaster(logger *slog.Logger, metrics *observability.Metrics) *broadcaster {
	return &broadcaster{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
		metrics:     metrics,
	}
}

// add регистрирует подписчика и ставит ему базовое сообщение до любых обновлений
func (b *broadcaster) add(sub *Subscriber, baseline types.ServerMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrPipelineClosed
	}
	sub.onSendFailure = b.sendFailed
	if !sub.enqueue(baseline) {
		sub.close(true)
		return ErrSubscriberEvicted
	}
	sub.markSubscribed()
	b.subscribers[sub.id] = sub
	b.metrics.Subscribers.Set(float64(len(b.subscribers)))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.writeLoop()
	}()
	return nil
}

// Broadcast ставит сообщение в буфер каждому подписчику
func (b *broadcaster) Broadcast(msg types.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if sub.enqueue(msg) {
			continue
		}
		delete(b.subscribers, id)
		sub.close(true)
		b.metrics.Evictions.Inc()
		sub.logger.Warn("подписчик удален: буфер отправки переполнен", "error", ErrSubscriberEvicted)
	}
	b.metrics.Subscribers.Set(float64(len(b.subscribers)))
}

// send отправляет сообщение одному подписчику
func (b *broadcaster) send(sub *Subscriber, msg types.ServerMessage) bool {
	if sub.enqueue(msg) {
		return true
	}
	if b.evict(sub) {
		sub.logger.Warn("подписчик удален: буфер отправки переполнен", "error", ErrSubscriberEvicted)
	}
	return false
}

func (b *broadcaster) sendFailed(sub *Subscriber, err error) {
	if b.evict(sub) {
		sub.logger.Warn("подписчик удален: ошибка отправки", "error", err)
	}
}

func (b *broadcaster) evict(sub *Subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub.id] != sub {
		return false
	}
	delete(b.subscribers, sub.id)
	sub.close(true)
	b.metrics.Evictions.Inc()
	b.metrics.Subscribers.Set(float64(len(b.subscribers)))
	return true
}

// remove отключает подписчика по инициативе клиента
func (b *broadcaster) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub.id] == sub {
		delete(b.subscribers, sub.id)
		b.metrics.Subscribers.Set(float64(len(b.subscribers)))
	}
	sub.close(false)
}

func (b *broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// closeAll закрывает всех подписчиков и ждет завершения их горутин отправки
func (b *broadcaster) closeAll(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.close(false)
	}
	b.metrics.Subscribers.Set(0)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("не все подписчики отключились до истечения таймаута")
	}
}
