package orchestrator

import (
	"context"
	"sync"

	"calcstream/internal/models"
)

const DefaultQueueCapacity = 1000

// taskQueue - ограниченная FIFO очередь задач. Переполнение не блокирует
// отправителя: задача отклоняется с ErrQueueFull.
type taskQueue struct {
	mu       sync.Mutex
	items    []models.PendingTask
	capacity int
	nextSeq  uint64
	closed   bool
	signal   chan struct{}
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &taskQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

func (q *taskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Push добавляет задачу в хвост очереди
func (q *taskQueue) Push(task models.PendingTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrPipelineClosed
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, task)
	q.notify()
	return nil
}

func (q *taskQueue) tryPop() (models.PendingTask, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			// Будим следующего ожидающего, чтобы и он увидел закрытие
			q.notify()
		}
		return models.PendingTask{}, false, q.closed
	}
	task := q.items[0]
	q.items[0] = models.PendingTask{}
	q.items = q.items[1:]
	task.Seq = q.nextSeq
	q.nextSeq++
	if len(q.items) > 0 || q.closed {
		q.notify()
	}
	return task, true, q.closed
}

// Pop извлекает задачу из головы очереди, ожидая ее появления.
// Номер Seq назначается в момент извлечения и задает порядок фиксации.
// Возвращает false, если очередь закрыта и пуста или отменен ctx.
func (q *taskQueue) Pop(ctx context.Context) (models.PendingTask, bool) {
	for {
		task, ok, closed := q.tryPop()
		if ok {
			return task, true
		}
		if closed {
			return models.PendingTask{}, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return models.PendingTask{}, false
		}
	}
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close запрещает новые задачи; оставшиеся задачи по-прежнему извлекаются
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notify()
}

// Drain удаляет все оставшиеся задачи и возвращает их
func (q *taskQueue) Drain() []models.PendingTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
