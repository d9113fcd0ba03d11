package orchestrator

import "sync"

// turnstile пропускает фиксацию задач строго в порядке извлечения из очереди.
// Вычисления идут параллельно, но задача с Seq=n фиксируется только после n-1.
type turnstile struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
}

func newTurnstile() *turnstile {
	t := &turnstile{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// wait блокирует до наступления очереди seq
func (t *turnstile) wait(seq uint64) {
	t.mu.Lock()
	for t.next != seq {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

// done передает очередь следующему. Вызывается ровно один раз для каждого seq.
func (t *turnstile) done(seq uint64) {
	t.mu.Lock()
	if t.next == seq {
		t.next++
	}
	t.mu.Unlock()
	t.cond.Broadcast()
}
