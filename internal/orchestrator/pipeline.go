package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"calcstream/internal/evaluator"
	"calcstream/internal/history"
	"calcstream/internal/models"
	"calcstream/internal/observability"
	"calcstream/internal/types"
)

const (
	DefaultWorkers          = 10
	DefaultSubscriberBuffer = 64
)

// Evaluator вычисляет выражение. Ошибка типа *evaluator.Error становится
// записью журнала, любая другая считается внутренней и задача отбрасывается.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, mode models.Mode) (string, error)
}

// EvaluatorFunc позволяет использовать функцию как Evaluator
type EvaluatorFunc func(ctx context.Context, expression string, mode models.Mode) (string, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, expression string, mode models.Mode) (string, error) {
	return f(ctx, expression, mode)
}

// HistoryLog - долговременный журнал
type HistoryLog interface {
	Append(ctx context.Context, entry models.HistoryEntry) (int64, error)
	Recent(ctx context.Context, n int) ([]models.HistoryEntry, error)
	Close() error
}

type Options struct {
	// Workers - число разрешений: столько задач вычисляется одновременно
	Workers          int
	QueueCapacity    int
	HistoryWindow    int
	SubscriberBuffer int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Now используется для меток времени записей; по умолчанию time.Now
	Now func() time.Time
}

// Pipeline принимает задачи в очередь, вычисляет их пулом воркеров,
// фиксирует результаты в журнале в порядке извлечения и рассылает
// окно истории всем подписчикам.
type Pipeline struct {
	eval  Evaluator
	log   HistoryLog
	cache *history.Cache
	queue *taskQueue
	turns *turnstile
	sem   *semaphore.Weighted
	hub   *broadcaster

	// commitMu охватывает запись в журнал, добавление в кэш и рассылку,
	// а также регистрацию подписчиков
	commitMu sync.Mutex
	lastTS   time.Time

	workers   int
	window    int
	subBuffer int
	now       func() time.Time
	logger    *slog.Logger
	metrics   *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(eval Evaluator, log HistoryLog, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = history.DefaultWindow
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With("component", "pipeline")
	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		eval:      eval,
		log:       log,
		cache:     history.NewCache(opts.HistoryWindow),
		queue:     newTaskQueue(opts.QueueCapacity),
		turns:     newTurnstile(),
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		hub:       newBroadcaster(logger, opts.Metrics),
		workers:   opts.Workers,
		window:    opts.HistoryWindow,
		subBuffer: opts.SubscriberBuffer,
		now:       opts.Now,
		logger:    logger,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start восстанавливает кэш из хвоста журнала и запускает воркеров
func (p *Pipeline) Start(ctx context.Context) error {
	var err error
	p.startOnce.Do(func() {
		var recent []models.HistoryEntry
		recent, err = p.log.Recent(ctx, p.window)
		if err != nil {
			err = fmt.Errorf("ошибка восстановления истории из журнала: %w", err)
			return
		}
		p.cache.Load(recent)
		if n := len(recent); n > 0 {
			p.lastTS = recent[n-1].Timestamp
		}
		p.logger.Info("конвейер запущен", "workers", p.workers, "restored", len(recent), "last_id", p.cache.LastID())

		p.wg.Add(1)
		go p.dispatch()
	})
	return err
}

// Submit ставит задачу в очередь без ожидания результата
func (p *Pipeline) Submit(origin, expression string, mode models.Mode) error {
	return p.enqueue(models.PendingTask{Origin: origin, Expression: expression, Mode: mode})
}

// SubmitAndWait ставит задачу в очередь и ждет ее фиксации.
// Задача остается в очереди, даже если ctx отменен раньше.
func (p *Pipeline) SubmitAndWait(ctx context.Context, origin, expression string, mode models.Mode) (models.Completion, error) {
	done := make(chan models.Completion, 1)
	task := models.PendingTask{Origin: origin, Expression: expression, Mode: mode, Done: done}
	if err := p.enqueue(task); err != nil {
		return models.Completion{}, err
	}

	select {
	case c := <-done:
		return c, c.Err
	case <-ctx.Done():
		return models.Completion{}, ctx.Err()
	}
}

func (p *Pipeline) enqueue(task models.PendingTask) error {
	mode, err := models.ParseMode(string(task.Mode))
	if err != nil {
		return err
	}
	task.Mode = mode

	err = p.queue.Push(task)
	switch {
	case err == nil:
		p.metrics.Submissions.WithLabelValues(observability.SubmitAccepted).Inc()
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	case errors.Is(err, ErrQueueFull):
		p.metrics.Submissions.WithLabelValues(observability.SubmitQueueFull).Inc()
		p.logger.Warn("очередь заполнена, задача отклонена", "origin", task.Origin, "expression", task.Expression)
	case errors.Is(err, ErrPipelineClosed):
		p.metrics.Submissions.WithLabelValues(observability.SubmitClosed).Inc()
	}
	return err
}

// Subscribe регистрирует подписчика. Базовое сообщение full_history ставится
// в его буфер под той же блокировкой, что и фиксация, поэтому ни одно
// обновление не теряется и не приходит раньше базового окна.
func (p *Pipeline) Subscribe(origin string, sink Sink) (*Subscriber, error) {
	sub := newSubscriber(origin, sink, p.subBuffer, p.logger)

	p.commitMu.Lock()
	err := p.hub.add(sub, types.FullHistory(p.cache.Snapshot(p.window)))
	p.commitMu.Unlock()
	if err != nil {
		return nil, err
	}

	sub.logger.Info("подписчик подключен")
	return sub, nil
}

// Unsubscribe отключает подписчика; повторный вызов безопасен
func (p *Pipeline) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	p.hub.remove(sub)
	sub.logger.Info("подписчик отключен")
}

// Notify отправляет сообщение одному подписчику (например, отказ в приеме задачи)
func (p *Pipeline) Notify(sub *Subscriber, msg types.ServerMessage) bool {
	return p.hub.send(sub, msg)
}

// History возвращает текущее окно истории
func (p *Pipeline) History() []models.HistoryEntry {
	return p.cache.Snapshot(p.window)
}

func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

func (p *Pipeline) Subscribers() int {
	return p.hub.Len()
}

// dispatch извлекает задачи по одной, только получив разрешение семафора.
// Разрешение освобождается после фиксации задачи, поэтому одновременно
// выполняется не больше p.workers задач.
func (p *Pipeline) dispatch() {
	defer p.wg.Done()

	for {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		if p.ctx.Err() != nil {
			p.sem.Release(1)
			return
		}
		task, ok := p.queue.Pop(p.ctx)
		if !ok {
			p.sem.Release(1)
			p.logger.Debug("очередь закрыта, прием задач завершен")
			return
		}
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
		p.metrics.BusyWorkers.Inc()

		p.wg.Add(1)
		go p.process(task)
	}
}

func (p *Pipeline) process(task models.PendingTask) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer p.metrics.BusyWorkers.Dec()

	p.handle(p.logger, task)
}

func (p *Pipeline) handle(logger *slog.Logger, task models.PendingTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("паника при фиксации задачи, задача отброшена", "seq", task.Seq, "panic", r)
			complete(task, models.Completion{Err: fmt.Errorf("internal error: %v", r)})
		}
	}()

	outcome, err := p.evaluateSafely(task)

	p.turns.wait(task.Seq)
	defer p.turns.done(task.Seq)

	if err != nil {
		p.metrics.Evaluations.WithLabelValues(observability.OutcomeInternal).Inc()
		logger.Error("внутренняя ошибка вычисления, задача отброшена",
			"seq", task.Seq, "expression", task.Expression, "origin", task.Origin, "error", err)
		complete(task, models.Completion{Err: err})
		return
	}

	entry, err := p.commit(task, outcome)
	complete(task, models.Completion{Entry: entry, TimedOut: outcome.TimedOut, Err: err})
}

func (p *Pipeline) evaluateSafely(task models.PendingTask) (outcome models.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	start := time.Now()
	result, evalErr := p.eval.Evaluate(p.ctx, task.Expression, task.Mode)
	p.metrics.EvalDuration.Observe(time.Since(start).Seconds())

	var failure *evaluator.Error
	switch {
	case evalErr == nil:
		p.metrics.Evaluations.WithLabelValues(observability.OutcomeSuccess).Inc()
		return models.Success(result), nil
	case errors.As(evalErr, &failure) && failure.Kind == evaluator.KindTimeout:
		p.metrics.Evaluations.WithLabelValues(observability.OutcomeTimeout).Inc()
		return models.Timeout(failure.Message), nil
	case errors.As(evalErr, &failure):
		p.metrics.Evaluations.WithLabelValues(observability.OutcomeFailed).Inc()
		return models.Failure(failure.Message), nil
	default:
		return models.Outcome{}, evalErr
	}
}

// commit записывает итог в журнал, добавляет запись в кэш и рассылает окно.
// При ошибке записи кэш и подписчики не затрагиваются.
func (p *Pipeline) commit(task models.PendingTask, outcome models.Outcome) (models.HistoryEntry, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	ts := p.now()
	if ts.Before(p.lastTS) {
		ts = p.lastTS
	}
	entry := models.NewEntry(task, outcome, ts)

	id, err := p.log.Append(context.WithoutCancel(p.ctx), entry)
	if err != nil {
		p.metrics.PersistenceFailures.Inc()
		p.logger.Error("ошибка записи в журнал, результат потерян",
			"expression", task.Expression, "origin", task.Origin, "error", err)
		return entry, &PersistenceError{Err: err}
	}
	entry.ID = id
	p.lastTS = ts

	p.cache.Append(entry)
	p.hub.Broadcast(types.HistoryUpdate(p.cache.Snapshot(p.window)))
	p.metrics.Commits.Inc()

	p.logger.Debug("запись зафиксирована", "id", id, "seq", task.Seq, "failed", outcome.Failed)
	return entry, nil
}

func complete(task models.PendingTask, c models.Completion) {
	if task.Done == nil {
		return
	}
	select {
	case task.Done <- c:
	default:
	}
}

// Shutdown прекращает прием задач, дожидается обработки очереди,
// отключает подписчиков и закрывает журнал. Если ctx истекает раньше,
// текущие вычисления отменяются, а оставшиеся задачи отбрасываются.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.queue.Close()

		drained := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			p.logger.Warn("таймаут остановки, текущие вычисления отменяются", "queued", p.queue.Len())
			p.cancel()
			<-drained
			p.shutdownErr = ctx.Err()
		}
		p.cancel()

		for _, task := range p.queue.Drain() {
			complete(task, models.Completion{Err: ErrPipelineClosed})
		}

		p.commitMu.Lock()
		p.hub.closeAll(ctx)
		p.commitMu.Unlock()

		if err := p.log.Close(); err != nil {
			p.logger.Error("ошибка закрытия журнала", "error", err)
			if p.shutdownErr == nil {
				p.shutdownErr = fmt.Errorf("ошибка закрытия журнала: %w", err)
			}
		}
		p.logger.Info("конвейер остановлен")
	})
	return p.shutdownErr
}
