package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull - очередь заполнена, задача не принята
	ErrQueueFull = errors.New("queue full")
	// ErrPipelineClosed - конвейер останавливается и не принимает задачи
	ErrPipelineClosed = errors.New("pipeline closed")
	// ErrSubscriberEvicted - подписчик удален после ошибки отправки или переполнения буфера
	ErrSubscriberEvicted = errors.New("subscriber evicted")
)

// PersistenceError - запись в журнал не удалась, результат не попал в историю
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
