package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode определяет режим вычисления, передаваемый внешнему вычислителю
type Mode string

const (
	ModeInt   Mode = "int"
	ModeFloat Mode = "float"
)

var ErrInvalidMode = errors.New("invalid mode")

// ParseMode разбирает режим; пустая строка означает int, как у исходного сервера
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeInt:
		return ModeInt, nil
	case ModeFloat:
		return ModeFloat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ModeFromFloat переводит флаг ?float=<bool> в режим
func ModeFromFloat(isFloat bool) Mode {
	if isFloat {
		return ModeFloat
	}
	return ModeInt
}

// HistoryEntry - неизменяемая запись журнала вычислений.
// Ровно одно из полей Result/Error заполнено.
type HistoryEntry struct {
	ID         int64     `json:"id" msgpack:"id"`
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
	Expression string    `json:"expression" msgpack:"expression"`
	Mode       Mode      `json:"mode" msgpack:"mode"`
	Result     *string   `json:"result,omitempty" msgpack:"result,omitempty"`
	Error      *string   `json:"error,omitempty" msgpack:"error,omitempty"`
	Origin     string    `json:"-" msgpack:"-"` // Только для аудита, клиентам не отправляется
}

// Succeeded сообщает, завершилось ли вычисление результатом
func (e HistoryEntry) Succeeded() bool {
	return e.Result != nil
}

// Outcome - итог вычисления до записи в журнал
type Outcome struct {
	Result   string
	Error    string
	Failed   bool
	TimedOut bool
}

func Success(result string) Outcome {
	return Outcome{Result: result}
}

func Failure(message string) Outcome {
	return Outcome{Error: message, Failed: true}
}

// Timeout - вычисление прервано по таймауту; это тоже окончательная запись журнала
func Timeout(message string) Outcome {
	return Outcome{Error: message, Failed: true, TimedOut: true}
}

// NewEntry собирает запись без ID: ID назначает журнал при вставке
func NewEntry(task PendingTask, outcome Outcome, ts time.Time) HistoryEntry {
	entry := HistoryEntry{
		Timestamp:  ts,
		Expression: task.Expression,
		Mode:       task.Mode,
		Origin:     task.Origin,
	}
	if outcome.Failed {
		msg := outcome.Error
		entry.Error = &msg
	} else {
		res := outcome.Result
		entry.Result = &res
	}
	return entry
}

// Completion доставляется ожидающему отправителю после фиксации задачи
type Completion struct {
	Entry    HistoryEntry
	TimedOut bool
	Err      error
}

// PendingTask - задача в очереди. Seq назначается очередью при извлечении
// и задает порядок фиксации.
type PendingTask struct {
	Origin     string
	Expression string
	Mode       Mode

	Seq  uint64
	Done chan Completion
}

// HistoryList - ответ GET /history
type HistoryList struct {
	Data []HistoryEntry `json:"data"`
}
