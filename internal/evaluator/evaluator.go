// Package evaluator запускает внешний вычислитель выражений:
// `<path> <int|float> <expression>`, результат в stdout, ошибка в stderr.
package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"calcstream/internal/models"
)

const (
	DefaultTimeout = 10 * time.Second

	TimeoutMessage = "Calculation timeout"
	genericFailure = "evaluation failed"
)

type Kind int

const (
	KindFailed Kind = iota
	KindTimeout
)

func (k Kind) String() string {
	if k == KindTimeout {
		return "timeout"
	}
	return "failed"
}

// Error - ошибка вычисления, которая попадает в журнал как запись с error.
// Все прочие ошибки Evaluate внутренние: задача не фиксируется.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsTimeout сообщает, что вычисление прервано по таймауту
func IsTimeout(err error) bool {
	var evalErr *Error
	return errors.As(err, &evalErr) && evalErr.Kind == KindTimeout
}

// Invoker запускает вычислитель с жестким ограничением времени
type Invoker struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

func NewInvoker(path string, timeout time.Duration, logger *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{path: path, timeout: timeout, logger: logger}
}

// Evaluate вычисляет выражение. Выражение передается как есть, без проверки.
func (inv *Invoker) Evaluate(ctx context.Context, expression string, mode models.Mode) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, inv.path, string(mode), expression)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	// Потомки вычислителя могут удерживать stdout после kill
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		inv.logger.Warn("вычисление прервано по таймауту", "expression", expression, "timeout", inv.timeout)
		return "", &Error{Kind: KindTimeout, Message: TimeoutMessage}
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("evaluation cancelled: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &Error{Kind: KindFailed, Message: failureMessage(stderr.String())}
		}
		return "", fmt.Errorf("ошибка запуска вычислителя %s: %w", inv.path, err)
	}

	result := strings.TrimSpace(stdout.String())
	if result == "" {
		return "", &Error{Kind: KindFailed, Message: failureMessage(stderr.String())}
	}
	return result, nil
}

func failureMessage(stderr string) string {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	return genericFailure
}
