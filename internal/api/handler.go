package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"calcstream/internal/evaluator"
	"calcstream/internal/models"
	"calcstream/internal/orchestrator"
)

// Calculator вычисляет одно выражение для POST /calc. Ошибка *evaluator.Error
// означает неудачное вычисление, прочие ошибки относятся к приему или хранению.
type Calculator interface {
	Calculate(ctx context.Context, origin, expression string, mode models.Mode) (string, error)
}

// CalculatorHandler обслуживает POST /calc?float=<bool>: тело - строка JSON
// с выражением, ответ - строка JSON с результатом или ошибкой.
type CalculatorHandler struct {
	calc   Calculator
	logger *slog.Logger
}

func NewCalculatorHandler(calc Calculator, logger *slog.Logger) *CalculatorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalculatorHandler{calc: calc, logger: logger}
}

const maxBodySize = 64 << 10

func (h *CalculatorHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	isFloat := false
	if v := r.URL.Query().Get("float"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "float must be a boolean")
			return
		}
		isFloat = parsed
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var expression string
	if err := json.Unmarshal(body, &expression); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Request body must be a JSON string")
		return
	}
	// Пустое выражение передается вычислителю, как и по WebSocket и gRPC:
	// его ошибка фиксируется в журнале наравне с прочими.
	result, err := h.calc.Calculate(r.Context(), GetOriginFromContext(r.Context()), expression, models.ModeFromFloat(isFloat))
	if err != nil {
		status, message := h.errorStatus(err)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		sendJSONError(w, status, message)
		return
	}

	sendJSON(w, http.StatusOK, result)
}

func (h *CalculatorHandler) errorStatus(err error) (int, string) {
	var evalErr *evaluator.Error
	var persistErr *orchestrator.PersistenceError

	switch {
	case errors.As(err, &evalErr) && evalErr.Kind == evaluator.KindTimeout:
		return http.StatusGatewayTimeout, evalErr.Message
	case errors.As(err, &evalErr):
		return http.StatusUnprocessableEntity, evalErr.Message
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable, "Queue is full, retry later"
	case errors.Is(err, orchestrator.ErrPipelineClosed):
		return http.StatusServiceUnavailable, "Server is shutting down"
	case errors.Is(err, models.ErrInvalidMode):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &persistErr):
		h.logger.Error("результат не сохранен", "error", err)
		return http.StatusInternalServerError, "Result could not be stored"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		h.logger.Error("внутренняя ошибка вычисления", "error", err)
		return http.StatusInternalServerError, "Internal server error"
	}
}

// HealthHandler отвечает на GET /
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, "ok")
}

// PipelineCalculator проводит запрос через очередь конвейера: результат
// фиксируется в журнале и рассылается подписчикам, как любая другая задача
type PipelineCalculator struct {
	Pipeline *orchestrator.Pipeline
}

func (c PipelineCalculator) Calculate(ctx context.Context, origin, expression string, mode models.Mode) (string, error) {
	completion, err := c.Pipeline.SubmitAndWait(ctx, origin, expression, mode)
	if err != nil {
		return "", err
	}
	entry := completion.Entry
	if entry.Error != nil {
		kind := evaluator.KindFailed
		if completion.TimedOut {
			kind = evaluator.KindTimeout
		}
		return "", &evaluator.Error{Kind: kind, Message: *entry.Error}
	}
	return *entry.Result, nil
}

// InvokerCalculator вызывает вычислитель напрямую, без очереди и журнала
type InvokerCalculator struct {
	Evaluator orchestrator.Evaluator
}

func (c InvokerCalculator) Calculate(ctx context.Context, _ string, expression string, mode models.Mode) (string, error) {
	return c.Evaluator.Evaluate(ctx, expression, mode)
}
