package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"calcstream/internal/api"
	"calcstream/internal/config"
	"calcstream/internal/evaluator"
	"calcstream/internal/logging"
)

// Сервис без очереди и истории: POST /calc сразу вызывает вычислитель
func main() {
	config.LoadEnvFiles()

	logger, err := logging.New(getEnvOrDefault("LOG_LEVEL", "info"), getEnvOrDefault("LOG_FORMAT", "text"), os.Stderr)
	if err != nil {
		slog.Error("неверные настройки логирования", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	timeout, err := time.ParseDuration(getEnvOrDefault("CALC_EVAL_TIMEOUT", "10s"))
	if err != nil {
		logger.Error("неверное значение CALC_EVAL_TIMEOUT", "error", err)
		os.Exit(1)
	}
	evaluatorPath := getEnvOrDefault("CALC_EVALUATOR_PATH", "./build/evaluator")
	invoker := evaluator.NewInvoker(evaluatorPath, timeout, logging.Component(logger, "evaluator"))

	handler := api.NewCalculatorHandler(api.InvokerCalculator{Evaluator: invoker}, logger)

	r := mux.NewRouter()
	r.Use(api.OriginMiddleware, api.AccessLog(logging.Component(logger, "http")))
	r.HandleFunc("/", api.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/calc", handler.Calculate).Methods(http.MethodPost)

	addr := getEnvOrDefault("CALC_SERVICE_ADDR", ":8082")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("сервер остановлен с ошибкой", "error", err)
		}
	}()

	logger.Info("сервис вычислений запущен", "addr", addr, "evaluator", evaluatorPath)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("ошибка HTTP сервера", "error", err)
		os.Exit(1)
	}
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию, если переменная не найдена
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
