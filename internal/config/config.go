package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config - настройки сервера конвейера
type Config struct {
	HTTPAddr string `validate:"required"`
	// Пустой адрес отключает gRPC
	GRPCAddr    string
	CORSOrigins []string `validate:"min=1"`

	LogBackend string `validate:"oneof=sqlite badger"`
	DBPath     string `validate:"required_if=LogBackend sqlite"`
	BadgerDir  string `validate:"required_if=LogBackend badger"`

	EvaluatorPath string        `validate:"required"`
	EvalTimeout   time.Duration `validate:"gt=0"`

	Workers          int `validate:"min=1"`
	QueueCapacity    int `validate:"min=1"`
	HistoryWindow    int `validate:"min=1"`
	SubscriberBuffer int `validate:"min=1"`

	ShutdownTimeout time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`
}

// Default возвращает настройки по умолчанию
func Default() Config {
	return Config{
		HTTPAddr:         ":8000",
		GRPCAddr:         ":8001",
		CORSOrigins:      []string{"*"},
		LogBackend:       BackendSQLite,
		DBPath:           "calculator.db",
		BadgerDir:        "calculator.badger",
		EvaluatorPath:    "./build/evaluator",
		EvalTimeout:      10 * time.Second,
		Workers:          10,
		QueueCapacity:    1000,
		HistoryWindow:    100,
		SubscriberBuffer: 64,
		ShutdownTimeout:  15 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadEnvFiles загружает первый найденный .env файл
func LoadEnvFiles() string {
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err == nil {
			return file
		}
	}
	return ""
}

// Load читает настройки из .env и переменных окружения поверх значений по умолчанию
func Load() (Config, error) {
	if file := LoadEnvFiles(); file != "" {
		slog.Debug("загружен файл с переменными окружения", "file", file)
	}

	cfg := Default()
	var err error

	cfg.HTTPAddr = getEnvOrDefault("CALC_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnvOrDefault("CALC_GRPC_ADDR", cfg.GRPCAddr)
	if v := os.Getenv("CALC_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	cfg.LogBackend = getEnvOrDefault("CALC_LOG_BACKEND", cfg.LogBackend)
	cfg.DBPath = getEnvOrDefault("CALC_DB_PATH", cfg.DBPath)
	cfg.BadgerDir = getEnvOrDefault("CALC_BADGER_DIR", cfg.BadgerDir)
	cfg.EvaluatorPath = getEnvOrDefault("CALC_EVALUATOR_PATH", cfg.EvaluatorPath)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	if cfg.EvalTimeout, err = envDuration("CALC_EVAL_TIMEOUT", cfg.EvalTimeout); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = envDuration("CALC_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = envInt("CALC_WORKERS", cfg.Workers); err != nil {
		return cfg, err
	}
	if cfg.QueueCapacity, err = envInt("CALC_QUEUE_CAPACITY", cfg.QueueCapacity); err != nil {
		return cfg, err
	}
	if cfg.HistoryWindow, err = envInt("CALC_HISTORY_WINDOW", cfg.HistoryWindow); err != nil {
		return cfg, err
	}
	if cfg.SubscriberBuffer, err = envInt("CALC_SUBSCRIBER_BUFFER", cfg.SubscriberBuffer); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// RegisterFlags привязывает флаги команды к полям; текущие значения становятся значениями по умолчанию
func (c *Config) RegisterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP/WebSocket listen address")
	f.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address (empty disables gRPC)")
	f.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "allowed CORS origins")
	f.StringVar(&c.LogBackend, "log-backend", c.LogBackend, "durable log backend: sqlite or badger")
	f.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	f.StringVar(&c.BadgerDir, "badger-dir", c.BadgerDir, "Badger data directory")
	f.StringVar(&c.EvaluatorPath, "evaluator", c.EvaluatorPath, "path to the evaluator executable")
	f.DurationVar(&c.EvalTimeout, "eval-timeout", c.EvalTimeout, "evaluation timeout")
	f.IntVar(&c.Workers, "workers", c.Workers, "number of concurrent evaluations")
	f.IntVar(&c.QueueCapacity, "queue-capacity", c.QueueCapacity, "task queue capacity")
	f.IntVar(&c.HistoryWindow, "history-window", c.HistoryWindow, "number of recent entries broadcast to clients")
	f.IntVar(&c.SubscriberBuffer, "subscriber-buffer", c.SubscriberBuffer, "outbound messages buffered per subscriber")
	f.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "graceful shutdown timeout")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
}

var validate = validator.New()

// Validate проверяет настройки
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnvOrDefault(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func envInt(envVar string, defaultValue int) (int, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора %s=%q: %w", envVar, value, err)
	}
	return n, nil
}

func envDuration(envVar string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора %s=%q: %w", envVar, value, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
