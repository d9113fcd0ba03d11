package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"calcstream/internal/client"
	"calcstream/internal/config"
	calcgrpc "calcstream/internal/grpc"
	"calcstream/internal/logging"
	"calcstream/internal/types"
)

type options struct {
	server   string
	grpcAddr string
	encoding string
	logLevel string
	logger   *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	config.LoadEnvFiles()
	opts := &options{}

	root := &cobra.Command{
		Use:          "client",
		Short:        "Клиент калькулятора: отправка выражений и просмотр общей истории",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.logLevel, "text", os.Stderr)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.server, "server", getEnvOrDefault("CALC_SERVER_URL", "ws://localhost:8000/ws"), "WebSocket address of the server")
	pf.StringVar(&opts.grpcAddr, "grpc", os.Getenv("CALC_SERVER_GRPC"), "gRPC address of the server; when set, used instead of WebSocket")
	pf.StringVar(&opts.encoding, "encoding", string(types.EncodingJSON), "WebSocket frame encoding: json or msgpack")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newSubmitCommand(opts), newWatchCommand(opts), newTUICommand(opts))
	return root
}

// connect создает сессию выбранного транспорта; close освобождает соединение gRPC
func (o *options) connect(cb client.Options) (client.Conn, func(), error) {
	cb.Logger = o.logger

	if o.grpcAddr != "" {
		c, err := calcgrpc.NewHistoryClient(o.grpcAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка подключения к gRPC серверу: %w", err)
		}
		return client.NewGRPCSession(c, cb), func() { c.Close() }, nil
	}

	encoding, err := types.ParseEncoding(o.encoding)
	if err != nil {
		return nil, nil, err
	}
	cb.Encoding = encoding
	s, err := client.NewSession(o.server, cb)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
