package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"calcstream/internal/api"
	"calcstream/internal/config"
	"calcstream/internal/database"
	"calcstream/internal/evaluator"
	calcgrpc "calcstream/internal/grpc"
	"calcstream/internal/logging"
	"calcstream/internal/observability"
	"calcstream/internal/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg, loadErr := config.Load()

	cmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Сервер очереди вычислений с рассылкой истории по WebSocket и gRPC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			return run(cmd.Context(), cfg)
		},
	}
	cfg.RegisterFlags(cmd)
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logPath := cfg.DBPath
	if cfg.LogBackend == config.BackendBadger {
		logPath = cfg.BadgerDir
	}
	historyLog, err := database.Open(cfg.LogBackend, logPath, logging.Component(logger, "database"))
	if err != nil {
		return fmt.Errorf("ошибка открытия журнала: %w", err)
	}
	logger.Info("журнал открыт", "backend", cfg.LogBackend, "path", logPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	invoker := evaluator.NewInvoker(cfg.EvaluatorPath, cfg.EvalTimeout, logging.Component(logger, "evaluator"))
	pipeline := orchestrator.New(invoker, historyLog, orchestrator.Options{
		Workers:          cfg.Workers,
		QueueCapacity:    cfg.QueueCapacity,
		HistoryWindow:    cfg.HistoryWindow,
		SubscriberBuffer: cfg.SubscriberBuffer,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err := pipeline.Start(ctx); err != nil {
		historyLog.Close()
		return err
	}

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.SetupRouter(api.RouterConfig{
			Pipeline:    pipeline,
			Calculator:  api.PipelineCalculator{Pipeline: pipeline},
			Metrics:     metrics,
			Gatherer:    reg,
			Logger:      logging.Component(logger, "http"),
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = calcgrpc.NewServer(calcgrpc.NewHistoryServer(pipeline, logging.Component(logger, "grpc")))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP сервер запущен", "addr", cfg.HTTPAddr,
			"workers", cfg.Workers, "queue_capacity", cfg.QueueCapacity)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP сервер: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			if err := calcgrpc.StartServer(cfg.GRPCAddr, grpcServer, logger); err != nil {
				return fmt.Errorf("gRPC сервер: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("остановка сервера", "timeout", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP сервер остановлен с ошибкой", "error", err)
		}
		// Конвейер дорабатывает очередь и закрывает подписчиков, в том числе потоки gRPC
		pipelineErr := pipeline.Shutdown(shutdownCtx)
		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer)
		}
		return pipelineErr
	})

	if err := g.Wait(); err != nil {
		logger.Error("сервер завершился с ошибкой", "error", err)
		return err
	}
	logger.Info("сервер остановлен")
	return nil
}

func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
