package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"calcstream/internal/client"
	"calcstream/internal/models"
	"calcstream/internal/parser"
	"calcstream/internal/types"
)

func newSubmitCommand(opts *options) *cobra.Command {
	var (
		float   bool
		force   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <expression>",
		Short: "Отправить выражение и дождаться его записи в истории",
		Long: `Отправляет выражение и печатает первую новую запись истории
с тем же выражением и режимом.

Сервер не сообщает клиенту идентификатор принятой задачи, поэтому запись
сопоставляется только по тексту и режиму. Если другой клиент одновременно
отправил то же выражение, может быть напечатан его результат. Значение
при этом совпадает, но id и origin будут чужими.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := models.ModeInt
			if float {
				mode = models.ModeFloat
			}
			expr := args[0]

			if v := parser.Check(expr, mode); v != parser.Acceptable && !force {
				return fmt.Errorf("выражение не прошло проверку (%s): %s", v, parser.Problem(expr, mode))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			entry, err := submitAndWait(ctx, opts, expr, mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatEntry(entry))
			if entry.Error != nil {
				return errors.New(*entry.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&float, "float", false, "evaluate in float mode")
	f.BoolVar(&force, "force", false, "skip client-side validation")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the result")
	return cmd
}

// submitAndWait дожидается базового окна, отправляет выражение и ждет
// первую новую запись с тем же текстом
func submitAndWait(ctx context.Context, opts *options, expr string, mode models.Mode) (models.HistoryEntry, error) {
	baseline := make(chan struct{}, 1)
	updates := make(chan []models.HistoryEntry, 16)
	rejected := make(chan types.ServerMessage, 1)

	conn, closeConn, err := opts.connect(client.Options{
		OnBaseline: func() {
			select {
			case baseline <- struct{}{}:
			default:
			}
		},
		OnUpdate: func(added []models.HistoryEntry) {
			select {
			case updates <- added:
			case <-ctx.Done():
			}
		},
		OnRejected: func(msg types.ServerMessage) {
			select {
			case rejected <- msg:
			default:
			}
		},
	})
	if err != nil {
		return models.HistoryEntry{}, err
	}
	defer closeConn()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go conn.Run(runCtx)

	select {
	case <-baseline:
	case <-ctx.Done():
		return models.HistoryEntry{}, fmt.Errorf("сервер недоступен: %w", ctx.Err())
	}

	for drained := false; !drained; {
		select {
		case <-updates:
		default:
			drained = true
		}
	}

	if err := conn.Submit(expr, mode); err != nil {
		return models.HistoryEntry{}, err
	}

	for {
		select {
		case added := <-updates:
			for _, e := range added {
				if e.Expression == expr && e.Mode == mode {
					return e, nil
				}
			}
		case msg := <-rejected:
			return models.HistoryEntry{}, fmt.Errorf("сервер отклонил выражение (%s): %s", msg.Code, msg.Message)
		case <-ctx.Done():
			return models.HistoryEntry{}, fmt.Errorf("результат не получен: %w", ctx.Err())
		}
	}
}
