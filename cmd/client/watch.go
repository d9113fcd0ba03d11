package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"calcstream/internal/client"
	"calcstream/internal/models"
	"calcstream/internal/types"
)

func newWatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Печатать новые записи истории по мере их появления",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			conn, closeConn, err := opts.connect(client.Options{
				OnUpdate: func(added []models.HistoryEntry) {
					for _, e := range added {
						fmt.Fprintln(out, formatEntry(e))
					}
				},
				OnState: func(connected bool) {
					if connected {
						opts.logger.Info("подключено к серверу")
					} else {
						opts.logger.Warn("соединение потеряно, переподключение")
					}
				},
				OnRejected: func(msg types.ServerMessage) {
					opts.logger.Warn("отказ сервера", "code", msg.Code, "message", msg.Message)
				},
			})
			if err != nil {
				return err
			}
			defer closeConn()

			if err := conn.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
