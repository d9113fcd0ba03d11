package database

import (
	"context"
	"fmt"
	"log/slog"

	"calcstream/internal/models"
)

// Log - долговременный журнал истории вычислений
type Log interface {
	Append(ctx context.Context, entry models.HistoryEntry) (int64, error)
	Recent(ctx context.Context, n int) ([]models.HistoryEntry, error)
	Close() error
}

var (
	_ Log = (*SQLiteLog)(nil)
	_ Log = (*BadgerLog)(nil)
)

// Open открывает журнал выбранного типа: sqlite (path - файл БД) или badger (path - каталог)
func Open(backend, path string, logger *slog.Logger) (Log, error) {
	switch backend {
	case "sqlite":
		l, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "badger":
		l, err := OpenBadger(path, logger)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("неизвестный тип журнала %q", backend)
	}
}
