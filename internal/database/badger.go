package database

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"calcstream/internal/models"
)

var (
	entryPrefix = []byte("entry/")
	sequenceKey = []byte("meta/entry_seq")
)

// Размер блока ID, резервируемого последовательностью. После аварийного
// завершения неиспользованные ID пропадают, но никогда не выдаются повторно.
const sequenceBandwidth = 100

// record - представление записи в Badger, включая origin
type record struct {
	ID         int64       `msgpack:"id"`
	Timestamp  time.Time   `msgpack:"ts"`
	Expression string      `msgpack:"expr"`
	Mode       models.Mode `msgpack:"mode"`
	Result     *string     `msgpack:"result,omitempty"`
	Error      *string     `msgpack:"error,omitempty"`
	Origin     string      `msgpack:"origin"`
}

// BadgerLog - журнал истории во встроенном хранилище Badger
type BadgerLog struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger открывает хранилище в каталоге dir. Пустой dir означает хранилище в памяти.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerLog, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть хранилище badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка получения последовательности ID: %w", err)
	}

	return &BadgerLog{db: db, seq: seq}, nil
}

func entryKey(id int64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], uint64(id))
	return key
}

func (l *BadgerLog) Append(ctx context.Context, entry models.HistoryEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, err := l.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения ID записи: %w", err)
	}
	id := int64(next) + 1

	value, err := msgpack.Marshal(record{
		ID:         id,
		Timestamp:  entry.Timestamp.UTC(),
		Expression: entry.Expression,
		Mode:       entry.Mode,
		Result:     entry.Result,
		Error:      entry.Error,
		Origin:     entry.Origin,
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка кодирования записи: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(id), value)
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения записи: %w", err)
	}
	return id, nil
}

func (l *BadgerLog) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	var entries []models.HistoryEntry
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, entryPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(entryPrefix) && len(entries) < n; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec record
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("ошибка чтения записи %x: %w", it.Item().Key(), err)
			}
			entries = append(entries, models.HistoryEntry{
				ID:         rec.ID,
				Timestamp:  rec.Timestamp,
				Expression: rec.Expression,
				Mode:       rec.Mode,
				Result:     rec.Result,
				Error:      rec.Error,
				Origin:     rec.Origin,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (l *BadgerLog) Close() error {
	if err := l.seq.Release(); err != nil {
		l.db.Close()
		return fmt.Errorf("ошибка освобождения последовательности: %w", err)
	}
	return l.db.Close()
}

// badgerLogger направляет журнал badger в slog
type badgerLogger struct {
	logger *slog.Logger
}

func (b badgerLogger) log(level slog.Level, format string, args ...interface{}) {
	if b.logger == nil {
		return
	}
	b.logger.Log(context.Background(), level, fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log(slog.LevelError, format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log(slog.LevelWarn, format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args...)
}
