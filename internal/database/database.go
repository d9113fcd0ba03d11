package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"calcstream/internal/models"
)

// legacyTimestamp - формат datetime.isoformat() без часового пояса,
// в котором писал метки времени прежний сервер
const legacyTimestamp = "2006-01-02T15:04:05.999999"

// SQLiteLog - журнал истории в SQLite. Запись считается сохраненной,
// как только Append вернул управление.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite открывает или создает базу данных по указанному пути
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу данных: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к базе данных: %w", err)
	}

	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteLog{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("ошибка выполнения %q: %w", pragma, err)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			expression TEXT NOT NULL,
			mode TEXT NOT NULL,
			result TEXT,
			error TEXT,
			origin TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы history: %w", err)
	}

	return applyMigrations(db)
}

// applyMigrations приводит таблицы, созданные прежним сервером, к текущей схеме
func applyMigrations(db *sql.DB) error {
	hasColumn := func(name string) (bool, error) {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('history') WHERE name = ?", name).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("ошибка проверки существования столбца %s: %w", name, err)
		}
		return count > 0, nil
	}

	hasOrigin, err := hasColumn("origin")
	if err != nil {
		return err
	}
	if hasOrigin {
		return nil
	}

	hasClientIP, err := hasColumn("client_ip")
	if err != nil {
		return err
	}

	if !hasClientIP {
		if _, err := db.Exec("ALTER TABLE history ADD COLUMN origin TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("ошибка миграции столбца origin: %w", err)
		}
		return nil
	}

	// Прежний сервер записывал пустую строку вместо отсутствующего
	// result или error; у записи должно быть ровно одно из двух полей
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("ошибка начала миграции: %w", err)
	}
	defer tx.Rollback()

	migrations := []string{
		"ALTER TABLE history RENAME COLUMN client_ip TO origin",
		"UPDATE history SET error = NULL WHERE error = '' AND result IS NOT NULL AND result <> ''",
		"UPDATE history SET result = NULL WHERE result = '' AND error IS NOT NULL",
	}
	for _, m := range migrations {
		if _, err := tx.Exec(m); err != nil {
			return fmt.Errorf("ошибка миграции %q: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка завершения миграции: %w", err)
	}
	return nil
}

// Append сохраняет запись и возвращает назначенный ей ID
func (l *SQLiteLog) Append(ctx context.Context, entry models.HistoryEntry) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"INSERT INTO history (timestamp, expression, mode, result, error, origin) VALUES (?, ?, ?, ?, ?, ?)",
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Expression, string(entry.Mode),
		nullable(entry.Result), nullable(entry.Error), entry.Origin,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка сохранения записи: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения ID записи: %w", err)
	}
	return id, nil
}

// Recent возвращает последние n записей в порядке возрастания ID
func (l *SQLiteLog) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT id, timestamp, expression, mode, result, error, origin FROM history ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			entry          models.HistoryEntry
			ts, mode       string
			result, errMsg sql.NullString
			origin         sql.NullString
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.Expression, &mode, &result, &errMsg, &origin); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи истории: %w", err)
		}
		entry.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("запись %d: %w", entry.ID, err)
		}
		entry.Mode = models.Mode(mode)
		entry.Origin = origin.String
		if result.Valid {
			entry.Result = &result.String
		}
		if errMsg.Valid {
			entry.Error = &errMsg.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (l *SQLiteLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(legacyTimestamp, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("неизвестный формат времени %q", s)
	}
	return ts, nil
}
