package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcstream/internal/logging"
	"calcstream/internal/models"
)

func strPtr(s string) *string { return &s }

func newEntry(expr, result, errMsg string, ts time.Time) models.HistoryEntry {
	e := models.HistoryEntry{
		Timestamp:  ts,
		Expression: expr,
		Mode:       models.ModeInt,
		Origin:     "127.0.0.1:5000",
	}
	if errMsg != "" {
		e.Error = strPtr(errMsg)
	} else {
		e.Result = strPtr(result)
	}
	return e
}

// Набор проверок, общий для обоих типов журнала
func testLogContract(t *testing.T, open func(t *testing.T) Log) {
	ctx := context.Background()

	t.Run("ID возрастают, Recent в порядке возрастания", func(t *testing.T) {
		l := open(t)
		base := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

		var ids []int64
		for i, expr := range []string{"1+1", "2+2", "3+3", "4+4"} {
			id, err := l.Append(ctx, newEntry(expr, "x", "", base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			ids = append(ids, id)
		}
		for i := 1; i < len(ids); i++ {
			assert.Greater(t, ids[i], ids[i-1])
		}

		recent, err := l.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, ids[1:], []int64{recent[0].ID, recent[1].ID, recent[2].ID})
		assert.Equal(t, "2+2", recent[0].Expression)
		assert.True(t, recent[0].Timestamp.Equal(base.Add(time.Second)))
		assert.Equal(t, "127.0.0.1:5000", recent[0].Origin)
	})

	t.Run("ровно одно из result и error", func(t *testing.T) {
		l := open(t)
		_, err := l.Append(ctx, newEntry("7", "7", "", time.Now()))
		require.NoError(t, err)
		_, err = l.Append(ctx, newEntry("10/0", "", "division by zero", time.Now()))
		require.NoError(t, err)

		recent, err := l.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)

		require.NotNil(t, recent[0].Result)
		assert.Nil(t, recent[0].Error)
		assert.Equal(t, "7", *recent[0].Result)

		assert.Nil(t, recent[1].Result)
		require.NotNil(t, recent[1].Error)
		assert.Equal(t, "division by zero", *recent[1].Error)
	})

	t.Run("пустой журнал", func(t *testing.T) {
		l := open(t)
		recent, err := l.Recent(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, recent)

		recent, err = l.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}

func TestSQLiteLog(t *testing.T) {
	testLogContract(t, func(t *testing.T) Log {
		l, err := OpenSQLite(filepath.Join(t.TempDir(), "calculator.db"))
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestBadgerLog(t *testing.T) {
	testLogContract(t, func(t *testing.T) Log {
		l, err := OpenBadger("", logging.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestSQLiteReopenKeepsEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calculator.db")

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	first, err := l.Append(ctx, newEntry("1+1", "2", "", time.Now()))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()

	second, err := l.Append(ctx, newEntry("2+2", "4", "", time.Now()))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestBadgerReopenNeverReusesIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, err := OpenBadger(dir, logging.Discard())
	require.NoError(t, err)
	first, err := l.Append(ctx, newEntry("1+1", "2", "", time.Now()))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenBadger(dir, logging.Discard())
	require.NoError(t, err)
	defer l.Close()

	second, err := l.Append(ctx, newEntry("2+2", "4", "", time.Now()))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, first, recent[0].ID)
}

func TestMigrateLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE history (
		id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp DATETIME NOT NULL,
		expression TEXT NOT NULL, mode TEXT NOT NULL, result TEXT, error TEXT, client_ip TEXT)`)
	require.NoError(t, err)
	// Прежний сервер сохранял stdout и stderr как есть, пустые строки вместо NULL
	_, err = raw.Exec(`INSERT INTO history (timestamp, expression, mode, result, error, client_ip) VALUES
		('2024-05-06T07:08:09.123456', '3 + 4', 'int', '7', '', '10.0.0.1'),
		('2024-05-06T07:08:10.000001', '10 / 0', 'int', '', 'division by zero', '10.0.0.2')`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	l, err := OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()

	recent, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	ok := recent[0]
	assert.Equal(t, "10.0.0.1", ok.Origin)
	assert.Equal(t, 2024, ok.Timestamp.Year())
	require.NotNil(t, ok.Result)
	assert.Equal(t, "7", *ok.Result)
	assert.Nil(t, ok.Error)
	assert.True(t, ok.Succeeded())

	failed := recent[1]
	assert.Nil(t, failed.Result)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "division by zero", *failed.Error)
	assert.False(t, failed.Succeeded())

	// Повторное открытие не меняет уже перенесенные записи
	require.NoError(t, l.Close())
	l, err = OpenSQLite(path)
	require.NoError(t, err)
	defer l.Close()
	again, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, recent, again)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("postgres", "", logging.Discard())
	assert.Error(t, err)
}
