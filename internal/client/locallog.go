package client

import (
	"sort"
	"sync"

	"calcstream/internal/models"
)

// LocalLog - локальная копия истории на стороне клиента.
// Записи добавляются только по возрастанию id, уже виденные отбрасываются.
type LocalLog struct {
	mu      sync.RWMutex
	lastID  int64
	entries []models.HistoryEntry
}

func NewLocalLog() *LocalLog {
	return &LocalLog{}
}

// Merge добавляет записи окна с id больше последнего виденного и
// возвращает добавленные. Порядок и повторы внутри окна не важны.
func (l *LocalLog) Merge(window []models.HistoryEntry) []models.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make([]models.HistoryEntry, 0, len(window))
	for _, e := range window {
		if e.ID > l.lastID {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	added := fresh[:0]
	for _, e := range fresh {
		if e.ID == l.lastID {
			continue
		}
		added = append(added, e)
		l.lastID = e.ID
	}

	l.entries = append(l.entries, added...)
	// Копия, чтобы вызывающий не держал ссылку на внутренний буфер
	return append([]models.HistoryEntry(nil), added...)
}

// LastID - наибольший id, который уже есть в журнале
func (l *LocalLog) LastID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastID
}

func (l *LocalLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries возвращает копию журнала по возрастанию id
func (l *LocalLog) Entries() []models.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.HistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
