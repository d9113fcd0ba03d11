// Package history хранит в памяти последние N зафиксированных записей.
package history

import (
	"sync"

	"calcstream/internal/models"
)

const DefaultWindow = 100

// Cache - кольцевой буфер последних записей журнала в порядке возрастания ID
type Cache struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
	start   int
	size    int
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Cache{entries: make([]models.HistoryEntry, capacity)}
}

func (c *Cache) Capacity() int {
	return len(c.entries)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Append добавляет запись, вытесняя самую старую при переполнении
func (c *Cache) Append(entry models.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := len(c.entries)
	if c.size < capacity {
		c.entries[(c.start+c.size)%capacity] = entry
		c.size++
		return
	}
	c.entries[c.start] = entry
	c.start = (c.start + 1) % capacity
}

// Load заменяет содержимое записями из журнала (при запуске)
func (c *Cache) Load(entries []models.HistoryEntry) {
	c.mu.Lock()
	c.start, c.size = 0, 0
	c.mu.Unlock()

	if len(entries) > len(c.entries) {
		entries = entries[len(entries)-len(c.entries):]
	}
	for _, e := range entries {
		c.Append(e)
	}
}

// Snapshot возвращает копию последних n записей в порядке возрастания ID
func (c *Cache) Snapshot(n int) []models.HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > c.size {
		n = c.size
	}
	out := make([]models.HistoryEntry, n)
	capacity := len(c.entries)
	first := c.start + c.size - n
	for i := 0; i < n; i++ {
		out[i] = c.entries[(first+i)%capacity]
	}
	return out
}

// LastID возвращает ID последней записи или 0
func (c *Cache) LastID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.size == 0 {
		return 0
	}
	return c.entries[(c.start+c.size-1)%len(c.entries)].ID
}
