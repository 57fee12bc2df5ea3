package history

import (
	"context"
	"sync"
)

const defaultSize = 200

// Memory is a bounded in-process ring of entries.
type Memory struct {
	mu      sync.Mutex
	size    int
	entries []Entry
}

// NewMemory keeps at most size entries (200 when size <= 0).
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = defaultSize
	}
	return &Memory{size: size, entries: make([]Entry, 0, size)}
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if len(m.entries) > m.size {
		m.entries = m.entries[len(m.entries)-m.size:]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
