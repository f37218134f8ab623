package sweep

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/guildmark/internal/domain"
)

// memTable is an in-memory Source and Writer.
type memTable struct {
	mu      sync.Mutex
	records []domain.Record
	history []domain.HistoryEntry

	calls     [][]int64
	failBatch map[int]bool // 1-based delete call numbers that fail
	failAll   bool
	runs      int
}

func (m *memTable) AllRecords(ctx context.Context) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return append([]domain.Record(nil), m.records...), nil
}

func (m *memTable) AllHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HistoryEntry(nil), m.history...), nil
}

func (m *memTable) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]int64(nil), ids...))
	if m.failAll || m.failBatch[len(m.calls)] {
		return 0, errBackend
	}

	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []domain.Record
	var n int64
	for _, r := range m.records {
		if drop[r.ID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

func (m *memTable) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *memTable) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

var errBackend = errors.New("backend limit exceeded")
