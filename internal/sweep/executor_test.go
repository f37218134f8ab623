package sweep

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// duplicateTable holds n duplicate system rows for one key, ids 1..n.
func duplicateTable(n int) *memTable {
	m := &memTable{}
	for i := 1; i <= n; i++ {
		m.records = append(m.records, rec(int64(i), "u1", "t1", "", false))
	}
	return m
}

func TestExecutor_Batches(t *testing.T) {
	m := duplicateTable(251)
	plan := Plan(m.records, nil)
	require.Len(t, plan.ToDelete, 250)

	x := &Executor{Writer: m, Logger: quietLogger()}
	tally := x.Execute(context.Background(), plan)

	assert.Equal(t, 3, tally.Batches)
	assert.Equal(t, 0, tally.Failed)
	assert.Equal(t, int64(250), tally.Deleted)
	assert.True(t, tally.OK())
	require.Len(t, m.calls, 3)
	assert.Len(t, m.calls[0], DefaultBatchSize)
	assert.Len(t, m.calls[2], 50)
	require.Len(t, m.records, 1)
	assert.Equal(t, int64(1), m.records[0].ID)
}

func TestExecutor_ContinuesPastFailedBatch(t *testing.T) {
	m := duplicateTable(10)
	m.failBatch = map[int]bool{2: true}
	plan := Plan(m.records, nil)

	x := &Executor{Writer: m, BatchSize: 3, Logger: quietLogger()}
	tally := x.Execute(context.Background(), plan)

	assert.Equal(t, 3, tally.Batches)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, int64(6), tally.Deleted)
	require.Len(t, tally.Errors, 1)
	assert.Contains(t, tally.Errors[0], "batch 2")
	assert.False(t, tally.OK())
	assert.Len(t, m.records, 4, "canonical plus the failed batch")
}

func TestExecutor_RetryIsIdempotent(t *testing.T) {
	m := duplicateTable(4)
	plan := Plan(m.records, nil)
	x := &Executor{Writer: m, Logger: quietLogger()}

	first := x.Execute(context.Background(), plan)
	second := x.Execute(context.Background(), plan)

	assert.Equal(t, int64(3), first.Deleted)
	assert.Equal(t, int64(0), second.Deleted, "already deleted ids are ignored")
	assert.True(t, second.OK())
}

func TestExecutor_Backfill(t *testing.T) {
	m := &memTable{records: []domain.Record{rec(1, "u1", "c1", "m1", false)}}
	plan := Plan(m.records, nil)
	clock := testutil.NewFixedClock(time.Time{})

	x := &Executor{
		Writer: m,
		Clock:  clock,
		IDs:    testutil.NewSequenceGenerator("bf"),
		Logger: quietLogger(),
	}
	tally := x.Execute(context.Background(), plan)

	assert.Equal(t, 1, tally.Backfilled)
	assert.Equal(t, 0, tally.Batches)
	require.Len(t, m.history, 1)
	assert.Equal(t, domain.HistoryEntry{
		ID:         "bf-1",
		UserID:     "u1",
		TemplateID: "c1",
		GrantorID:  "m1",
		UnlockedAt: testutil.Epoch,
	}, m.history[0])
}

func TestExecutor_CancelledContext(t *testing.T) {
	m := duplicateTable(5)
	plan := Plan(m.records, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x := &Executor{Writer: m, Logger: quietLogger()}
	tally := x.Execute(ctx, plan)

	assert.Empty(t, m.calls)
	assert.False(t, tally.OK())
}
