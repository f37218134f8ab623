package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// DefaultBatchSize bounds one delete call.
const DefaultBatchSize = 100

// Deleter removes records by id. Missing ids are ignored, so a retried
// batch is harmless. Returns the number of rows actually removed.
type Deleter interface {
	DeleteRecords(ctx context.Context, ids []int64) (int64, error)
}

// HistoryWriter appends unlock history entries.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
}

// Writer is the write side the executor needs.
type Writer interface {
	Deleter
	HistoryWriter
}

// Tally is the final success/failure count of one executed plan.
type Tally struct {
	Batches    int      `json:"batches"`
	Failed     int      `json:"failed"`
	Deleted    int64    `json:"deleted"`
	Backfilled int      `json:"backfilled"`
	Errors     []string `json:"errors,omitempty"`
}

// OK reports whether every batch and backfill write succeeded.
func (t Tally) OK() bool {
	return len(t.Errors) == 0
}

// Executor applies a SweepPlan through a Writer.
type Executor struct {
	Writer    Writer
	BatchSize int
	Clock     engine.Clock
	IDs       engine.IDGenerator
	Logger    *slog.Logger
}

// Execute deletes the plan's duplicates in batches, then appends its
// backfill history. A failing batch is counted and skipped; it never
// aborts the rest of the sweep.
func (x *Executor) Execute(ctx context.Context, plan *SweepPlan) Tally {
	logger := x.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := x.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var tally Tally
	for _, k := range plan.Duplicates() {
		logger.Info("repairing duplicate records",
			"error", engine.NewDuplicateInvariantError(k, len(plan.Groups[k])),
			"canonical", plan.Canonical[k].ID,
		)
	}
	for _, s := range plan.Skipped {
		logger.Warn("duplicate kept",
			"record", s.Record.ID, "canonical", s.Canonical, "reason", s.Reason)
	}

	for start := 0; start < len(plan.ToDelete); start += size {
		if err := ctx.Err(); err != nil {
			tally.Errors = append(tally.Errors, err.Error())
			return tally
		}
		end := min(start+size, len(plan.ToDelete))
		batch := plan.ToDelete[start:end]
		tally.Batches++

		n, err := x.Writer.DeleteRecords(ctx, batch)
		if err != nil {
			tally.Failed++
			tally.Errors = append(tally.Errors, fmt.Sprintf("batch %d: %v", tally.Batches, err))
			logger.Error("delete batch failed",
				"batch", tally.Batches, "size", len(batch), "error", err)
			continue
		}
		tally.Deleted += n
		logger.Debug("delete batch applied", "batch", tally.Batches, "deleted", n)
	}

	for _, entry := range plan.Backfill {
		if entry.ID == "" && x.IDs != nil {
			entry.ID = x.IDs.Generate()
		}
		if entry.UnlockedAt.IsZero() && x.Clock != nil {
			entry.UnlockedAt = x.Clock.Now()
		}
		key := domain.NewIdentityKey(entry.UserID, entry.TemplateID, entry.GrantorID)
		if err := x.Writer.AppendHistory(ctx, entry); err != nil {
			tally.Errors = append(tally.Errors, fmt.Sprintf("backfill %s: %v", key, err))
			logger.Error("history backfill failed", "key", key.String(), "error", err)
			continue
		}
		tally.Backfilled++
	}

	logger.Info("sweep executed",
		"batches", tally.Batches,
		"failed", tally.Failed,
		"deleted", tally.Deleted,
		"backfilled", tally.Backfilled,
	)
	return tally
}
