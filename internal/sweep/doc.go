// Package sweep repairs the persisted record table.
//
// The sweeper groups every record by identity key and collapses each group
// to its canonical row, then backfills unlock history for canonical grants
// that lost theirs. It runs independently of evaluation, either on demand
// or periodically through a Scheduler.
//
// Planning is pure: Plan only decides. Executor applies a plan in bounded
// batches and keeps going when a batch fails.
package sweep
