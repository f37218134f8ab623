package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// Source reads the full persisted state. Only the sweeper reads it all.
type Source interface {
	AllRecords(ctx context.Context) ([]domain.Record, error)
	AllHistory(ctx context.Context) ([]domain.HistoryEntry, error)
}

// Report is the outcome of one sweep run.
type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	DryRun     bool            `json:"dry_run"`
	Records    int             `json:"records"`
	Groups     int             `json:"groups"`
	Duplicates int             `json:"duplicates"`
	ToDelete   []int64         `json:"to_delete"`
	Backfill   int             `json:"backfill"`
	Skipped    []SkippedRecord `json:"skipped,omitempty"`
	Tally      Tally           `json:"tally"`
}

// Sweeper reads a snapshot, plans, and executes.
type Sweeper struct {
	source    Source
	writer    Writer
	batchSize int
	clock     engine.Clock
	ids       engine.IDGenerator
	logger    *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize bounds each delete call. Default: DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock sets the clock for run stamps and backfilled unlock times.
func WithClock(c engine.Clock) Option {
	return func(s *Sweeper) {
		s.clock = c
	}
}

// WithIDGenerator sets the generator for backfilled history ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(s *Sweeper) {
		s.ids = g
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = l
	}
}

// New creates a Sweeper over a persistence client.
func New(src Source, w Writer, opts ...Option) *Sweeper {
	s := &Sweeper{
		source:    src,
		writer:    w,
		batchSize: DefaultBatchSize,
		clock:     engine.SystemClock{},
		ids:       engine.UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one sweep. With dryRun the plan is reported but not applied.
// Only a failed snapshot read returns an error; write failures end up in
// the report's tally.
func (s *Sweeper) Run(ctx context.Context, dryRun bool) (*Report, error) {
	records, err := s.source.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: read records: %w", err)
	}
	history, err := s.source.AllHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: read history: %w", err)
	}

	plan := Plan(records, history)
	report := &Report{
		StartedAt:  s.clock.Now(),
		DryRun:     dryRun,
		Records:    len(records),
		Groups:     len(plan.Groups),
		Duplicates: len(plan.Duplicates()),
		ToDelete:   plan.ToDelete,
		Backfill:   len(plan.Backfill),
		Skipped:    plan.Skipped,
	}
	if report.ToDelete == nil {
		report.ToDelete = []int64{}
	}

	if dryRun {
		s.logger.Info("sweep planned (dry run)",
			"records", report.Records,
			"duplicates", report.Duplicates,
			"to_delete", len(report.ToDelete),
			"backfill", report.Backfill,
		)
		return report, nil
	}

	x := &Executor{
		Writer:    s.writer,
		BatchSize: s.batchSize,
		Clock:     s.clock,
		IDs:       s.ids,
		Logger:    s.logger,
	}
	report.Tally = x.Execute(ctx, plan)
	return report, nil
}
