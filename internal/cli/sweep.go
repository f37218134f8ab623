package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/sweep"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	DryRun    bool
	BatchSize int           // 0 means GUILDMARK_SWEEP_BATCH_SIZE
	Every     time.Duration // 0 means run once
	Schedule  bool          // run every GUILDMARK_SWEEP_INTERVAL
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove duplicate records and backfill missing history",
		Long: `Repair the records table.

Rows sharing one (user, template, grantor) identity are collapsed onto a
canonical row (unlocked before locked, then oldest); the others are
deleted in batches. Unlocked grants with no unlock history get one.

Without --every or --schedule the sweep runs once. Scheduled sweeps never
overlap and stop on SIGINT or SIGTERM.

Exit codes:
  0 - Sweep complete
  1 - One or more delete batches or backfill writes failed
  2 - Command error

Examples:
  guildmark sweep --dry-run
  guildmark sweep --batch-size 500
  guildmark sweep --every 15m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the plan without changing anything")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "records deleted per batch (default $GUILDMARK_SWEEP_BATCH_SIZE)")
	cmd.Flags().DurationVar(&opts.Every, "every", 0, "run repeatedly at this interval")
	cmd.Flags().BoolVar(&opts.Schedule, "schedule", false, "run repeatedly every $GUILDMARK_SWEEP_INTERVAL")
	cmd.MarkFlagsMutuallyExclusive("every", "schedule")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "every")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "schedule")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	batch := opts.BatchSize
	if batch == 0 {
		batch = opts.Config.SweepBatchSize
	}
	if batch < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --batch-size %d: must be positive", batch))
	}
	every := opts.Every
	if opts.Schedule {
		every = opts.Config.SweepInterval
	}
	if cmd.Flags().Changed("every") && every <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --every %s: must be positive", every))
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	sw := sweep.New(st, st,
		sweep.WithBatchSize(batch),
		sweep.WithLogger(opts.logger()),
	)

	if every > 0 {
		return runScheduledSweep(opts, sw, every, cmd)
	}

	report, err := sw.Run(cmd.Context(), opts.DryRun)
	if err != nil {
		return out.Fail("sweep failed", err)
	}

	if opts.Format == "json" {
		if err := out.Success(report); err != nil {
			return err
		}
	} else {
		writeSweepReport(cmd.OutOrStdout(), report)
	}

	if !report.Tally.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d sweep write(s) failed", len(report.Tally.Errors)))
	}
	return nil
}

func runScheduledSweep(opts *SweepOptions, sw *sweep.Sweeper, every time.Duration, cmd *cobra.Command) error {
	sched, err := sweep.NewScheduler(sw, every)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to schedule sweep", err)
	}

	out := opts.formatter(cmd)
	sched.OnReport = func(r *sweep.Report) {
		if opts.Format == "json" {
			_ = out.Success(r)
			return
		}
		writeSweepReport(cmd.OutOrStdout(), r)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.logger().Info("sweep scheduled", "every", every.String())
	if err := sched.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "scheduler shutdown failed", err)
	}
	opts.logger().Info("sweep scheduler stopped")
	return nil
}

func writeSweepReport(w io.Writer, r *sweep.Report) {
	mode := "Sweep"
	if r.DryRun {
		mode = "Sweep plan (dry run)"
	}
	fmt.Fprintf(w, "%s at %s\n", mode, r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  records:    %d in %d groups\n", r.Records, r.Groups)
	fmt.Fprintf(w, "  duplicates: %d groups, %d rows to delete\n", r.Duplicates, len(r.ToDelete))
	fmt.Fprintf(w, "  backfill:   %d history entries\n", r.Backfill)
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  kept:       record %d (canonical %d): %s\n", s.Record.ID, s.Canonical, s.Reason)
	}
	if r.DryRun {
		return
	}
	fmt.Fprintf(w, "  deleted:    %d in %d batches (%d failed)\n", r.Tally.Deleted, r.Tally.Batches, r.Tally.Failed)
	fmt.Fprintf(w, "  backfilled: %d\n", r.Tally.Backfilled)
	for _, e := range r.Tally.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}
}
