package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
	"github.com/roach88/guildmark/internal/store"
	"github.com/roach88/guildmark/internal/sweep"
	"github.com/roach88/guildmark/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and id generator.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FixedClock
	ids    *testutil.SequenceGenerator
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Expectation and assertion failures are reported in the result; the
// returned error is reserved for scenarios that cannot run at all
// (bad catalog, failed seeding).
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Compile and persist the catalog
// 3. Seed activity, records and history
// 4. Execute steps with their expectations
// 5. Snapshot final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	policy, err := engine.ParseUnknownConditionPolicy(scenario.UnknownConditions)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFixedClock(time.Time{})
	ids := testutil.NewSequenceGenerator("hist")
	h := &Harness{
		store: st,
		engine: engine.New(st, st,
			engine.WithClock(clock),
			engine.WithIDGenerator(ids),
			engine.WithUnknownConditionPolicy(policy),
			engine.WithLogger(logger),
		),
		clock:  clock,
		ids:    ids,
		logger: logger,
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	final, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	result.Final = final

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(a, final); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

// seed persists the catalog and the scenario's starting state.
func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	cat, err := s.LoadCatalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := h.store.SaveCatalog(ctx, cat.Templates, cat.Rules); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}

	for i, a := range s.Activity {
		if err := h.recordActivity(ctx, a); err != nil {
			return fmt.Errorf("activity[%d]: %w", i, err)
		}
	}

	for i, r := range s.Records {
		earned := h.clock.Now()
		if r.EarnedAt != nil {
			earned = *r.EarnedAt
		}
		_, err := h.store.UpsertRecord(ctx, engine.UpsertCommand{
			Key:             domain.NewIdentityKey(r.User, r.Template, r.Grantor),
			Locked:          r.Locked,
			EarnedAt:        earned,
			ExpectedVersion: engine.AnyVersion,
		})
		if err != nil {
			return fmt.Errorf("records[%d]: %w", i, err)
		}
	}

	for i, e := range s.History {
		unlocked := h.clock.Now()
		if e.UnlockedAt != nil {
			unlocked = *e.UnlockedAt
		}
		err := h.store.AppendHistory(ctx, domain.HistoryEntry{
			ID:         h.ids.Generate(),
			UserID:     e.User,
			TemplateID: e.Template,
			GrantorID:  e.Grantor,
			UnlockedAt: unlocked,
		})
		if err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) recordActivity(ctx context.Context, a ActivityStep) error {
	kind, ok := domain.ParseActivityKind(a.Kind)
	if !ok {
		return fmt.Errorf("unknown activity kind %q", a.Kind)
	}
	_, err := h.store.RecordActivity(ctx, domain.Activity{
		UserID:     a.User,
		MasterID:   a.Master,
		Kind:       kind,
		Hours:      a.Hours,
		OccurredAt: h.clock.Now(),
	})
	return err
}

// executeStep runs one step and checks its expectations.
// Only infrastructure failures are returned as errors.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	prefix := fmt.Sprintf("steps[%d]", index)
	var sr StepResult
	var stepErr error

	switch {
	case step.Evaluate != nil:
		viewing := domain.All()
		if step.Evaluate.Viewing != "" {
			viewing = domain.Master(step.Evaluate.Viewing)
		}
		sr = StepResult{Step: "evaluate", Target: string(step.Evaluate.User) + "@" + viewing.String()}
		report, err := h.engine.Evaluate(ctx, step.Evaluate.User, viewing)
		stepErr = err
		if err == nil {
			for _, st := range report.Statuses {
				sr.Statuses = append(sr.Statuses, statusSnapshot(st))
			}
			for _, o := range report.Syncs {
				sr.Syncs = append(sr.Syncs, SyncSnapshot{Record: o.Record, Intent: o.Intent, Applied: o.Applied, Error: o.Error})
			}
			checkStatuses(prefix, step.Expect, sr.Statuses, result)
		}

	case step.Grant != nil:
		g := step.Grant
		sr = StepResult{Step: "grant", Target: domain.NewIdentityKey(g.User, g.Template, g.Master).String()}
		_, stepErr = h.engine.GrantCertificate(ctx, g.User, g.Template, g.Master)

	case step.Revoke != nil:
		r := step.Revoke
		sr = StepResult{Step: "revoke", Target: domain.NewIdentityKey(r.User, r.Template, r.Master).String()}
		_, stepErr = h.engine.RevokeCertificate(ctx, r.User, r.Template, r.Master)

	case step.Sweep != nil:
		sr = StepResult{Step: "sweep"}
		opts := []sweep.Option{
			sweep.WithClock(h.clock),
			sweep.WithIDGenerator(h.ids),
			sweep.WithLogger(h.logger),
		}
		if step.Sweep.BatchSize > 0 {
			opts = append(opts, sweep.WithBatchSize(step.Sweep.BatchSize))
		}
		report, err := sweep.New(h.store, h.store, opts...).Run(ctx, step.Sweep.DryRun)
		stepErr = err
		if err == nil {
			sr.Sweep = &SweepSnapshot{
				DryRun:     report.DryRun,
				Duplicates: report.Duplicates,
				Deleted:    report.Tally.Deleted,
				Backfilled: report.Tally.Backfilled,
				Skipped:    len(report.Skipped),
			}
			checkSweep(prefix, step.ExpectSweep, *sr.Sweep, result)
		}

	case step.Activity != nil:
		sr = StepResult{Step: "activity", Target: string(step.Activity.User) + "@" + string(step.Activity.Master)}
		if err := h.recordActivity(ctx, *step.Activity); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		h.clock.Advance(d)
		sr = StepResult{Step: "advance", Target: step.Advance}
	}

	if stepErr != nil {
		sr.Error = errorCode(stepErr)
	}
	switch {
	case step.ExpectError == "" && stepErr != nil:
		result.AddError(fmt.Sprintf("%s: %s failed: %v", prefix, sr.Step, stepErr))
	case step.ExpectError != "" && sr.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %q", prefix, step.ExpectError, sr.Error))
	}

	result.Steps = append(result.Steps, sr)
	return nil
}

// errorCode reduces an engine error to its code; other errors keep their text.
func errorCode(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return err.Error()
}

// snapshot reads the final persisted state.
func (h *Harness) snapshot(ctx context.Context) (FinalState, error) {
	records, err := h.store.AllRecords(ctx)
	if err != nil {
		return FinalState{}, fmt.Errorf("snapshot records: %w", err)
	}
	history, err := h.store.AllHistory(ctx)
	if err != nil {
		return FinalState{}, fmt.Errorf("snapshot history: %w", err)
	}

	final := FinalState{
		Records: make([]RecordSnapshot, 0, len(records)),
		History: make([]HistorySnapshot, 0, len(history)),
	}
	for _, r := range records {
		final.Records = append(final.Records, recordSnapshot(r))
	}
	for _, e := range history {
		final.History = append(final.History, historySnapshot(e))
	}
	return final, nil
}
