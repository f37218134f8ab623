package engine

import (
	"bytes"
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

// newTestEngine wires an engine to a memStore with a fixed clock and
// sequential history ids.
func newTestEngine(t *testing.T, m *memStore, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithClock(testutil.NewFixedClock(time.Time{})),
		WithIDGenerator(testutil.NewSequenceGenerator("h")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(m, m, append(base, opts...)...)
}

// journeymanStore has one AND badge: 20 work hours and 1 project.
func journeymanStore() *memStore {
	m := newMemStore()
	m.templates = []domain.Template{badge("t1", domain.LogicAnd)}
	m.rules = []domain.Rule{
		autoRule("r1", "t1", domain.ConditionWorkHours, 20),
		autoRule("r2", "t1", domain.ConditionProjectCount, 1),
	}
	return m
}

func statusFor(t *testing.T, r *Report, id string) Status {
	t.Helper()
	for _, st := range r.Statuses {
		if st.Template.ID == domain.ID(id) {
			return st
		}
	}
	t.Fatalf("no status for template %s", id)
	return Status{}
}

func TestEngine_New_Defaults(t *testing.T) {
	m := newMemStore()
	e := New(m, m)

	assert.IsType(t, SystemClock{}, e.clock)
	assert.IsType(t, UUIDv7Generator{}, e.ids)
	assert.Equal(t, FailOpen, e.policy)
	assert.NotNil(t, e.logger)
}

func TestEngine_Evaluate_RequiresUser(t *testing.T) {
	m := journeymanStore()
	e := newTestEngine(t, m)

	_, err := e.Evaluate(context.Background(), domain.NullID, domain.All())
	require.Error(t, err)
}

func TestEngine_Evaluate_UnlockThenIdempotent(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.addActivity("u1", "m1", domain.ActivityWork, 25)
	m.addActivity("u1", "m1", domain.ActivityProject, 0)
	e := newTestEngine(t, m)

	first, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, first, "t1")
	assert.True(t, st.Met)
	assert.False(t, st.DisplayLocked)
	assert.Equal(t, IntentUnlock, st.Intent)
	assert.Equal(t, []domain.ID{"m1"}, st.Grantors)
	assert.True(t, st.Visible)
	require.NotNil(t, st.EarnedAt)
	assert.Equal(t, testutil.Epoch, *st.EarnedAt)

	require.Len(t, first.Syncs, 1)
	assert.True(t, first.Syncs[0].Applied)
	assert.Equal(t, "u1/t1/null", first.Syncs[0].Record)

	require.Len(t, m.records, 1)
	assert.False(t, m.records[0].Locked)
	assert.True(t, m.records[0].GrantorID.IsNull(), "badge row is the system row")
	require.Len(t, m.history, 1)
	assert.Equal(t, domain.ID("m1"), m.history[0].GrantorID)
	assert.Equal(t, "h-1", m.history[0].ID)

	second, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)
	assert.Empty(t, second.Syncs, "applied intents must not repeat")
	assert.Equal(t, IntentNone, statusFor(t, second, "t1").Intent)
	assert.Equal(t, 1, m.upserts)
	assert.Len(t, m.history, 1)
}

func TestEngine_Evaluate_LockWhenStatsDrop(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	earned := testutil.Epoch.Add(-time.Hour)
	m.records = []domain.Record{{ID: 1, UserID: "u1", TemplateID: "t1", Locked: false, EarnedAt: &earned, Version: 1}}
	m.nextID = 2
	e := newTestEngine(t, m)

	report, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, report, "t1")
	assert.True(t, st.DisplayLocked)
	assert.Equal(t, IntentLock, st.Intent)
	assert.False(t, st.Visible)

	require.Len(t, m.records, 1, "locking keeps the row")
	assert.True(t, m.records[0].Locked)
	assert.Equal(t, &earned, m.records[0].EarnedAt)
}

func TestEngine_Evaluate_AggregateWritesNoHistory(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.addActivity("u1", "m1", domain.ActivityWork, 15)
	m.addActivity("u1", "m2", domain.ActivityWork, 10)
	m.addActivity("u1", "m2", domain.ActivityProject, 0)
	e := newTestEngine(t, m)

	report, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, report, "t1")
	assert.Equal(t, SentinelAggregate, st.Sentinel)
	assert.Empty(t, st.Grantors)
	assert.Equal(t, IntentUnlock, st.Intent)
	assert.True(t, st.Visible)
	assert.Len(t, m.records, 1)
	assert.Empty(t, m.history)
}

func TestEngine_Evaluate_MasterViewNeverLocks(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.addActivity("u1", "m1", domain.ActivityWork, 25)
	m.addActivity("u1", "m1", domain.ActivityProject, 0)
	e := newTestEngine(t, m)

	_, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)

	report, err := e.Evaluate(ctx, "u1", domain.Master("m2"))
	require.NoError(t, err)

	st := statusFor(t, report, "t1")
	assert.False(t, st.DisplayLocked, "met globally")
	assert.Empty(t, st.Grantors)
	assert.False(t, st.Visible, "m2 is not responsible")
	assert.Empty(t, report.Syncs)
	assert.False(t, m.records[0].Locked)
	assert.Equal(t, "m2", report.Viewing)
}

func TestEngine_Evaluate_SyncFailureKeepsDisplay(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.addActivity("u1", "m1", domain.ActivityWork, 25)
	m.addActivity("u1", "m1", domain.ActivityProject, 0)
	m.failNext = errStorageDown
	e := newTestEngine(t, m)

	report, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err, "sync failures do not fail the run")

	st := statusFor(t, report, "t1")
	assert.False(t, st.DisplayLocked, "optimistic display")
	require.Len(t, report.Syncs, 1)
	assert.False(t, report.Syncs[0].Applied)
	assert.Contains(t, report.Syncs[0].Error, "storage unavailable")
	assert.Empty(t, m.records)

	retry, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)
	require.Len(t, retry.Syncs, 1)
	assert.True(t, retry.Syncs[0].Applied)
	assert.Len(t, m.records, 1)
}

// racingWriter bumps the row's version before every upsert, as a concurrent
// writer would between our read and our write.
type racingWriter struct {
	*memStore
}

func (w racingWriter) UpsertRecord(ctx context.Context, cmd UpsertCommand) (domain.Record, error) {
	w.mu.Lock()
	for i := range w.records {
		if w.records[i].Key() == cmd.Key {
			w.records[i].Version++
		}
	}
	w.mu.Unlock()
	return w.memStore.UpsertRecord(ctx, cmd)
}

func TestEngine_Evaluate_SyncConflictLogged(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.records = []domain.Record{{ID: 1, UserID: "u1", TemplateID: "t1", Locked: true, Version: 1}}
	m.nextID = 2
	m.addActivity("u1", "m1", domain.ActivityWork, 25)
	m.addActivity("u1", "m1", domain.ActivityProject, 0)

	var buf bytes.Buffer
	e := New(m, racingWriter{m},
		WithClock(testutil.NewFixedClock(time.Time{})),
		WithIDGenerator(testutil.NewSequenceGenerator("h")),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)

	report, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)
	require.Len(t, report.Syncs, 1)
	assert.False(t, report.Syncs[0].Applied)
	assert.Contains(t, report.Syncs[0].Error, string(ErrCodeSyncConflict))
	assert.Contains(t, buf.String(), "sync conflict")
	assert.True(t, m.records[0].Locked, "lost write leaves the row alone")
	assert.Empty(t, m.history)
}

func TestEngine_Evaluate_ToleratesDuplicates(t *testing.T) {
	ctx := context.Background()
	m := journeymanStore()
	m.addActivity("u1", "m1", domain.ActivityWork, 25)
	m.addActivity("u1", "m1", domain.ActivityProject, 0)
	earned := testutil.Epoch
	m.records = []domain.Record{
		{ID: 3, UserID: "u1", TemplateID: "t1", Locked: true, Version: 1},
		{ID: 5, UserID: "u1", TemplateID: "t1", Locked: false, EarnedAt: &earned, Version: 1},
	}
	m.nextID = 6

	var buf bytes.Buffer
	e := newTestEngine(t, m, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	report, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, report, "t1")
	assert.Equal(t, IntentNone, st.Intent, "canonical row is already unlocked")
	assert.Empty(t, report.Syncs)
	assert.Contains(t, buf.String(), string(ErrCodeDuplicateInvariant))
}

func TestEngine_Evaluate_CertificateFromPersistedState(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	m.templates = []domain.Template{certificate("c1")}
	m.rules = []domain.Rule{manualRule("r1", "c1")}
	earned := testutil.Epoch
	m.records = []domain.Record{{ID: 1, UserID: "u1", TemplateID: "c1", GrantorID: "m1", EarnedAt: &earned, Version: 1}}
	e := newTestEngine(t, m)

	all, err := e.Evaluate(ctx, "u1", domain.All())
	require.NoError(t, err)
	st := statusFor(t, all, "c1")
	assert.True(t, st.Met)
	assert.False(t, st.DisplayLocked)
	assert.Equal(t, CertificateRuleText, st.RuleText)
	assert.Equal(t, []domain.ID{"m1"}, st.Grantors)
	assert.Empty(t, all.Syncs, "certificates are never synced")

	other, err := e.Evaluate(ctx, "u1", domain.Master("m2"))
	require.NoError(t, err)
	st = statusFor(t, other, "c1")
	assert.True(t, st.DisplayLocked)
	assert.False(t, st.Visible)
	assert.Empty(t, other.Syncs)
}

func TestEngine_Evaluate_ScenarioE(t *testing.T) {
	m := newMemStore()
	m.templates = []domain.Template{certificate("c1")}
	e := newTestEngine(t, m)

	report, err := e.Evaluate(context.Background(), "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, report, "c1")
	assert.True(t, st.DisplayLocked)
	assert.Equal(t, IntentNone, st.Intent)
	assert.Empty(t, m.records)
}

func TestEngine_Evaluate_UnknownConditionLogged(t *testing.T) {
	m := newMemStore()
	m.templates = []domain.Template{badge("t1", domain.LogicAnd)}
	m.rules = []domain.Rule{autoRule("r1", "t1", domain.ConditionType("MENTOR_SESSIONS"), 3)}

	var buf bytes.Buffer
	e := newTestEngine(t, m,
		WithUnknownConditionPolicy(FailClosed),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)

	report, err := e.Evaluate(context.Background(), "u1", domain.All())
	require.NoError(t, err)

	st := statusFor(t, report, "t1")
	assert.False(t, st.Met)
	assert.Equal(t, []domain.ConditionType{"MENTOR_SESSIONS"}, st.Unknown)
	assert.Contains(t, buf.String(), string(ErrCodeRuleData))
	assert.Contains(t, buf.String(), "policy=closed")
}

func TestEngine_Evaluate_TemplatesSorted(t *testing.T) {
	m := newMemStore()
	m.templates = []domain.Template{certificate("c2"), badge("b1", domain.LogicOr), certificate("a0")}
	e := newTestEngine(t, m)

	report, err := e.Evaluate(context.Background(), "u1", domain.All())
	require.NoError(t, err)

	var ids []domain.ID
	for _, st := range report.Statuses {
		ids = append(ids, st.Template.ID)
	}
	assert.Equal(t, []domain.ID{"a0", "b1", "c2"}, ids)
}
