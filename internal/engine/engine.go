package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/guildmark/internal/domain"
)

// Reader is the read side of the persistence client.
// Empty id arguments mean "no filter" (all templates, global stats).
type Reader interface {
	Templates(ctx context.Context) ([]domain.Template, error)
	Rules(ctx context.Context, templateID domain.ID) ([]domain.Rule, error)
	ActivityStats(ctx context.Context, userID, masterID domain.ID) (domain.Stats, error)
	ActivityMasters(ctx context.Context, userID domain.ID) ([]domain.ID, error)
	Records(ctx context.Context, userID, templateID domain.ID) ([]domain.Record, error)
	History(ctx context.Context, userID, templateID domain.ID) ([]domain.HistoryEntry, error)
}

// AnyVersion disables the optimistic version check of an UpsertCommand.
// Used by explicit master actions, which are authoritative.
const AnyVersion int64 = -1

// UpsertCommand is one atomic insert-or-update on a record's identity key.
type UpsertCommand struct {
	Key      domain.IdentityKey
	Locked   bool
	EarnedAt time.Time

	// ExpectedVersion is the version the caller read: 0 for "no row",
	// AnyVersion to skip the check.
	ExpectedVersion int64

	// History entries are appended in the same transaction as the upsert.
	History []domain.HistoryEntry
}

// Writer is the write side of the persistence client.
//
// UpsertRecord MUST be a single atomic insert-or-update on the identity key.
// Two separate "insert if absent, else update" calls race and produce the
// duplicate rows the sweeper has to clean up.
type Writer interface {
	UpsertRecord(ctx context.Context, cmd UpsertCommand) (domain.Record, error)
	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
}

// Status is the computed, display-ready state of one achievement for one user.
type Status struct {
	Template      domain.Template        `json:"template"`
	Met           bool                   `json:"met"`
	RuleText      string                 `json:"rule_text"`
	DisplayLocked bool                   `json:"display_locked"`
	Intent        Intent                 `json:"intent"`
	Grantors      []domain.ID            `json:"grantors,omitempty"`
	Sentinel      Sentinel               `json:"sentinel"`
	Visible       bool                   `json:"visible"`
	EarnedAt      *time.Time             `json:"earned_at,omitempty"`
	Unknown       []domain.ConditionType `json:"unknown,omitempty"`
}

// SyncOutcome reports one executed sync intent.
type SyncOutcome struct {
	Key     domain.IdentityKey `json:"-"`
	Record  string             `json:"record"`
	Intent  Intent             `json:"intent"`
	Applied bool               `json:"applied"`
	Error   string             `json:"error,omitempty"`
}

// Report is the result of one evaluation run.
type Report struct {
	UserID      domain.ID     `json:"user_id"`
	Viewing     string        `json:"viewing"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Statuses    []Status      `json:"statuses"`
	Syncs       []SyncOutcome `json:"syncs"`
}

// Engine runs stateless evaluation passes against a Reader and a Writer.
type Engine struct {
	reader Reader
	writer Writer
	clock  Clock
	ids    IDGenerator
	policy UnknownConditionPolicy
	logger *slog.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock used for earnedAt and unlockedAt stamps.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator for history entry ids.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithUnknownConditionPolicy sets how unknown rule conditions evaluate.
//
// Default: FailOpen.
func WithUnknownConditionPolicy(p UnknownConditionPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over the given persistence client.
func New(r Reader, w Writer, opts ...EngineOption) *Engine {
	e := &Engine{
		reader: r,
		writer: w,
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
		policy: FailOpen,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// inputs is everything one evaluation run reads, fetched once per run.
type inputs struct {
	templates []domain.Template
	rules     []domain.Rule
	global    domain.Stats
	perMaster map[domain.ID]domain.Stats
	records   []domain.Record
	history   []domain.HistoryEntry
}

// Evaluate computes every achievement's status for a user and applies the
// resulting sync intents.
//
// Read failures abort the run. Sync failures do not: the computed status is
// still returned (optimistic display) and the failure is recorded in the
// report; the next run retries the same idempotent write.
func (e *Engine) Evaluate(ctx context.Context, userID domain.ID, viewing domain.ViewingContext) (*Report, error) {
	userID = domain.NormalizeID(userID)
	if userID.IsNull() {
		return nil, fmt.Errorf("evaluate: user id is required")
	}

	in, err := e.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", userID, err)
	}

	now := e.clock.Now()
	report := &Report{
		UserID:      userID,
		Viewing:     viewing.String(),
		EvaluatedAt: now,
		Statuses:    make([]Status, 0, len(in.templates)),
		Syncs:       []SyncOutcome{},
	}

	for _, t := range in.templates {
		st, outcome := e.evaluateTemplate(ctx, userID, viewing, t, in, now)
		report.Statuses = append(report.Statuses, st)
		if outcome != nil {
			report.Syncs = append(report.Syncs, *outcome)
		}
	}

	e.logger.Info("evaluation complete",
		"user", userID,
		"viewing", viewing.String(),
		"templates", len(report.Statuses),
		"syncs", len(report.Syncs),
	)
	return report, nil
}

func (e *Engine) load(ctx context.Context, userID domain.ID) (*inputs, error) {
	templates, err := e.reader.Templates(ctx)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	rules, err := e.reader.Rules(ctx, domain.NullID)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	global, err := e.reader.ActivityStats(ctx, userID, domain.NullID)
	if err != nil {
		return nil, fmt.Errorf("read global stats: %w", err)
	}
	masters, err := e.reader.ActivityMasters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read masters: %w", err)
	}
	perMaster := make(map[domain.ID]domain.Stats, len(masters))
	for _, m := range masters {
		m = domain.NormalizeID(m)
		if m.IsNull() {
			continue
		}
		stats, err := e.reader.ActivityStats(ctx, userID, m)
		if err != nil {
			return nil, fmt.Errorf("read stats for master %s: %w", m, err)
		}
		perMaster[m] = stats
	}
	records, err := e.reader.Records(ctx, userID, domain.NullID)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	history, err := e.reader.History(ctx, userID, domain.NullID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	sort.SliceStable(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return &inputs{
		templates: templates,
		rules:     rules,
		global:    global,
		perMaster: perMaster,
		records:   records,
		history:   history,
	}, nil
}

func (e *Engine) evaluateTemplate(
	ctx context.Context,
	userID domain.ID,
	viewing domain.ViewingContext,
	t domain.Template,
	in *inputs,
	now time.Time,
) (Status, *SyncOutcome) {
	ev := Evaluate(t, in.rules, in.global, e.policy)
	e.logUnknown(t, in.rules, ev)

	var rec *domain.Record
	if t.IsBadge() {
		rec = systemRecord(userID, t, in.records, e.logger)
	} else {
		rec = CertificateRecord(t, in.records, viewing)
		ev.Met = rec != nil && !rec.Locked
	}

	attr := Resolve(AttributionInput{
		Template:  t,
		Rules:     in.rules,
		Met:       ev.Met,
		Records:   in.records,
		History:   in.history,
		PerMaster: in.perMaster,
		Viewing:   viewing,
		Policy:    e.policy,
	})
	dec := Reconcile(t, ev, attr, rec)

	st := Status{
		Template:      t,
		Met:           ev.Met,
		RuleText:      ev.RuleText,
		DisplayLocked: dec.DisplayLocked,
		Intent:        dec.Intent,
		Grantors:      attr.Grantors,
		Sentinel:      attr.Sentinel,
		Unknown:       ev.Unknown,
	}
	st.Visible = !dec.DisplayLocked && (viewing.IsAll() || len(attr.Grantors) > 0)
	if rec != nil && !dec.DisplayLocked {
		st.EarnedAt = rec.EarnedAt
	}

	if dec.Intent == IntentNone {
		return st, nil
	}

	outcome, applied := e.sync(ctx, userID, t, rec, dec, now)
	if applied != nil && !applied.Locked {
		st.EarnedAt = applied.EarnedAt
	}
	if dec.Intent == IntentUnlock && st.EarnedAt == nil {
		earned := now
		st.EarnedAt = &earned
	}
	return st, &outcome
}

// sync executes one intent as a single atomic upsert.
func (e *Engine) sync(
	ctx context.Context,
	userID domain.ID,
	t domain.Template,
	rec *domain.Record,
	dec Decision,
	now time.Time,
) (SyncOutcome, *domain.Record) {
	key := domain.NewIdentityKey(userID, t.ID, domain.NullID)
	cmd := UpsertCommand{
		Key:      key,
		Locked:   dec.Intent == IntentLock,
		EarnedAt: now,
	}
	if rec != nil {
		cmd.ExpectedVersion = rec.Version
	}
	for _, g := range dec.HistoryGrantors {
		cmd.History = append(cmd.History, domain.HistoryEntry{
			ID:         e.ids.Generate(),
			UserID:     userID,
			TemplateID: t.ID,
			GrantorID:  g,
			UnlockedAt: now,
		})
	}

	outcome := SyncOutcome{Key: key, Record: key.String(), Intent: dec.Intent}
	applied, err := e.writer.UpsertRecord(ctx, cmd)
	if err != nil {
		outcome.Error = err.Error()
		if IsSyncConflict(err) {
			e.logger.Warn("sync conflict, will re-decide next cycle",
				"key", key.String(), "intent", dec.Intent, "error", err)
		} else {
			e.logger.Error("sync write failed",
				"key", key.String(), "intent", dec.Intent, "error", err)
		}
		return outcome, nil
	}

	outcome.Applied = true
	e.logger.Info("achievement synced",
		"key", key.String(),
		"intent", dec.Intent,
		"history", len(cmd.History),
	)
	return outcome, &applied
}

// systemRecord returns the badge row keyed by (user, template, null).
// Duplicates are tolerated here (the sweeper repairs them) by reading the
// canonical row.
func systemRecord(userID domain.ID, t domain.Template, records []domain.Record, logger *slog.Logger) *domain.Record {
	key := domain.NewIdentityKey(userID, t.ID, domain.NullID)
	var rows []domain.Record
	for _, r := range records {
		if r.Key() == key {
			rows = append(rows, r)
		}
	}
	if len(rows) > 1 {
		logger.Warn("duplicate records for identity key",
			"error", NewDuplicateInvariantError(key, len(rows)))
	}
	rec, ok := domain.Canonical(rows)
	if !ok {
		return nil
	}
	return &rec
}

func (e *Engine) logUnknown(t domain.Template, rules []domain.Rule, ev Evaluation) {
	if len(ev.Unknown) == 0 {
		return
	}
	for _, r := range EffectiveRules(t, rules) {
		if r.Condition.Known() {
			continue
		}
		e.logger.Warn("rule data error",
			"error", NewRuleDataError(t.ID, r.ID, r.Condition),
			"policy", e.policy.String(),
		)
	}
}
