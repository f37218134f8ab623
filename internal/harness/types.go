package harness

import (
	"time"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Steps records what each step produced, in order.
	Steps []StepResult `json:"steps"`

	// Final is the persisted state after the last step.
	Final FinalState `json:"final"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// StepResult is the snapshot of one executed step.
type StepResult struct {
	Step     string           `json:"step"`
	Target   string           `json:"target,omitempty"`
	Statuses []StatusSnapshot `json:"statuses,omitempty"`
	Syncs    []SyncSnapshot   `json:"syncs,omitempty"`
	Sweep    *SweepSnapshot   `json:"sweep,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// StatusSnapshot is the part of an engine.Status a scenario checks.
type StatusSnapshot struct {
	Template domain.ID       `json:"template"`
	Met      bool            `json:"met"`
	Locked   bool            `json:"locked"`
	Visible  bool            `json:"visible"`
	Intent   engine.Intent   `json:"intent"`
	Sentinel engine.Sentinel `json:"sentinel"`
	Grantors []domain.ID     `json:"grantors,omitempty"`
	RuleText string          `json:"rule_text"`
}

// SyncSnapshot is one executed sync intent.
type SyncSnapshot struct {
	Record  string        `json:"record"`
	Intent  engine.Intent `json:"intent"`
	Applied bool          `json:"applied"`
	Error   string        `json:"error,omitempty"`
}

// SweepSnapshot summarizes a sweep report.
type SweepSnapshot struct {
	DryRun     bool  `json:"dry_run"`
	Duplicates int   `json:"duplicates"`
	Deleted    int64 `json:"deleted"`
	Backfilled int   `json:"backfilled"`
	Skipped    int   `json:"skipped"`
}

// FinalState is every persisted record and history entry.
type FinalState struct {
	Records []RecordSnapshot  `json:"records"`
	History []HistorySnapshot `json:"history"`
}

// RecordSnapshot is one persisted record.
type RecordSnapshot struct {
	ID       int64      `json:"id"`
	Key      string     `json:"key"`
	Locked   bool       `json:"locked"`
	EarnedAt *time.Time `json:"earned_at,omitempty"`
	Version  int64      `json:"version"`
}

// HistorySnapshot is one persisted unlock history entry.
type HistorySnapshot struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func statusSnapshot(st engine.Status) StatusSnapshot {
	return StatusSnapshot{
		Template: st.Template.ID,
		Met:      st.Met,
		Locked:   st.DisplayLocked,
		Visible:  st.Visible,
		Intent:   st.Intent,
		Sentinel: st.Sentinel,
		Grantors: st.Grantors,
		RuleText: st.RuleText,
	}
}

func recordSnapshot(r domain.Record) RecordSnapshot {
	return RecordSnapshot{
		ID:       r.ID,
		Key:      r.Key().String(),
		Locked:   r.Locked,
		EarnedAt: r.EarnedAt,
		Version:  r.Version,
	}
}

func historySnapshot(h domain.HistoryEntry) HistorySnapshot {
	return HistorySnapshot{
		ID:         h.ID,
		Key:        domain.NewIdentityKey(h.UserID, h.TemplateID, h.GrantorID).String(),
		UnlockedAt: h.UnlockedAt,
	}
}
