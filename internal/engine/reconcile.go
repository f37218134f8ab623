package engine

import "github.com/roach88/guildmark/internal/domain"

// Intent is the sync action a reconciliation asks the writer to perform.
type Intent string

const (
	IntentNone   Intent = "none"
	IntentUnlock Intent = "UNLOCK"
	IntentLock   Intent = "LOCK"
)

// Decision is the ReconciliationEngine result.
type Decision struct {
	// DisplayLocked is the post-sync status: what the record will be once
	// Intent is applied.
	DisplayLocked bool `json:"display_locked"`

	Intent Intent `json:"intent"`

	// HistoryGrantors are written to the unlock history together with an
	// UNLOCK, making the attribution durable.
	HistoryGrantors []domain.ID `json:"history_grantors,omitempty"`
}

// Reconcile compares the computed status against the persisted record.
//
// A missing record counts as locked. Only badges are ever synced;
// certificates change lock state through explicit master actions alone,
// so for them the decision just reports the persisted state.
func Reconcile(t domain.Template, ev Evaluation, attr Attribution, rec *domain.Record) Decision {
	dbLocked := rec == nil || rec.Locked

	if !t.IsBadge() {
		return Decision{DisplayLocked: dbLocked, Intent: IntentNone}
	}

	switch {
	case ev.Met && dbLocked:
		d := Decision{DisplayLocked: false, Intent: IntentUnlock}
		if attr.Sentinel != SentinelAggregate {
			d.HistoryGrantors = attr.Candidates
		}
		return d
	case !ev.Met && !dbLocked:
		return Decision{DisplayLocked: true, Intent: IntentLock}
	}
	return Decision{DisplayLocked: dbLocked, Intent: IntentNone}
}
