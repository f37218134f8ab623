package sweep

import (
	"sort"

	"github.com/roach88/guildmark/internal/domain"
)

// SkippedRecord is a duplicate the sweeper refused to delete.
type SkippedRecord struct {
	Record    domain.Record `json:"record"`
	Canonical int64         `json:"canonical"`
	Reason    string        `json:"reason"`
}

// SweepPlan is the sweeper's decision for one snapshot of the record table.
type SweepPlan struct {
	Groups    map[domain.IdentityKey][]domain.Record
	Canonical map[domain.IdentityKey]domain.Record

	// ToDelete holds record ids in ascending order.
	ToDelete []int64

	// Backfill holds history entries to append for unlocked canonical
	// grants that have none. ID is left empty; UnlockedAt is the record's
	// EarnedAt, or zero when that is unknown.
	Backfill []domain.HistoryEntry

	Skipped []SkippedRecord
}

// Keys returns the plan's identity keys in deterministic order.
func (p *SweepPlan) Keys() []domain.IdentityKey {
	keys := make([]domain.IdentityKey, 0, len(p.Groups))
	for k := range p.Groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Duplicates returns the keys whose group has more than one row.
func (p *SweepPlan) Duplicates() []domain.IdentityKey {
	var out []domain.IdentityKey
	for _, k := range p.Keys() {
		if len(p.Groups[k]) > 1 {
			out = append(out, k)
		}
	}
	return out
}

// Plan groups records by identity key and decides what to keep, delete,
// and backfill.
//
// A singleton group is never touched. Within a larger group the canonical
// row is unlocked-first, then lowest id. Another row is deleted only when
// the canonical row is unlocked or shares its lock status; anything else
// is reported in Skipped.
func Plan(records []domain.Record, history []domain.HistoryEntry) *SweepPlan {
	plan := &SweepPlan{
		Groups:    make(map[domain.IdentityKey][]domain.Record),
		Canonical: make(map[domain.IdentityKey]domain.Record),
	}

	for _, r := range records {
		k := r.Key()
		plan.Groups[k] = append(plan.Groups[k], r)
	}

	for _, k := range plan.Keys() {
		group := plan.Groups[k]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		canonical, _ := domain.Canonical(group)
		plan.Canonical[k] = canonical
		if len(group) == 1 {
			continue
		}

		for _, r := range group {
			if r.ID == canonical.ID {
				continue
			}
			if !canonical.Locked || canonical.Locked == r.Locked {
				plan.ToDelete = append(plan.ToDelete, r.ID)
				continue
			}
			plan.Skipped = append(plan.Skipped, SkippedRecord{
				Record:    r,
				Canonical: canonical.ID,
				Reason:    "canonical row is locked but this row is not",
			})
		}
	}
	sort.Slice(plan.ToDelete, func(i, j int) bool { return plan.ToDelete[i] < plan.ToDelete[j] })

	plan.Backfill = backfill(plan, history)
	return plan
}

// backfill finds unlocked canonical grants with no matching history entry.
func backfill(plan *SweepPlan, history []domain.HistoryEntry) []domain.HistoryEntry {
	recorded := make(map[domain.IdentityKey]bool, len(history))
	for _, h := range history {
		recorded[domain.NewIdentityKey(h.UserID, h.TemplateID, h.GrantorID)] = true
	}

	var out []domain.HistoryEntry
	for _, k := range plan.Keys() {
		c := plan.Canonical[k]
		if c.Locked || k.GrantorID.IsNull() || recorded[k] {
			continue
		}
		entry := domain.HistoryEntry{
			UserID:     k.UserID,
			TemplateID: k.TemplateID,
			GrantorID:  k.GrantorID,
		}
		if c.EarnedAt != nil {
			entry.UnlockedAt = *c.EarnedAt
		}
		out = append(out, entry)
	}
	return out
}
