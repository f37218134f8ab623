package engine

import (
	"sort"

	"github.com/roach88/guildmark/internal/domain"
)

// Sentinel marks attribution outcomes that are not a grantor list.
type Sentinel string

const (
	// SentinelNone means the grantor list is the whole answer.
	SentinelNone Sentinel = "none"

	// SentinelAggregate means the badge is met only by combining several
	// masters' activity; no single master is responsible.
	SentinelAggregate Sentinel = "aggregate"
)

// Marker is the short display form: "+" for aggregate, "" otherwise.
func (s Sentinel) Marker() string {
	if s == SentinelAggregate {
		return "+"
	}
	return ""
}

// AttributionInput carries everything Resolve needs for one template.
type AttributionInput struct {
	Template domain.Template
	Rules    []domain.Rule
	Met      bool
	Records  []domain.Record
	History  []domain.HistoryEntry

	// PerMaster holds each master's individually scoped stats for the user.
	// Only consulted when a met badge has no recorded grantor.
	PerMaster map[domain.ID]domain.Stats

	Viewing domain.ViewingContext
	Policy  UnknownConditionPolicy
}

// Attribution is the AttributionResolver result.
type Attribution struct {
	// Candidates is every responsible grantor, before viewing-context filtering.
	Candidates []domain.ID `json:"candidates,omitempty"`

	// Grantors is Candidates narrowed to the viewing context.
	Grantors []domain.ID `json:"grantors,omitempty"`

	Sentinel Sentinel `json:"sentinel"`
}

// Resolve determines which masters are responsible for an achievement.
//
// Recorded grantors (history entries and unlocked records of the template)
// come first. A met badge with nothing recorded is re-evaluated once per
// master against that master's own stats; qualifying masters are the
// grantors, and if none qualifies the result is the aggregate sentinel.
// The result is sorted, so equal inputs give equal outputs.
func Resolve(in AttributionInput) Attribution {
	seen := make(map[domain.ID]bool)
	var candidates []domain.ID
	add := func(raw domain.ID) {
		id := domain.NormalizeID(raw)
		if id.IsNull() || seen[id] {
			return
		}
		seen[id] = true
		candidates = append(candidates, id)
	}

	tid := domain.NormalizeID(in.Template.ID)
	for _, h := range in.History {
		if domain.NormalizeID(h.TemplateID) == tid {
			add(h.GrantorID)
		}
	}
	for _, r := range in.Records {
		if !r.Locked && domain.NormalizeID(r.TemplateID) == tid {
			add(r.GrantorID)
		}
	}

	out := Attribution{Sentinel: SentinelNone}
	if len(candidates) == 0 && in.Met && in.Template.IsBadge() {
		for _, m := range qualifyingMasters(in) {
			add(m)
		}
		if len(candidates) == 0 {
			out.Sentinel = SentinelAggregate
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	out.Candidates = candidates
	for _, id := range candidates {
		if in.Viewing.Includes(id) {
			out.Grantors = append(out.Grantors, id)
		}
	}
	return out
}

// qualifyingMasters re-runs the evaluator once per master with activity.
func qualifyingMasters(in AttributionInput) []domain.ID {
	masters := make([]domain.ID, 0, len(in.PerMaster))
	for m := range in.PerMaster {
		masters = append(masters, m)
	}
	sort.Slice(masters, func(i, j int) bool { return masters[i] < masters[j] })

	var out []domain.ID
	for _, m := range masters {
		stats := in.PerMaster[m]
		if stats.IsZero() {
			continue
		}
		if Evaluate(in.Template, in.Rules, stats, in.Policy).Met {
			out = append(out, m)
		}
	}
	return out
}

// CertificateRecord picks the persisted row that decides a certificate's
// status in a viewing context: the canonical row among the template's rows
// whose grantor the viewer can see. Returns nil when there is none.
func CertificateRecord(t domain.Template, records []domain.Record, viewing domain.ViewingContext) *domain.Record {
	tid := domain.NormalizeID(t.ID)
	var rows []domain.Record
	for _, r := range records {
		if domain.NormalizeID(r.TemplateID) != tid || !viewing.Includes(r.GrantorID) {
			continue
		}
		rows = append(rows, r)
	}
	rec, ok := domain.Canonical(rows)
	if !ok {
		return nil
	}
	return &rec
}

// CertificateUnlocked reports whether a certificate is unlocked in a viewing
// context. Certificate status comes from persisted state only.
func CertificateUnlocked(t domain.Template, records []domain.Record, viewing domain.ViewingContext) bool {
	rec := CertificateRecord(t, records, viewing)
	return rec != nil && !rec.Locked
}
