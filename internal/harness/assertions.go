package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/guildmark/internal/domain"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// evaluateAssertion checks one assertion against the final state.
func evaluateAssertion(a Assertion, final FinalState) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(a, final.Records)
	case AssertRecordCount:
		return assertRecordCount(a, final.Records)
	case AssertHistoryCount:
		return assertHistoryCount(a, final.History)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertRecord(a Assertion, records []RecordSnapshot) error {
	key := domain.NewIdentityKey(a.User, a.Template, a.Grantor).String()
	wantExists := a.Exists == nil || *a.Exists

	var found *RecordSnapshot
	for i := range records {
		if records[i].Key == key {
			found = &records[i]
			break
		}
	}

	if found == nil {
		if wantExists {
			return &AssertionError{Type: AssertRecord, Expected: "record " + key, Actual: "no record"}
		}
		return nil
	}
	if !wantExists {
		return &AssertionError{Type: AssertRecord, Expected: "no record " + key, Actual: fmt.Sprintf("record id=%d", found.ID)}
	}

	if a.Locked != nil && found.Locked != *a.Locked {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%s locked=%t", key, *a.Locked),
			Actual:   fmt.Sprintf("locked=%t", found.Locked),
		}
	}
	if a.Version != nil && found.Version != *a.Version {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%s version=%d", key, *a.Version),
			Actual:   fmt.Sprintf("version=%d", found.Version),
		}
	}
	return nil
}

func assertRecordCount(a Assertion, records []RecordSnapshot) error {
	n := 0
	for _, r := range records {
		if keyMatches(r.Key, a) {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{Type: AssertRecordCount, Expected: fmt.Sprintf("%d records%s", *a.Count, filterText(a)), Actual: fmt.Sprint(n)}
	}
	return nil
}

func assertHistoryCount(a Assertion, history []HistorySnapshot) error {
	n := 0
	for _, h := range history {
		if keyMatches(h.Key, a) {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{Type: AssertHistoryCount, Expected: fmt.Sprintf("%d entries%s", *a.Count, filterText(a)), Actual: fmt.Sprint(n)}
	}
	return nil
}

// keyMatches compares a rendered "user/template/grantor" key against the
// assertion's non-empty filters.
func keyMatches(key string, a Assertion) bool {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return false
	}
	want := []domain.ID{a.User, a.Template, a.Grantor}
	for i, w := range want {
		w = domain.NormalizeID(w)
		if !w.IsNull() && parts[i] != string(w) {
			return false
		}
	}
	return true
}

func filterText(a Assertion) string {
	var parts []string
	for _, f := range []struct {
		name string
		id   domain.ID
	}{{"user", a.User}, {"template", a.Template}, {"grantor", a.Grantor}} {
		if f.id != "" {
			parts = append(parts, f.name+"="+string(f.id))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}

// checkStatuses matches evaluate expectations against the reported statuses.
func checkStatuses(prefix string, expects []StatusExpect, got []StatusSnapshot, result *Result) {
	for i, e := range expects {
		at := fmt.Sprintf("%s.expect[%d] %s", prefix, i, e.Template)
		st, ok := findStatus(got, e.Template)
		if !ok {
			result.AddError(at + ": no status for template")
			continue
		}

		if e.Met != nil && st.Met != *e.Met {
			result.AddError(fmt.Sprintf("%s: met = %t, want %t", at, st.Met, *e.Met))
		}
		if e.Locked != nil && st.Locked != *e.Locked {
			result.AddError(fmt.Sprintf("%s: locked = %t, want %t", at, st.Locked, *e.Locked))
		}
		if e.Visible != nil && st.Visible != *e.Visible {
			result.AddError(fmt.Sprintf("%s: visible = %t, want %t", at, st.Visible, *e.Visible))
		}
		if e.Intent != "" && string(st.Intent) != e.Intent {
			result.AddError(fmt.Sprintf("%s: intent = %s, want %s", at, st.Intent, e.Intent))
		}
		if e.Sentinel != "" && string(st.Sentinel) != e.Sentinel {
			result.AddError(fmt.Sprintf("%s: sentinel = %s, want %s", at, st.Sentinel, e.Sentinel))
		}
		if e.RuleText != "" && st.RuleText != e.RuleText {
			result.AddError(fmt.Sprintf("%s: rule_text = %q, want %q", at, st.RuleText, e.RuleText))
		}
		if e.Grantors != nil && !sameIDs(st.Grantors, *e.Grantors) {
			result.AddError(fmt.Sprintf("%s: grantors = %v, want %v", at, st.Grantors, *e.Grantors))
		}
	}
}

func findStatus(statuses []StatusSnapshot, template domain.ID) (StatusSnapshot, bool) {
	template = domain.NormalizeID(template)
	for _, st := range statuses {
		if st.Template == template {
			return st, true
		}
	}
	return StatusSnapshot{}, false
}

// sameIDs compares grantor lists in order; resolved grantors are sorted.
func sameIDs(got, want []domain.ID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != domain.NormalizeID(want[i]) {
			return false
		}
	}
	return true
}

// checkSweep matches a sweep expectation against the report snapshot.
func checkSweep(prefix string, e *SweepExpect, got SweepSnapshot, result *Result) {
	if e == nil {
		return
	}
	if e.Duplicates != nil && got.Duplicates != *e.Duplicates {
		result.AddError(fmt.Sprintf("%s: sweep duplicates = %d, want %d", prefix, got.Duplicates, *e.Duplicates))
	}
	if e.Deleted != nil && got.Deleted != *e.Deleted {
		result.AddError(fmt.Sprintf("%s: sweep deleted = %d, want %d", prefix, got.Deleted, *e.Deleted))
	}
	if e.Backfilled != nil && got.Backfilled != *e.Backfilled {
		result.AddError(fmt.Sprintf("%s: sweep backfilled = %d, want %d", prefix, got.Backfilled, *e.Backfilled))
	}
	if e.Skipped != nil && got.Skipped != *e.Skipped {
		result.AddError(fmt.Sprintf("%s: sweep skipped = %d, want %d", prefix, got.Skipped, *e.Skipped))
	}
}
