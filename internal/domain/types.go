package domain

import (
	"strings"
	"time"
)

// Category partitions achievements into automatic badges and manual certificates.
type Category string

const (
	CategoryBadge       Category = "Badge"
	CategoryCertificate Category = "Certificate"
)

// ParseCategory parses a category name case-insensitively.
// Returns false for anything other than badge or certificate.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "badge":
		return CategoryBadge, true
	case "certificate":
		return CategoryCertificate, true
	}
	return "", false
}

// Logic combines a template's rules.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ParseLogic returns LogicOr for "or" (any case) and LogicAnd for everything else.
func ParseLogic(s string) Logic {
	if strings.EqualFold(strings.TrimSpace(s), string(LogicOr)) {
		return LogicOr
	}
	return LogicAnd
}

// RuleKind distinguishes master-granted rules from threshold rules.
type RuleKind string

const (
	RuleManual    RuleKind = "MANUAL"
	RuleAutomatic RuleKind = "AUTOMATIC"
)

// ConditionType names the statistic an automatic rule compares.
// Values outside the known set are carried through as unknown conditions.
type ConditionType string

const (
	ConditionWorkHours    ConditionType = "WORK_HOURS"
	ConditionStudyHours   ConditionType = "STUDY_HOURS"
	ConditionTotalHours   ConditionType = "TOTAL_HOURS"
	ConditionProjectCount ConditionType = "PROJECT_COUNT"
)

// Known reports whether the condition type is one the evaluator understands.
func (c ConditionType) Known() bool {
	switch c {
	case ConditionWorkHours, ConditionStudyHours, ConditionTotalHours, ConditionProjectCount:
		return true
	}
	return false
}

// Template is immutable achievement reference data.
type Template struct {
	ID          ID       `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Points      int64    `json:"points"`
	Category    Category `json:"category"`
	Logic       Logic    `json:"logic"`
}

// IsBadge reports whether the template is evaluated automatically.
func (t Template) IsBadge() bool {
	return t.Category == CategoryBadge
}

// Rule is one unlock condition belonging to exactly one template.
type Rule struct {
	ID         ID            `json:"id"`
	TemplateID ID            `json:"template_id"`
	Kind       RuleKind      `json:"kind"`
	Condition  ConditionType `json:"condition,omitempty"`
	Threshold  float64       `json:"threshold,omitempty"`
}

// Stats aggregates activity for one evaluation scope (global or one master).
type Stats struct {
	WorkHours    float64 `json:"work_hours"`
	StudyHours   float64 `json:"study_hours"`
	ProjectCount int64   `json:"project_count"`
}

// TotalHours is work plus study hours.
func (s Stats) TotalHours() float64 {
	return s.WorkHours + s.StudyHours
}

// Add returns the sum of two scopes.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		WorkHours:    s.WorkHours + o.WorkHours,
		StudyHours:   s.StudyHours + o.StudyHours,
		ProjectCount: s.ProjectCount + o.ProjectCount,
	}
}

// IsZero reports whether the scope has no activity at all.
func (s Stats) IsZero() bool {
	return s.WorkHours == 0 && s.StudyHours == 0 && s.ProjectCount == 0
}

// Value returns the statistic a condition compares against.
// The second result is false for unknown condition types.
func (s Stats) Value(c ConditionType) (float64, bool) {
	switch c {
	case ConditionWorkHours:
		return s.WorkHours, true
	case ConditionStudyHours:
		return s.StudyHours, true
	case ConditionTotalHours:
		return s.TotalHours(), true
	case ConditionProjectCount:
		return float64(s.ProjectCount), true
	}
	return 0, false
}

// Record is a persisted achievement row ("certificate row").
// ID is the stable insertion id; lower is older.
type Record struct {
	ID         int64      `json:"id"`
	UserID     ID         `json:"user_id"`
	TemplateID ID         `json:"template_id"`
	GrantorID  ID         `json:"grantor_id,omitempty"`
	Locked     bool       `json:"locked"`
	EarnedAt   *time.Time `json:"earned_at,omitempty"`
	Version    int64      `json:"version"`
}

// Key returns the record's identity key.
func (r Record) Key() IdentityKey {
	return NewIdentityKey(r.UserID, r.TemplateID, r.GrantorID)
}

// HistoryEntry is one append-only unlock log line.
type HistoryEntry struct {
	ID         string    `json:"id"`
	UserID     ID        `json:"user_id"`
	TemplateID ID        `json:"template_id"`
	GrantorID  ID        `json:"grantor_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// ActivityKind classifies a single activity fact.
type ActivityKind string

const (
	ActivityWork    ActivityKind = "WORK"
	ActivityStudy   ActivityKind = "STUDY"
	ActivityProject ActivityKind = "PROJECT"
)

// ParseActivityKind parses an activity kind case-insensitively.
func ParseActivityKind(s string) (ActivityKind, bool) {
	k := ActivityKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case ActivityWork, ActivityStudy, ActivityProject:
		return k, true
	}
	return "", false
}

// Activity is one raw activity fact an apprentice logged under a master.
// Hours is ignored for PROJECT entries; each counts as one project.
type Activity struct {
	UserID     ID           `json:"user_id"`
	MasterID   ID           `json:"master_id"`
	Kind       ActivityKind `json:"kind"`
	Hours      float64      `json:"hours,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}
