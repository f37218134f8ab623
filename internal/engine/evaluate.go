package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/guildmark/internal/domain"
)

// CertificateRuleText describes every certificate, whatever its rules.
const CertificateRuleText = "Granted by master"

// UnknownConditionPolicy decides how a rule with an unrecognized condition
// type is evaluated.
type UnknownConditionPolicy int

const (
	// FailOpen treats unknown conditions as satisfied, so catalogs may ship
	// new condition kinds before the engine understands them.
	FailOpen UnknownConditionPolicy = iota

	// FailClosed treats unknown conditions as unmet.
	FailClosed
)

// ParseUnknownConditionPolicy parses "open" or "closed".
func ParseUnknownConditionPolicy(s string) (UnknownConditionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "fail-open":
		return FailOpen, nil
	case "closed", "fail-closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown condition policy %q: must be open or closed", s)
}

func (p UnknownConditionPolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// Evaluation is the RuleEvaluator result for one template.
type Evaluation struct {
	// Met is the threshold verdict. Always false for certificates.
	Met bool `json:"met"`

	// RuleText describes the effective rules in rule-array order.
	RuleText string `json:"rule_text"`

	// Unknown lists condition types the evaluator did not recognize.
	Unknown []domain.ConditionType `json:"unknown,omitempty"`
}

// EffectiveRules returns the rules of t that its category allows, in input order.
//
// Badges keep AUTOMATIC rules only; certificates keep MANUAL rules only.
// Rules belonging to other templates are dropped.
func EffectiveRules(t domain.Template, rules []domain.Rule) []domain.Rule {
	want := domain.RuleManual
	if t.IsBadge() {
		want = domain.RuleAutomatic
	}

	var out []domain.Rule
	for _, r := range rules {
		if r.TemplateID != t.ID || r.Kind != want {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Evaluate decides whether a template's rules are met by stats.
//
// The rules slice may contain rules of any template and kind; EffectiveRules
// filters it first. A badge with no effective rules is never met.
func Evaluate(t domain.Template, rules []domain.Rule, stats domain.Stats, policy UnknownConditionPolicy) Evaluation {
	if !t.IsBadge() {
		return Evaluation{RuleText: CertificateRuleText}
	}

	effective := EffectiveRules(t, rules)
	ev := Evaluation{RuleText: RenderRules(t.Logic, effective)}
	if len(effective) == 0 {
		return ev
	}

	or := t.Logic == domain.LogicOr
	met := !or
	for _, r := range effective {
		ok, known := ruleMet(r, stats, policy)
		if !known {
			ev.Unknown = append(ev.Unknown, r.Condition)
		}
		if or && ok {
			met = true
		}
		if !or && !ok {
			met = false
		}
	}
	ev.Met = met
	return ev
}

// ruleMet compares one automatic rule against stats (non-strict >=).
// The second result is false when the condition type is unknown.
func ruleMet(r domain.Rule, stats domain.Stats, policy UnknownConditionPolicy) (bool, bool) {
	v, known := stats.Value(r.Condition)
	if !known {
		return policy == FailOpen, false
	}
	return v >= r.Threshold, true
}

// RenderRules joins each rule's phrase with the logic separator.
func RenderRules(logic domain.Logic, rules []domain.Rule) string {
	sep := " AND "
	if logic == domain.LogicOr {
		sep = " OR "
	}
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = RenderRule(r)
	}
	return strings.Join(parts, sep)
}

// RenderRule renders a single automatic rule, e.g. "20 work hours".
func RenderRule(r domain.Rule) string {
	n := formatAmount(r.Threshold)
	switch r.Condition {
	case domain.ConditionWorkHours:
		return n + " work " + plural(r.Threshold, "hour")
	case domain.ConditionStudyHours:
		return n + " study " + plural(r.Threshold, "hour")
	case domain.ConditionTotalHours:
		return n + " total " + plural(r.Threshold, "hour")
	case domain.ConditionProjectCount:
		return n + " " + plural(r.Threshold, "project")
	}
	return fmt.Sprintf("%s >= %s", r.Condition, n)
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func plural(n float64, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
