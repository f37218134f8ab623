package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/gosimple/slug"

	"github.com/roach88/guildmark/internal/domain"
)

// Catalog is a validated set of templates and their rules.
// Rules are in rule-array order, grouped by template.
type Catalog struct {
	Templates []domain.Template
	Rules     []domain.Rule
}

// RulesFor returns the rules of one template in array order.
func (c *Catalog) RulesFor(templateID domain.ID) []domain.Rule {
	var out []domain.Rule
	for _, r := range c.Rules {
		if r.TemplateID == templateID {
			out = append(out, r)
		}
	}
	return out
}

// rawTemplate is the source shape shared by both formats.
type rawTemplate struct {
	ID          domain.ID `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Points      int64     `json:"points" yaml:"points"`
	Category    string    `json:"category" yaml:"category"`
	Logic       string    `json:"logic" yaml:"logic"`
	Rules       []rawRule `json:"rules" yaml:"rules"`

	// source position, never decoded
	pos  token.Pos
	file string
	line int
}

type rawRule struct {
	ID        domain.ID `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Condition string    `json:"condition" yaml:"condition"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
}

// Load reads a catalog file, choosing the format by extension
// (.cue, .yaml or .yml).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml":
		return ParseYAML(path, data)
	}
	return nil, fmt.Errorf("unsupported catalog format %q (want .cue, .yaml or .yml)", filepath.Ext(path))
}

// build validates raw templates and converts them to domain types.
func build(raws []rawTemplate) (*Catalog, error) {
	cat := &Catalog{}
	templateIDs := make(map[domain.ID]bool)
	ruleIDs := make(map[domain.ID]bool)

	for _, raw := range raws {
		fail := func(field, format string, args ...any) error {
			return &CompileError{
				Field:   field,
				Message: fmt.Sprintf(format, args...),
				Pos:     raw.pos,
				File:    raw.file,
				Line:    raw.line,
			}
		}

		id := domain.NormalizeID(raw.ID)
		if id.IsNull() {
			// A template without an id is keyed by its title.
			id = domain.ID(slug.Make(raw.Title))
		}
		if id.IsNull() {
			return nil, fail("id", "template id is required")
		}
		if templateIDs[id] {
			return nil, fail("id", "duplicate template id %q", id)
		}
		templateIDs[id] = true

		if strings.TrimSpace(raw.Title) == "" {
			return nil, fail("title", "template %s: title is required", id)
		}
		if raw.Points < 0 {
			return nil, fail("points", "template %s: points must not be negative, got %d", id, raw.Points)
		}
		if raw.Category != "" {
			if _, ok := domain.ParseCategory(raw.Category); !ok {
				return nil, fail("category", "template %s: unknown category %q", id, raw.Category)
			}
		}
		switch strings.ToUpper(strings.TrimSpace(raw.Logic)) {
		case "", string(domain.LogicAnd), string(domain.LogicOr):
		default:
			return nil, fail("logic", "template %s: logic must be AND or OR, got %q", id, raw.Logic)
		}

		rules := make([]domain.Rule, 0, len(raw.Rules))
		for i, rr := range raw.Rules {
			field := fmt.Sprintf("rules[%d]", i)
			rid := domain.NormalizeID(rr.ID)
			if rid.IsNull() {
				return nil, fail(field, "template %s: rule id is required", id)
			}
			if ruleIDs[rid] {
				return nil, fail(field, "duplicate rule id %q", rid)
			}
			ruleIDs[rid] = true

			kind, ok := parseRuleKind(rr.Kind)
			if !ok {
				return nil, fail(field, "rule %s: kind must be manual or automatic, got %q", rid, rr.Kind)
			}
			r := domain.Rule{ID: rid, TemplateID: id, Kind: kind}
			if kind == domain.RuleAutomatic {
				if strings.TrimSpace(rr.Condition) == "" {
					return nil, fail(field, "rule %s: automatic rules need a condition", rid)
				}
				if rr.Threshold < 0 {
					return nil, fail(field, "rule %s: threshold must not be negative, got %v", rid, rr.Threshold)
				}
				r.Condition = domain.ConditionType(strings.ToUpper(strings.TrimSpace(rr.Condition)))
				r.Threshold = rr.Threshold
			}
			rules = append(rules, r)
		}

		cat.Templates = append(cat.Templates, domain.Template{
			ID:          id,
			Title:       strings.TrimSpace(raw.Title),
			Description: raw.Description,
			Points:      raw.Points,
			Category:    domain.InferCategory(raw.Category, raw.Title+" "+raw.Description, rules),
			Logic:       domain.ParseLogic(raw.Logic),
		})
		cat.Rules = append(cat.Rules, rules...)
	}

	return cat, nil
}

func parseRuleKind(s string) (domain.RuleKind, bool) {
	switch domain.RuleKind(strings.ToUpper(strings.TrimSpace(s))) {
	case domain.RuleManual:
		return domain.RuleManual, true
	case domain.RuleAutomatic, "":
		return domain.RuleAutomatic, true
	}
	return "", false
}
