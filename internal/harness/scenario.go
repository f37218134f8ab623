package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/guildmark/internal/catalog"
	"github.com/roach88/guildmark/internal/domain"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is the path of a .cue or .yaml catalog file, relative to the
	// scenario file. Mutually exclusive with Templates.
	Catalog string `yaml:"catalog,omitempty"`

	// Templates is an inline catalog in the YAML catalog format.
	Templates *yaml.Node `yaml:"templates,omitempty"`

	// UnknownConditions is the unknown condition policy ("open" or "closed").
	// Defaults to open.
	UnknownConditions string `yaml:"unknown_conditions,omitempty"`

	// Activity is recorded before the first step.
	Activity []ActivityStep `yaml:"activity,omitempty"`

	// Records are pre-existing rows, upserted before the first step.
	Records []RecordSeed `yaml:"records,omitempty"`

	// History holds pre-existing unlock history entries.
	History []HistorySeed `yaml:"history,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final persisted state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir is the directory relative catalog paths resolve against.
	dir string
}

// ActivityStep is one activity fact.
type ActivityStep struct {
	User   domain.ID `yaml:"user"`
	Master domain.ID `yaml:"master"`
	Kind   string    `yaml:"kind"`
	Hours  float64   `yaml:"hours,omitempty"`
}

// RecordSeed is a record that exists before the scenario starts.
// An empty grantor is the system row.
type RecordSeed struct {
	User     domain.ID  `yaml:"user"`
	Template domain.ID  `yaml:"template"`
	Grantor  domain.ID  `yaml:"grantor,omitempty"`
	Locked   bool       `yaml:"locked"`
	EarnedAt *time.Time `yaml:"earned_at,omitempty"`
}

// HistorySeed is an unlock history entry that exists before the scenario starts.
type HistorySeed struct {
	User       domain.ID  `yaml:"user"`
	Template   domain.ID  `yaml:"template"`
	Grantor    domain.ID  `yaml:"grantor"`
	UnlockedAt *time.Time `yaml:"unlocked_at,omitempty"`
}

// Step is one action in the scenario flow. Exactly one action field is set.
type Step struct {
	Evaluate *EvaluateStep    `yaml:"evaluate,omitempty"`
	Grant    *CertificateStep `yaml:"grant,omitempty"`
	Revoke   *CertificateStep `yaml:"revoke,omitempty"`
	Sweep    *SweepStep       `yaml:"sweep,omitempty"`
	Activity *ActivityStep    `yaml:"activity,omitempty"`

	// Advance moves the scenario clock forward (Go duration syntax).
	Advance string `yaml:"advance,omitempty"`

	// Expect checks statuses of an evaluate step, by template.
	Expect []StatusExpect `yaml:"expect,omitempty"`

	// ExpectSweep checks the report of a sweep step.
	ExpectSweep *SweepExpect `yaml:"expect_sweep,omitempty"`

	// ExpectError is the engine error code the step must fail with
	// (e.g. INVALID_GRANT). Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// EvaluateStep runs the engine for one user. An empty viewing is the
// aggregate view over all masters.
type EvaluateStep struct {
	User    domain.ID `yaml:"user"`
	Viewing domain.ID `yaml:"viewing,omitempty"`
}

// CertificateStep is an explicit master grant or revoke.
type CertificateStep struct {
	User     domain.ID `yaml:"user"`
	Template domain.ID `yaml:"template"`
	Master   domain.ID `yaml:"master"`
}

// SweepStep runs the deduplication sweeper once.
type SweepStep struct {
	DryRun    bool `yaml:"dry_run,omitempty"`
	BatchSize int  `yaml:"batch_size,omitempty"`
}

// StatusExpect is a subset match on one evaluated status.
// Unset fields are not checked.
type StatusExpect struct {
	Template domain.ID    `yaml:"template"`
	Met      *bool        `yaml:"met,omitempty"`
	Locked   *bool        `yaml:"locked,omitempty"`
	Visible  *bool        `yaml:"visible,omitempty"`
	Intent   string       `yaml:"intent,omitempty"`
	Sentinel string       `yaml:"sentinel,omitempty"`
	Grantors *[]domain.ID `yaml:"grantors,omitempty"`
	RuleText string       `yaml:"rule_text,omitempty"`
}

// SweepExpect is a subset match on a sweep report.
type SweepExpect struct {
	Duplicates *int   `yaml:"duplicates,omitempty"`
	Deleted    *int64 `yaml:"deleted,omitempty"`
	Backfilled *int   `yaml:"backfilled,omitempty"`
	Skipped    *int   `yaml:"skipped,omitempty"`
}

// Assertion validates final persisted state.
type Assertion struct {
	// Type is one of record, record_count, history_count.
	Type string `yaml:"type"`

	User     domain.ID `yaml:"user,omitempty"`
	Template domain.ID `yaml:"template,omitempty"`
	Grantor  domain.ID `yaml:"grantor,omitempty"`

	// Exists (record) defaults to true.
	Exists  *bool  `yaml:"exists,omitempty"`
	Locked  *bool  `yaml:"locked,omitempty"`
	Version *int64 `yaml:"version,omitempty"`

	// Count is used by record_count and history_count.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord       = "record"
	AssertRecordCount  = "record_count"
	AssertHistoryCount = "history_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	if err := validateCatalogPath(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Relative catalog paths resolve
// against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadCatalog compiles the scenario's catalog, inline or from file.
func (s *Scenario) LoadCatalog() (*catalog.Catalog, error) {
	if s.Templates != nil {
		data, err := yaml.Marshal(struct {
			Templates *yaml.Node `yaml:"templates"`
		}{s.Templates})
		if err != nil {
			return nil, fmt.Errorf("encode inline catalog: %w", err)
		}
		return catalog.ParseYAML(s.Name+" (inline)", data)
	}
	return catalog.Load(s.catalogPath())
}

func (s *Scenario) catalogPath() string {
	if filepath.IsAbs(s.Catalog) || s.dir == "" {
		return s.Catalog
	}
	return filepath.Join(s.dir, s.Catalog)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Catalog == "" && s.Templates == nil:
		return fmt.Errorf("catalog or templates is required")
	case s.Catalog != "" && s.Templates != nil:
		return fmt.Errorf("catalog and templates are mutually exclusive")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, a := range s.Activity {
		if err := validateActivity(a); err != nil {
			return fmt.Errorf("activity[%d]: %w", i, err)
		}
	}
	for i, r := range s.Records {
		if r.User == "" || r.Template == "" {
			return fmt.Errorf("records[%d]: user and template are required", i)
		}
	}
	for i, h := range s.History {
		if h.User == "" || h.Template == "" || h.Grantor == "" {
			return fmt.Errorf("history[%d]: user, template and grantor are required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateCatalogPath(s *Scenario) error {
	if s.Catalog == "" {
		return nil
	}
	if _, err := os.Stat(s.catalogPath()); os.IsNotExist(err) {
		return fmt.Errorf("catalog file not found: %s", s.catalogPath())
	}
	return nil
}

func validateActivity(a ActivityStep) error {
	if a.User == "" || a.Master == "" {
		return fmt.Errorf("user and master are required")
	}
	if _, ok := domain.ParseActivityKind(a.Kind); !ok {
		return fmt.Errorf("unknown activity kind %q", a.Kind)
	}
	if a.Hours < 0 {
		return fmt.Errorf("hours must be non-negative")
	}
	return nil
}

// validateStep checks that a step names exactly one action.
func validateStep(step Step) error {
	actions := 0
	for _, set := range []bool{
		step.Evaluate != nil,
		step.Grant != nil,
		step.Revoke != nil,
		step.Sweep != nil,
		step.Activity != nil,
		step.Advance != "",
	} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one of evaluate, grant, revoke, sweep, activity, advance is required (got %d)", actions)
	}

	switch {
	case step.Evaluate != nil:
		if step.Evaluate.User == "" {
			return fmt.Errorf("evaluate: user is required")
		}
	case step.Activity != nil:
		if err := validateActivity(*step.Activity); err != nil {
			return fmt.Errorf("activity: %w", err)
		}
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("advance: duration must be non-negative")
		}
	}

	if len(step.Expect) > 0 && step.Evaluate == nil {
		return fmt.Errorf("expect is only valid on evaluate steps")
	}
	for i, e := range step.Expect {
		if e.Template == "" {
			return fmt.Errorf("expect[%d]: template is required", i)
		}
	}
	if step.ExpectSweep != nil && step.Sweep == nil {
		return fmt.Errorf("expect_sweep is only valid on sweep steps")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertRecord:
		if a.User == "" || a.Template == "" {
			return fmt.Errorf("user and template are required for record")
		}
	case AssertRecordCount, AssertHistoryCount:
		if a.Count == nil {
			return fmt.Errorf("count is required for %s", a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("count must be non-negative for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
