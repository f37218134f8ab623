package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/catalog"
	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// CatalogLoadResult is the JSON payload of catalog load.
type CatalogLoadResult struct {
	Path      string `json:"path"`
	Templates int    `json:"templates"`
	Rules     int    `json:"rules"`
	Database  string `json:"database"`
}

// CatalogEntry is one template as listed by catalog list.
type CatalogEntry struct {
	Template domain.Template `json:"template"`
	RuleText string          `json:"rule_text"`
	Rules    []domain.Rule   `json:"rules"`
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage achievement templates and rules",
	}
	cmd.AddCommand(newCatalogLoadCommand(rootOpts))
	cmd.AddCommand(newCatalogListCommand(rootOpts))
	return cmd
}

func newCatalogLoadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Compile a catalog file and store it",
		Long: `Compile a CUE or YAML catalog and persist its templates and rules.

Templates already in the database are updated in place and their rules
replaced; templates not mentioned in the file are left alone.

Examples:
  guildmark catalog load ./guild.cue
  guildmark catalog load ./guild.yaml --db /var/lib/guildmark.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogLoad(opts, args[0], cmd)
		},
	}
}

func runCatalogLoad(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cat, err := catalog.Load(path)
	if err != nil {
		return out.Fail("failed to compile catalog", err)
	}
	out.VerboseLog("compiled %d templates, %d rules from %s", len(cat.Templates), len(cat.Rules), path)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	if err := st.SaveCatalog(cmd.Context(), cat.Templates, cat.Rules); err != nil {
		return out.Fail("failed to save catalog", err)
	}

	result := CatalogLoadResult{
		Path:      path,
		Templates: len(cat.Templates),
		Rules:     len(cat.Rules),
		Database:  opts.dbPath(),
	}
	if opts.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %d templates (%d rules) from %s\n", result.Templates, result.Rules, path)
	return nil
}

func newCatalogListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored templates with their rules",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogList(opts, cmd)
		},
	}
}

func runCatalogList(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	ctx := cmd.Context()
	templates, err := st.Templates(ctx)
	if err != nil {
		return out.Fail("failed to read templates", err)
	}
	rules, err := st.Rules(ctx, domain.NullID)
	if err != nil {
		return out.Fail("failed to read rules", err)
	}

	entries := make([]CatalogEntry, 0, len(templates))
	for _, t := range templates {
		entries = append(entries, CatalogEntry{
			Template: t,
			RuleText: engine.Evaluate(t, rules, domain.Stats{}, engine.FailOpen).RuleText,
			Rules:    engine.EffectiveRules(t, rules),
		})
	}

	if opts.Format == "json" {
		return out.Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No templates stored.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tPOINTS\tTITLE\tRULES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.Template.ID, e.Template.Category, e.Template.Points, e.Template.Title, e.RuleText)
	}
	return tw.Flush()
}
