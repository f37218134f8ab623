package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/domain"
	"github.com/roach88/guildmark/internal/engine"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	User   string
	Master string // empty means the aggregate view
	All    bool   // include locked achievements in text output
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a user's achievements and sync unlocks",
		Long: `Evaluate every achievement for one apprentice.

Badges whose rules are met are unlocked (and locked again when they no
longer are); certificates are only reported. With --master the view is
narrowed to what that master granted or is responsible for.

A "+" after a badge means it was earned across several masters with no
single one responsible.

Exit codes:
  0 - Evaluation complete (sync failures are reported, not fatal)
  2 - Command error (database not found, etc.)

Examples:
  guildmark evaluate --user ana
  guildmark evaluate --user ana --master m1 --all
  guildmark evaluate --user ana --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "apprentice id (required)")
	cmd.Flags().StringVar(&opts.Master, "master", "", "view as this master (default all masters)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "also list locked achievements")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runEvaluate(opts *EvaluateOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	eng, err := opts.newEngine(st)
	if err != nil {
		return err
	}

	viewing := domain.All()
	if opts.Master != "" {
		viewing = domain.Master(domain.NormalizeID(opts.Master))
	}

	report, err := eng.Evaluate(cmd.Context(), domain.NormalizeID(opts.User), viewing)
	if err != nil {
		return out.Fail("evaluation failed", err)
	}

	if opts.Format == "json" {
		return out.Success(report)
	}
	writeReport(cmd.OutOrStdout(), report, opts.All)
	return nil
}

// writeReport renders an evaluation as a table followed by sync outcomes.
func writeReport(w io.Writer, report *engine.Report, all bool) {
	fmt.Fprintf(w, "Achievements for %s (viewing %s)\n\n", report.UserID, report.Viewing)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tID\tTITLE\tPOINTS\tRULES\tGRANTED BY")
	shown := 0
	for _, st := range report.Statuses {
		if !all && !st.Visible {
			continue
		}
		shown++
		status := "locked"
		if !st.DisplayLocked {
			status = "unlocked"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			status, st.Template.ID, st.Template.Title, st.Template.Points, st.RuleText, grantorText(st))
	}
	tw.Flush()
	if shown == 0 {
		fmt.Fprintln(w, "(nothing to show; use --all to include locked achievements)")
	}

	if len(report.Syncs) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, s := range report.Syncs {
		if s.Applied {
			fmt.Fprintf(w, "✓ %s %s\n", s.Intent, s.Record)
			continue
		}
		fmt.Fprintf(w, "✗ %s %s: %s\n", s.Intent, s.Record, s.Error)
	}
}

func grantorText(st engine.Status) string {
	if marker := st.Sentinel.Marker(); marker != "" {
		return marker
	}
	if len(st.Grantors) == 0 {
		return "-"
	}
	ids := make([]string, len(st.Grantors))
	for i, g := range st.Grantors {
		ids[i] = g.String()
	}
	return strings.Join(ids, ",")
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
