package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/domain"
)

// ActivityOptions holds flags for activity add.
type ActivityOptions struct {
	*RootOptions
	User   string
	Master string
	Kind   string
	Hours  float64
	At     string // RFC 3339; empty means now
}

// ActivityResult is the JSON payload of activity add.
type ActivityResult struct {
	ID       int64           `json:"id"`
	Activity domain.Activity `json:"activity"`
}

// NewActivityCommand creates the activity command group.
func NewActivityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Record apprentice activity",
	}
	cmd.AddCommand(newActivityAddCommand(rootOpts))
	return cmd
}

func newActivityAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActivityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append one activity entry",
		Long: `Append one activity entry logged by an apprentice under a master.

Kinds are WORK and STUDY (with --hours) and PROJECT (one finished
project per entry; --hours is ignored).

Examples:
  guildmark activity add --user ana --master m1 --kind work --hours 6
  guildmark activity add --user ana --master m1 --kind project`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivityAdd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "apprentice id (required)")
	cmd.Flags().StringVar(&opts.Master, "master", "", "master id (required)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "WORK, STUDY or PROJECT (required)")
	cmd.Flags().Float64Var(&opts.Hours, "hours", 0, "hours spent (WORK and STUDY)")
	cmd.Flags().StringVar(&opts.At, "at", "", "when the activity happened, RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("master")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func runActivityAdd(opts *ActivityOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	kind, ok := domain.ParseActivityKind(opts.Kind)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid kind %q: must be WORK, STUDY or PROJECT", opts.Kind))
	}
	if opts.Hours < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --hours %g: hours must not be negative", opts.Hours))
	}
	at := time.Now().UTC()
	if opts.At != "" {
		t, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		at = t.UTC()
	}

	a := domain.Activity{
		UserID:     domain.NormalizeID(opts.User),
		MasterID:   domain.NormalizeID(opts.Master),
		Kind:       kind,
		Hours:      opts.Hours,
		OccurredAt: at,
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	id, err := st.RecordActivity(cmd.Context(), a)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to record activity", err)
	}

	if opts.Format == "json" {
		return out.Success(ActivityResult{ID: id, Activity: a})
	}
	if kind == domain.ActivityProject {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded project for %s under %s\n", a.UserID, a.MasterID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded %s %s hours for %s under %s\n",
		formatHours(a.Hours), kind, a.UserID, a.MasterID)
	return nil
}
