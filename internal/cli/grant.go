package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/domain"
)

// CertificateOptions holds flags shared by grant and revoke.
type CertificateOptions struct {
	*RootOptions
	User     string
	Template string
	Master   string
}

// CertificateResult is the JSON payload of grant and revoke.
// Record is nil when a revoke found nothing to lock.
type CertificateResult struct {
	Action string         `json:"action"`
	Key    string         `json:"key"`
	Record *domain.Record `json:"record"`
}

// NewGrantCommand creates the grant command.
func NewGrantCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CertificateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a certificate as a master",
		Long: `Unlock a certificate for an apprentice on behalf of a master.

The record and its unlock history line are written together. Badges
cannot be granted; they unlock from activity.

Exit codes:
  0 - Certificate granted
  1 - Grant rejected (badge template, unknown template, missing master)
  2 - Command error

Example:
  guildmark grant --user ana --template master-cert --master m1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrant(opts, cmd)
		},
	}
	opts.bindFlags(cmd)
	return cmd
}

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CertificateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a master's certificate grant",
		Long: `Lock a certificate a master previously granted.

The record is kept and its earned date preserved. Revoking a grant that
was never made does nothing.

Example:
  guildmark revoke --user ana --template master-cert --master m1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevoke(opts, cmd)
		},
	}
	opts.bindFlags(cmd)
	return cmd
}

func (o *CertificateOptions) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.User, "user", "", "apprentice id (required)")
	cmd.Flags().StringVar(&o.Template, "template", "", "certificate template id (required)")
	cmd.Flags().StringVar(&o.Master, "master", "", "acting master id (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("master")
}

func (o *CertificateOptions) key() domain.IdentityKey {
	return domain.NewIdentityKey(domain.ID(o.User), domain.ID(o.Template), domain.ID(o.Master))
}

func runGrant(opts *CertificateOptions, cmd *cobra.Command) error {
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

	key := opts.key()
	rec, err := eng.GrantCertificate(cmd.Context(), key.UserID, key.TemplateID, key.GrantorID)
	if err != nil {
		return out.Fail("grant failed", err)
	}

	if opts.Format == "json" {
		return out.Success(CertificateResult{Action: "grant", Key: key.String(), Record: &rec})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Granted %s to %s (by %s)\n", key.TemplateID, key.UserID, key.GrantorID)
	return nil
}

func runRevoke(opts *CertificateOptions, cmd *cobra.Command) error {
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

	key := opts.key()
	rec, err := eng.RevokeCertificate(cmd.Context(), key.UserID, key.TemplateID, key.GrantorID)
	if err != nil {
		return out.Fail("revoke failed", err)
	}

	if opts.Format == "json" {
		return out.Success(CertificateResult{Action: "revoke", Key: key.String(), Record: rec})
	}
	if rec == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to revoke: %s never granted %s to %s\n", key.GrantorID, key.TemplateID, key.UserID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Revoked %s from %s (by %s)\n", key.TemplateID, key.UserID, key.GrantorID)
	return nil
}
