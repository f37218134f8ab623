package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/guildmark/internal/config"
	"github.com/roach88/guildmark/internal/engine"
	"github.com/roach88/guildmark/internal/store"
)

// RootOptions holds global flags for all commands, plus the settings and
// logger resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // overrides GUILDMARK_DB
	EnvFile  string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the guildmark CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "guildmark",
		Short: "guildmark - apprentice achievement engine",
		Long: `Evaluate, unlock and repair apprentice achievements.

Badges unlock automatically from logged activity; certificates are granted
by masters. Settings come from GUILDMARK_* environment variables (an
optional .env file is read first); flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $GUILDMARK_DB)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load if present")

	// Add subcommands
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewActivityCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewGrantCommand(opts))
	cmd.AddCommand(NewRevokeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// resolve validates global flags, loads configuration and sets up logging.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Database != "" {
		cfg.DBPath = o.Database
	}
	o.Config = cfg

	level, _ := cfg.Level() // validated by config.Load
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)
	return nil
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger returns the resolved logger, or the default one when a
// subcommand runs without its root (as in tests).
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// dbPath returns the flag value, else the configured path.
func (o *RootOptions) dbPath() string {
	if o.Database != "" {
		return o.Database
	}
	if o.Config.DBPath != "" {
		return o.Config.DBPath
	}
	return "guildmark.db"
}

// openStore opens the configured database.
func (o *RootOptions) openStore() (*store.Store, error) {
	path := o.dbPath()
	o.logger().Debug("opening database", "path", path)
	st, err := store.Open(path, store.WithLogger(o.logger()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newEngine builds an engine over st with the configured policy.
func (o *RootOptions) newEngine(st *store.Store) (*engine.Engine, error) {
	policy, err := engine.ParseUnknownConditionPolicy(o.Config.UnknownConditions)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid unknown condition policy", err)
	}
	return engine.New(st, st,
		engine.WithUnknownConditionPolicy(policy),
		engine.WithLogger(o.logger()),
	), nil
}

// closeStore closes st, logging failures.
func (o *RootOptions) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		o.logger().Error("error closing database", "error", err)
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
