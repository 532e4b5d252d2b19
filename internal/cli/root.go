package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/app"
	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/config"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/logging"
	"github.com/dukerupert/mimitask/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	Format     string // "json" | "text"
	Verbose    bool

	// appOptions are appended to every app built by a command.
	appOptions []app.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the mimitask CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mimitask",
		Short: "MimiTask - shared chores, points and rewards for couples",
		Long: `MimiTask tracks a couple's household tasks. Completed tasks earn points,
points unlock rewards, and everything syncs between both partners' devices
through a mimiserver instance when one is configured.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return opts.formatter(cmd).Fail(ExitCommandError, ErrCodeInvalid,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "local database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newTaskCommand(opts))
	cmd.AddCommand(newRewardCommand(opts))
	cmd.AddCommand(newCoupleCommand(opts))
	cmd.AddCommand(newMascotCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// session is what a command body receives.
type session struct {
	ctx  context.Context
	app  *app.App
	cfg  *config.Client
	out  *OutputFormatter
	boot app.BootReport
}

// run loads the config, boots an app and hands it to fn. The app is
// closed afterwards so queued remote writes get a chance to drain.
func (o *RootOptions) run(cmd *cobra.Command, fn func(s *session) error, extra ...app.Option) error {
	out := o.formatter(cmd)
	cfg, err := config.LoadClient(o.ConfigPath)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}

	level := cfg.Log.Level
	if o.Verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	logger := logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	appOpts := append([]app.Option{app.WithLogger(logger)}, o.appOptions...)
	appOpts = append(appOpts, extra...)
	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	defer a.Close()

	rep, err := a.Boot(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	if rep.TasksReset > 0 {
		out.VerboseLog("%d recurring task(s) reset for today", rep.TasksReset)
	}
	if len(rep.StreaksLost) > 0 {
		out.VerboseLog("streak lost for %v", rep.StreaksLost)
	}
	if rep.MigrationPending {
		out.Notice("Local data from before sync was found. Run `mimitask migrate` to upload it.")
	}
	return fn(&session{ctx: ctx, app: a, cfg: cfg, out: out, boot: rep})
}

// failFor maps domain and remote errors to CLI failures.
func failFor(out *OutputFormatter, err error) error {
	switch {
	case errors.Is(err, app.ErrOffline):
		return out.Fail(ExitCommandError, ErrCodeOffline, "this command needs a document server (set server in the config or MIMITASK_SERVER)", nil)
	case errors.Is(err, store.ErrInvalidName), errors.Is(err, store.ErrInvalidPoints),
		errors.Is(err, store.ErrInvalidCost), errors.Is(err, store.ErrInvalidType),
		errors.Is(err, store.ErrInvalidMascot), errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrInvalidName), errors.Is(err, auth.ErrInvalidNames):
		return out.Fail(ExitCommandError, ErrCodeInvalid, err.Error(), nil)
	case errors.Is(err, auth.ErrCoupleNotFound):
		return out.Fail(ExitFailure, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, auth.ErrCoupleFull):
		return out.Fail(ExitFailure, ErrCodeRejected, err.Error(), nil)
	case errors.Is(err, docstore.ErrUnavailable), errors.Is(err, docstore.ErrPermissionDenied),
		errors.Is(err, auth.ErrAuthRequired):
		return out.Fail(ExitFailure, ErrCodeRemote, err.Error(), nil)
	default:
		return out.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
	}
}
