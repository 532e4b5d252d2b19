package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/app"
	"github.com/dukerupert/mimitask/internal/migration"
)

// linePrompter asks on out and reads a y/N answer from in.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompter) ConfirmMigration(_ context.Context, s migration.Summary) (bool, error) {
	fmt.Fprintf(p.out, "Upload %d task(s), %d reward(s) and %d point(s) from this device to the couple? [y/N] ",
		s.Tasks, s.Rewards, s.Points)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "o", "oui":
		return true, nil
	}
	return false, nil
}

type acceptPrompter struct{}

func (acceptPrompter) ConfirmMigration(context.Context, migration.Summary) (bool, error) {
	return true, nil
}

type migrationView struct {
	Done    bool `json:"done"`
	Pending bool `json:"pending"`
	Tasks   int  `json:"tasks"`
	Rewards int  `json:"rewards"`
	Points  int  `json:"points"`
}

func (v migrationView) String() string {
	switch {
	case v.Done:
		return "Local data has been uploaded."
	case v.Pending:
		return fmt.Sprintf("%d task(s), %d reward(s) and %d point(s) are waiting to be uploaded.", v.Tasks, v.Rewards, v.Points)
	default:
		return "Nothing to upload."
	}
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upload data created before the device was linked",
		Long: `Upload tasks, rewards and points created on this device before it was
linked to a couple. The upload runs once; interrupted uploads can be
retried safely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p migration.Prompter = acceptPrompter{}
			if !yes {
				p = &linePrompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()}
			}
			return opts.run(cmd, func(s *session) error {
				if s.app.Migrator == nil {
					return failFor(s.out, app.ErrOffline)
				}
				if !s.boot.Linked {
					return s.out.Fail(ExitFailure, ErrCodeMigration, "this device is not linked to a couple", nil)
				}
				sum, pending := s.app.Migrator.Check()
				return s.out.Success(migrationView{
					Done:    s.boot.Migrated || s.app.Migrator.IsDone(),
					Pending: pending,
					Tasks:   sum.Tasks,
					Rewards: sum.Rewards,
					Points:  sum.Points,
				})
			}, app.WithPrompter(p))
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "upload without asking")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether local data is waiting to be uploaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if s.app.Migrator == nil {
					return failFor(s.out, app.ErrOffline)
				}
				sum, pending := s.app.Migrator.Check()
				return s.out.Success(migrationView{
					Done:    s.app.Migrator.IsDone(),
					Pending: pending,
					Tasks:   sum.Tasks,
					Rewards: sum.Rewards,
					Points:  sum.Points,
				})
			})
		},
	})

	var confirm bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the local snapshot and the upload marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if s.app.Migrator == nil {
					return failFor(s.out, app.ErrOffline)
				}
				if !confirm {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, "refusing to clear local data without --yes", nil)
				}
				if err := s.app.Migrator.ClearLocalData(); err != nil {
					return s.out.Fail(ExitFailure, ErrCodeMigration, err.Error(), nil)
				}
				return s.out.Success(message("Local snapshot cleared."))
			})
		},
	}
	clearCmd.Flags().BoolVarP(&confirm, "yes", "y", false, "confirm")
	cmd.AddCommand(clearCmd)
	return cmd
}
