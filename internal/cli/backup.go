package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/backup"
	"github.com/dukerupert/mimitask/internal/model"
)

// PassphraseEnv supplies the backup passphrase when --passphrase is unset.
const PassphraseEnv = "MIMITASK_BACKUP_PASSPHRASE"

type backupList []model.Backup

func (l backupList) String() string {
	if len(l) == 0 {
		return "No backups."
	}
	var b strings.Builder
	for i, r := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d  %s  %s  %d bytes  %s", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Status, r.SizeBytes, r.Filename)
		if r.ErrorMessage != "" {
			fmt.Fprintf(&b, "  (%s)", r.ErrorMessage)
		}
	}
	return b.String()
}

type backupView model.Backup

func (v backupView) String() string {
	return fmt.Sprintf("Backup %d written to %s (%d bytes).", v.ID, v.ObjectKey, v.SizeBytes)
}

func backupFail(s *session, err error) error {
	switch {
	case errors.Is(err, backup.ErrDisabled):
		return s.out.Fail(ExitCommandError, ErrCodeConfig, "backups are disabled: set backup.dir or backup.s3.bucket in the config", nil)
	case errors.Is(err, backup.ErrNotFound):
		return s.out.Fail(ExitFailure, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, backup.ErrBadPassphrase), errors.Is(err, backup.ErrNotArchive):
		return s.out.Fail(ExitFailure, ErrCodeRejected, err.Error(), nil)
	default:
		return s.out.Fail(ExitFailure, ErrCodeBackup, err.Error(), nil)
	}
}

func newBackupCommand(opts *RootOptions) *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypted snapshot backups",
		Long: `Encrypted snapshot backups, written to a local directory or an S3
bucket as configured. The passphrase comes from --passphrase or
` + PassphraseEnv + `.`,
	}
	cmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "archive passphrase")
	pass := func() string {
		if passphrase != "" {
			return passphrase
		}
		return os.Getenv(PassphraseEnv)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Back up the current data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				p := pass()
				if p == "" {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, "a passphrase is required (--passphrase or "+PassphraseEnv+")", nil)
				}
				rec, err := s.app.Backups.Create(s.ctx, s.app.Local.CoupleCode(), p)
				if err != nil {
					return backupFail(s, err)
				}
				return s.out.Success(backupView(*rec))
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				records, err := s.app.Backups.List(s.app.Local.CoupleCode(), limit)
				if err != nil {
					return backupFail(s, err)
				}
				return s.out.Success(backupList(records))
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of backups")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replace local data with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("invalid backup id %q", args[0]), nil)
				}
				if err := s.app.Backups.Restore(s.ctx, id, pass()); err != nil {
					return backupFail(s, err)
				}
				return s.out.Success(message(fmt.Sprintf("Backup %d restored.", id)))
			})
		},
	})

	var days int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups past the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if days <= 0 {
					days = s.cfg.Backup.RetentionDays
				}
				n, err := s.app.Backups.Cleanup(s.ctx, s.app.Local.CoupleCode(), days)
				if err != nil {
					return backupFail(s, err)
				}
				return s.out.Success(message(fmt.Sprintf("Deleted %d backup(s).", n)))
			})
		},
	}
	cleanup.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	cmd.AddCommand(cleanup)
	return cmd
}
