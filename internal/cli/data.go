package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the local snapshot as JSON",
		Long:  "Write the local snapshot as JSON to file, or to stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				data, err := s.app.Local.Export()
				if err != nil {
					return failFor(s.out, err)
				}
				if len(args) == 0 || args[0] == "-" {
					_, err := cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(args[0], data, 0o600); err != nil {
					return s.out.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
				}
				return s.out.Success(message(fmt.Sprintf("Exported to %s.", args[0])))
			})
		},
	}
}

func newImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace local data with an exported snapshot",
		Long: `Replace local data with a snapshot written by export. Use - to read
stdin. When the device is linked the imported data is uploaded too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				var data []byte
				var err error
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return s.out.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
				}
				if err := s.app.Local.Import(data); err != nil {
					return s.out.Fail(ExitFailure, ErrCodeInvalid, err.Error(), nil)
				}
				d := s.app.Local.Data()
				return s.out.Success(message(fmt.Sprintf("Imported %d task(s) and %d reward(s).", len(d.Tasks), len(d.Rewards))))
			})
		},
	}
}
