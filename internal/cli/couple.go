package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/auth"
)

type coupleView struct {
	Code    string `json:"coupleCode"`
	Role    string `json:"role"`
	Tasks   int    `json:"defaultTasks,omitempty"`
	Rewards int    `json:"defaultRewards,omitempty"`
}

func (c coupleView) String() string {
	s := fmt.Sprintf("Linked as %s. Couple code: %s", c.Role, c.Code)
	return s + defaultsNote(c.Tasks, c.Rewards)
}

func defaultsNote(tasks, rewards int) string {
	if tasks == 0 && rewards == 0 {
		return ""
	}
	return fmt.Sprintf("\nAdded %d starter task(s) and %d reward(s).", tasks, rewards)
}

const defaultsUsage = "add the starter tasks and rewards"

func newCoupleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "couple",
		Short: "Set up the couple and link devices",
	}
	cmd.AddCommand(newCoupleNamesCommand(opts))
	cmd.AddCommand(newCoupleCreateCommand(opts))
	cmd.AddCommand(newCoupleJoinCommand(opts))
	cmd.AddCommand(newCoupleResetCommand(opts))
	return cmd
}

func newCoupleNamesCommand(opts *RootOptions) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "names <partnerA> <partnerB>",
		Short: "Name both partners on this device only",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if err := s.app.Local.SetCouple(args[0], args[1]); err != nil {
					return failFor(s.out, err)
				}
				var tasks, rewards int
				if defaults {
					var err error
					if tasks, rewards, err = s.app.Local.AddDefaults(); err != nil {
						return failFor(s.out, err)
					}
				}
				s.app.Local.SetOnboardingDone()
				c := s.app.Local.Couple()
				return s.out.Success(message(fmt.Sprintf("Welcome %s & %s!", c.PartnerA.Name, c.PartnerB.Name) + defaultsNote(tasks, rewards)))
			})
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, defaultsUsage)
	return cmd
}

func newCoupleCreateCommand(opts *RootOptions) *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "create <your-name> <partner-name>",
		Short: "Create a shared couple and get the code for the other device",
		Long: `Create a shared couple on the document server. This device becomes
partnerA and its local tasks, rewards and points are uploaded. Give the
printed code to your partner so they can run ` + "`mimitask couple join`.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				code, err := s.app.CreateCouple(s.ctx, args[0], args[1])
				if err != nil {
					return failFor(s.out, err)
				}
				v := coupleView{Code: code, Role: string(s.app.Role())}
				if defaults {
					if v.Tasks, v.Rewards, err = s.app.Local.AddDefaults(); err != nil {
						return failFor(s.out, err)
					}
				}
				s.app.Local.SetOnboardingDone()
				return s.out.Success(v)
			})
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, defaultsUsage)
	return cmd
}

func newCoupleJoinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code> <your-name>",
		Short: "Join your partner's couple",
		Long: `Join a couple with the code shown on your partner's device, such as
` + auth.CodePrefix + `K7P. Case does not matter. Local data on this device
is replaced by the couple's data.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				res, err := s.app.JoinCouple(s.ctx, args[0], args[1])
				if err != nil {
					return failFor(s.out, err)
				}
				s.app.Local.SetOnboardingDone()
				s.out.VerboseLog("joined %s's couple", res.PartnerAName)
				return s.out.Success(coupleView{Code: res.CoupleCode, Role: string(res.Role)})
			})
		},
	}
}

func newCoupleResetCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase all local data on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if !yes {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, "refusing to erase local data without --yes", nil)
				}
				s.app.Local.ResetAll()
				return s.out.Success(message("Local data erased."))
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}
