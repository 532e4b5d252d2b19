package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show points, streaks and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				return s.out.Success(buildStatus(s))
			})
		},
	}
}

func buildStatus(s *session) statusView {
	a := s.app
	role := a.Role()
	v := statusView{
		Couple:  a.Local.Couple(),
		Role:    role,
		Online:  a.Online(),
		Linked:  s.boot.Linked,
		Sync:    a.Status.State(),
		Stats:   a.Local.Stats(),
		Balance: a.Local.Balance(),
		Mood:    a.Game.Mood(),
		Weekly:  a.Game.WeeklyStats(role),
		Pending: len(a.Local.PendingDelegations(role)),

		Onboarded: a.Local.IsOnboardingDone(),
		Settings:  a.Local.Settings(),
	}
	if a.Outbox != nil {
		c := a.Outbox.Counters()
		v.Outbox = &c
	}
	if next, ok := a.Game.NextReward(); ok {
		v.NextReward = &next
	}
	return v
}
