package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

func rewardNotFound(s *session, id string) error {
	return s.out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("reward %s not found", id), nil)
}

func parseRewardType(s string) (model.RewardType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "individual":
		return model.RewardIndividual, nil
	case "couple":
		return model.RewardCouple, nil
	case "power":
		return model.RewardPower, nil
	}
	return "", fmt.Errorf("unknown reward type %q: use individual, couple or power", s)
}

func newRewardCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reward",
		Aliases: []string{"rewards"},
		Short:   "Manage rewards",
	}
	cmd.AddCommand(newRewardAddCommand(opts))
	cmd.AddCommand(newRewardListCommand(opts))
	cmd.AddCommand(newRewardUseCommand(opts))
	cmd.AddCommand(newRewardPowerCommand(opts))
	cmd.AddCommand(newRewardDeleteCommand(opts))
	return cmd
}

func newRewardAddCommand(opts *RootOptions) *cobra.Command {
	var cost int
	var icon, typ string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a reward",
		Example: `  mimitask reward add "Resto" --cost 200 --type couple
  mimitask reward add "Joker vaisselle" --cost 150 --type power`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				rt, err := parseRewardType(typ)
				if err != nil {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, err.Error(), nil)
				}
				r, err := s.app.Local.AddReward(store.NewReward{
					Name:       strings.Join(args, " "),
					PointsCost: cost,
					Icon:       icon,
					Type:       rt,
				})
				if err != nil {
					return failFor(s.out, err)
				}
				return s.out.Success(rewardView(r))
			})
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 100, "points needed")
	cmd.Flags().StringVar(&icon, "icon", "", "display icon")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "individual, couple or power")
	return cmd
}

func newRewardListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				return s.out.Success(rewardList(s.app.Local.Rewards()))
			})
		},
	}
}

func newRewardUseCommand(opts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "use <reward-id>",
		Short: "Spend an unlocked reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				role, err := actor(s, as)
				if err != nil {
					return err
				}
				r, ok := s.app.Local.Reward(args[0])
				if !ok {
					return rewardNotFound(s, args[0])
				}
				if r.Type == model.RewardPower {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid,
						fmt.Sprintf("%s is a power reward: use `mimitask reward power %s <task-id>`", r.Name, r.ID), nil)
				}
				used, ok := s.app.Game.UseReward(r.ID, role)
				if !ok {
					return s.out.Fail(ExitFailure, ErrCodeRejected,
						fmt.Sprintf("cannot use %s (it must be unlocked and you need %d points)", r.Name, r.PointsCost), nil)
				}
				return s.out.Success(message(fmt.Sprintf("Enjoy %s %s!", used.Icon, used.Name)))
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "partner using the reward (a|b)")
	return cmd
}

func newRewardPowerCommand(opts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "power <reward-id> <task-id>",
		Short: "Spend a power reward to hand a task to the other partner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				role, err := actor(s, as)
				if err != nil {
					return err
				}
				r, ok := s.app.Local.Reward(args[0])
				if !ok {
					return rewardNotFound(s, args[0])
				}
				t, ok := s.app.Local.Task(args[1])
				if !ok {
					return taskNotFound(s, args[1])
				}
				if !s.app.Game.UsePowerReward(r.ID, t.ID, role) {
					return s.out.Fail(ExitFailure, ErrCodeRejected,
						fmt.Sprintf("cannot use %s on %s", r.Name, t.Name), nil)
				}
				return s.out.Success(message(fmt.Sprintf("%s used: %s handed over.", r.Name, t.Name)))
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "partner using the reward (a|b)")
	return cmd
}

func newRewardDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <reward-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a reward",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if !s.app.Local.DeleteReward(args[0]) {
					return rewardNotFound(s, args[0])
				}
				return s.out.Success(message("Reward deleted."))
			})
		},
	}
}
