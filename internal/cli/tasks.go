package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/category"
	"github.com/dukerupert/mimitask/internal/game"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

// parseRole accepts a, b, partnerA or partnerB. Empty means fallback.
func parseRole(s string, fallback model.PartnerRole) (model.PartnerRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return fallback, nil
	case "a", "partnera":
		return model.PartnerA, nil
	case "b", "partnerb":
		return model.PartnerB, nil
	}
	return "", fmt.Errorf("unknown partner %q: use a or b", s)
}

// actor resolves the --as flag against the device's own role.
func actor(s *session, as string) (model.PartnerRole, error) {
	role, err := parseRole(as, s.app.Role())
	if err != nil {
		return "", s.out.Fail(ExitCommandError, ErrCodeInvalid, err.Error(), nil)
	}
	return role, nil
}

func taskNotFound(s *session, id string) error {
	return s.out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("task %s not found", id), nil)
}

func newTaskCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks"},
		Short:   "Manage household tasks",
	}
	cmd.AddCommand(newTaskAddCommand(opts))
	cmd.AddCommand(newTaskListCommand(opts))
	cmd.AddCommand(newTaskDoneCommand(opts))
	cmd.AddCommand(newTaskDeleteCommand(opts))
	cmd.AddCommand(newTaskDelegateCommand(opts))
	cmd.AddCommand(newTaskAnswerCommand(opts, "accept"))
	cmd.AddCommand(newTaskAnswerCommand(opts, "decline"))
	return cmd
}

type taskAddOptions struct {
	points     int
	assign     string
	recurrence string
	icon       string
	category   string
}

func newTaskAddCommand(opts *RootOptions) *cobra.Command {
	o := &taskAddOptions{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Example: `  mimitask task add "Vaisselle" --points 10 --assign b
  mimitask task add "Ménage complet" --points 20 --recurrence weekly --category ménage`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				assign, err := parseRole(o.assign, model.PartnerA)
				if err != nil {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid, err.Error(), nil)
				}
				rec := model.Recurrence(o.recurrence)
				if rec != "" && !rec.Valid() {
					return s.out.Fail(ExitCommandError, ErrCodeInvalid,
						fmt.Sprintf("unknown recurrence %q: use once, daily, weekly, biweekly or monthly", o.recurrence), nil)
				}
				name := strings.Join(args, " ")
				cat, known := category.Lookup(o.category)
				if o.category == "" {
					cat, known = category.Guess(name), true
				}
				in := store.NewTask{
					Name:       name,
					Points:     o.points,
					AssignedTo: assign,
					Recurrence: rec,
					Icon:       o.icon,
					Category:   o.category,
				}
				if known {
					in.Category = cat.Name
					if in.Icon == "" {
						in.Icon = cat.Icon
					}
				}
				t, err := s.app.Local.AddTask(in)
				if err != nil {
					return failFor(s.out, err)
				}
				return s.out.Success(taskView(t))
			})
		},
	}
	cmd.Flags().IntVarP(&o.points, "points", "p", 5, "points earned on completion")
	cmd.Flags().StringVarP(&o.assign, "assign", "a", "", "partner the task belongs to (a|b)")
	cmd.Flags().StringVarP(&o.recurrence, "recurrence", "r", "", "once, daily, weekly, biweekly or monthly")
	cmd.Flags().StringVar(&o.icon, "icon", "", "display icon")
	cmd.Flags().StringVar(&o.category, "category", "", "category label (guessed from the name when empty)")
	return cmd
}

func newTaskListCommand(opts *RootOptions) *cobra.Command {
	var partner string
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				local := s.app.Local
				if pending {
					role, err := actor(s, partner)
					if err != nil {
						return err
					}
					return s.out.Success(taskList(local.PendingDelegations(role)))
				}
				if partner == "" {
					return s.out.Success(taskList(local.Tasks()))
				}
				role, err := actor(s, partner)
				if err != nil {
					return err
				}
				return s.out.Success(taskList(local.TasksByPartner(role)))
			})
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "only tasks assigned to this partner (a|b)")
	cmd.Flags().BoolVar(&pending, "pending", false, "only delegation requests waiting for an answer")
	return cmd
}

func newTaskDoneCommand(opts *RootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "done <task-id>",
		Short: "Complete a task and collect its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				role, err := actor(s, as)
				if err != nil {
					return err
				}
				t, ok := s.app.Local.Task(args[0])
				if !ok {
					return taskNotFound(s, args[0])
				}
				if t.Completed() {
					return s.out.Fail(ExitFailure, ErrCodeRejected, fmt.Sprintf("%s is already done", t.Name), nil)
				}
				c, ok := s.app.Game.ProcessTaskCompletion(t.ID, role)
				if !ok {
					return s.out.Fail(ExitFailure, ErrCodeRejected, fmt.Sprintf("%s could not be completed", t.Name), nil)
				}
				return s.out.Success(completion(t, c))
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "partner completing the task (a|b)")
	return cmd
}

func completion(t model.Task, c game.Completion) completionView {
	return completionView{
		Task:           t.Name,
		Points:         c.Points,
		BonusApplied:   c.BonusApplied,
		Milestone:      c.Milestone,
		RewardUnlocked: c.RewardUnlocked,
	}
}

func newTaskDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if !s.app.Local.DeleteTask(args[0]) {
					return taskNotFound(s, args[0])
				}
				return s.out.Success(message("Task deleted."))
			})
		},
	}
}

func newTaskDelegateCommand(opts *RootOptions) *cobra.Command {
	var as string
	var paid bool
	cmd := &cobra.Command{
		Use:   "delegate <task-id>",
		Short: "Ask the other partner to take over a task",
		Long: fmt.Sprintf(`Ask the other partner to take over a task.

A free request can be declined. A paid request costs %d points, which are
refunded if the partner declines.`, model.PaidDelegationCost),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				role, err := actor(s, as)
				if err != nil {
					return err
				}
				t, ok := s.app.Local.Task(args[0])
				if !ok {
					return taskNotFound(s, args[0])
				}
				typ := model.DelegationFree
				if paid {
					typ = model.DelegationPaid
				}
				if !s.app.Game.RequestDelegation(t.ID, role, typ) {
					msg := fmt.Sprintf("cannot delegate %s", t.Name)
					if paid {
						msg += fmt.Sprintf(" (needs %d points and no pending request)", model.PaidDelegationCost)
					}
					return s.out.Fail(ExitFailure, ErrCodeRejected, msg, nil)
				}
				return s.out.Success(message(fmt.Sprintf("Delegation of %s requested.", t.Name)))
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "partner asking (a|b)")
	cmd.Flags().BoolVar(&paid, "paid", false, fmt.Sprintf("pay %d points so the request cannot be refused for free", model.PaidDelegationCost))
	return cmd
}

var past = map[string]string{"accept": "accepted", "decline": "declined"}

func newTaskAnswerCommand(opts *RootOptions, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a delegation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				local := s.app.Local
				t, ok := local.Task(args[0])
				if !ok {
					return taskNotFound(s, args[0])
				}
				answer := local.DeclineDelegation
				if verb == "accept" {
					answer = local.AcceptDelegation
				}
				if !answer(t.ID) {
					return s.out.Fail(ExitFailure, ErrCodeRejected, fmt.Sprintf("%s has no pending delegation", t.Name), nil)
				}
				return s.out.Success(message(fmt.Sprintf("Delegation of %s %s.", t.Name, past[verb])))
			})
		},
	}
}
