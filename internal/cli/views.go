package cli

import (
	"fmt"
	"strings"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/outbox"
	"github.com/dukerupert/mimitask/internal/points"
	"github.com/dukerupert/mimitask/internal/syncstatus"
)

type taskList []model.Task

func (l taskList) String() string {
	if len(l) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	for i, t := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if t.Completed() {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] %s %s  %d pts  %s/%s  %s", mark, t.Icon, t.Name, t.Points, t.AssignedTo, t.Recurrence, t.ID)
		if t.DelegationPending() {
			fmt.Fprintf(&b, "  (delegation %s requested by %s)", t.Delegation.Type, t.Delegation.RequestedBy)
		}
	}
	return b.String()
}

type rewardList []model.Reward

func (l rewardList) String() string {
	if len(l) == 0 {
		return "No rewards."
	}
	var b strings.Builder
	for i, r := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "locked"
		if r.Type == model.RewardPower {
			state = "power"
		} else if r.Unlocked() {
			state = "unlocked"
		}
		typ := string(r.Type)
		if typ == "" {
			typ = "individual"
		}
		fmt.Fprintf(&b, "%s %s  %d pts  %s  %s  %s", r.Icon, r.Name, r.PointsCost, typ, state, r.ID)
	}
	return b.String()
}

type taskView model.Task

func (t taskView) String() string {
	return fmt.Sprintf("%s %s (%d pts, %s, %s) id=%s", t.Icon, t.Name, t.Points, t.AssignedTo, t.Recurrence, t.ID)
}

type rewardView model.Reward

func (r rewardView) String() string {
	return fmt.Sprintf("%s %s (%d pts) id=%s", r.Icon, r.Name, r.PointsCost, r.ID)
}

type message string

func (m message) String() string { return string(m) }

type completionView struct {
	Task           string        `json:"task"`
	Points         int           `json:"points"`
	BonusApplied   bool          `json:"bonusApplied"`
	Milestone      int           `json:"milestone,omitempty"`
	RewardUnlocked *model.Reward `json:"rewardUnlocked,omitempty"`
}

func (c completionView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s done: +%d pts", c.Task, c.Points)
	if c.BonusApplied {
		b.WriteString(" (streak bonus)")
	}
	if c.Milestone > 0 {
		fmt.Fprintf(&b, "\n%d day streak!", c.Milestone)
	}
	if c.RewardUnlocked != nil {
		fmt.Fprintf(&b, "\nUnlocked: %s %s", c.RewardUnlocked.Icon, c.RewardUnlocked.Name)
	}
	return b.String()
}

type statusView struct {
	Couple     model.Couple           `json:"couple"`
	Role       model.PartnerRole      `json:"role"`
	Online     bool                   `json:"online"`
	Linked     bool                   `json:"linked"`
	Sync       syncstatus.State       `json:"sync"`
	Stats      model.Stats            `json:"stats"`
	Balance    model.Balance          `json:"balance"`
	Mood       model.Mood             `json:"mood"`
	Weekly     points.Weekly          `json:"weekly"`
	NextReward *points.NextRewardInfo `json:"nextReward,omitempty"`
	Pending    int                    `json:"pendingDelegations"`
	Outbox     *outbox.Counters       `json:"outbox,omitempty"`
	Onboarded  bool                   `json:"onboarded"`
	Settings   model.Settings         `json:"settings"`
}

func (s statusView) String() string {
	var b strings.Builder
	a, p := s.Couple.PartnerA, s.Couple.PartnerB
	if a.Name != "" {
		fmt.Fprintf(&b, "%s & %s", a.Name, p.Name)
	} else {
		b.WriteString("Couple not set up")
	}
	if s.Couple.CoupleCode != "" {
		fmt.Fprintf(&b, "  [%s]", s.Couple.CoupleCode)
	}
	fmt.Fprintf(&b, "\nYou are %s", s.Role)
	switch {
	case !s.Online:
		b.WriteString(" (local only)")
	case !s.Linked:
		b.WriteString(" (not linked)")
	default:
		fmt.Fprintf(&b, " (sync %s)", s.Sync)
	}
	fmt.Fprintf(&b, "\nPoints: %d together, %d / %d (%d%% / %d%%)",
		s.Stats.CouplePoints, s.Stats.PartnerA.TotalPoints, s.Stats.PartnerB.TotalPoints, s.Balance.PartnerA, s.Balance.PartnerB)
	fmt.Fprintf(&b, "\nStreaks: %d (best %d) / %d (best %d)",
		s.Stats.PartnerA.CurrentStreak, s.Stats.PartnerA.BestStreak, s.Stats.PartnerB.CurrentStreak, s.Stats.PartnerB.BestStreak)
	fmt.Fprintf(&b, "\nThis week: %d task(s), %d pts", s.Weekly.TasksCompleted, s.Weekly.TotalPoints)
	fmt.Fprintf(&b, "\nMascot mood: %s", s.Mood)
	if s.NextReward != nil {
		fmt.Fprintf(&b, "\nNext reward: %s in %d pts", s.NextReward.Name, max(0, s.NextReward.Remaining))
	}
	if s.Pending > 0 {
		fmt.Fprintf(&b, "\n%d delegation request(s) waiting for you", s.Pending)
	}
	if o := s.Outbox; o != nil {
		if o.Depth > 0 {
			fmt.Fprintf(&b, "\nRemote writes: %d queued", o.Depth)
		}
		if o.Failed > 0 {
			fmt.Fprintf(&b, "\nRemote writes: %d rejected", o.Failed)
		}
	}
	if !s.Onboarded {
		b.WriteString("\nSetup not finished: run `mimitask couple names` to start")
	}
	if s.Settings.LastResetDate != "" {
		fmt.Fprintf(&b, "\nRecurring tasks last reset %s", s.Settings.LastResetDate)
	}
	return b.String()
}
