// Package game applies the scoring rules to the local store: task
// completion, streak decay, delegation and reward spending.
package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/points"
	"github.com/dukerupert/mimitask/internal/recurrence"
	"github.com/dukerupert/mimitask/internal/store"
)

// Notifier queues cross-partner notifications for delivery. It must not
// block on the network.
type Notifier interface {
	SendNotification(ctx context.Context, n model.Notification) error
}

type Service struct {
	local    *store.Local
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

// WithNotifier sends reward notifications through n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(local *store.Local, opts ...Option) *Service {
	s := &Service{
		local:  local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Completion reports what a task completion produced.
type Completion struct {
	Points         int
	BonusApplied   bool
	RewardUnlocked *model.Reward
	Milestone      int
}

// ProcessTaskCompletion records the completing partner's streak, awards
// the task's points, marks it done and unlocks at most one reward.
func (s *Service) ProcessTaskCompletion(taskID string, role model.PartnerRole) (Completion, bool) {
	task, ok := s.local.Task(taskID)
	if !ok || task.Completed() || !role.Valid() {
		return Completion{}, false
	}

	now := s.now()
	upd := points.NextStreak(s.local.Stats().Partner(role), now)
	if upd.Changed {
		s.local.UpdateStreak(role, upd.Streak, recurrence.Day(now))
	}

	pts := points.CalculateTaskPoints(task.Points, upd.Streak)
	if task.PaidDelegationAccepted() {
		pts = 0
	}
	s.local.AddPoints(role, pts)
	s.local.CompleteTask(taskID)

	c := Completion{
		Points:       pts,
		BonusApplied: pts > 0 && upd.Streak >= points.StreakBonusThreshold,
		Milestone:    upd.Milestone,
	}
	if r, ok := points.PickUnlock(s.local.Rewards(), s.local.Stats(), role); ok && s.local.UnlockReward(r.ID) {
		unlocked, _ := s.local.Reward(r.ID)
		c.RewardUnlocked = &unlocked
	}
	return c, true
}

// CheckStreaksAtBoot resets lapsed streaks and returns the partners who
// lost theirs.
func (s *Service) CheckStreaksAtBoot() []model.PartnerRole {
	lost := points.Decayed(s.local.Stats(), s.now())
	for _, role := range lost {
		s.local.ResetStreak(role)
	}
	return lost
}

// RequestDelegation asks the other partner to take over a task. Paid
// requests cost model.PaidDelegationCost.
func (s *Service) RequestDelegation(taskID string, by model.PartnerRole, typ model.DelegationType) bool {
	cost := 0
	if typ == model.DelegationPaid {
		cost = model.PaidDelegationCost
	}
	return s.local.RequestDelegation(taskID, by, typ, cost)
}

// UseReward spends a reward and tells the other partner about it.
func (s *Service) UseReward(rewardID string, by model.PartnerRole) (model.Reward, bool) {
	r, ok := s.local.UseReward(rewardID, by)
	if !ok {
		return model.Reward{}, false
	}
	s.notify(r, by)
	return r, true
}

// UsePowerReward spends a power reward to hand a task to the other
// partner. The reward's cost is charged as a paid delegation, so a
// decline refunds it.
func (s *Service) UsePowerReward(rewardID, taskID string, by model.PartnerRole) bool {
	r, ok := s.local.Reward(rewardID)
	if !ok || r.Type != model.RewardPower {
		return false
	}
	if !s.local.RequestDelegation(taskID, by, model.DelegationPaid, r.PointsCost) {
		return false
	}
	s.local.MarkRewardUsed(rewardID)
	s.notify(r, by)
	return true
}

func (s *Service) notify(r model.Reward, by model.PartnerRole) {
	if s.notifier == nil {
		return
	}
	n := model.Notification{
		ID:         uuid.NewString(),
		Type:       model.NotificationRewardUsed,
		Target:     by.Other(),
		SenderName: s.local.Couple().Partner(by).Name,
		RewardName: r.Name,
		RewardIcon: r.Icon,
		RewardType: r.Type,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.notifier.SendNotification(context.Background(), n); err != nil {
		s.logger.Warn("notification not queued", "reward", r.ID, "error", err)
	}
}

func (s *Service) NextReward() (points.NextRewardInfo, bool) {
	return points.NextReward(s.local.Rewards(), s.local.Stats())
}

func (s *Service) WeeklyStats(role model.PartnerRole) points.Weekly {
	return points.WeeklyStats(s.local.Tasks(), role, s.now())
}

func (s *Service) Mood() model.Mood {
	return points.MascotMood(s.local.Stats())
}
