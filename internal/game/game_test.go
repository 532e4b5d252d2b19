package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mimitask/internal/database"
	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/store"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (f *fakeNotifier) SendNotification(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*Service, *store.Local, *clock, *fakeNotifier) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := &clock{now: time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)}
	n := 0
	local := store.NewLocal(store.NewKVStore(db),
		store.WithClock(clk.Now),
		store.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	local.Init()
	require.NoError(t, local.SetCouple("Alice", "Bruno"))

	notifier := &fakeNotifier{}
	svc := NewService(local, WithClock(clk.Now), WithNotifier(notifier))
	return svc, local, clk, notifier
}

func TestProcessTaskCompletionStreakBonus(t *testing.T) {
	svc, local, _, _ := setup(t)
	task, err := local.AddTask(store.NewTask{Name: "Vaisselle", Points: 10})
	require.NoError(t, err)
	local.UpdateStreak(model.PartnerA, 2, "2026-02-03")

	c, ok := svc.ProcessTaskCompletion(task.ID, model.PartnerA)
	require.True(t, ok)
	assert.Equal(t, 15, c.Points)
	assert.True(t, c.BonusApplied)
	assert.Equal(t, 3, c.Milestone)

	s := local.Stats()
	assert.Equal(t, 15, s.PartnerA.TotalPoints)
	assert.Equal(t, 15, s.CouplePoints)
	assert.Equal(t, 3, s.PartnerA.CurrentStreak)
	assert.Equal(t, "2026-02-04", s.PartnerA.LastActivityDate)

	got, _ := local.Task(task.ID)
	assert.True(t, got.Completed())

	_, ok = svc.ProcessTaskCompletion(task.ID, model.PartnerA)
	assert.False(t, ok, "completing twice is rejected")
}

func TestProcessTaskCompletionSameDayKeepsStreak(t *testing.T) {
	svc, local, _, _ := setup(t)
	a, _ := local.AddTask(store.NewTask{Name: "Lit", Points: 4})
	b, _ := local.AddTask(store.NewTask{Name: "Linge", Points: 6})

	_, ok := svc.ProcessTaskCompletion(a.ID, model.PartnerA)
	require.True(t, ok)
	c, ok := svc.ProcessTaskCompletion(b.ID, model.PartnerA)
	require.True(t, ok)
	assert.Equal(t, 6, c.Points)
	assert.Zero(t, c.Milestone)
	assert.Equal(t, 1, local.Stats().PartnerA.CurrentStreak)
}

func TestRewardUnlocksOnce(t *testing.T) {
	svc, local, _, _ := setup(t)
	reward, err := local.AddReward(store.NewReward{Name: "Cinema", PointsCost: 100, Type: model.RewardCouple})
	require.NoError(t, err)
	local.AddPoints(model.PartnerB, 80)
	first, _ := local.AddTask(store.NewTask{Name: "Courses", Points: 20})
	second, _ := local.AddTask(store.NewTask{Name: "Bain", Points: 5})
	local.UpdateStreak(model.PartnerA, 4, "2026-02-03")

	c, ok := svc.ProcessTaskCompletion(first.ID, model.PartnerA)
	require.True(t, ok)
	assert.Equal(t, 30, c.Points)
	require.NotNil(t, c.RewardUnlocked)
	assert.Equal(t, reward.ID, c.RewardUnlocked.ID)
	unlockedAt := *c.RewardUnlocked.UnlockedAt

	c, ok = svc.ProcessTaskCompletion(second.ID, model.PartnerA)
	require.True(t, ok)
	assert.Nil(t, c.RewardUnlocked)

	got, _ := local.Reward(reward.ID)
	require.NotNil(t, got.UnlockedAt)
	assert.True(t, got.UnlockedAt.Equal(unlockedAt))
}

func TestAcceptedPaidDelegationAwardsNothing(t *testing.T) {
	svc, local, _, _ := setup(t)
	task, _ := local.AddTask(store.NewTask{Name: "Poubelles", Points: 10})
	local.AddPoints(model.PartnerA, 300)

	require.True(t, svc.RequestDelegation(task.ID, model.PartnerA, model.DelegationPaid))
	assert.Equal(t, 0, local.Stats().PartnerA.TotalPoints)
	require.True(t, local.AcceptDelegation(task.ID))

	c, ok := svc.ProcessTaskCompletion(task.ID, model.PartnerB)
	require.True(t, ok)
	assert.Zero(t, c.Points)
	assert.False(t, c.BonusApplied)
	assert.Equal(t, 0, local.Stats().PartnerB.TotalPoints)
}

func TestCheckStreaksAtBoot(t *testing.T) {
	svc, local, _, _ := setup(t)
	local.UpdateStreak(model.PartnerA, 4, "2026-02-03")
	local.UpdateStreak(model.PartnerB, 6, "2026-01-30")

	lost := svc.CheckStreaksAtBoot()
	assert.Equal(t, []model.PartnerRole{model.PartnerB}, lost)

	s := local.Stats()
	assert.Equal(t, 4, s.PartnerA.CurrentStreak)
	assert.Equal(t, 0, s.PartnerB.CurrentStreak)
	assert.Equal(t, 6, s.PartnerB.BestStreak)
	assert.Equal(t, "2026-01-30", s.PartnerB.LastActivityDate, "decay keeps the last activity day")

	assert.Empty(t, svc.CheckStreaksAtBoot())
}

func TestUseRewardNotifiesPartner(t *testing.T) {
	svc, local, _, notifier := setup(t)
	reward, _ := local.AddReward(store.NewReward{Name: "Massage", PointsCost: 30, Icon: "💆"})
	local.AddPoints(model.PartnerB, 40)
	local.UnlockReward(reward.ID)

	used, ok := svc.UseReward(reward.ID, model.PartnerB)
	require.True(t, ok)
	assert.Nil(t, used.UnlockedAt)

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, model.NotificationRewardUsed, n.Type)
	assert.Equal(t, model.PartnerA, n.Target)
	assert.Equal(t, "Bruno", n.SenderName)
	assert.Equal(t, "Massage", n.RewardName)
	assert.Equal(t, "💆", n.RewardIcon)
	assert.NotEmpty(t, n.ID)

	_, ok = svc.UseReward(reward.ID, model.PartnerB)
	assert.False(t, ok, "relocked reward cannot be reused")
	assert.Len(t, notifier.sent, 1)
}

func TestUsePowerReward(t *testing.T) {
	svc, local, _, notifier := setup(t)
	power, _ := local.AddReward(store.NewReward{Name: "Joker", PointsCost: 120, Type: model.RewardPower})
	plain, _ := local.AddReward(store.NewReward{Name: "Cafe", PointsCost: 10})
	task, _ := local.AddTask(store.NewTask{Name: "Repassage", Points: 8})

	assert.False(t, svc.UsePowerReward(power.ID, task.ID, model.PartnerA), "not enough points")
	local.AddPoints(model.PartnerA, 150)
	assert.False(t, svc.UsePowerReward(plain.ID, task.ID, model.PartnerA), "not a power reward")

	require.True(t, svc.UsePowerReward(power.ID, task.ID, model.PartnerA))
	assert.Equal(t, 30, local.Stats().PartnerA.TotalPoints)

	got, _ := local.Task(task.ID)
	require.NotNil(t, got.Delegation)
	assert.Equal(t, model.DelegationPaid, got.Delegation.Type)
	assert.Equal(t, 120, got.Delegation.Cost)

	r, _ := local.Reward(power.ID)
	assert.NotNil(t, r.UsedAt)
	assert.Nil(t, r.UnlockedAt)
	assert.Len(t, notifier.sent, 1)

	require.True(t, local.DeclineDelegation(task.ID))
	assert.Equal(t, 150, local.Stats().PartnerA.TotalPoints)
}

func TestDashboardFigures(t *testing.T) {
	svc, local, _, _ := setup(t)
	assert.Equal(t, model.MoodHappy, svc.Mood())

	local.AddReward(store.NewReward{Name: "Resto", PointsCost: 200, Type: model.RewardCouple})
	task, _ := local.AddTask(store.NewTask{Name: "Vitres", Points: 12, AssignedTo: model.PartnerB})
	_, ok := svc.ProcessTaskCompletion(task.ID, model.PartnerB)
	require.True(t, ok)

	next, ok := svc.NextReward()
	require.True(t, ok)
	assert.Equal(t, 188, next.Remaining)

	w := svc.WeeklyStats(model.PartnerB)
	assert.Equal(t, 1, w.TasksCompleted)
	assert.Equal(t, 12, w.TotalPoints)
	assert.Equal(t, model.MoodSad, svc.Mood())
}
