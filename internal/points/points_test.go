package points

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mimitask/internal/model"
)

var wednesday = time.Date(2026, 2, 4, 18, 30, 0, 0, time.UTC)

func TestCalculateTaskPoints(t *testing.T) {
	tests := []struct {
		base, streak, want int
	}{
		{10, 0, 10},
		{10, 2, 10},
		{10, 3, 15},
		{10, 9, 15},
		{5, 3, 8}, // 7.5 rounds up
		{20, 3, 30},
		{25, 5, 30},
		{25, 0, 25},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateTaskPoints(tt.base, tt.streak), "base=%d streak=%d", tt.base, tt.streak)
	}
	assert.Equal(t, 30, MaxPointsCap)
}

func TestNextStreak(t *testing.T) {
	t.Run("same day unchanged", func(t *testing.T) {
		u := NextStreak(model.PartnerStats{CurrentStreak: 4, LastActivityDate: "2026-02-04"}, wednesday)
		assert.False(t, u.Changed)
		assert.Equal(t, 4, u.Streak)
	})
	t.Run("yesterday increments", func(t *testing.T) {
		u := NextStreak(model.PartnerStats{CurrentStreak: 2, LastActivityDate: "2026-02-03"}, wednesday)
		assert.True(t, u.Changed)
		assert.Equal(t, 3, u.Streak)
		assert.Equal(t, 3, u.Milestone)
	})
	t.Run("gap resets to one", func(t *testing.T) {
		u := NextStreak(model.PartnerStats{CurrentStreak: 8, LastActivityDate: "2026-02-01"}, wednesday)
		assert.Equal(t, StreakUpdate{Streak: 1, Changed: true}, u)
	})
	t.Run("never active", func(t *testing.T) {
		u := NextStreak(model.PartnerStats{}, wednesday)
		assert.Equal(t, 1, u.Streak)
		assert.Zero(t, u.Milestone)
	})
	t.Run("month boundary", func(t *testing.T) {
		first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		u := NextStreak(model.PartnerStats{CurrentStreak: 9, LastActivityDate: "2026-02-28"}, first)
		assert.Equal(t, 10, u.Streak)
		assert.Equal(t, 10, u.Milestone)
	})
}

func TestDecayed(t *testing.T) {
	s := model.Stats{
		PartnerA: model.PartnerStats{CurrentStreak: 5, LastActivityDate: "2026-02-03"},
		PartnerB: model.PartnerStats{CurrentStreak: 2, LastActivityDate: "2026-02-01"},
	}
	assert.Equal(t, []model.PartnerRole{model.PartnerB}, Decayed(s, wednesday))

	s.PartnerB.CurrentStreak = 0
	assert.Empty(t, Decayed(s, wednesday))

	s.PartnerA.LastActivityDate = ""
	assert.Empty(t, Decayed(s, wednesday))
}

func stamp(t time.Time) *time.Time { return &t }

func TestPickUnlock(t *testing.T) {
	rewards := []model.Reward{
		{ID: "power", PointsCost: 10, Type: model.RewardPower},
		{ID: "big", PointsCost: 200, Type: model.RewardCouple},
		{ID: "solo", PointsCost: 50},
		{ID: "done", PointsCost: 5, UnlockedAt: stamp(wednesday)},
		{ID: "couple", PointsCost: 100, Type: model.RewardCouple},
	}
	s := model.Stats{
		PartnerA:     model.PartnerStats{TotalPoints: 40},
		PartnerB:     model.PartnerStats{TotalPoints: 65},
		CouplePoints: 105,
	}

	r, ok := PickUnlock(rewards, s, model.PartnerA)
	require.True(t, ok)
	assert.Equal(t, "couple", r.ID, "partnerA cannot afford solo, couple threshold met")

	r, ok = PickUnlock(rewards, s, model.PartnerB)
	require.True(t, ok)
	assert.Equal(t, "solo", r.ID, "cheapest match only")

	_, ok = PickUnlock(rewards, model.Stats{}, model.PartnerA)
	assert.False(t, ok)
}

func TestNextReward(t *testing.T) {
	rewards := []model.Reward{
		{Name: "Resto", PointsCost: 300},
		{Name: "Cinema", PointsCost: 100},
		{Name: "Glace", PointsCost: 20, UnlockedAt: stamp(wednesday)},
	}
	next, ok := NextReward(rewards, model.Stats{CouplePoints: 80})
	require.True(t, ok)
	assert.Equal(t, NextRewardInfo{Name: "Cinema", PointsCost: 100, Remaining: 20}, next)

	_, ok = NextReward(rewards[2:], model.Stats{})
	assert.False(t, ok)
}

func TestWeeklyStats(t *testing.T) {
	monday := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{AssignedTo: model.PartnerA, Points: 5, CompletedAt: stamp(monday)},
		{AssignedTo: model.PartnerA, Points: 7, CompletedAt: stamp(wednesday)},
		{AssignedTo: model.PartnerA, Points: 9, CompletedAt: stamp(monday.Add(-time.Minute))},
		{AssignedTo: model.PartnerA, Points: 3},
		{AssignedTo: model.PartnerB, Points: 4, CompletedAt: stamp(wednesday)},
	}
	assert.Equal(t, Weekly{TasksCompleted: 2, TotalPoints: 12}, WeeklyStats(tasks, model.PartnerA, wednesday))
	assert.Equal(t, Weekly{TasksCompleted: 1, TotalPoints: 4}, WeeklyStats(tasks, model.PartnerB, wednesday))
}

func TestBalance(t *testing.T) {
	assert.Equal(t, model.Balance{PartnerA: 50, PartnerB: 50}, Balance(model.Stats{}))
	s := model.Stats{
		PartnerA:     model.PartnerStats{TotalPoints: 2},
		PartnerB:     model.PartnerStats{TotalPoints: 1},
		CouplePoints: 3,
	}
	assert.Equal(t, model.Balance{PartnerA: 67, PartnerB: 33}, Balance(s))
}

func TestMascotMood(t *testing.T) {
	stats := func(a, b, streak int) model.Stats {
		return model.Stats{
			PartnerA:     model.PartnerStats{TotalPoints: a, CurrentStreak: streak},
			PartnerB:     model.PartnerStats{TotalPoints: b},
			CouplePoints: a + b,
		}
	}
	tests := []struct {
		name  string
		stats model.Stats
		want  model.Mood
	}{
		{"no points", stats(0, 0, 0), model.MoodHappy},
		{"balanced with streak", stats(50, 50, 6), model.MoodExcited},
		{"balanced short streak", stats(50, 50, 5), model.MoodHappy},
		{"sixty forty", stats(60, 40, 0), model.MoodHappy},
		{"seventy thirty", stats(70, 30, 0), model.MoodNeutral},
		{"seventy five", stats(75, 25, 0), model.MoodWorried},
		{"lopsided", stats(90, 10, 10), model.MoodSad},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MascotMood(tt.stats))
		})
	}
}
