// Package points holds the pure scoring rules: task awards, streaks,
// reward unlocks and the derived dashboard figures.
package points

import (
	"math"
	"sort"
	"time"

	"github.com/dukerupert/mimitask/internal/model"
	"github.com/dukerupert/mimitask/internal/recurrence"
)

const (
	StreakBonusThreshold  = 3
	StreakBonusMultiplier = 1.5
	MaxPointsPerTask      = 20
)

// MaxPointsCap is the largest award a single completion can produce.
var MaxPointsCap = int(math.Round(MaxPointsPerTask * StreakBonusMultiplier))

// Milestones are the streak lengths worth celebrating.
var Milestones = []int{3, 5, 7, 10}

// CalculateTaskPoints applies the streak bonus to a task's base points.
func CalculateTaskPoints(base, streak int) int {
	pts := base
	if streak >= StreakBonusThreshold {
		pts = int(math.Round(float64(base) * StreakBonusMultiplier))
	}
	return min(pts, MaxPointsCap)
}

// StreakUpdate is the outcome of recording activity for a partner.
type StreakUpdate struct {
	Streak int
	// Changed is false when activity was already recorded today.
	Changed bool
	// Milestone is the reached milestone, or 0.
	Milestone int
}

// NextStreak computes a partner's streak after an activity at now.
func NextStreak(p model.PartnerStats, now time.Time) StreakUpdate {
	if p.LastActivityDate == recurrence.Day(now) {
		return StreakUpdate{Streak: p.CurrentStreak}
	}
	streak := 1
	if p.LastActivityDate == recurrence.Yesterday(now) {
		streak = p.CurrentStreak + 1
	}
	u := StreakUpdate{Streak: streak, Changed: true}
	for _, m := range Milestones {
		if m == streak {
			u.Milestone = m
		}
	}
	return u
}

// Decayed returns the partners whose running streak lapsed: their last
// activity is neither today nor yesterday. One missed day is tolerated.
func Decayed(s model.Stats, now time.Time) []model.PartnerRole {
	today := recurrence.Day(now)
	yesterday := recurrence.Yesterday(now)
	var lost []model.PartnerRole
	for _, role := range model.Roles {
		p := s.Partner(role)
		if p.LastActivityDate == "" || p.CurrentStreak == 0 {
			continue
		}
		if p.LastActivityDate != today && p.LastActivityDate != yesterday {
			lost = append(lost, role)
		}
	}
	return lost
}

func lockedByCost(rewards []model.Reward, includePower bool) []model.Reward {
	var out []model.Reward
	for _, r := range rewards {
		if r.Unlocked() || (!includePower && r.Type == model.RewardPower) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PointsCost < out[j].PointsCost })
	return out
}

// PickUnlock returns the cheapest locked reward whose threshold is met.
// Couple rewards are measured against couple points, others against the
// completing partner's total. Power rewards never unlock.
func PickUnlock(rewards []model.Reward, s model.Stats, role model.PartnerRole) (model.Reward, bool) {
	for _, r := range lockedByCost(rewards, false) {
		have := s.Partner(role).TotalPoints
		if r.Type == model.RewardCouple {
			have = s.CouplePoints
		}
		if have >= r.PointsCost {
			return r, true
		}
	}
	return model.Reward{}, false
}

type NextRewardInfo struct {
	Name       string `json:"name"`
	PointsCost int    `json:"pointsCost"`
	Remaining  int    `json:"remaining"`
}

// NextReward describes the cheapest locked reward and how many couple
// points are still missing.
func NextReward(rewards []model.Reward, s model.Stats) (NextRewardInfo, bool) {
	locked := lockedByCost(rewards, false)
	if len(locked) == 0 {
		return NextRewardInfo{}, false
	}
	next := locked[0]
	return NextRewardInfo{
		Name:       next.Name,
		PointsCost: next.PointsCost,
		Remaining:  next.PointsCost - s.CouplePoints,
	}, true
}

type Weekly struct {
	TasksCompleted int `json:"tasksCompleted"`
	TotalPoints    int `json:"totalPoints"`
}

// WeeklyStats counts the partner's tasks completed since Monday 00:00.
func WeeklyStats(tasks []model.Task, role model.PartnerRole, now time.Time) Weekly {
	monday := recurrence.StartOfWeek(now)
	var w Weekly
	for _, t := range tasks {
		if t.AssignedTo != role || t.CompletedAt == nil || t.CompletedAt.Before(monday) {
			continue
		}
		w.TasksCompleted++
		w.TotalPoints += t.Points
	}
	return w
}

// Balance returns each partner's share of the couple total in percent,
// 50/50 when nobody has points yet.
func Balance(s model.Stats) model.Balance {
	if s.CouplePoints == 0 {
		return model.Balance{PartnerA: 50, PartnerB: 50}
	}
	a := int(math.Round(float64(s.PartnerA.TotalPoints) / float64(s.CouplePoints) * 100))
	return model.Balance{PartnerA: a, PartnerB: 100 - a}
}

// MascotMood derives the mascot's mood from how evenly points are shared
// and the best running streak.
func MascotMood(s model.Stats) model.Mood {
	if s.CouplePoints == 0 {
		return model.MoodHappy
	}
	b := Balance(s)
	minRatio := min(b.PartnerA, b.PartnerB)
	bestStreak := max(s.PartnerA.CurrentStreak, s.PartnerB.CurrentStreak)
	switch {
	case minRatio >= 45 && bestStreak > 5:
		return model.MoodExcited
	case minRatio >= 40:
		return model.MoodHappy
	case minRatio >= 30:
		return model.MoodNeutral
	case minRatio >= 20:
		return model.MoodWorried
	}
	return model.MoodSad
}
