package recurrence

import (
	"time"

	"github.com/dukerupert/mimitask/internal/model"
)

// DayLayout formats calendar days as stored in stats and settings.
const DayLayout = "2006-01-02"

const biweeklyWindow = 14 * 24 * time.Hour

// Elapsed reports whether a task completed at completedAt has left its
// recurrence window as of now, so that it should revert to pending.
// One-off tasks never do. Calendar boundaries use now's location.
func Elapsed(rec model.Recurrence, completedAt, now time.Time) bool {
	completedAt = completedAt.In(now.Location())
	switch rec {
	case model.RecurrenceDaily:
		return !SameDay(completedAt, now)
	case model.RecurrenceWeekly:
		return completedAt.Before(StartOfWeek(now))
	case model.RecurrenceBiweekly:
		return now.Sub(completedAt) >= biweeklyWindow
	case model.RecurrenceMonthly:
		return completedAt.Before(StartOfMonth(now))
	}
	return false
}

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns the most recent Monday 00:00 at or before t.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func Day(t time.Time) string {
	return t.Format(DayLayout)
}

// Yesterday returns the day string for the calendar day before t.
func Yesterday(t time.Time) string {
	return Day(StartOfDay(t).AddDate(0, 0, -1))
}

// Describe returns a short human label for a recurrence.
func Describe(rec model.Recurrence) string {
	switch rec {
	case model.RecurrenceOnce:
		return "once"
	case model.RecurrenceDaily:
		return "every day"
	case model.RecurrenceWeekly:
		return "every week"
	case model.RecurrenceBiweekly:
		return "every 2 weeks"
	case model.RecurrenceMonthly:
		return "every month"
	}
	return string(rec)
}
