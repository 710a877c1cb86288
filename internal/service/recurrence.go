package service

import (
	"strconv"
	"strings"
	"time"

	"coach-planner/internal/model"
)

// maxRecurrenceSteps bounds the per-occurrence loops. catchUp runs first, so
// only the few occurrences around now and inside the horizon count against it.
const maxRecurrenceSteps = 1000

// advance moves from to the next occurrence date of the template's pattern.
// The time of day is left to applyRecurrenceTime.
func advance(tmpl model.Task, from time.Time) time.Time {
	interval := tmpl.RecurrenceInterval
	if interval < 1 {
		interval = 1
	}
	switch tmpl.RecurrencePattern {
	case model.RecurDaily, model.RecurCustom:
		return from.AddDate(0, 0, interval)
	case model.RecurMonthly:
		return addMonthsClamped(from, interval, tmpl.DueAt.In(from.Location()).Day())
	case model.RecurWeekly:
		next := from.AddDate(0, 0, 7*interval)
		if len(tmpl.RecurrenceDays) == 0 {
			return next
		}
		for i := 0; i < 7 && !tmpl.RecurrenceDays.Contains(next.Weekday()); i++ {
			next = next.AddDate(0, 0, 1)
		}
		return next
	default:
		return from.AddDate(0, 0, 1)
	}
}

// addMonthsClamped adds months keeping anchorDay, clamped to the month's last day.
func addMonthsClamped(from time.Time, months, anchorDay int) time.Time {
	first := time.Date(from.Year(), from.Month()+time.Month(months), 1,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
	day := anchorDay
	if last := daysInMonth(first.Month(), first.Year()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// applyRecurrenceTime sets the template's HH:MM on d. An empty or malformed
// recurrence time keeps d's own time of day.
func applyRecurrenceTime(tmpl model.Task, d time.Time) time.Time {
	hour, minute, ok := parseClock(tmpl.RecurrenceTime)
	if !ok {
		return d
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}

func parseClock(raw string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// firstOccurrence is the template's own due date in loc with its recurrence time applied.
func firstOccurrence(tmpl model.Task, loc *time.Location) time.Time {
	return applyRecurrenceTime(tmpl, tmpl.DueAt.In(loc))
}

// nextOccurrence returns the occurrence following prev.
func nextOccurrence(tmpl model.Task, prev time.Time) time.Time {
	return applyRecurrenceTime(tmpl, advance(tmpl, prev))
}

// pastEnd reports whether candidate's calendar date is after the template's end date.
func pastEnd(tmpl model.Task, candidate time.Time) bool {
	if tmpl.RecurrenceEndDate == nil {
		return false
	}
	loc := candidate.Location()
	end := tmpl.RecurrenceEndDate.In(loc)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	candDay := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, loc)
	return candDay.After(endDay)
}

// catchUp moves candidate forward by whole recurrence intervals so that it
// lands at most one interval before now. Occurrences it skips are all in
// the past. A candidate already at or after now is returned unchanged.
func catchUp(tmpl model.Task, candidate, now time.Time) time.Time {
	if !candidate.Before(now) {
		return candidate
	}
	interval := tmpl.RecurrenceInterval
	if interval < 1 {
		interval = 1
	}
	now = now.In(candidate.Location())

	switch tmpl.RecurrencePattern {
	case model.RecurMonthly:
		months := (now.Year()-candidate.Year())*12 + int(now.Month()) - int(candidate.Month())
		jumps := months/interval - 1
		if jumps < 1 {
			return candidate
		}
		anchor := tmpl.DueAt.In(candidate.Location()).Day()
		return applyRecurrenceTime(tmpl, addMonthsClamped(candidate, jumps*interval, anchor))
	case model.RecurWeekly:
		// Whole multiples of the period keep the weekday, so the set of
		// recurrence days is still honoured.
		period := 7 * interval
		jumps := int(now.Sub(candidate).Hours()/24)/period - 1
		if jumps < 1 {
			return candidate
		}
		return applyRecurrenceTime(tmpl, candidate.AddDate(0, 0, jumps*period))
	default:
		jumps := int(now.Sub(candidate).Hours()/24)/interval - 1
		if jumps < 1 {
			return candidate
		}
		return applyRecurrenceTime(tmpl, candidate.AddDate(0, 0, jumps*interval))
	}
}
