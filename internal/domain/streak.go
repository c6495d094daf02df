package domain

import (
	"sort"
	"time"
)

// MilestoneLadder lists the running-day totals that trigger milestone events,
// ascending.
var MilestoneLadder = []int{10, 25, 50, 100, 200, 365}

// MilestoneStatus reports one ladder rung against the current totals.
type MilestoneStatus struct {
	Threshold int  `json:"threshold"`
	Reached   bool `json:"reached"`
}

// StreakSummary is the derived read model over a user's running days.
// Deterministic for a given day set and reference date.
type StreakSummary struct {
	CurrentStreak int               `json:"currentStreak"`
	LongestStreak int               `json:"longestStreak"`
	TotalRunDays  int               `json:"totalRunDays"`
	Milestones    []MilestoneStatus `json:"milestones"`
	NextMilestone int               `json:"nextMilestone,omitempty"`
}

// CrossedMilestone reports whether a running-day total sits exactly on a
// ladder threshold.
func CrossedMilestone(totalRunDays int) (int, bool) {
	for _, threshold := range MilestoneLadder {
		if totalRunDays == threshold {
			return threshold, true
		}
	}
	return 0, false
}

// EvaluateStreaks computes current and longest streaks plus milestone status
// from the distinct days that have at least one run. The current streak walks
// backward from today and tolerates today having no run yet.
func EvaluateStreaks(days []time.Time, today time.Time) StreakSummary {
	normalized := normalizeDays(days)
	summary := StreakSummary{TotalRunDays: len(normalized)}

	have := make(map[time.Time]struct{}, len(normalized))
	for _, d := range normalized {
		have[d] = struct{}{}
	}

	// Longest: run-length encoding over the sorted distinct days.
	run := 0
	for i, d := range normalized {
		if i > 0 && d.Sub(normalized[i-1]) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		if run > summary.LongestStreak {
			summary.LongestStreak = run
		}
	}

	cursor := truncateDay(today)
	if _, ok := have[cursor]; !ok {
		cursor = cursor.AddDate(0, 0, -1)
	}
	for {
		if _, ok := have[cursor]; !ok {
			break
		}
		summary.CurrentStreak++
		cursor = cursor.AddDate(0, 0, -1)
	}

	summary.Milestones = make([]MilestoneStatus, 0, len(MilestoneLadder))
	for _, threshold := range MilestoneLadder {
		reached := summary.TotalRunDays >= threshold
		summary.Milestones = append(summary.Milestones, MilestoneStatus{Threshold: threshold, Reached: reached})
		if !reached && summary.NextMilestone == 0 {
			summary.NextMilestone = threshold
		}
	}
	return summary
}

func normalizeDays(days []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		day := truncateDay(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
