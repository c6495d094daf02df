package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEvaluateStreaksCurrentAndLongest(t *testing.T) {
	days := []time.Time{
		day(2025, time.March, 1),
		day(2025, time.March, 2),
		day(2025, time.March, 3),
		day(2025, time.March, 4),
		day(2025, time.March, 5),
		// gap
		day(2025, time.March, 8),
		day(2025, time.March, 9),
	}

	summary := EvaluateStreaks(days, day(2025, time.March, 9))
	require.Equal(t, 2, summary.CurrentStreak)
	require.Equal(t, 5, summary.LongestStreak)
	require.Equal(t, 7, summary.TotalRunDays)
}

func TestEvaluateStreaksToleratesNoRunToday(t *testing.T) {
	days := []time.Time{
		day(2025, time.March, 7),
		day(2025, time.March, 8),
	}

	// Evaluated on the 9th before any run: the streak is still alive.
	summary := EvaluateStreaks(days, day(2025, time.March, 9))
	require.Equal(t, 2, summary.CurrentStreak)

	// Two days without a run breaks it.
	summary = EvaluateStreaks(days, day(2025, time.March, 10))
	require.Zero(t, summary.CurrentStreak)
}

func TestEvaluateStreaksDeduplicatesAndSorts(t *testing.T) {
	noon := time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
	days := []time.Time{
		day(2025, time.March, 4),
		noon,
		day(2025, time.March, 3), // same calendar day as noon
	}

	summary := EvaluateStreaks(days, day(2025, time.March, 4))
	require.Equal(t, 2, summary.TotalRunDays)
	require.Equal(t, 2, summary.CurrentStreak)
	require.Equal(t, 2, summary.LongestStreak)
}

func TestEvaluateStreaksMilestoneStatus(t *testing.T) {
	days := make([]time.Time, 0, 30)
	for i := 0; i < 30; i++ {
		days = append(days, day(2025, time.January, 1).AddDate(0, 0, i*2))
	}

	summary := EvaluateStreaks(days, day(2025, time.March, 15))
	require.Equal(t, 30, summary.TotalRunDays)
	require.Equal(t, 50, summary.NextMilestone)
	require.Len(t, summary.Milestones, len(MilestoneLadder))
	require.True(t, summary.Milestones[0].Reached)  // 10
	require.True(t, summary.Milestones[1].Reached)  // 25
	require.False(t, summary.Milestones[2].Reached) // 50
}

func TestEvaluateStreaksEmpty(t *testing.T) {
	summary := EvaluateStreaks(nil, day(2025, time.March, 9))
	require.Zero(t, summary.CurrentStreak)
	require.Zero(t, summary.LongestStreak)
	require.Zero(t, summary.TotalRunDays)
	require.Equal(t, MilestoneLadder[0], summary.NextMilestone)
}

func TestCrossedMilestone(t *testing.T) {
	for _, threshold := range MilestoneLadder {
		got, crossed := CrossedMilestone(threshold)
		require.True(t, crossed)
		require.Equal(t, threshold, got)
	}

	for _, total := range []int{0, 9, 11, 364, 366} {
		_, crossed := CrossedMilestone(total)
		require.False(t, crossed)
	}
}
