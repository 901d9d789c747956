package stats

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iHildy/jules-wrapped/internal/aggregate"
)

func tally(pairs ...any) aggregate.Tally {
	var t aggregate.Tally
	for i := 0; i < len(pairs); i += 2 {
		t.Add(pairs[i].(string), pairs[i+1].(int))
	}
	return t
}

func entries(pairs ...any) []aggregate.Entry {
	t := tally(pairs...)
	return t.Entries()
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStreaksConsecutiveDays(t *testing.T) {
	daily := entries("2025-01-01", 3, "2025-01-02", 5, "2025-01-03", 2)
	got := Streaks(daily, 2025, day("2025-06-01 12:00"))

	assert.Equal(t, 3, got.Max)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, got.MaxDays)
	assert.Equal(t, 0, got.Current)
	assert.Equal(t, 3, got.ActiveDays)
}

func TestStreaksRecencyCutoff(t *testing.T) {
	var pairs []any
	start := day("2025-03-01 00:00")
	for i := range 18 {
		pairs = append(pairs, start.AddDate(0, 0, i).Format("2006-01-02"), 1)
	}
	daily := entries(pairs...)

	tests := []struct {
		name    string
		now     string
		current int
	}{
		{"last day is today", "2025-03-18 23:00", 18},
		{"last day was yesterday", "2025-03-19 08:00", 18},
		{"ended two days ago", "2025-03-20 08:00", 0},
		{"mid streak", "2025-03-10 08:00", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Streaks(daily, 2025, day(tt.now))
			assert.Equal(t, 18, got.Max)
			assert.Equal(t, tt.current, got.Current)
		})
	}
}

func TestStreaksTodayUsesLocation(t *testing.T) {
	daily := entries("2025-03-03", 1)
	// 2025-03-02 17:00 UTC, already the 3rd in UTC+9.
	now := time.Date(2025, 3, 3, 2, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	assert.Equal(t, 1, Streaks(daily, 2025, now).Current)
}

func TestStreaksIgnoresOtherYearsAndGaps(t *testing.T) {
	daily := entries(
		"2024-12-30", 1, "2024-12-31", 1,
		"2025-01-05", 1, "2025-01-01", 4,
		"2025-01-06", 2, "2025-01-07", 0,
		"2025-01-02", 1,
	)
	got := Streaks(daily, 2025, day("2025-02-01 00:00"))
	assert.Equal(t, 2, got.Max)
	// The earliest of two equally long runs is kept.
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, got.MaxDays)
	assert.Equal(t, 4, got.ActiveDays)
}

func TestStreaksEmpty(t *testing.T) {
	got := Streaks(nil, 2025, day("2025-02-01 00:00"))
	assert.Equal(t, Streak{MaxDays: []string{}}, got)
}

func TestRankStableTies(t *testing.T) {
	got := Rank(entries("a", 10, "b", 10, "c", 5), 25, nil)
	want := []RankedStat{
		{ID: "a", Name: "a", Count: 10, Percent: 40},
		{ID: "b", Name: "b", Count: 10, Percent: 40},
		{ID: "c", Name: "c", Count: 5, Percent: 20},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rank mismatch (-want +got):\n%s", diff)
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name  string
		in    []aggregate.Entry
		total int
		want  []RankedStat
	}{
		{
			name:  "top three of five",
			in:    entries("a", 1, "b", 7, "c", 3, "d", 7, "e", 2),
			total: 20,
			want: []RankedStat{
				{ID: "b", Name: "b", Count: 7, Percent: 35},
				{ID: "d", Name: "d", Count: 7, Percent: 35},
				{ID: "c", Name: "c", Count: 3, Percent: 15},
			},
		},
		{
			name:  "zero counts dropped",
			in:    entries("a", 0, "b", 2),
			total: 2,
			want:  []RankedStat{{ID: "b", Name: "b", Count: 2, Percent: 100}},
		},
		{
			name:  "zero total uses shown counts",
			in:    entries("a", 2, "b", 1),
			total: 0,
			want: []RankedStat{
				{ID: "a", Name: "a", Count: 2, Percent: 66.7},
				{ID: "b", Name: "b", Count: 1, Percent: 33.3},
			},
		},
		{
			name: "empty",
			want: []RankedStat{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank(tt.in, tt.total, nil)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Rank mismatch (-want +got):\n%s", diff)
			}
			assert.LessOrEqual(t, len(got), TopN)
			for i := 1; i < len(got); i++ {
				assert.GreaterOrEqual(t, got[i-1].Count, got[i].Count)
			}
		})
	}
}

func TestWeekdays(t *testing.T) {
	// Wed, Thu, Fri, and the next Wednesday.
	counts, busiest := Weekdays(entries(
		"2025-01-01", 3, "2025-01-02", 5, "2025-01-03", 2, "2025-01-08", 4,
	))
	assert.Equal(t, [7]int{0, 0, 0, 7, 5, 2, 0}, counts)
	assert.Equal(t, time.Wednesday, busiest)

	// Sunday and Monday tie; Sunday comes first.
	_, busiest = Weekdays(entries("2025-01-05", 2, "2025-01-06", 2))
	assert.Equal(t, time.Sunday, busiest)

	counts, busiest = Weekdays(nil)
	assert.Equal(t, [7]int{}, counts)
	assert.Equal(t, time.Sunday, busiest)
}

func TestMostActiveDay(t *testing.T) {
	got := MostActiveDay(entries("2025-02-01", 4, "2025-01-01", 9, "2025-03-01", 9))
	require.NotNil(t, got)
	assert.Equal(t, DayCount{Date: "2025-01-01", Count: 9}, *got)

	assert.Nil(t, MostActiveDay(nil))
}

func TestHumanizeMode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"AUTOMATION_MODE_AUTO_CREATE_PR", "Auto Create Pr"},
		{"AUTOMATION_MODE_UNSPECIFIED", "Unspecified"},
		{"MANUAL", "Manual"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanizeMode(tt.in), tt.in)
	}
}

func TestApprovalRate(t *testing.T) {
	assert.Equal(t, 0.0, ApprovalRate(3, 0))
	assert.Equal(t, 75.0, ApprovalRate(3, 4))
	assert.Equal(t, 33.3, ApprovalRate(1, 3))
}

func testSummary() aggregate.Summary {
	return aggregate.Summary{
		Year:              2025,
		TotalSessions:     4,
		CompletedSessions: 3,
		TotalActivities:   10,
		PlansGenerated:    4,
		PlansApproved:     2,
		BashCommands:      3,
		Daily:             tally("2025-01-01", 3, "2025-01-02", 5, "2025-01-03", 2),
		ActivityKinds: tally(
			"agentMessaged", 5, "userMessaged", 3, "planGenerated", 2,
		),
		Sources:         tally("acme/api", 3, "acme/web", 1),
		AutomationModes: tally("AUTOMATION_MODE_UNSPECIFIED", 1, "AUTO_CREATE_PR", 3),
		Commands:        tally("go", 2, "npm", 1),
		FirstSessionAt:  time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestCompute(t *testing.T) {
	got := Compute(testSummary(), 2025, day("2025-01-04 09:00"))

	assert.Equal(t, "2024-06-01", got.FirstSessionDate)
	assert.Equal(t, 3, got.MaxStreak)
	assert.Equal(t, 3, got.CurrentStreak)
	assert.Equal(t, 3, got.ActiveDays)
	assert.Equal(t, 3.3, got.ActivitiesPerActiveDay)
	assert.Equal(t, 50.0, got.PlanApprovalRate)
	assert.Equal(t, 2, got.UniqueSources)
	assert.Equal(t, time.Thursday, got.BusiestWeekday)
	assert.Equal(t, "Thursday", got.BusiestWeekdayName())
	require.NotNil(t, got.MostActiveDay)
	assert.Equal(t, "2025-01-02", got.MostActiveDay.Date)

	assert.Equal(t, []RankedStat{
		{ID: "agentMessaged", Name: "Agent messages", Count: 5, Percent: 50},
		{ID: "userMessaged", Name: "Your messages", Count: 3, Percent: 30},
		{ID: "planGenerated", Name: "Plans generated", Count: 2, Percent: 20},
	}, got.TopActivityKinds)
	assert.Equal(t, []RankedStat{
		{ID: "acme/api", Name: "acme/api", Count: 3, Percent: 75},
		{ID: "acme/web", Name: "acme/web", Count: 1, Percent: 25},
	}, got.TopSources)
	assert.Equal(t, []RankedStat{
		{ID: "go", Name: "go", Count: 2, Percent: 66.7},
		{ID: "npm", Name: "npm", Count: 1, Percent: 33.3},
	}, got.TopCommands)
	require.NotNil(t, got.TopAutomationMode)
	assert.Equal(t, "Auto Create Pr", got.TopAutomationMode.Name)
	assert.Equal(t, 75.0, got.TopAutomationMode.Percent)
}

func TestComputeIsIdempotent(t *testing.T) {
	sum := testSummary()
	now := day("2025-12-31 23:00")
	first := Compute(sum, 2025, now)
	second := Compute(sum, 2025, now)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Compute not idempotent (-first +second):\n%s", diff)
	}
}

func TestComputeEmptySummary(t *testing.T) {
	got := Compute(aggregate.Summary{Year: 2025}, 2025, day("2025-12-31 23:00"))
	assert.Zero(t, got.MaxStreak)
	assert.Zero(t, got.CurrentStreak)
	assert.Empty(t, got.MaxStreakDays)
	assert.Nil(t, got.MostActiveDay)
	assert.Nil(t, got.TopAutomationMode)
	assert.Empty(t, got.TopSources)
	assert.Empty(t, got.FirstSessionDate)
}
