// Package stats derives the annual statistics value from an
// aggregate.Summary. Compute is pure: the same summary, year and
// reference time always produce the same Stats.
package stats

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/iHildy/jules-wrapped/internal/aggregate"
	"github.com/iHildy/jules-wrapped/internal/jules"
	"github.com/iHildy/jules-wrapped/internal/timeutil"
)

// TopN is the length of every ranked list.
const TopN = 3

const automationModePrefix = "AUTOMATION_MODE_"

// RankedStat is one entry of a top-N list.
type RankedStat struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// DayCount is the activity count of one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats is the final statistics value of a year.
type Stats struct {
	Year             int    `json:"year"`
	FirstSessionDate string `json:"first_session_date,omitempty"`

	TotalSessions           int `json:"total_sessions"`
	CompletedSessions       int `json:"completed_sessions"`
	FailedSessions          int `json:"failed_sessions"`
	SessionsRequireApproval int `json:"sessions_require_approval"`
	PullRequests            int `json:"pull_requests"`

	TotalActivities int `json:"total_activities"`
	AgentMessages   int `json:"agent_messages"`
	UserMessages    int `json:"user_messages"`
	PlansGenerated  int `json:"plans_generated"`
	PlansApproved   int `json:"plans_approved"`
	PlanSteps       int `json:"plan_steps"`
	ProgressUpdates int `json:"progress_updates"`
	ChangeSets      int `json:"change_sets"`
	LinesAdded      int `json:"lines_added"`
	LinesRemoved    int `json:"lines_removed"`
	BashCommands    int `json:"bash_commands"`
	MediaArtifacts  int `json:"media_artifacts"`
	EstimatedTokens int `json:"estimated_tokens"`

	PlanApprovalRate       float64 `json:"plan_approval_rate"`
	ActiveDays             int     `json:"active_days"`
	UniqueSources          int     `json:"unique_sources"`
	ActivitiesPerActiveDay float64 `json:"activities_per_active_day"`

	TopSources        []RankedStat `json:"top_sources"`
	TopActivityKinds  []RankedStat `json:"top_activity_kinds"`
	TopCommands       []RankedStat `json:"top_commands"`
	TopAutomationMode *RankedStat  `json:"top_automation_mode,omitempty"`

	MaxStreak     int      `json:"max_streak"`
	CurrentStreak int      `json:"current_streak"`
	MaxStreakDays []string `json:"max_streak_days"`

	// WeekdayCounts is indexed by time.Weekday (Sunday = 0).
	WeekdayCounts  [7]int       `json:"weekday_counts"`
	BusiestWeekday time.Weekday `json:"busiest_weekday"`
	MostActiveDay  *DayCount    `json:"most_active_day,omitempty"`
}

// BusiestWeekdayName returns the English name of the busiest
// weekday.
func (s Stats) BusiestWeekdayName() string {
	return s.BusiestWeekday.String()
}

// Compute derives Stats for year from sum. now decides which
// days count as today and yesterday for the current streak and
// is interpreted in its own location.
func Compute(sum aggregate.Summary, year int, now time.Time) Stats {
	st := Stats{
		Year:                    year,
		TotalSessions:           sum.TotalSessions,
		CompletedSessions:       sum.CompletedSessions,
		FailedSessions:          sum.FailedSessions,
		SessionsRequireApproval: sum.SessionsRequireApproval,
		PullRequests:            sum.PullRequests,
		TotalActivities:         sum.TotalActivities,
		AgentMessages:           sum.AgentMessages,
		UserMessages:            sum.UserMessages,
		PlansGenerated:          sum.PlansGenerated,
		PlansApproved:           sum.PlansApproved,
		PlanSteps:               sum.PlanSteps,
		ProgressUpdates:         sum.ProgressUpdates,
		ChangeSets:              sum.ChangeSets,
		LinesAdded:              sum.LinesAdded,
		LinesRemoved:            sum.LinesRemoved,
		BashCommands:            sum.BashCommands,
		MediaArtifacts:          sum.MediaArtifacts,
		EstimatedTokens:         sum.EstimatedTokens,
		UniqueSources:           sum.Sources.Len(),
		PlanApprovalRate:        ApprovalRate(sum.PlansApproved, sum.PlansGenerated),
	}
	if !sum.FirstSessionAt.IsZero() {
		st.FirstSessionDate = timeutil.DayKey(sum.FirstSessionAt, now.Location())
	}

	daily := sum.Daily.Entries()
	st.WeekdayCounts, st.BusiestWeekday = Weekdays(daily)
	st.MostActiveDay = MostActiveDay(daily)

	streak := Streaks(daily, year, now)
	st.MaxStreak = streak.Max
	st.CurrentStreak = streak.Current
	st.MaxStreakDays = streak.MaxDays
	st.ActiveDays = streak.ActiveDays
	if st.ActiveDays > 0 {
		st.ActivitiesPerActiveDay = round1(
			float64(sum.TotalActivities) / float64(st.ActiveDays),
		)
	}

	st.TopSources = Rank(sum.Sources.Entries(), sum.Sources.Total(), nil)
	st.TopActivityKinds = Rank(
		sum.ActivityKinds.Entries(), sum.TotalActivities, kindName,
	)
	st.TopCommands = Rank(sum.Commands.Entries(), sum.BashCommands, nil)
	if top := Rank(
		sum.AutomationModes.Entries(), sum.TotalSessions, HumanizeMode,
	); len(top) > 0 {
		st.TopAutomationMode = &top[0]
	}
	return st
}

// Rank returns the top entries by count, ties kept in input
// order, dropping zero counts. Percentages are of total, or of
// the shown counts when total is 0. name maps an ID to its
// display name; nil uses the ID.
func Rank(
	entries []aggregate.Entry, total int, name func(string) string,
) []RankedStat {
	var kept []aggregate.Entry
	for _, e := range entries {
		if e.Count > 0 {
			kept = append(kept, e)
		}
	}
	slices.SortStableFunc(kept, func(a, b aggregate.Entry) int {
		return cmp.Compare(b.Count, a.Count)
	})
	kept = kept[:min(len(kept), TopN)]

	denom := total
	if denom <= 0 {
		for _, e := range kept {
			denom += e.Count
		}
	}
	out := make([]RankedStat, 0, len(kept))
	for _, e := range kept {
		r := RankedStat{ID: e.Key, Name: e.Key, Count: e.Count}
		if name != nil {
			r.Name = name(e.Key)
		}
		if denom > 0 {
			r.Percent = round1(float64(e.Count) / float64(denom) * 100)
		}
		out = append(out, r)
	}
	return out
}

// Weekdays sums daily counts by day of week and returns the
// busiest one. The earliest weekday wins ties.
func Weekdays(daily []aggregate.Entry) ([7]int, time.Weekday) {
	var counts [7]int
	for _, e := range daily {
		day, ok := timeutil.ParseDay(e.Key)
		if !ok {
			continue
		}
		counts[day.Weekday()] += e.Count
	}
	busiest := time.Sunday
	for wd := time.Monday; wd <= time.Saturday; wd++ {
		if counts[wd] > counts[busiest] {
			busiest = wd
		}
	}
	return counts, busiest
}

// MostActiveDay returns the day with the highest count, the
// first one on ties, or nil when no day has activity.
func MostActiveDay(daily []aggregate.Entry) *DayCount {
	var best *DayCount
	for _, e := range daily {
		if e.Count <= 0 {
			continue
		}
		if best == nil || e.Count > best.Count {
			best = &DayCount{Date: e.Key, Count: e.Count}
		}
	}
	return best
}

// Streak holds the consecutive-day statistics of a year.
type Streak struct {
	Max        int
	Current    int
	MaxDays    []string
	ActiveDays int
}

// Streaks computes streak statistics over the active days of
// year. The current streak only counts if today or yesterday
// was active; an older run leaves it at 0.
func Streaks(daily []aggregate.Entry, year int, now time.Time) Streak {
	prefix := strconv.Itoa(year) + "-"
	active := make(map[string]bool)
	var days []time.Time
	for _, e := range daily {
		if e.Count <= 0 || !strings.HasPrefix(e.Key, prefix) ||
			active[e.Key] {
			continue
		}
		day, ok := timeutil.ParseDay(e.Key)
		if !ok {
			continue
		}
		active[e.Key] = true
		days = append(days, day)
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })

	st := Streak{ActiveDays: len(days), MaxDays: []string{}}
	if len(days) == 0 {
		return st
	}

	run, runStart := 1, 0
	st.Max = 1
	maxStart, maxEnd := 0, 0
	for i := 1; i < len(days); i++ {
		if days[i-1].AddDate(0, 0, 1).Equal(days[i]) {
			run++
		} else {
			run, runStart = 1, i
		}
		if run > st.Max {
			st.Max = run
			maxStart, maxEnd = runStart, i
		}
	}
	for _, d := range days[maxStart : maxEnd+1] {
		st.MaxDays = append(st.MaxDays, d.Format(timeutil.DayLayout))
	}

	today := time.Date(
		now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC,
	)
	cursor := today
	if !active[cursor.Format(timeutil.DayLayout)] {
		cursor = today.AddDate(0, 0, -1)
	}
	for active[cursor.Format(timeutil.DayLayout)] {
		st.Current++
		cursor = cursor.AddDate(0, 0, -1)
	}
	return st
}

// ApprovalRate returns approved as a percentage of generated,
// or 0 when nothing was generated.
func ApprovalRate(approved, generated int) float64 {
	if generated <= 0 {
		return 0
	}
	return round1(float64(approved) / float64(generated) * 100)
}

// HumanizeMode turns "AUTOMATION_MODE_AUTO_CREATE_PR" into
// "Auto Create Pr".
func HumanizeMode(mode string) string {
	mode = strings.TrimPrefix(mode, automationModePrefix)
	mode = strings.ReplaceAll(mode, "_", " ")
	// Casers are stateful; build one per call.
	return cases.Title(language.English).String(strings.ToLower(mode))
}

func kindName(id string) string {
	return jules.ActivityKind(id).Label()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
