package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/iHildy/jules-wrapped/internal/stats"
)

// writeText prints st as a plain-text report.
func writeText(w io.Writer, st stats.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	p := func(format string, args ...any) {
		fmt.Fprintf(tw, format+"\n", args...)
	}

	p("Jules Wrapped %d", st.Year)
	p("")
	p("Sessions\t%d\t(%d completed, %d failed)",
		st.TotalSessions, st.CompletedSessions, st.FailedSessions)
	p("Pull requests\t%d", st.PullRequests)
	p("Activities\t%d\t(%.1f per active day)",
		st.TotalActivities, st.ActivitiesPerActiveDay)
	p("Messages\t%d\t(%d from you, %d from the agent)",
		st.UserMessages+st.AgentMessages, st.UserMessages, st.AgentMessages)
	p("Plans\t%d\t(%.1f%% approved, %d steps)",
		st.PlansGenerated, st.PlanApprovalRate, st.PlanSteps)
	p("Code changes\t%d\t(+%d / -%d lines)",
		st.ChangeSets, st.LinesAdded, st.LinesRemoved)
	p("Commands run\t%d", st.BashCommands)
	p("Estimated tokens\t%d", st.EstimatedTokens)
	p("")
	p("Active days\t%d", st.ActiveDays)
	p("Longest streak\t%d days\t%s", st.MaxStreak, streakRange(st.MaxStreakDays))
	p("Current streak\t%d days", st.CurrentStreak)
	p("Busiest weekday\t%s", st.BusiestWeekdayName())
	if st.MostActiveDay != nil {
		p("Most active day\t%s\t(%d activities)",
			st.MostActiveDay.Date, st.MostActiveDay.Count)
	}
	if st.TopAutomationMode != nil {
		p("Favourite mode\t%s", st.TopAutomationMode.Name)
	}
	if st.FirstSessionDate != "" {
		p("First session\t%s", st.FirstSessionDate)
	}

	writeRanking(p, "Top repositories", st.TopSources)
	writeRanking(p, "Top activity", st.TopActivityKinds)
	writeRanking(p, "Top commands", st.TopCommands)
	return tw.Flush()
}

func writeRanking(
	p func(string, ...any), title string, ranked []stats.RankedStat,
) {
	if len(ranked) == 0 {
		return
	}
	p("")
	p("%s", title)
	for i, r := range ranked {
		p("  %d. %s\t%d\t(%.1f%%)", i+1, r.Name, r.Count, r.Percent)
	}
}

func streakRange(days []string) string {
	switch len(days) {
	case 0:
		return ""
	case 1:
		return days[0]
	}
	return strings.Join([]string{days[0], days[len(days)-1]}, " to ")
}
