// Package aggregate folds sessions and activities of one year
// into a Summary of running totals and tallies.
package aggregate

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/shlex"

	"github.com/iHildy/jules-wrapped/internal/jules"
	"github.com/iHildy/jules-wrapped/internal/timeutil"
)

const (
	// mediaTokens is the flat estimate for any media artifact.
	mediaTokens = 258

	// UnspecifiedMode is tallied for sessions without a mode.
	UnspecifiedMode = "AUTOMATION_MODE_UNSPECIFIED"

	stateCompleted = "COMPLETED"
	stateFailed    = "FAILED"
)

// Summary is the accumulated state of one collection run.
type Summary struct {
	Year int `json:"year"`

	TotalSessions           int `json:"total_sessions"`
	OverlappingSessions     int `json:"overlapping_sessions"`
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

	// Daily maps YYYY-MM-DD to the number of activities.
	Daily           Tally `json:"daily"`
	ActivityKinds   Tally `json:"activity_kinds"`
	Sources         Tally `json:"sources"`
	AutomationModes Tally `json:"automation_modes"`
	Commands        Tally `json:"commands"`

	// FirstSessionAt is the earliest creation time across all
	// sessions, not only those of Year.
	FirstSessionAt time.Time `json:"first_session_at"`
}

// Clone returns a deep copy of s.
func (s *Summary) Clone() Summary {
	c := *s
	c.Daily = s.Daily.Clone()
	c.ActivityKinds = s.ActivityKinds.Clone()
	c.Sources = s.Sources.Clone()
	c.AutomationModes = s.AutomationModes.Clone()
	c.Commands = s.Commands.Clone()
	return c
}

// Aggregator builds a Summary. All methods are safe for
// concurrent use by the collection workers.
type Aggregator struct {
	year int
	loc  *time.Location

	mu     sync.Mutex
	sum    Summary
	labels map[string]string
}

// New returns an Aggregator for year, bucketing calendar days
// in loc (UTC when nil).
func New(year int, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		year:   year,
		loc:    loc,
		sum:    Summary{Year: year},
		labels: make(map[string]string),
	}
}

// InYear reports whether s was created during year.
func InYear(s jules.Session, year int, loc *time.Location) bool {
	return timeutil.InYear(s.Created(), year, loc)
}

// Overlaps reports whether the [created, updated] interval of s
// intersects year. It is broader than InYear: a session opened
// late in the previous year can still produce activity in year.
func Overlaps(s jules.Session, year int, loc *time.Location) bool {
	created := s.Created()
	if created.IsZero() {
		return false
	}
	start, end := timeutil.YearBounds(year, loc)
	return created.Before(end) && !s.Updated().Before(start)
}

// AddSources records source labels used to name sessions'
// sources. Call before AddSessions.
func (a *Aggregator) AddSources(sources []jules.Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, src := range sources {
		if label := src.Label(); label != "" && src.Name != "" {
			a.labels[src.Name] = label
		}
	}
}

// sourceLabel resolves a session's source. Callers hold a.mu.
func (a *Aggregator) sourceLabel(s jules.Session) string {
	name := s.SourceName()
	if name == "" {
		return ""
	}
	if label, ok := a.labels[name]; ok {
		return label
	}
	return jules.LabelFromName(name)
}

// AddSessions tallies the sessions created in the year and
// returns those whose lifetime overlaps it, in input order.
// Only the returned sessions need their activities fetched.
func (a *Aggregator) AddSessions(sessions []jules.Session) []jules.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	var overlapping []jules.Session
	for _, s := range sessions {
		if created := s.Created(); !created.IsZero() &&
			(a.sum.FirstSessionAt.IsZero() ||
				created.Before(a.sum.FirstSessionAt)) {
			a.sum.FirstSessionAt = created
		}
		if Overlaps(s, a.year, a.loc) {
			overlapping = append(overlapping, s)
		}
		if !InYear(s, a.year, a.loc) {
			continue
		}

		a.sum.TotalSessions++
		switch s.State {
		case stateCompleted:
			a.sum.CompletedSessions++
		case stateFailed:
			a.sum.FailedSessions++
		}
		if s.RequirePlanApproval {
			a.sum.SessionsRequireApproval++
		}

		mode := s.AutomationMode
		if mode == "" {
			mode = UnspecifiedMode
		}
		a.sum.AutomationModes.Add(mode, 1)

		if label := a.sourceLabel(s); label != "" {
			a.sum.Sources.Add(label, 1)
		}

		tokens := EstimateTokens(s.Title) + EstimateTokens(s.Prompt)
		for _, pr := range s.PullRequests() {
			a.sum.PullRequests++
			tokens += EstimateTokens(pr.Title) + EstimateTokens(pr.Description)
		}
		a.sum.EstimatedTokens += tokens
	}
	a.sum.OverlappingSessions += len(overlapping)
	return overlapping
}

// AddActivities folds the activities of one session that were
// created during the year.
func (a *Aggregator) AddActivities(
	_ jules.Session, activities []jules.Activity,
) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, act := range activities {
		created := act.Created()
		if !timeutil.InYear(created, a.year, a.loc) {
			continue
		}
		a.addActivity(act, timeutil.DayKey(created, a.loc))
	}
}

// addActivity tallies one in-year activity. Callers hold a.mu.
func (a *Aggregator) addActivity(act jules.Activity, day string) {
	s := &a.sum
	s.TotalActivities++
	s.Daily.Add(day, 1)
	s.ActivityKinds.Add(string(act.Kind), 1)

	tokens := EstimateTokens(act.Description)
	switch act.Kind {
	case jules.KindAgentMessaged:
		s.AgentMessages++
		if act.AgentMessage != nil {
			tokens += EstimateTokens(act.AgentMessage.Text)
		}
	case jules.KindUserMessaged:
		s.UserMessages++
		if act.UserMessage != nil {
			tokens += EstimateTokens(act.UserMessage.Text)
		}
	case jules.KindPlanGenerated:
		s.PlansGenerated++
		if act.PlanGenerated != nil {
			for _, step := range act.PlanGenerated.Plan.Steps {
				s.PlanSteps++
				tokens += EstimateTokens(step.Title) +
					EstimateTokens(step.Description)
			}
		}
	case jules.KindPlanApproved:
		s.PlansApproved++
	case jules.KindProgressUpdated:
		s.ProgressUpdates++
		if act.Progress != nil {
			tokens += EstimateTokens(act.Progress.Title) +
				EstimateTokens(act.Progress.Description)
		}
	case jules.KindSessionFailed:
		if act.Failure != nil {
			tokens += EstimateTokens(act.Failure.Reason)
		}
	}

	for _, art := range act.Artifacts {
		switch {
		case art.ChangeSet != nil:
			s.ChangeSets++
			if p := art.ChangeSet.GitPatch; p != nil {
				added, removed := CountPatchLines(p.UnidiffPatch)
				s.LinesAdded += added
				s.LinesRemoved += removed
				tokens += EstimateTokens(p.UnidiffPatch) +
					EstimateTokens(p.SuggestedCommitMessage)
			}
		case art.Media != nil:
			s.MediaArtifacts++
			tokens += mediaTokens
		case art.BashOutput != nil:
			s.BashCommands++
			for _, prog := range CommandPrograms(art.BashOutput.Command) {
				s.Commands.Add(prog, 1)
			}
			tokens += EstimateTokens(art.BashOutput.Command) +
				EstimateTokens(art.BashOutput.Output)
		}
	}
	s.EstimatedTokens += tokens
}

// Summary returns a snapshot of the accumulated state.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sum.Clone()
}

// EstimateTokens approximates the token count of text as one
// token per four characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// CountPatchLines counts added and removed lines of a unified
// diff, ignoring file headers.
func CountPatchLines(patch string) (added, removed int) {
	for line := range strings.Lines(patch) {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}

var commandSeparators = map[string]bool{
	"&&": true, "||": true, ";": true, "|": true,
}

// CommandPrograms returns the program name of every command in
// a shell line, skipping leading VAR=value assignments and cd.
func CommandPrograms(line string) []string {
	tokens, err := shlex.Split(line)
	if err != nil {
		tokens = strings.Fields(line)
	}
	var (
		progs   []string
		atStart = true
	)
	for _, tok := range tokens {
		if commandSeparators[tok] {
			atStart = true
			continue
		}
		if !atStart {
			continue
		}
		if strings.Contains(tok, "=") && !strings.HasPrefix(tok, "=") {
			continue
		}
		atStart = false
		prog := filepath.Base(tok)
		if prog == "cd" || prog == "." || prog == "" {
			continue
		}
		progs = append(progs, prog)
	}
	return progs
}
