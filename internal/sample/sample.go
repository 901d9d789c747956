// Package sample generates a deterministic synthetic account so
// the pipeline can run without an API key or network access.
package sample

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/iHildy/jules-wrapped/internal/jules"
	"github.com/iHildy/jules-wrapped/internal/timeutil"
)

const (
	sessionsPerYear = 48
	seedSalt        = 0x6a756c6573
)

var repos = []struct {
	owner, repo string
	private     bool
}{
	{"octo-labs", "billing-service", true},
	{"octo-labs", "web-dashboard", false},
	{"octo-labs", "infra", true},
	{"jdoe", "dotfiles", false},
}

var modes = []string{
	"AUTOMATION_MODE_UNSPECIFIED",
	"AUTO_CREATE_PR",
	"AUTO_CREATE_PR",
}

var titles = []string{
	"Fix flaky integration test",
	"Add pagination to the invoices endpoint",
	"Bump dependencies and fix lint",
	"Refactor retry logic in the webhook worker",
	"Write unit tests for the date helpers",
	"Migrate CI to the new runners",
	"Improve error messages in the CLI",
}

var commands = []string{
	"go test ./...",
	"npm ci && npm run lint",
	"make build",
	"cd web && npm test",
	"go vet ./... | tee vet.log",
	"git status",
	"pytest -q",
}

const patch = `--- a/main.go
+++ b/main.go
@@ -10,6 +10,8 @@
 func main() {
-	run()
+	if err := run(); err != nil {
+		log.Fatal(err)
+	}
 }
`

// Dataset is an in-memory account. It satisfies the collector's
// fetcher contract.
type Dataset struct {
	Sessions   []jules.Session
	Sources    []jules.Source
	Activities map[string][]jules.Activity
}

// New returns the dataset for year. The same year always yields
// the same data.
func New(year int) *Dataset {
	r := rand.New(rand.NewPCG(uint64(year), seedSalt))
	d := &Dataset{Activities: make(map[string][]jules.Activity)}

	for _, rp := range repos {
		d.Sources = append(d.Sources, jules.Source{
			Name: jules.SourcePrefix + rp.owner + "/" + rp.repo,
			ID:   fmt.Sprintf("github/%s/%s", rp.owner, rp.repo),
			GithubRepo: &jules.GithubRepo{
				Owner:     rp.owner,
				Repo:      rp.repo,
				IsPrivate: rp.private,
			},
		})
	}

	// One session from the previous December that keeps running
	// into January.
	start := time.Date(year-1, time.December, 30, 16, 0, 0, 0, time.UTC)
	d.add(r, 0, start, 3*24*time.Hour)

	span := 365 * 24 * time.Hour
	base := time.Date(year, time.January, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= sessionsPerYear; i++ {
		offset := time.Duration(i-1) * span / sessionsPerYear
		offset += time.Duration(r.IntN(72)) * time.Hour
		if offset > span-48*time.Hour {
			offset = span - 48*time.Hour
		}
		d.add(r, i, base.Add(offset), time.Duration(1+r.IntN(30))*time.Hour)
	}
	return d
}

func (d *Dataset) add(r *rand.Rand, i int, created time.Time, length time.Duration) {
	rp := repos[r.IntN(len(repos))]
	s := jules.Session{
		Name:                fmt.Sprintf("sessions/sample-%03d", i),
		ID:                  fmt.Sprintf("sample-%03d", i),
		Title:               titles[r.IntN(len(titles))],
		CreateTime:          timeutil.Format(created),
		UpdateTime:          timeutil.Format(created.Add(length)),
		AutomationMode:      modes[r.IntN(len(modes))],
		RequirePlanApproval: r.IntN(3) == 0,
		SourceContext: &jules.SourceContext{
			Source: jules.SourcePrefix + rp.owner + "/" + rp.repo,
		},
	}
	s.Prompt = "Please " + strings.ToLower(s.Title) + " in " + rp.repo + "."

	failed := r.IntN(8) == 0
	if failed {
		s.State = "FAILED"
	} else {
		s.State = "COMPLETED"
		if s.AutomationMode == "AUTO_CREATE_PR" {
			s.Outputs = []jules.Output{{PullRequest: &jules.PullRequest{
				URL: fmt.Sprintf(
					"https://github.com/%s/%s/pull/%d", rp.owner, rp.repo, 100+i,
				),
				Title:       s.Title,
				Description: "Automated change for: " + s.Title,
			}}}
		}
	}
	d.Sessions = append(d.Sessions, s)
	d.Activities[s.Name] = timeline(r, s, created, length, failed)
}

func timeline(
	r *rand.Rand, s jules.Session, created time.Time, length time.Duration,
	failed bool,
) []jules.Activity {
	var acts []jules.Activity
	n := 0
	at := func(frac float64) string {
		return timeutil.Format(
			created.Add(time.Duration(frac * float64(length))),
		)
	}
	push := func(a jules.Activity, frac float64) {
		n++
		a.Name = fmt.Sprintf("%s/activities/%d", s.Name, n)
		a.ID = fmt.Sprint(n)
		a.CreateTime = at(frac)
		acts = append(acts, a)
	}

	push(jules.Activity{
		Kind:        jules.KindUserMessaged,
		Originator:  "user",
		UserMessage: &jules.Message{Text: s.Prompt},
	}, 0)

	steps := make([]jules.PlanStep, 2+r.IntN(3))
	for i := range steps {
		steps[i] = jules.PlanStep{
			ID:    fmt.Sprint(i),
			Index: i,
			Title: fmt.Sprintf("Step %d of %s", i+1, strings.ToLower(s.Title)),
		}
	}
	push(jules.Activity{
		Kind:          jules.KindPlanGenerated,
		Originator:    "agent",
		PlanGenerated: &jules.PlanGenerated{Plan: jules.Plan{ID: "plan-" + s.ID, Steps: steps}},
	}, 0.05)
	if !s.RequirePlanApproval || r.IntN(4) > 0 {
		push(jules.Activity{
			Kind:         jules.KindPlanApproved,
			Originator:   "user",
			PlanApproved: &jules.PlanApproved{PlanID: "plan-" + s.ID},
		}, 0.1)
	}

	for i := range steps {
		frac := 0.15 + 0.7*float64(i)/float64(len(steps))
		push(jules.Activity{
			Kind:       jules.KindProgressUpdated,
			Originator: "agent",
			Progress:   &jules.Progress{Title: steps[i].Title},
			Artifacts: []jules.Artifact{{BashOutput: &jules.BashOutput{
				Command: commands[r.IntN(len(commands))],
				Output:  "ok",
			}}},
		}, frac)
		if r.IntN(2) == 0 {
			push(jules.Activity{
				Kind:         jules.KindAgentMessaged,
				Originator:   "agent",
				AgentMessage: &jules.Message{Text: "Finished " + steps[i].Title + "."},
			}, frac+0.02)
		}
	}

	if r.IntN(6) == 0 {
		push(jules.Activity{
			Kind:       jules.KindProgressUpdated,
			Originator: "agent",
			Progress:   &jules.Progress{Title: "Captured a screenshot"},
			Artifacts: []jules.Artifact{{Media: &jules.Media{
				MimeType: "image/png",
				Data:     "iVBORw0KGgo=",
			}}},
		}, 0.9)
	}

	if failed {
		push(jules.Activity{
			Kind:       jules.KindSessionFailed,
			Originator: "system",
			Failure:    &jules.Failure{Reason: "Build did not pass after several attempts."},
		}, 1)
		return acts
	}
	push(jules.Activity{
		Kind:       jules.KindProgressUpdated,
		Originator: "agent",
		Progress:   &jules.Progress{Title: "Prepared the change"},
		Artifacts: []jules.Artifact{{ChangeSet: &jules.ChangeSet{
			Source: s.SourceName(),
			GitPatch: &jules.GitPatch{
				UnidiffPatch:           patch,
				BaseCommitID:           fmt.Sprintf("%07x", r.Uint32()>>4),
				SuggestedCommitMessage: s.Title,
			},
		}}},
	}, 0.95)
	push(jules.Activity{
		Kind:       jules.KindSessionCompleted,
		Originator: "system",
	}, 1)
	return acts
}

// ListSessions returns every session of the dataset.
func (d *Dataset) ListSessions(ctx context.Context) ([]jules.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]jules.Session(nil), d.Sessions...), nil
}

// ListSources returns every source of the dataset.
func (d *Dataset) ListSources(ctx context.Context) ([]jules.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]jules.Source(nil), d.Sources...), nil
}

// ListActivities returns the timeline of one session, empty for
// unknown names.
func (d *Dataset) ListActivities(
	ctx context.Context, sessionName string,
) ([]jules.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]jules.Activity(nil), d.Activities[sessionName]...), nil
}
