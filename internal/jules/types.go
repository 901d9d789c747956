package jules

import (
	"strings"
	"time"

	"github.com/iHildy/jules-wrapped/internal/timeutil"
)

// SourcePrefix is the resource-name prefix of GitHub sources.
const SourcePrefix = "sources/github/"

// Session is one unit of agent work.
type Session struct {
	Name                string         `json:"name"`
	ID                  string         `json:"id"`
	Title               string         `json:"title,omitempty"`
	Prompt              string         `json:"prompt,omitempty"`
	CreateTime          string         `json:"createTime,omitempty"`
	UpdateTime          string         `json:"updateTime,omitempty"`
	State               string         `json:"state,omitempty"`
	AutomationMode      string         `json:"automationMode,omitempty"`
	RequirePlanApproval bool           `json:"requirePlanApproval,omitempty"`
	SourceContext       *SourceContext `json:"sourceContext,omitempty"`
	Outputs             []Output       `json:"outputs,omitempty"`
}

// SourceContext references the source a session acted on.
type SourceContext struct {
	Source            string             `json:"source"`
	GithubRepoContext *GithubRepoContext `json:"githubRepoContext,omitempty"`
}

// GithubRepoContext carries branch details for GitHub sources.
type GithubRepoContext struct {
	StartingBranch string `json:"startingBranch,omitempty"`
}

// Output is a session result. Only pull requests are modelled.
type Output struct {
	PullRequest *PullRequest `json:"pullRequest,omitempty"`
}

// PullRequest is a pull request opened by a session.
type PullRequest struct {
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Created returns the parsed creation time, zero if absent.
func (s Session) Created() time.Time {
	return timeutil.ParseTimestamp(s.CreateTime)
}

// Updated returns the parsed update time, falling back to the
// creation time when absent.
func (s Session) Updated() time.Time {
	if t := timeutil.ParseTimestamp(s.UpdateTime); !t.IsZero() {
		return t
	}
	return s.Created()
}

// SourceName returns the session's source resource name.
func (s Session) SourceName() string {
	if s.SourceContext == nil {
		return ""
	}
	return s.SourceContext.Source
}

// PullRequests returns the pull requests among the outputs.
func (s Session) PullRequests() []PullRequest {
	var prs []PullRequest
	for _, o := range s.Outputs {
		if o.PullRequest != nil {
			prs = append(prs, *o.PullRequest)
		}
	}
	return prs
}

// Source is a repository the agent can act on.
type Source struct {
	Name       string      `json:"name"`
	ID         string      `json:"id,omitempty"`
	GithubRepo *GithubRepo `json:"githubRepo,omitempty"`
}

// GithubRepo identifies a GitHub repository.
type GithubRepo struct {
	Owner     string `json:"owner,omitempty"`
	Repo      string `json:"repo,omitempty"`
	IsPrivate bool   `json:"isPrivate,omitempty"`
}

// Label returns "owner/repo" when both parts are known,
// otherwise the resource name without SourcePrefix. Returns ""
// when nothing usable is available.
func (s Source) Label() string {
	if s.GithubRepo != nil && s.GithubRepo.Owner != "" &&
		s.GithubRepo.Repo != "" {
		return s.GithubRepo.Owner + "/" + s.GithubRepo.Repo
	}
	return LabelFromName(s.Name)
}

// LabelFromName strips SourcePrefix from a source resource
// name. Names without the prefix are unresolvable.
func LabelFromName(name string) string {
	label, ok := strings.CutPrefix(name, SourcePrefix)
	if !ok {
		return ""
	}
	return label
}
