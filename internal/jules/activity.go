package jules

import (
	"encoding/json"
	"time"

	"github.com/iHildy/jules-wrapped/internal/timeutil"
)

// ActivityKind names the payload variant an activity carries.
type ActivityKind string

const (
	KindAgentMessaged    ActivityKind = "agentMessaged"
	KindUserMessaged     ActivityKind = "userMessaged"
	KindPlanGenerated    ActivityKind = "planGenerated"
	KindPlanApproved     ActivityKind = "planApproved"
	KindProgressUpdated  ActivityKind = "progressUpdated"
	KindSessionCompleted ActivityKind = "sessionCompleted"
	KindSessionFailed    ActivityKind = "sessionFailed"
	KindUnknown          ActivityKind = "unknown"
)

// Kinds lists every recognized variant in decode priority order.
var Kinds = []ActivityKind{
	KindAgentMessaged,
	KindUserMessaged,
	KindPlanGenerated,
	KindPlanApproved,
	KindProgressUpdated,
	KindSessionCompleted,
	KindSessionFailed,
}

var kindLabels = map[ActivityKind]string{
	KindAgentMessaged:    "Agent messages",
	KindUserMessaged:     "Your messages",
	KindPlanGenerated:    "Plans generated",
	KindPlanApproved:     "Plans approved",
	KindProgressUpdated:  "Progress updates",
	KindSessionCompleted: "Sessions completed",
	KindSessionFailed:    "Sessions failed",
	KindUnknown:          "Other",
}

// Label returns a human-readable name for the kind.
func (k ActivityKind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

// Activity is one timestamped event of a session. Exactly one
// of the variant pointers matching Kind is set; all are nil for
// KindUnknown and for the payload-free completion variant.
type Activity struct {
	Name        string
	ID          string
	Description string
	CreateTime  string
	Originator  string
	Kind        ActivityKind

	AgentMessage  *Message
	UserMessage   *Message
	PlanGenerated *PlanGenerated
	PlanApproved  *PlanApproved
	Progress      *Progress
	Failure       *Failure

	Artifacts []Artifact
}

// Message is the payload of agent and user messages.
type Message struct {
	Text string
}

// PlanGenerated carries the proposed plan.
type PlanGenerated struct {
	Plan Plan `json:"plan"`
}

// Plan is an ordered list of steps.
type Plan struct {
	ID    string     `json:"id,omitempty"`
	Steps []PlanStep `json:"steps,omitempty"`
}

// PlanStep is one step of a plan.
type PlanStep struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Index       int    `json:"index,omitempty"`
}

// PlanApproved references the approved plan.
type PlanApproved struct {
	PlanID string `json:"planId,omitempty"`
}

// Progress is an intermediate status report.
type Progress struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Failure explains why a session failed.
type Failure struct {
	Reason string `json:"reason,omitempty"`
}

// Artifact is a by-product attached to an activity. At most one
// field is set.
type Artifact struct {
	ChangeSet  *ChangeSet  `json:"changeSet,omitempty"`
	Media      *Media      `json:"media,omitempty"`
	BashOutput *BashOutput `json:"bashOutput,omitempty"`
}

// ChangeSet is a code change produced by the agent.
type ChangeSet struct {
	Source   string    `json:"source,omitempty"`
	GitPatch *GitPatch `json:"gitPatch,omitempty"`
}

// GitPatch is a unified diff with an optional commit message.
type GitPatch struct {
	UnidiffPatch           string `json:"unidiffPatch,omitempty"`
	BaseCommitID           string `json:"baseCommitId,omitempty"`
	SuggestedCommitMessage string `json:"suggestedCommitMessage,omitempty"`
}

// Media is an inline binary blob such as a screenshot.
type Media struct {
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// BashOutput is a shell command the agent ran.
type BashOutput struct {
	Command  string `json:"command,omitempty"`
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Created returns the parsed creation time, zero if absent.
func (a Activity) Created() time.Time {
	return timeutil.ParseTimestamp(a.CreateTime)
}

// wireActivity mirrors the API representation, where the
// variant is signalled by which optional object is present.
type wireActivity struct {
	Name        string     `json:"name"`
	ID          string     `json:"id,omitempty"`
	Description string     `json:"description,omitempty"`
	CreateTime  string     `json:"createTime,omitempty"`
	Originator  string     `json:"originator,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`

	AgentMessaged *struct {
		AgentMessage string `json:"agentMessage"`
	} `json:"agentMessaged,omitempty"`
	UserMessaged *struct {
		UserMessage string `json:"userMessage"`
	} `json:"userMessaged,omitempty"`
	PlanGenerated    *PlanGenerated `json:"planGenerated,omitempty"`
	PlanApproved     *PlanApproved  `json:"planApproved,omitempty"`
	ProgressUpdated  *Progress      `json:"progressUpdated,omitempty"`
	SessionCompleted *struct{}      `json:"sessionCompleted,omitempty"`
	SessionFailed    *Failure       `json:"sessionFailed,omitempty"`
}

// UnmarshalJSON decodes the API form and resolves the variant
// once, so callers switch on Kind instead of probing fields.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var w wireActivity
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Activity{
		Name:        w.Name,
		ID:          w.ID,
		Description: w.Description,
		CreateTime:  w.CreateTime,
		Originator:  w.Originator,
		Artifacts:   w.Artifacts,
		Kind:        KindUnknown,
	}
	switch {
	case w.AgentMessaged != nil:
		a.Kind = KindAgentMessaged
		a.AgentMessage = &Message{Text: w.AgentMessaged.AgentMessage}
	case w.UserMessaged != nil:
		a.Kind = KindUserMessaged
		a.UserMessage = &Message{Text: w.UserMessaged.UserMessage}
	case w.PlanGenerated != nil:
		a.Kind = KindPlanGenerated
		a.PlanGenerated = w.PlanGenerated
	case w.PlanApproved != nil:
		a.Kind = KindPlanApproved
		a.PlanApproved = w.PlanApproved
	case w.ProgressUpdated != nil:
		a.Kind = KindProgressUpdated
		a.Progress = w.ProgressUpdated
	case w.SessionCompleted != nil:
		a.Kind = KindSessionCompleted
	case w.SessionFailed != nil:
		a.Kind = KindSessionFailed
		a.Failure = w.SessionFailed
	}
	return nil
}

// MarshalJSON writes the API form back out, so cached
// activities decode to the same variant.
func (a Activity) MarshalJSON() ([]byte, error) {
	w := wireActivity{
		Name:        a.Name,
		ID:          a.ID,
		Description: a.Description,
		CreateTime:  a.CreateTime,
		Originator:  a.Originator,
		Artifacts:   a.Artifacts,
	}
	switch a.Kind {
	case KindAgentMessaged:
		w.AgentMessaged = &struct {
			AgentMessage string `json:"agentMessage"`
		}{messageText(a.AgentMessage)}
	case KindUserMessaged:
		w.UserMessaged = &struct {
			UserMessage string `json:"userMessage"`
		}{messageText(a.UserMessage)}
	case KindPlanGenerated:
		w.PlanGenerated = a.PlanGenerated
		if w.PlanGenerated == nil {
			w.PlanGenerated = &PlanGenerated{}
		}
	case KindPlanApproved:
		w.PlanApproved = a.PlanApproved
		if w.PlanApproved == nil {
			w.PlanApproved = &PlanApproved{}
		}
	case KindProgressUpdated:
		w.ProgressUpdated = a.Progress
		if w.ProgressUpdated == nil {
			w.ProgressUpdated = &Progress{}
		}
	case KindSessionCompleted:
		w.SessionCompleted = &struct{}{}
	case KindSessionFailed:
		w.SessionFailed = a.Failure
		if w.SessionFailed == nil {
			w.SessionFailed = &Failure{}
		}
	}
	return json.Marshal(w)
}

func messageText(m *Message) string {
	if m == nil {
		return ""
	}
	return m.Text
}
