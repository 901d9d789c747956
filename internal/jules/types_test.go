package jules

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityKindDecoding(t *testing.T) {
	tests := []struct {
		name string
		json string
		want ActivityKind
	}{
		{"agent message", `{"agentMessaged":{"agentMessage":"done"}}`, KindAgentMessaged},
		{"user message", `{"userMessaged":{"userMessage":"please"}}`, KindUserMessaged},
		{"plan generated", `{"planGenerated":{"plan":{"id":"p","steps":[{"title":"a"}]}}}`, KindPlanGenerated},
		{"plan approved", `{"planApproved":{"planId":"p"}}`, KindPlanApproved},
		{"progress", `{"progressUpdated":{"title":"Running tests"}}`, KindProgressUpdated},
		{"completed", `{"sessionCompleted":{}}`, KindSessionCompleted},
		{"failed", `{"sessionFailed":{"reason":"timeout"}}`, KindSessionFailed},
		{"nothing recognized", `{"description":"hm","somethingNew":{}}`, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Activity
			require.NoError(t, json.Unmarshal([]byte(tt.json), &a))
			assert.Equal(t, tt.want, a.Kind)
		})
	}
}

func TestActivityPayloads(t *testing.T) {
	raw := `{
		"name": "sessions/1/activities/9",
		"createTime": "2025-03-04T05:06:07Z",
		"originator": "agent",
		"sessionFailed": {"reason": "build broke"},
		"artifacts": [
			{"bashOutput": {"command": "go test ./...", "output": "FAIL", "exitCode": 1}},
			{"media": {"mimeType": "image/png", "data": "AAAA"}},
			{"changeSet": {"source": "sources/github/a/b", "gitPatch": {"unidiffPatch": "+x", "suggestedCommitMessage": "fix"}}}
		]
	}`
	var a Activity
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	assert.Equal(t, KindSessionFailed, a.Kind)
	require.NotNil(t, a.Failure)
	assert.Equal(t, "build broke", a.Failure.Reason)
	assert.Nil(t, a.AgentMessage)
	require.Len(t, a.Artifacts, 3)
	assert.Equal(t, "go test ./...", a.Artifacts[0].BashOutput.Command)
	assert.Equal(t, "image/png", a.Artifacts[1].Media.MimeType)
	assert.Equal(t, "fix", a.Artifacts[2].ChangeSet.GitPatch.SuggestedCommitMessage)
	assert.Equal(t, 2025, a.Created().Year())
}

func TestActivityRoundTripKeepsVariant(t *testing.T) {
	for _, raw := range []string{
		`{"name":"a","agentMessaged":{"agentMessage":"hello"}}`,
		`{"name":"b","planGenerated":{"plan":{"steps":[{"title":"one"}]}}}`,
		`{"name":"c","sessionCompleted":{}}`,
		`{"name":"d"}`,
	} {
		var first Activity
		require.NoError(t, json.Unmarshal([]byte(raw), &first))
		out, err := json.Marshal(first)
		require.NoError(t, err)
		var second Activity
		require.NoError(t, json.Unmarshal(out, &second))
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("round trip of %s mismatch (-want +got):\n%s", raw, diff)
		}
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{
			"owner and repo",
			Source{Name: "sources/github/x/y", GithubRepo: &GithubRepo{Owner: "acme", Repo: "api"}},
			"acme/api",
		},
		{"prefix stripped", Source{Name: "sources/github/acme/web"}, "acme/web"},
		{"partial repo falls back", Source{Name: "sources/github/acme/cli", GithubRepo: &GithubRepo{Owner: "acme"}}, "acme/cli"},
		{"unknown prefix", Source{Name: "sources/gitlab/acme"}, ""},
		{"empty", Source{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.src.Label())
		})
	}
}

func TestSessionTimes(t *testing.T) {
	s := Session{CreateTime: "2024-12-20T10:00:00Z"}
	assert.Equal(t, s.Created(), s.Updated())

	s.UpdateTime = "2025-01-03T10:00:00Z"
	assert.Equal(t, 2025, s.Updated().Year())
}
