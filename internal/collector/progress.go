package collector

// Phase describes the current collection phase.
type Phase string

const (
	PhaseListing  Phase = "listing"
	PhaseFetching Phase = "fetching"
	PhaseDone     Phase = "done"
)

// Progress reports collection progress to listeners.
type Progress struct {
	Phase             Phase `json:"phase"`
	SessionsListed    int   `json:"sessions_listed"`
	SessionsTotal     int   `json:"sessions_total"`
	SessionsDone      int   `json:"sessions_done"`
	ActivitiesFetched int   `json:"activities_fetched"`
}

// Percent returns the activity-fetch progress as a percentage
// (0–100).
func (p Progress) Percent() float64 {
	if p.SessionsTotal == 0 {
		return 0
	}
	return float64(p.SessionsDone) /
		float64(p.SessionsTotal) * 100
}

// ProgressFunc is called with progress updates during
// collection. Calls are serialized.
type ProgressFunc func(Progress)
