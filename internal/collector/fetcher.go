package collector

import (
	"context"
	"sync"

	"github.com/iHildy/jules-wrapped/internal/db"
	"github.com/iHildy/jules-wrapped/internal/jules"
)

// Fetcher is a source of account data. The API client, the
// sample dataset and the SQLite cache all implement it.
type Fetcher interface {
	ListSessions(ctx context.Context) ([]jules.Session, error)
	ListSources(ctx context.Context) ([]jules.Source, error)
	ListActivities(ctx context.Context, sessionName string) ([]jules.Activity, error)
}

var (
	_ Fetcher = (*jules.Client)(nil)
	_ Fetcher = (*db.DB)(nil)
)

// recorder keeps everything the wrapped Fetcher returns so a
// successful run can be cached as one snapshot. Nothing reaches
// the cache while the run is in progress.
type recorder struct {
	Fetcher

	mu   sync.Mutex
	snap db.Snapshot
}

func newRecorder(f Fetcher) *recorder {
	return &recorder{
		Fetcher: f,
		snap:    db.Snapshot{Activities: make(map[string][]jules.Activity)},
	}
}

func (r *recorder) ListSessions(ctx context.Context) ([]jules.Session, error) {
	sessions, err := r.Fetcher.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.snap.Sessions = sessions
	r.mu.Unlock()
	return sessions, nil
}

func (r *recorder) ListSources(ctx context.Context) ([]jules.Source, error) {
	sources, err := r.Fetcher.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.snap.Sources = sources
	r.mu.Unlock()
	return sources, nil
}

func (r *recorder) ListActivities(
	ctx context.Context, sessionName string,
) ([]jules.Activity, error) {
	acts, err := r.Fetcher.ListActivities(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.snap.Activities[sessionName] = acts
	r.mu.Unlock()
	return acts, nil
}

// snapshot returns what was recorded so far.
func (r *recorder) snapshot() db.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
