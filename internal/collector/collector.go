// Package collector runs one annual collection: it lists
// sessions and sources, fetches the activities of every session
// that overlaps the year through a bounded worker pool, and
// reduces everything to stats.Stats.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iHildy/jules-wrapped/internal/aggregate"
	"github.com/iHildy/jules-wrapped/internal/clock"
	"github.com/iHildy/jules-wrapped/internal/db"
	"github.com/iHildy/jules-wrapped/internal/jules"
	"github.com/iHildy/jules-wrapped/internal/metrics"
	"github.com/iHildy/jules-wrapped/internal/ratelimit"
	"github.com/iHildy/jules-wrapped/internal/sample"
	"github.com/iHildy/jules-wrapped/internal/stats"
)

// DefaultWorkers is the number of concurrent activity fetches.
const DefaultWorkers = 3

// ErrNoCache is returned by offline runs when no successful API
// run was ever recorded.
var ErrNoCache = errors.New("no cached data; run once online first")

var _ Fetcher = (*sample.Dataset)(nil)

// Options configures a collection. Zero values select defaults.
type Options struct {
	APIKey  string
	BaseURL string

	// UseSampleData bypasses the network with a fixed dataset.
	UseSampleData bool
	// Offline reads from Cache instead of the network.
	Offline bool
	// Cache, when set, records network results and run history.
	Cache *db.DB
	// Fetcher overrides the data source entirely.
	Fetcher Fetcher

	Observer ratelimit.Observer
	Progress ProgressFunc
	Logger   zerolog.Logger

	Workers           int
	RequestsPerMinute int
	MaxPages          int
	MaxAttempts       int

	// Location buckets activities into calendar days (UTC when
	// nil).
	Location   *time.Location
	Clock      clock.Clock
	HTTPClient *http.Client
}

// Result is a finished collection.
type Result struct {
	Stats   stats.Stats
	Summary aggregate.Summary
	RunID   string
	Origin  string
}

// Collect gathers the data of year and returns its statistics.
// Any permanent failure aborts the run; partial statistics are
// never returned.
func Collect(ctx context.Context, year int, opts Options) (stats.Stats, error) {
	res, err := Run(ctx, year, opts)
	if err != nil {
		return stats.Stats{}, err
	}
	return res.Stats, nil
}

// Run is Collect returning the intermediate summary and the
// cache run record as well.
func Run(ctx context.Context, year int, opts Options) (Result, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	fetcher, origin, err := selectFetcher(ctx, year, opts)
	if err != nil {
		return Result{}, err
	}
	log := opts.Logger.With().
		Int("year", year).
		Str("origin", origin).
		Logger()

	res := Result{Origin: origin}
	if opts.Cache != nil {
		if res.RunID, err = opts.Cache.StartRun(year, origin); err != nil {
			log.Warn().Err(err).Msg("recording run start")
		}
	}

	c := &collection{
		year:     year,
		opts:     opts,
		fetcher:  fetcher,
		agg:      aggregate.New(year, opts.Location),
		log:      log,
		progress: opts.Progress,
	}
	err = c.run(ctx)
	runErr := err
	if err == nil {
		res.Summary = c.agg.Summary()
		res.Stats = stats.Compute(
			res.Summary, year, opts.Clock.Now().In(opts.Location),
		)
		if rec, ok := fetcher.(*recorder); ok {
			// A run whose data could not be cached is not
			// replayable offline.
			if serr := opts.Cache.SaveSnapshot(rec.snapshot()); serr != nil {
				log.Warn().Err(serr).Msg("caching run data")
				runErr = fmt.Errorf("caching run data: %w", serr)
			}
		}
	}

	if res.RunID != "" {
		if ferr := opts.Cache.FinishRun(res.RunID, res.Stats, runErr); ferr != nil {
			log.Warn().Err(ferr).Msg("recording run end")
		}
	}
	if err != nil {
		return Result{}, err
	}
	log.Info().
		Int("sessions", res.Stats.TotalSessions).
		Int("activities", res.Stats.TotalActivities).
		Msg("collection finished")
	return res, nil
}

func selectFetcher(
	ctx context.Context, year int, opts Options,
) (Fetcher, string, error) {
	switch {
	case opts.Fetcher != nil:
		return opts.Fetcher, "custom", nil
	case opts.UseSampleData:
		return sample.New(year), db.OriginSample, nil
	case opts.Offline:
		if opts.Cache == nil {
			return nil, "", ErrNoCache
		}
		last, err := opts.Cache.LastSuccessfulRun(ctx, db.OriginAPI, 0)
		if err != nil {
			return nil, "", err
		}
		if last == nil {
			return nil, "", ErrNoCache
		}
		n, err := opts.Cache.CountActivities(ctx)
		if err != nil {
			return nil, "", err
		}
		opts.Logger.Info().
			Str("run", last.ID).
			Time("cached_at", last.FinishedAt).
			Int("activities", n).
			Msg("replaying cached run")
		return opts.Cache, db.OriginOffline, nil
	}

	gov := ratelimit.NewGovernor(
		ratelimit.WithClock(opts.Clock),
		ratelimit.WithRPM(opts.RequestsPerMinute),
		ratelimit.WithObserver(countSleeps(opts.Observer)),
		ratelimit.WithAdaptHook(func(rpm int) {
			metrics.RequestsPerMinute.Set(float64(rpm))
			opts.Logger.Info().Int("rpm", rpm).Msg("lowered request rate")
		}),
	)
	metrics.RequestsPerMinute.Set(float64(gov.RPM()))

	var f Fetcher = jules.NewClient(jules.Options{
		BaseURL:     opts.BaseURL,
		APIKey:      opts.APIKey,
		HTTPClient:  opts.HTTPClient,
		Governor:    gov,
		Clock:       opts.Clock,
		Observer:    opts.Observer,
		Logger:      opts.Logger,
		MaxPages:    opts.MaxPages,
		MaxAttempts: opts.MaxAttempts,
	})
	if opts.Cache != nil {
		f = newRecorder(f)
	}
	return f, db.OriginAPI, nil
}

// countSleeps forwards governor events to o while counting sleep
// notifications.
func countSleeps(o ratelimit.Observer) ratelimit.Observer {
	return ratelimit.ObserverFunc(func(e ratelimit.Event) {
		if e.Kind == ratelimit.EventSleep {
			metrics.RateLimitSleeps.Inc()
		}
		ratelimit.Emit(o, e)
	})
}

// collection is the state of one run.
type collection struct {
	year    int
	opts    Options
	fetcher Fetcher
	agg     *aggregate.Aggregator
	log     zerolog.Logger

	mu       sync.Mutex
	state    Progress
	progress ProgressFunc
}

func (c *collection) run(ctx context.Context) error {
	c.report(func(p *Progress) { p.Phase = PhaseListing })

	var (
		sessions []jules.Session
		sources  []jules.Source
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = c.fetcher.ListSessions(gctx)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sources, err = c.fetcher.ListSources(gctx)
		if err != nil {
			return fmt.Errorf("listing sources: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.agg.AddSources(sources)
	overlapping := c.agg.AddSessions(sessions)
	c.log.Debug().
		Int("sessions", len(sessions)).
		Int("sources", len(sources)).
		Int("overlapping", len(overlapping)).
		Msg("listed account")
	c.report(func(p *Progress) {
		p.Phase = PhaseFetching
		p.SessionsListed = len(sessions)
		p.SessionsTotal = len(overlapping)
	})

	err := forEach(ctx, overlapping, c.opts.Workers,
		func(ctx context.Context, s jules.Session) error {
			acts, err := c.fetcher.ListActivities(ctx, s.Name)
			if err != nil {
				return fmt.Errorf("fetching activities of %s: %w", s.Name, err)
			}
			c.agg.AddActivities(s, acts)
			metrics.SessionsFetched.Inc()
			c.report(func(p *Progress) {
				p.SessionsDone++
				p.ActivitiesFetched += len(acts)
			})
			return nil
		},
	)
	if err != nil {
		return err
	}
	c.report(func(p *Progress) { p.Phase = PhaseDone })
	return nil
}

// report applies update and notifies the listener while holding
// the lock, so listeners see updates in order.
func (c *collection) report(update func(*Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.state)
	if c.progress != nil {
		c.progress(c.state)
	}
}
