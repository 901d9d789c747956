// Package ratelimit paces outbound API requests to a
// requests-per-minute budget that shrinks when the server
// reports a tighter quota.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/iHildy/jules-wrapped/internal/clock"
)

const (
	// DefaultRPM is the starting requests-per-minute budget.
	DefaultRPM = 60

	// quotaHeadroom is the fraction of a reported quota we
	// allow ourselves to use.
	quotaHeadroom = 0.9

	// noticeInterval bounds how often sleep events repeat while
	// waiting out the same cooldown.
	noticeInterval = time.Second

	quotaPath = "error.details.#.metadata.quota_limit_value"
)

// Governor serializes scheduling decisions for every request of
// a collection run. Construct one per run and share it between
// all components that talk to the API.
type Governor struct {
	clock    clock.Clock
	observer Observer

	// queue admits one Schedule call at a time, including its
	// wait. It is a channel so waiting callers can be cancelled.
	queue chan struct{}

	mu            sync.Mutex
	rpm           int
	interval      time.Duration
	lastRequest   time.Time
	cooldownUntil time.Time
	sleeps        int
	onAdapt       func(rpm int)
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the real clock.
func WithClock(c clock.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithObserver sets the receiver of sleep and resume events.
func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// WithRPM overrides DefaultRPM. Values below 1 are ignored.
func WithRPM(rpm int) Option {
	return func(g *Governor) {
		if rpm >= 1 {
			g.setRPM(rpm)
		}
	}
}

// WithAdaptHook registers a callback invoked with the new
// budget whenever Adapt lowers it.
func WithAdaptHook(fn func(rpm int)) Option {
	return func(g *Governor) { g.onAdapt = fn }
}

// NewGovernor returns a Governor at DefaultRPM.
func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		clock: clock.Real(),
		queue: make(chan struct{}, 1),
	}
	g.setRPM(DefaultRPM)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// intervalFor returns ceil(60000/rpm) milliseconds.
func intervalFor(rpm int) time.Duration {
	ms := (60000 + rpm - 1) / rpm
	return time.Duration(ms) * time.Millisecond
}

func (g *Governor) setRPM(rpm int) {
	g.rpm = rpm
	g.interval = intervalFor(rpm)
}

// RPM returns the current requests-per-minute budget.
func (g *Governor) RPM() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rpm
}

// Interval returns the minimum spacing between requests.
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

// Sleeps returns how many Schedule calls had to wait.
func (g *Governor) Sleeps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sleeps
}

// Schedule blocks until a request may be sent and records the
// send time. Only one caller computes or waits at a time; the
// network calls that follow may overlap.
func (g *Governor) Schedule(ctx context.Context) error {
	select {
	case g.queue <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.queue }()

	var (
		counted      bool
		cooled       bool
		lastNotice   time.Time
		noticedUntil time.Time
	)
	for {
		now := g.clock.Now()
		wait, cooling, until, count := g.nextWait(now, !counted)
		if wait <= 0 {
			break
		}
		counted = true

		step := wait
		if cooling {
			cooled = true
			if until != noticedUntil || now.Sub(lastNotice) >= noticeInterval {
				Emit(g.observer, Event{Kind: EventSleep, Wait: wait, Count: count})
				lastNotice, noticedUntil = now, until
			}
			step = min(wait, noticeInterval)
		} else if lastNotice.IsZero() {
			Emit(g.observer, Event{Kind: EventSleep, Wait: wait, Count: count})
			lastNotice = now
		}

		if err := clock.Sleep(ctx, g.clock, step); err != nil {
			return err
		}
	}

	if cooled {
		Emit(g.observer, Event{Kind: EventResume})
	}

	g.mu.Lock()
	g.lastRequest = g.clock.Now()
	g.mu.Unlock()
	return nil
}

// nextWait computes the larger of the remaining cooldown and
// the remaining spacing since the last request. When countSleep
// is set and a wait is due, the sleep counter is incremented.
func (g *Governor) nextWait(
	now time.Time, countSleep bool,
) (wait time.Duration, cooling bool, until time.Time, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cooldown := g.cooldownUntil.Sub(now)
	spacing := time.Duration(0)
	if !g.lastRequest.IsZero() {
		spacing = g.lastRequest.Add(g.interval).Sub(now)
	}
	wait = max(cooldown, spacing, 0)
	if wait > 0 && countSleep {
		g.sleeps++
	}
	return wait, cooldown > 0 && cooldown >= spacing, g.cooldownUntil, g.sleeps
}

// Adapt lowers the budget to 90% of the quota reported in a
// 429 body. It never raises the budget and never drops below
// one request per minute. Reports whether the budget changed.
func (g *Governor) Adapt(body []byte) bool {
	quota, ok := QuotaLimit(body)
	if !ok {
		return false
	}
	target := max(int(math.Floor(quota*quotaHeadroom)), 1)

	g.mu.Lock()
	if target >= g.rpm {
		g.mu.Unlock()
		return false
	}
	g.setRPM(target)
	hook := g.onAdapt
	g.mu.Unlock()

	if hook != nil {
		hook(target)
	}
	return true
}

// CoolDown blocks all scheduling until now+d. An earlier
// cooldown already in force is never shortened.
func (g *Governor) CoolDown(d time.Duration) {
	until := g.clock.Now().Add(d)
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
}

// QuotaLimit extracts the first positive quota_limit_value from
// an API error body. The value may be a JSON string or number.
func QuotaLimit(body []byte) (float64, bool) {
	if !gjson.ValidBytes(body) {
		return 0, false
	}
	var (
		quota float64
		found bool
	)
	gjson.GetBytes(body, quotaPath).ForEach(func(_, v gjson.Result) bool {
		var n float64
		switch v.Type {
		case gjson.Number:
			n = v.Num
		case gjson.String:
			parsed := gjson.Parse(v.Str)
			if parsed.Type != gjson.Number {
				return true
			}
			n = parsed.Num
		default:
			return true
		}
		if n > 0 {
			quota, found = n, true
			return false
		}
		return true
	})
	return quota, found
}
