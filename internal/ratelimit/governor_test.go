package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iHildy/jules-wrapped/internal/clock"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestIntervalFor(t *testing.T) {
	tests := []struct {
		rpm  int
		want time.Duration
	}{
		{60, time.Second},
		{54, 1112 * time.Millisecond},
		{1, time.Minute},
		{7, 8572 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, intervalFor(tt.rpm), "rpm=%d", tt.rpm)
	}
}

func TestScheduleSpacing(t *testing.T) {
	fc := clock.Fake(epoch)
	g := NewGovernor(WithClock(fc), WithRPM(54))
	ctx := context.Background()

	var sends []time.Time
	for range 5 {
		require.NoError(t, g.Schedule(ctx))
		sends = append(sends, fc.Now())
	}

	for i := 1; i < len(sends); i++ {
		gap := sends[i].Sub(sends[i-1])
		assert.GreaterOrEqual(t, gap, 1112*time.Millisecond,
			"gap between send %d and %d", i-1, i)
	}
	assert.Equal(t, 4, g.Sleeps())
}

func TestScheduleFirstRequestIsImmediate(t *testing.T) {
	fc := clock.Fake(epoch)
	rec := &recorder{}
	g := NewGovernor(WithClock(fc), WithObserver(rec))

	require.NoError(t, g.Schedule(context.Background()))
	assert.Empty(t, fc.Sleeps())
	assert.Empty(t, rec.kinds())
}

func TestScheduleConcurrentCallersStaySpaced(t *testing.T) {
	fc := clock.Fake(epoch)
	g := NewGovernor(WithClock(fc), WithRPM(120))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		sends []time.Time
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Schedule(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			sends = append(sends, fc.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	// The fake clock only moves forward inside Schedule, so
	// total elapsed time reflects the serialized waits.
	assert.Equal(t, 7*500*time.Millisecond, fc.Now().Sub(epoch))
	assert.Len(t, sends, 8)
}

func TestScheduleCooldownEmitsThrottledSleepsAndResume(t *testing.T) {
	fc := clock.Fake(epoch)
	rec := &recorder{}
	g := NewGovernor(WithClock(fc), WithObserver(rec))
	ctx := context.Background()

	require.NoError(t, g.Schedule(ctx))
	g.CoolDown(3500 * time.Millisecond)
	require.NoError(t, g.Schedule(ctx))

	assert.Equal(t, epoch.Add(3500*time.Millisecond), fc.Now())
	assert.Equal(t, []EventKind{
		EventSleep, EventSleep, EventSleep, EventSleep, EventResume,
	}, rec.kinds())

	rec.mu.Lock()
	first := rec.events[0]
	rec.mu.Unlock()
	assert.Equal(t, 3500*time.Millisecond, first.Wait)
	assert.Equal(t, 1, first.Count)
}

func TestCoolDownNeverShortens(t *testing.T) {
	fc := clock.Fake(epoch)
	g := NewGovernor(WithClock(fc))

	g.CoolDown(10 * time.Second)
	g.CoolDown(2 * time.Second)
	require.NoError(t, g.Schedule(context.Background()))

	assert.Equal(t, epoch.Add(10*time.Second), fc.Now())
}

func TestAdapt(t *testing.T) {
	body := []byte(`{"error":{"details":[{"metadata":{"quota_limit_value":"60"}}]}}`)
	var hooked []int
	g := NewGovernor(WithRPM(100), WithAdaptHook(func(rpm int) {
		hooked = append(hooked, rpm)
	}))

	assert.True(t, g.Adapt(body))
	assert.Equal(t, 54, g.RPM())
	assert.Equal(t, 1112*time.Millisecond, g.Interval())

	higher := []byte(`{"error":{"details":[{"metadata":{"quota_limit_value":500}}]}}`)
	assert.False(t, g.Adapt(higher))
	assert.Equal(t, 54, g.RPM())

	assert.False(t, g.Adapt([]byte(`not json`)))
	assert.False(t, g.Adapt([]byte(`{"error":{"code":429}}`)))
	assert.Equal(t, []int{54}, hooked)
}

func TestAdaptFloorsAtOne(t *testing.T) {
	g := NewGovernor()
	body := []byte(`{"error":{"details":[{"metadata":{"quota_limit_value":1}}]}}`)
	assert.True(t, g.Adapt(body))
	assert.Equal(t, 1, g.RPM())
	assert.Equal(t, time.Minute, g.Interval())
}

func TestQuotaLimit(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  float64
		found bool
	}{
		{"string value", `{"error":{"details":[{"metadata":{"quota_limit_value":"60"}}]}}`, 60, true},
		{"number value", `{"error":{"details":[{"metadata":{"quota_limit_value":30}}]}}`, 30, true},
		{
			"second detail carries quota",
			`{"error":{"details":[{"@type":"x"},{"metadata":{"quota_limit_value":"12"}}]}}`,
			12, true,
		},
		{"non numeric string", `{"error":{"details":[{"metadata":{"quota_limit_value":"lots"}}]}}`, 0, false},
		{"missing", `{"error":{"message":"slow down"}}`, 0, false},
		{"empty body", ``, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := QuotaLimit([]byte(tt.body))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleCancelledWhileQueued(t *testing.T) {
	g := NewGovernor()
	g.queue <- struct{}{}
	defer func() { <-g.queue }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Schedule(ctx), context.Canceled)
}
