package jules

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	backoffBase = time.Second
	minDelay    = time.Second
	maxDelay    = 15 * time.Second
	jitterLow   = 0.85
	jitterSpan  = 0.30
)

// backoff computes base * 2^attempt * jitter with jitter drawn
// uniformly from [0.85, 1.15].
type backoff struct {
	rand func() float64
}

func newBackoff(r func() float64) backoff {
	if r == nil {
		r = rand.Float64
	}
	return backoff{rand: r}
}

func (b backoff) next(attempt int) time.Duration {
	jitter := jitterLow + b.rand()*jitterSpan
	// Past 2^5 the product is far above maxDelay; cap the
	// exponent so the float math stays finite.
	exp := math.Pow(2, float64(min(attempt, 10)))
	d := time.Duration(float64(backoffBase) * exp * jitter)
	return clampDelay(d)
}

func clampDelay(d time.Duration) time.Duration {
	return min(max(d, minDelay), maxDelay)
}

// parseRetryAfter reads a Retry-After value as integer seconds
// or an HTTP date. A date in the past yields zero.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, true
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	if d := t.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}
