package grid

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/marine-grid-etl/internal/config"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Throttle paces outbound requests. Wait blocks until the next request may
// be sent or ctx is done.
type Throttle interface {
	Wait(ctx context.Context) error
}

// JitterThrottle sleeps base ± jitter before every request. It is the
// sequential politeness delay; concurrent sweeps share a RateThrottle instead.
type JitterThrottle struct {
	base   time.Duration
	jitter time.Duration
	clock  clockwork.Clock
}

// NewJitterThrottle returns a throttle waiting base plus a uniform offset in
// [-jitter, +jitter] on clock.
func NewJitterThrottle(base, jitter time.Duration, clock clockwork.Clock) *JitterThrottle {
	if jitter > base {
		jitter = base
	}
	return &JitterThrottle{base: base, jitter: jitter, clock: clock}
}

func (t *JitterThrottle) Wait(ctx context.Context) error {
	return sleep(ctx, t.clock, t.delay())
}

func (t *JitterThrottle) delay() time.Duration {
	if t.jitter <= 0 {
		return t.base
	}
	offset := rand.Int64N(2*int64(t.jitter)+1) - int64(t.jitter)
	return t.base + time.Duration(offset)
}

// NewRateThrottle returns a token bucket shared by all workers of a sweep,
// allowing perSecond requests with no burst.
func NewRateThrottle(perSecond float64) Throttle {
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// NewThrottleFor paces sequential fetching with a jittered delay and parallel
// fetching with a shared token bucket.
func NewThrottleFor(cfg *config.Config, clock clockwork.Clock) Throttle {
	if cfg.FetchConcurrency > 1 {
		return NewRateThrottle(cfg.FetchRate)
	}
	return NewJitterThrottle(cfg.FetchDelay, cfg.FetchJitter, clock)
}

// NoThrottle never waits. Used by tests and by callers that pace requests
// themselves.
type NoThrottle struct{}

func (NoThrottle) Wait(ctx context.Context) error {
	return ctx.Err()
}

// sleep waits d on clock, returning early with ctx's error when cancelled.
func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
