package spf

import (
	"math"
	"math/rand"
	"time"

	"github.com/miekg/dns"
)

// retryResolver round-robins queries over a set of resolvers, backing
// off between full passes, until one answers or the time budget runs
// out.
type retryResolver struct {
	min    time.Duration
	max    time.Duration
	factor float64
	jitter bool
	rr     []Resolver
}

type RetryResolverOption func(r *retryResolver)

func BackoffDelayMin(d time.Duration) RetryResolverOption {
	return func(r *retryResolver) {
		if d <= 0 {
			return
		}
		r.min = d
	}
}

func BackoffFactor(f float64) RetryResolverOption {
	return func(r *retryResolver) {
		if f <= 0 {
			return
		}
		r.factor = f
	}
}

func BackoffJitter(b bool) RetryResolverOption {
	return func(r *retryResolver) {
		r.jitter = b
	}
}

func BackoffTimeout(d time.Duration) RetryResolverOption {
	return func(r *retryResolver) {
		if d <= 0 {
			d = 2 * time.Second
		}
		r.max = d
	}
}

// NewRetryResolver implements round-robin retry with backoff delay.
func NewRetryResolver(rr []Resolver, opts ...RetryResolverOption) Resolver {
	resolver := &retryResolver{
		min:    100 * time.Millisecond,
		max:    2 * time.Second,
		factor: 2,
		jitter: true,
		rr:     rr,
	}

	for _, opt := range opts {
		opt(resolver)
	}
	return resolver
}

// Send implements Resolver. Every underlying error is treated as
// retriable; the last one is returned when the budget expires.
func (r *retryResolver) Send(name string, qtype uint16) (*dns.Msg, error) {
	expired := r.expiredFunc()
	for attempt := 0; ; attempt++ {
		for _, next := range r.rr {
			msg, err := next.Send(name, qtype)
			if err == nil || expired() {
				return msg, err
			}
		}
		time.Sleep(r.backoff(attempt))
	}
}

func (r *retryResolver) expiredFunc() func() bool {
	start := time.Now()
	return func() bool {
		return time.Since(start) > r.max
	}
}

// backoff calculates timeout for the next attempt. Attempt should be zero based.
// Adapted from https://github.com/jpillora/backoff/blob/master/backoff.go
func (r *retryResolver) backoff(attempt int) time.Duration {
	if r.min >= r.max {
		// short-circuit
		return r.max
	}
	const maxInt64 = float64(math.MaxInt64 - 512)

	//calculate this duration
	minf := float64(r.min)
	durf := minf * math.Pow(r.factor, float64(attempt))
	if r.jitter {
		durf = rand.Float64()*(durf-minf) + minf
	}
	//ensure float64 wont overflow int64
	if durf > maxInt64 {
		return r.max
	}
	dur := time.Duration(durf)
	//keep within bounds
	if dur < r.min {
		return r.min
	} else if dur > r.max {
		return r.max
	}
	return dur
}
