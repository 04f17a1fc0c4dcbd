package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	ErrBreakerOpen = errors.New("upstream circuit open")
	ErrRateLimited = errors.New("local rate limit wait exceeded")
)

// Guard protects one upstream with a per-pod rate limiter and a circuit breaker.
// Only transient failures count against the breaker.
type Guard struct {
	Limiter   *rate.Limiter
	Breaker   *gobreaker.CircuitBreaker
	LimitWait time.Duration
	Timeout   time.Duration
}

type GuardOptions struct {
	Name     string
	RPS      float64
	Burst    int
	Timeout  time.Duration
	MaxFails uint32
}

func NewGuard(o GuardOptions) *Guard {
	g := &Guard{LimitWait: 2 * time.Second, Timeout: o.Timeout}
	if o.RPS > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		g.Limiter = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	maxFails := o.MaxFails
	if maxFails == 0 {
		maxFails = 10
	}
	g.Breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         o.Name,
		MaxRequests:  3,
		Timeout:      20 * time.Second,
		ReadyToTrip:  func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= maxFails },
		IsSuccessful: func(err error) bool { return !IsTransient(err) },
	})
	return g
}

func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, g.LimitWait)
		err := g.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	call := func() (any, error) {
		callCtx := ctx
		if g.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
			defer cancel()
		}
		return nil, fn(callCtx)
	}
	if g.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := g.Breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}
