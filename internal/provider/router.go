package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

var ErrNoProvider = errors.New("all providers unavailable")

// Router sends a request to the providers that serve its model first and
// fails over to the remaining providers, each behind its own circuit breaker.
type Router struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewRouter(providers []Provider) *Router {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
	}
}

// Route returns the healthy providers for req in the order they are tried.
func (r *Router) Route(req *Request) []Provider {
	var preferred, fallback []Provider
	for _, p := range r.providers {
		if r.breakers[p.Name()].State() == gobreaker.StateOpen {
			continue
		}
		if req.Model == "" || supports(p, req.Model) {
			preferred = append(preferred, p)
		} else {
			fallback = append(fallback, p)
		}
	}
	return append(preferred, fallback...)
}

// Complete runs req against the routed providers until one succeeds.
// Fallback providers are called with their own default model.
func (r *Router) Complete(ctx context.Context, req *Request) (*Response, error) {
	candidates := r.Route(req)
	if len(candidates) == 0 {
		return nil, ErrNoProvider
	}

	var errs []error
	for _, p := range candidates {
		attempt := *req
		if !supports(p, req.Model) {
			models := p.SupportedModels()
			if len(models) == 0 {
				continue
			}
			attempt.Model = models[0]
		}

		resp, err := r.Execute(ctx, &attempt, p)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (r *Router) Execute(ctx context.Context, req *Request, p Provider) (*Response, error) {
	cb := r.breakers[p.Name()]
	start := time.Now()
	result, err := cb.Execute(func() (interface{}, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp := result.(*Response)
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(start).Milliseconds()
	}
	return resp, nil
}
