package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quanthelm/quanthelm/internal/models"
)

// VenueOrder is the single call shape exposed to an external venue.
type VenueOrder struct {
	Symbol   string
	Side     models.Direction
	Quantity float64
	Price    float64
}

// VenueResult is the venue's report for one order.
type VenueResult struct {
	Success   bool
	FillPrice float64
	Reason    string
}

// VenueAdapter abstracts the external execution venue. Implementations own
// all protocol detail; the engine only sees this call.
type VenueAdapter interface {
	PlaceOrder(ctx context.Context, ord VenueOrder) (VenueResult, error)
}

// PaperVenue fills every order instantly at the requested price. Fills are
// deterministic so paper runs are bit-reproducible.
type PaperVenue struct{}

// PlaceOrder implements VenueAdapter.
func (PaperVenue) PlaceOrder(_ context.Context, ord VenueOrder) (VenueResult, error) {
	return VenueResult{Success: true, FillPrice: ord.Price}, nil
}

// GuardedVenue wraps a live venue adapter with a transport circuit breaker,
// an order-submission rate limit, and a hard timeout so a hung network call
// resolves to a rejected order instead of stalling the lifecycle.
type GuardedVenue struct {
	inner   VenueAdapter
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuardedVenue wraps inner with transport guards.
func NewGuardedVenue(inner VenueAdapter, ratePerSec float64, burst int, timeout time.Duration) *GuardedVenue {
	st := gobreaker.Settings{Name: "venue"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}

	return &GuardedVenue{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		timeout: timeout,
	}
}

// PlaceOrder implements VenueAdapter. Every failure mode surfaces as an
// error the engine converts into a rejected order.
func (g *GuardedVenue) PlaceOrder(ctx context.Context, ord VenueOrder) (VenueResult, error) {
	// The timeout covers the limiter wait too, so a depleted rate budget
	// cannot stall a caller without a deadline.
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return VenueResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		res, err := g.inner.PlaceOrder(ctx, ord)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return VenueResult{}, fmt.Errorf("venue call failed: %w", err)
	}
	return result.(VenueResult), nil
}
