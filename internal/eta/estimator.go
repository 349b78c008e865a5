// README: ETA estimation over a routing provider fallback chain.
package eta

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"savora/internal/routing"
	"savora/internal/types"
)

// ErrEstimation means every configured provider failed or timed out. The
// caller must suppress the eta broadcast rather than emit a garbage value.
var ErrEstimation = errors.New("all routing providers failed")

type Estimate struct {
	ETASeconds int
	ETAMinutes int
}

// Estimator tries providers in configured order; the first success wins.
type Estimator struct {
	logger    *slog.Logger
	providers []routing.Provider
	timeout   time.Duration
}

func NewEstimator(logger *slog.Logger, providers []routing.Provider, timeout time.Duration) *Estimator {
	return &Estimator{
		logger:    logger.With(slog.String("component", "eta_estimator")),
		providers: providers,
		timeout:   timeout,
	}
}

// Estimate computes the delivery time from pickup to delivery. Each provider
// call carries its own timeout; a timeout counts as that provider failing.
func (e *Estimator) Estimate(ctx context.Context, pickup, delivery types.Point) (Estimate, error) {
	for _, p := range e.providers {
		leg, err := e.route(ctx, p, pickup, delivery)
		if err != nil {
			e.logger.Warn("routing provider failed",
				slog.String("provider", p.Name()), slog.Any("error", err))
			continue
		}
		seconds := int(math.Round(leg.DurationSeconds))
		minutes := int(math.Ceil(leg.DurationSeconds / 60))
		if minutes < 1 {
			minutes = 1
		}
		return Estimate{ETASeconds: seconds, ETAMinutes: minutes}, nil
	}
	return Estimate{}, ErrEstimation
}

func (e *Estimator) route(ctx context.Context, p routing.Provider, from, to types.Point) (routing.Leg, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return p.Route(ctx, from, to)
}
