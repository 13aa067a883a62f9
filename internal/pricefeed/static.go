package pricefeed

import (
	"context"
	"fmt"
	"time"
)

// StaticProvider serves fixed prices. Used when no cloud credentials
// are configured and in tests.
type StaticProvider struct {
	Spot     map[string][]Observation
	OnDemand map[string]float64
}

// SpotPrices returns the configured observations, restamped to now.
func (s *StaticProvider) SpotPrices(_ context.Context, instanceType string) ([]Observation, error) {
	obs, ok := s.Spot[instanceType]
	if !ok || len(obs) == 0 {
		return nil, fmt.Errorf("no static spot prices for %s", instanceType)
	}
	out := make([]Observation, len(obs))
	now := time.Now().UTC()
	for i, o := range obs {
		o.CapturedAt = now
		out[i] = o
	}
	return out, nil
}

// OnDemandPrice returns the configured rate.
func (s *StaticProvider) OnDemandPrice(_ context.Context, instanceType string) (float64, error) {
	price, ok := s.OnDemand[instanceType]
	if !ok {
		return 0, fmt.Errorf("no static on-demand price for %s", instanceType)
	}
	return price, nil
}
