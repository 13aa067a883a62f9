// Package pricefeed pulls spot and on-demand prices from the cloud
// provider and feeds them into the snapshot history that baseline
// statistics are computed from.
package pricefeed

import (
	"context"
	"time"
)

// Observation is one spot price sample for a pool.
type Observation struct {
	PoolID       string
	InstanceType string
	Region       string
	Zone         string
	Price        float64
	CapturedAt   time.Time
}

// Provider fetches market prices. Implementations must be safe for
// concurrent use.
type Provider interface {
	// SpotPrices returns recent spot observations for the instance type
	// across the zones the provider covers.
	SpotPrices(ctx context.Context, instanceType string) ([]Observation, error)
	// OnDemandPrice returns the hourly on-demand rate.
	OnDemandPrice(ctx context.Context, instanceType string) (float64, error)
}
