package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/softcane/spot-optimizer/internal/metrics"
)

// SnapshotStore is the persistence slice the poller writes to.
type SnapshotStore interface {
	UpsertSpotPool(ctx context.Context, poolID, instanceType, region, zone string) error
	InsertSpotPriceSnapshot(ctx context.Context, poolID string, price float64, capturedAt time.Time) error
	InsertOnDemandSnapshot(ctx context.Context, region, instanceType string, price float64, capturedAt time.Time) error
}

// Poller periodically samples the provider for a fixed set of instance
// types and records the observations.
type Poller struct {
	provider      Provider
	store         SnapshotStore
	region        string
	instanceTypes []string
	interval      time.Duration
	logger        *slog.Logger
}

// PollerConfig carries the poller's dependencies.
type PollerConfig struct {
	Provider      Provider
	Store         SnapshotStore
	Region        string
	InstanceTypes []string
	Interval      time.Duration
	Logger        *slog.Logger
}

// NewPoller creates a poller. Interval defaults to five minutes.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		provider:      cfg.Provider,
		store:         cfg.Store,
		region:        cfg.Region,
		instanceTypes: cfg.InstanceTypes,
		interval:      interval,
		logger:        logger,
	}
}

// Start polls until the context is cancelled. The first poll runs
// immediately.
func (p *Poller) Start(ctx context.Context) error {
	if len(p.instanceTypes) == 0 {
		p.logger.Info("price poller disabled: no instance types configured")
		<-ctx.Done()
		return ctx.Err()
	}

	p.logger.Info("price poller starting",
		"region", p.region,
		"instance_types", p.instanceTypes,
		"interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("price poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	for _, it := range p.instanceTypes {
		if err := p.pollType(ctx, it); err != nil {
			p.logger.Error("price poll failed", "instance_type", it, "error", err)
		}
	}
}

func (p *Poller) pollType(ctx context.Context, instanceType string) error {
	obs, err := p.provider.SpotPrices(ctx, instanceType)
	if err != nil {
		return err
	}
	for _, o := range obs {
		if err := p.store.UpsertSpotPool(ctx, o.PoolID, o.InstanceType, o.Region, o.Zone); err != nil {
			return fmt.Errorf("upsert pool %s: %w", o.PoolID, err)
		}
		if err := p.store.InsertSpotPriceSnapshot(ctx, o.PoolID, o.Price, o.CapturedAt); err != nil {
			return fmt.Errorf("record snapshot for pool %s: %w", o.PoolID, err)
		}
	}

	od, err := p.provider.OnDemandPrice(ctx, instanceType)
	if err != nil {
		return err
	}
	if err := p.store.InsertOnDemandSnapshot(ctx, p.region, instanceType, od, time.Now().UTC()); err != nil {
		return fmt.Errorf("record on-demand snapshot for %s: %w", instanceType, err)
	}

	metrics.SnapshotIngestTotal.WithLabelValues("aws_poll").Add(float64(len(obs) + 1))
	p.logger.Debug("price poll complete",
		"instance_type", instanceType,
		"pools", len(obs),
		"ondemand_price", od)
	return nil
}
