package baseline

import (
	"encoding/json"
	"fmt"
	"os"
)

// manifest mirrors the JSON artifact written by the training pipeline.
type manifest struct {
	Version     string                 `json:"version"`
	Config      Thresholds             `json:"config"`
	PoolContext map[string]PoolContext `json:"pool_context"`
}

// Load reads a model manifest from disk and builds an immutable table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline manifest %s: %w", path, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse baseline manifest %s: %w", path, err)
	}

	applyDefaults(&m.Config)
	if err := validate(m.Config); err != nil {
		return nil, fmt.Errorf("invalid baseline manifest %s: %w", path, err)
	}

	pools := make(map[string]PoolContext, len(m.PoolContext))
	for id, ctx := range m.PoolContext {
		ctx.PoolID = id
		pools[id] = ctx
	}

	return &Table{
		Pools:      pools,
		Thresholds: m.Config,
		Version:    m.Version,
	}, nil
}

func applyDefaults(t *Thresholds) {
	if t.SpikeThreshold == 0 {
		t.SpikeThreshold = 0.30
	}
	if t.AbsoluteHigh == 0 {
		t.AbsoluteHigh = 0.95
	}
	if t.SafeReturn == 0 {
		t.SafeReturn = 0.50
	}
}

func validate(t Thresholds) error {
	if t.SpikeThreshold < 0 {
		return fmt.Errorf("ratio_spike_threshold must be >= 0")
	}
	if t.AbsoluteHigh <= 0 || t.AbsoluteHigh > 10 {
		return fmt.Errorf("ratio_absolute_high must be in (0, 10]")
	}
	if t.SafeReturn <= 0 || t.SafeReturn >= t.AbsoluteHigh {
		return fmt.Errorf("ratio_safe_return must be positive and below ratio_absolute_high")
	}
	return nil
}
