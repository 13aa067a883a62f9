package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/softcane/spot-optimizer/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedClient(t *testing.T, s *Store, name, token string) int64 {
	t.Helper()
	id, err := s.CreateClient(context.Background(), name, token)
	require.NoError(t, err)
	return id
}

func TestResolveClientToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := seedClient(t, s, "acme", "tok-1")

	c, err := s.ResolveClientToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, id, c.ID)
	require.Equal(t, "acme", c.Name)

	_, err = s.ResolveClientToken(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpsertAgent_CreatesDefaultPolicy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")

	require.NoError(t, s.UpsertAgent(ctx, "agent-1", clientID, "host-a", "1.0.0"))

	pol, err := s.GetPolicy(ctx, "agent-1", clientID)
	require.NoError(t, err)
	require.True(t, pol.Enabled)
	require.False(t, pol.AutoSwitchEnabled)
	require.Equal(t, 20.0, pol.MinSavingsPercent)
	require.Equal(t, 0.7, pol.RiskThreshold)
	require.Equal(t, 5, pol.MaxSwitchesPerWeek)
	require.Equal(t, 24.0, pol.MinPoolDurationHours)

	// Re-registration must not reset an operator-tuned policy.
	pol.MaxSwitchesPerWeek = 2
	require.NoError(t, s.UpdatePolicy(ctx, pol))
	require.NoError(t, s.UpsertAgent(ctx, "agent-1", clientID, "host-a", "1.0.1"))

	pol, err = s.GetPolicy(ctx, "agent-1", clientID)
	require.NoError(t, err)
	require.Equal(t, 2, pol.MaxSwitchesPerWeek)
}

func TestGetPolicy_ScopedToClient(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := seedClient(t, s, "owner", "tok-1")
	other := seedClient(t, s, "other", "tok-2")

	require.NoError(t, s.UpsertAgent(ctx, "agent-1", owner, "host", "1.0.0"))

	_, err := s.GetPolicy(ctx, "agent-1", other)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterInstance_BaselineSetOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")
	require.NoError(t, s.UpsertAgent(ctx, "agent-1", clientID, "host", "1.0.0"))

	inst := domain.Instance{
		ID:            "i-1",
		ClientID:      clientID,
		AgentID:       "agent-1",
		InstanceType:  "m5.large",
		Region:        "us-east-1",
		Zone:          "us-east-1a",
		CurrentMode:   domain.ModeSpot,
		CurrentPoolID: "m5.large/us-east-1a",
		SpotPrice:     0.35,
		OnDemandPrice: 1.00,
		IsActive:      true,
	}
	require.NoError(t, s.RegisterInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "i-1", clientID)
	require.NoError(t, err)
	require.Equal(t, 1.00, got.BaselineOnDemandPrice)

	// A later registration with a different price keeps the original
	// baseline.
	inst.OnDemandPrice = 1.20
	require.NoError(t, s.RegisterInstance(ctx, inst))

	got, err = s.GetInstance(ctx, "i-1", clientID)
	require.NoError(t, err)
	require.Equal(t, 1.00, got.BaselineOnDemandPrice)
	require.Equal(t, 1.20, got.OnDemandPrice)
}

func TestRegisterInstance_BaselineFromLatestSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")
	require.NoError(t, s.UpsertAgent(ctx, "agent-1", clientID, "host", "1.0.0"))

	// The newest snapshot wins over the agent-reported price.
	now := time.Now().UTC()
	require.NoError(t, s.InsertOnDemandSnapshot(ctx, "us-east-1", "m5.large", 0.90, now.Add(-time.Hour)))
	require.NoError(t, s.InsertOnDemandSnapshot(ctx, "us-east-1", "m5.large", 0.96, now))

	require.NoError(t, s.RegisterInstance(ctx, domain.Instance{
		ID:            "i-1",
		ClientID:      clientID,
		AgentID:       "agent-1",
		InstanceType:  "m5.large",
		Region:        "us-east-1",
		Zone:          "us-east-1a",
		CurrentMode:   domain.ModeSpot,
		CurrentPoolID: "m5.large/us-east-1a",
		SpotPrice:     0.35,
		OnDemandPrice: 1.00,
	}))

	got, err := s.GetInstance(ctx, "i-1", clientID)
	require.NoError(t, err)
	require.Equal(t, 0.96, got.BaselineOnDemandPrice)

	price, err := s.LatestOnDemandPrice(ctx, "us-east-1", "m5.large")
	require.NoError(t, err)
	require.Equal(t, 0.96, price)
}

func testApplication(clientID int64, switchedAt time.Time) SwitchApplication {
	return SwitchApplication{
		Event: domain.SwitchEvent{
			ClientID:      clientID,
			AgentID:       "agent-1",
			Trigger:       "model",
			OldInstanceID: "i-old",
			NewInstanceID: "i-new",
			FromMode:      domain.ModeSpot,
			ToMode:        domain.ModeSpot,
			FromPoolID:    "m5.large/us-east-1a",
			ToPoolID:      "m5.large/us-east-1b",
			OnDemandPrice: 1.00,
			OldSpotPrice:  0.55,
			NewSpotPrice:  0.30,
			SavingsImpact: 0.25,
			SwitchedAt:    switchedAt,
		},
		InstanceType:        "m5.large",
		Region:              "us-east-1",
		Zone:                "us-east-1b",
		SavingsContribution: 6.0,
	}
}

func TestApplySwitch_ReplayConverges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")
	require.NoError(t, s.UpsertAgent(ctx, "agent-1", clientID, "host", "1.0.0"))

	switchedAt := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	app := testApplication(clientID, switchedAt)

	inserted, err := s.ApplySwitch(ctx, app)
	require.NoError(t, err)
	require.True(t, inserted)

	// Replay of the identical report.
	inserted, err = s.ApplySwitch(ctx, app)
	require.NoError(t, err)
	require.False(t, inserted)

	// Savings credited exactly once.
	c, err := s.ResolveClientToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, 6.0, c.TotalSavings)

	// Destination is live and carries the switch state.
	inst, err := s.GetInstance(ctx, "i-new", clientID)
	require.NoError(t, err)
	require.True(t, inst.IsActive)
	require.Equal(t, domain.ModeSpot, inst.CurrentMode)
	require.Equal(t, "m5.large/us-east-1b", inst.CurrentPoolID)
	require.NotNil(t, inst.LastSwitchAt)

	count, err := s.CountAgentSwitches(ctx, "agent-1", switchedAt.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	last, err := s.LastInstanceSwitch(ctx, "i-old")
	require.NoError(t, err)
	require.NotNil(t, last)
	require.True(t, last.Equal(switchedAt))
}

func TestApplySwitch_NegativeImpactNotCredited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")

	app := testApplication(clientID, time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC))
	app.Event.ToMode = domain.ModeOnDemand
	app.Event.ToPoolID = ""
	app.Event.SavingsImpact = -0.45
	app.SavingsContribution = 0

	inserted, err := s.ApplySwitch(ctx, app)
	require.NoError(t, err)
	require.True(t, inserted)

	c, err := s.ResolveClientToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Zero(t, c.TotalSavings)
}

func TestCommands_AckIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"cmd-1", "cmd-2"} {
		require.NoError(t, s.InsertCommand(ctx, domain.PendingCommand{
			ID:           id,
			AgentID:      "agent-1",
			InstanceID:   "i-1",
			TargetMode:   domain.ModeSpot,
			TargetPoolID: "m5.large/us-east-1a",
			CreatedAt:    created.Add(time.Duration(i) * time.Minute),
		}))
	}

	cmds, err := s.ListPendingCommands(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, "cmd-1", cmds[0].ID) // oldest first

	first, err := s.MarkCommandExecuted(ctx, "cmd-1", "agent-1", created.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, first)

	// Replayed acknowledgment is a no-op.
	again, err := s.MarkCommandExecuted(ctx, "cmd-1", "agent-1", created.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, again)

	// Unknown command id is also a no-op.
	unknown, err := s.MarkCommandExecuted(ctx, "cmd-404", "agent-1", created)
	require.NoError(t, err)
	require.False(t, unknown)

	cmds, err = s.ListPendingCommands(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, "cmd-2", cmds[0].ID)

	n, err := s.CountPendingCommands(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestMonthlySavings_PositiveOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clientID := seedClient(t, s, "acme", "tok-1")

	base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	gain := testApplication(clientID, base)
	_, err := s.ApplySwitch(ctx, gain)
	require.NoError(t, err)

	loss := testApplication(clientID, base.Add(time.Hour))
	loss.Event.NewInstanceID = "i-new-2"
	loss.Event.SavingsImpact = -0.45
	loss.SavingsContribution = 0
	_, err = s.ApplySwitch(ctx, loss)
	require.NoError(t, err)

	// Only the 0.25/h gain counts: 0.25 * 24 = 6.0.
	total, err := s.MonthlySavings(ctx, clientID, 2026, time.August)
	require.NoError(t, err)
	require.InDelta(t, 6.0, total, 1e-9)

	require.NoError(t, s.UpsertMonthlySavings(ctx, clientID, 2026, time.August, total))
	// Rerun overwrites rather than accumulating.
	require.NoError(t, s.UpsertMonthlySavings(ctx, clientID, 2026, time.August, total))
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertSpotPool(ctx, "pool-1", "m5.large", "us-east-1", "us-east-1a"))
	require.NoError(t, s.InsertSpotPriceSnapshot(ctx, "pool-1", 0.35, old))
	require.NoError(t, s.InsertSpotPriceSnapshot(ctx, "pool-1", 0.36, recent))
	require.NoError(t, s.InsertOnDemandSnapshot(ctx, "us-east-1", "m5.large", 1.0, old))

	for _, at := range []time.Time{old, recent} {
		require.NoError(t, s.SaveDecision(ctx, domain.Decision{
			InstanceID:      "i-1",
			AgentID:         "agent-1",
			ClientID:        1,
			RiskState:       "normal",
			Action:          domain.ActionStay,
			RecommendedMode: domain.ModeSpot,
			Reason:          "normal conditions",
			EvaluatedAt:     at,
		}))
	}

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	removed, err := s.PruneSnapshots(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	removed, err = s.PruneDecisions(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	// Latest on-demand price is gone with the pruned snapshot.
	_, err = s.LatestOnDemandPrice(ctx, "us-east-1", "m5.large")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
