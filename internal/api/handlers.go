package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/softcane/spot-optimizer/internal/domain"
	"github.com/softcane/spot-optimizer/internal/ledger"
	"github.com/softcane/spot-optimizer/internal/metrics"
	"github.com/softcane/spot-optimizer/internal/queue"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	baselineState := "empty"
	if s.baselines != nil && s.baselines.Loaded() {
		baselineState = "loaded"
	}
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "database": "unreachable", "baseline": baselineState,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "baseline": baselineState})
}

// handleRegister enrolls an agent and the instances it manages. The
// agent gets a default policy on first contact; re-registration after
// a restart is routine and changes nothing already set.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ctx := r.Context()
	if err := s.store.UpsertAgent(ctx, req.AgentID, client.ID, req.Hostname, req.Version); err != nil {
		writeError(w, s.logger, err)
		return
	}
	for _, p := range req.Instances {
		inst := domain.Instance{
			ID:            p.ID,
			ClientID:      client.ID,
			AgentID:       req.AgentID,
			InstanceType:  p.InstanceType,
			Region:        p.Region,
			Zone:          p.Zone,
			CurrentMode:   p.CurrentMode,
			CurrentPoolID: p.CurrentPoolID,
			SpotPrice:     p.SpotPrice,
			OnDemandPrice: p.OnDemandPrice,
			IsActive:      true,
		}
		if err := s.store.RegisterInstance(ctx, inst); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	pol, err := s.store.GetPolicy(ctx, req.AgentID, client.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.store.LogSystemEvent(ctx, "agent_registered", "info",
		"agent registered with "+req.Hostname, client.ID, req.AgentID, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "registered",
		"policy": pol,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	agentID := mux.Vars(r)["agent_id"]

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	now := time.Now().UTC()
	if err := s.store.Heartbeat(r.Context(), agentID, client.ID, req.Status, req.InstanceCount, now); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.store.TouchClientSync(r.Context(), client.ID, now); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	agentID := mux.Vars(r)["agent_id"]

	pol, err := s.store.GetPolicy(r.Context(), agentID, client.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	agentID := mux.Vars(r)["agent_id"]

	var req policyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	// Scope check before the write: the policy row itself is not
	// client-keyed.
	if _, err := s.store.GetPolicy(r.Context(), agentID, client.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	pol := domain.AgentPolicy{
		AgentID:              agentID,
		Enabled:              req.Enabled,
		AutoSwitchEnabled:    req.AutoSwitchEnabled,
		MinSavingsPercent:    req.MinSavingsPercent,
		RiskThreshold:        req.RiskThreshold,
		MaxSwitchesPerWeek:   req.MaxSwitchesPerWeek,
		MinPoolDurationHours: req.MinPoolDurationHours,
	}
	if err := s.store.UpdatePolicy(r.Context(), pol); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.store.LogSystemEvent(r.Context(), "policy_updated", "info",
		"switching policy updated", client.ID, agentID, "")
	writeJSON(w, http.StatusOK, pol)
}

// handlePricingReport ingests agent-observed market prices into the
// snapshot history.
func (s *Server) handlePricingReport(w http.ResponseWriter, r *http.Request) {
	var req pricingReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	for _, o := range req.SpotPools {
		capturedAt := now
		if o.CapturedAt != nil {
			capturedAt = o.CapturedAt.UTC()
		}
		if err := s.store.UpsertSpotPool(ctx, o.PoolID, o.InstanceType, o.Region, o.Zone); err != nil {
			writeError(w, s.logger, err)
			return
		}
		if err := s.store.InsertSpotPriceSnapshot(ctx, o.PoolID, o.Price, capturedAt); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}
	for _, o := range req.OnDemand {
		capturedAt := now
		if o.CapturedAt != nil {
			capturedAt = o.CapturedAt.UTC()
		}
		if err := s.store.InsertOnDemandSnapshot(ctx, o.Region, o.InstanceType, o.Price, capturedAt); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	n := len(req.SpotPools) + len(req.OnDemand)
	metrics.SnapshotIngestTotal.WithLabelValues("agent_report").Add(float64(n))
	writeJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

// handleDecide runs one engine evaluation against the caller's
// instance and the supplied market snapshot.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())

	var req decideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ctx := r.Context()
	inst, err := s.store.GetInstance(ctx, req.InstanceID, client.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pol, err := s.store.GetPolicy(ctx, inst.AgentID, client.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	snap := domain.PricingSnapshot{
		InstanceID:    req.InstanceID,
		OnDemandPrice: req.OnDemandPrice,
		SpotPools:     req.SpotPools,
	}
	d, err := s.engine.Evaluate(ctx, inst, pol, snap)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleSwitchReport records a realized switch. Retried reports get
// the same response as the first delivery.
func (s *Server) handleSwitchReport(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())

	var report ledger.Report
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, s.logger, err)
		return
	}

	inst, err := s.ledger.RecordSwitch(r.Context(), client.ID, report)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "recorded",
		"instance": inst,
	})
}

func (s *Server) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	agentID := mux.Vars(r)["agent_id"]

	// Scope check: an agent ID under another client reads as unknown.
	if _, err := s.store.GetPolicy(r.Context(), agentID, client.ID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	cmds, err := s.queue.ListPending(r.Context(), agentID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if cmds == nil {
		cmds = []domain.PendingCommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds})
}

func (s *Server) handleAckCommand(w http.ResponseWriter, r *http.Request) {
	commandID := mux.Vars(r)["command_id"]

	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.queue.Acknowledge(r.Context(), commandID, req.AgentID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// handleForceSwitch queues a manual override for the instance's agent.
func (s *Server) handleForceSwitch(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r.Context())
	instanceID := mux.Vars(r)["instance_id"]

	var req forceSwitchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	cmd, err := s.queue.EnqueueOverride(r.Context(), client.ID, queue.OverrideRequest{
		InstanceID:   instanceID,
		TargetMode:   req.TargetMode,
		TargetPoolID: req.TargetPoolID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.store.LogSystemEvent(r.Context(), "force_switch", "info",
		"manual override queued", client.ID, cmd.AgentID, instanceID)
	writeJSON(w, http.StatusAccepted, cmd)
}
