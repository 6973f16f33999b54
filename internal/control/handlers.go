package control

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

type riskModeRequest struct {
	Mode kernel.Mode `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req riskModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.SetMode == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "risk mode control not wired")
		return
	}
	if err := s.deps.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, "request.rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode})
}

type killRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.SetKillSwitch == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "kill switch not wired")
		return
	}
	s.deps.SetKillSwitch(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

type allocatorWeightsRequest struct {
	Strategy  string  `json:"strategy"`
	RiskShare float64 `json:"risk_share"`
}

func (s *Server) handleAllocatorWeights(w http.ResponseWriter, r *http.Request) {
	var req allocatorWeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if req.RiskShare < 0 || req.RiskShare > 1 {
		writeError(w, http.StatusBadRequest, "request.invalid_field", "risk_share must be within [0,1]")
		return
	}
	if s.deps.SetAllocatorWeight == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "allocator weights not wired")
		return
	}
	if err := s.deps.SetAllocatorWeight(req.Strategy, req.RiskShare); err != nil {
		writeError(w, http.StatusBadRequest, "request.rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type strategyConfigRequest struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	RiskShare *float64 `json:"risk_share,omitempty"`
}

func (s *Server) handleStrategyConfig(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]
	var req strategyConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.SetStrategyConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "strategy config not wired")
		return
	}
	if err := s.deps.SetStrategyConfig(strategy, req.Enabled, req.RiskShare); err != nil {
		writeError(w, http.StatusBadRequest, "request.rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategy": strategy})
}

type metricRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Server) handlePushMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.PushMetric == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "metrics push not wired")
		return
	}
	s.deps.PushMetric(req.Name, req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.RecordTrade == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "trade reporting not wired")
		return
	}
	s.deps.RecordTrade(req)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unwired"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	if s.deps.Universe == nil {
		writeJSON(w, http.StatusOK, map[string]any{"universe": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Universe())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var intent kernel.OrderIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "request.invalid_body", "invalid JSON body")
		return
	}
	if s.deps.SubmitOrder == nil {
		writeError(w, http.StatusServiceUnavailable, "control.not_wired", "order submission not wired")
		return
	}
	result, err := s.deps.SubmitOrder(r.Context(), intent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "request.rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
