package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/history"
	"github.com/bimmerbailey/prompthakcer/internal/metrics"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

type errorResponse struct {
	Error string `json:"error"`
}

type rulesResponse struct {
	Level      string                                 `json:"level"`
	Rules      []rules.Rule                           `json:"rules"`
	Categories map[rules.Category]rules.CategoryInfo `json:"categories"`
}

type presetsResponse struct {
	Levels  []string                `json:"levels"`
	Presets map[string]rules.Preset `json:"presets"`
}

type levelRequest struct {
	Level string `json:"level"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type optimizeRequest struct {
	Text              string `json:"text"`
	Level             string `json:"level,omitempty"`
	EnableCompression bool   `json:"enableCompression"`
	ShowExplanations  bool   `json:"showExplanations"`
}

type optimizeResponse struct {
	*engine.OptimizationResult
	Level       string          `json:"level"`
	DLPFindings engine.Findings `json:"dlpFindings"`
}

type scanRequest struct {
	Text string `json:"text"`
}

type scanResponse struct {
	Findings   engine.Findings `json:"findings"`
	Total      int             `json:"total"`
	HasFinding bool            `json:"hasFindings"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{
		Level:      s.store.Level(),
		Rules:      s.store.Rules(),
		Categories: s.store.Categories(),
	})
}

func (s *Server) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	presets := s.store.Presets()
	writeJSON(w, http.StatusOK, presetsResponse{Levels: rules.Levels(presets), Presets: presets})
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetCompressionLevel(req.Level); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist(r.Context())
	writeJSON(w, http.StatusOK, levelRequest{Level: s.store.Level()})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := s.store.ToggleRule(id, *req.Enabled); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persist(r.Context())

	rule, _ := s.store.Rule(id)
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleAddCustom(w http.ResponseWriter, r *http.Request) {
	var spec rules.CustomRuleSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := s.store.AddCustomRule(spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.persist(r.Context())
	s.logger.Info("custom rule added", "id", rule.ID)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveCustom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.store.RemoveCustomRule(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("custom rule %s not found", id))
		return
	}
	s.persist(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeJSON(w, http.StatusOK, &rules.LoadReport{Source: rules.SourceBundled, Rules: len(s.store.Rules())})
		return
	}
	report, err := s.loader.Refresh(r.Context(), s.store)
	if err != nil {
		s.logger.Error("rule refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	eng, level := s.engine, s.store.Level()
	if req.Level != "" && req.Level != level {
		clone := s.store.Clone()
		if err := clone.SetCompressionLevel(req.Level); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		eng, level = engine.New(clone, s.logger), req.Level
	}

	res := eng.Optimize(req.Text, engine.Options{
		EnableCompression: req.EnableCompression,
		ShowExplanations:  req.ShowExplanations,
	})
	findings := eng.ScanDLP(req.Text)

	metrics.ObserveOptimization(level, res)
	metrics.ObserveScan(findings)
	if s.sink != nil {
		if err := s.sink.RecordScan(r.Context(), findings); err != nil {
			s.logger.Warn("failed to record scan", "error", err)
		}
		if res.HasChanges {
			if err := s.sink.RecordOptimization(r.Context(), level, res); err != nil {
				s.logger.Warn("failed to record optimization", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, optimizeResponse{OptimizationResult: res, Level: level, DLPFindings: findings})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	findings := s.engine.ScanDLP(req.Text)
	metrics.ObserveScan(findings)
	if s.sink != nil {
		if err := s.sink.RecordScan(r.Context(), findings); err != nil {
			s.logger.Warn("failed to record scan", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, scanResponse{Findings: findings, Total: findings.Total(), HasFinding: len(findings) > 0})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}
	summary, err := s.sink.Summary(r.Context())
	if err != nil {
		s.logger.Error("failed to read stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.sink.Entries(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseQuery(r *http.Request) (history.Query, error) {
	var q history.Query
	params := r.URL.Query()

	if v := params.Get("since"); v != "" {
		t, err := config.ParseTimeRef(v)
		if err != nil {
			return q, err
		}
		q.Since = t
	}
	if v := params.Get("until"); v != "" {
		t, err := config.ParseTimeRef(v)
		if err != nil {
			return q, err
		}
		q.Until = t
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = n
	}
	if v := params.Get("sort"); v != "" {
		if !history.ValidSort(v) {
			return q, fmt.Errorf("invalid sort %q (expected newest, oldest or tokensSaved)", v)
		}
		q.SortBy = v
	}
	return q, nil
}
