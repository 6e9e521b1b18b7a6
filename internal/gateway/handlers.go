package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/events"
	"github.com/quipgate/quipgate/internal/quiplet"
)

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Query    string `json:"query"`
}

// QueryResponse is the body returned for POST /query.
type QueryResponse struct {
	RequestID    string                   `json:"request_id"`
	Allowed      bool                     `json:"allowed"`
	Reasons      []string                 `json:"reasons,omitempty"`
	RiskScore    float64                  `json:"risk_score"`
	Confidence   float64                  `json:"confidence,omitempty"`
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowsAffected int64                    `json:"rows_affected,omitempty"`
	DurationMS   float64                  `json:"duration_ms,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	log := s.logger.WithRequestID(reqID)

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, QueryResponse{RequestID: reqID, Error: "invalid request body"})
		return
	}
	if req.Username == "" || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, QueryResponse{RequestID: reqID, Error: "username and query are required"})
		return
	}

	ip := clientIP(r)
	log = log.WithIdentity(ip)
	role := classifier.ParseRole(req.Role)
	start := time.Now()

	// Static verb policy first; unknown roles fall through so the admission
	// controller can deny them with its own reason.
	if cmd := quiplet.CommandOf(req.Query); role != classifier.RoleUnknown && !roleAllowsCommand(role, cmd) {
		reason := fmt.Sprintf("role %q may not issue %s statements", req.Role, cmd)
		log.Info("Query rejected by role policy",
			zap.String("principal", req.Username),
			zap.String("command", cmd.String()))
		s.hub.Publish(events.TypeAdmission, events.AdmissionEvent{
			Identity:  ip,
			Principal: req.Username,
			Allowed:   false,
			Reasons:   []string{reason},
		})
		writeJSON(w, http.StatusForbidden, QueryResponse{
			RequestID: reqID,
			Allowed:   false,
			Reasons:   []string{reason},
		})
		return
	}

	decision, err := s.controller.Decide(ctx, ip, req.Username, role, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, quiplet.ErrParse):
			writeJSON(w, http.StatusBadRequest, QueryResponse{
				RequestID: reqID,
				Error:     "query could not be analyzed",
			})
		case errors.Is(err, classifier.ErrArtifactUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, QueryResponse{
				RequestID: reqID,
				Error:     "behavioral model unavailable",
			})
		default:
			log.Error("Admission pipeline failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, QueryResponse{
				RequestID: reqID,
				Error:     "admission check failed",
			})
		}
		return
	}

	resp := QueryResponse{
		RequestID: reqID,
		Allowed:   decision.Allowed,
		Reasons:   decision.Reasons,
		RiskScore: decision.Risk.Risk,
	}
	if decision.Verdict != nil {
		resp.Confidence = decision.Verdict.Confidence
		if decision.Verdict.Decision == classifier.Intrusion {
			s.hub.Publish(events.TypeIntrusion, events.IntrusionEvent{
				Identity:    ip,
				Principal:   req.Username,
				Cluster:     decision.Verdict.Cluster,
				Confidence:  decision.Verdict.Confidence,
				Threshold:   decision.Verdict.Threshold,
				Infractions: decision.Verdict.Infractions,
			})
		}
	}

	if !decision.Allowed {
		s.finishQuery(r, req, decision.Risk.Risk, decision.Risk.QueryHash, false, time.Since(start))
		writeJSON(w, http.StatusForbidden, resp)
		return
	}

	result, err := s.store.ExecuteQuery(ctx, req.Query, decision.Timeout)
	if err != nil {
		log.Error("Query execution failed", zap.Error(err))
		s.finishQuery(r, req, decision.Risk.Risk, decision.Risk.QueryHash, false, time.Since(start))
		resp.Error = "query execution failed"
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	if err := s.monitor.ObserveQuery(ctx, ip, decision.Risk.Cost, decision.Risk.Risk); err != nil {
		log.Warn("Failed to update client profile", zap.Error(err))
	}
	s.finishQuery(r, req, decision.Risk.Risk, decision.Risk.QueryHash, true, time.Since(start))

	resp.Columns = result.Columns
	resp.Rows = result.Rows
	resp.RowsAffected = result.RowsAffected
	resp.DurationMS = float64(result.Duration.Microseconds()) / 1000.0
	writeJSON(w, http.StatusOK, resp)
}

// finishQuery records the audit row, the structured query log line, and the
// admission event. None of these may fail the request itself.
func (s *Server) finishQuery(r *http.Request, req QueryRequest, risk float64, queryHash string, executed bool, elapsed time.Duration) {
	ctx := r.Context()
	ip := clientIP(r)

	if err := s.store.AuditQuery(ctx, ip, req.Username, req.Query, executed); err != nil {
		s.logger.Warn("Audit write failed", zap.Error(err))
	}
	s.logger.LogQuery(ip, req.Username, req.Query, risk, executed)

	s.hub.Publish(events.TypeAdmission, events.AdmissionEvent{
		Identity:   ip,
		Principal:  req.Username,
		Allowed:    executed,
		RiskScore:  risk,
		QueryHash:  queryHash,
		DurationMS: float64(elapsed.Microseconds()) / 1000.0,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "quipgate",
		"version":        "0.1.0",
		"events_enabled": s.config.Events.Enabled,
		"cache_enabled":  s.config.Cache.Enabled,
		"relations":      len(s.config.Schema),
	})
}

func (s *Server) handleProtectionStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := s.store.MostActiveIPs(ctx, time.Hour, 10)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load connection stats"})
		return
	}
	blocked, err := s.store.BlockedIPs(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load blocklist"})
		return
	}

	type blockView struct {
		Identity string     `json:"identity"`
		Expires  *time.Time `json:"expires,omitempty"`
		Reason   string     `json:"reason"`
	}
	views := make([]blockView, len(blocked))
	for i, b := range blocked {
		views[i] = blockView{Identity: b.Identity, Reason: b.Reason}
		if b.BlockExpires.Valid {
			t := b.BlockExpires.Time
			views[i].Expires = &t
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"most_active": active,
		"blocked_ips": views,
		"subscribers": s.hub.GetStats(),
	})
}

func (s *Server) handleRiskProfiles(w http.ResponseWriter, r *http.Request) {
	threshold := 0.5
	if v := r.URL.Query().Get("threshold"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = parsed
		}
	}

	profiles, err := s.store.HighRiskProfiles(r.Context(), threshold, 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load profiles"})
		return
	}

	type profileView struct {
		Identity        string    `json:"identity"`
		RiskScore       float64   `json:"risk_score"`
		TotalQueries    int64     `json:"total_queries"`
		RecentQueries   int       `json:"recent_queries"`
		AvgQueryCost    float64   `json:"avg_query_cost"`
		MaxQueryCost    float64   `json:"max_query_cost"`
		HighRiskQueries int64     `json:"high_risk_queries"`
		LastUpdated     time.Time `json:"last_updated"`
	}
	views := make([]profileView, len(profiles))
	for i, p := range profiles {
		recent, err := s.store.ClientQueryVolume(r.Context(), p.Identity, time.Hour)
		if err != nil {
			s.logger.Warn("Failed to count recent queries",
				zap.String("identity", p.Identity), zap.Error(err))
		}
		views[i] = profileView{
			Identity:        p.Identity,
			RiskScore:       p.RiskScore,
			TotalQueries:    p.TotalQueries,
			RecentQueries:   recent,
			AvgQueryCost:    p.AvgQueryCost,
			MaxQueryCost:    p.MaxQueryCost,
			HighRiskQueries: p.HighRiskQueries,
			LastUpdated:     p.LastUpdated,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold": threshold,
		"profiles":  views,
	})
}

func (s *Server) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	samples, err := s.store.RecentLoadSamples(r.Context(), time.Hour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"samples": samples})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
