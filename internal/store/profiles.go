package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordClientQuery folds one scored query into the client's long-lived risk
// profile. The running average is updated incrementally so profiles never
// need a full rescan of the cost log.
func (s *Store) RecordClientQuery(ctx context.Context, ip string, cost, risk, highRiskThreshold float64) error {
	highRisk := 0
	if risk > highRiskThreshold {
		highRisk = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_risk_profiles
			(ip_address, risk_score, total_queries, avg_query_cost, max_query_cost, high_risk_queries, last_updated)
		VALUES ($1, $2, 1, $3, $3, $4, NOW())
		ON CONFLICT (ip_address) DO UPDATE SET
			total_queries = client_risk_profiles.total_queries + 1,
			avg_query_cost = (client_risk_profiles.avg_query_cost * client_risk_profiles.total_queries + $3)
				/ (client_risk_profiles.total_queries + 1),
			max_query_cost = GREATEST(client_risk_profiles.max_query_cost, $3),
			high_risk_queries = client_risk_profiles.high_risk_queries + $4,
			risk_score = $2,
			last_updated = NOW()`,
		ip, risk, cost, highRisk)
	if err != nil {
		return fmt.Errorf("failed to update client profile: %w", err)
	}
	return nil
}

// GetProfile loads one client risk profile. Missing clients return ok=false
// rather than an error so callers can fall back to a neutral profile.
func (s *Store) GetProfile(ctx context.Context, ip string) (ClientRiskProfile, bool, error) {
	var p ClientRiskProfile
	err := s.db.GetContext(ctx, &p, `
		SELECT ip_address, risk_score, total_queries, avg_query_cost, max_query_cost,
		       high_risk_queries, timeout_multiplier, last_updated, notes
		FROM client_risk_profiles
		WHERE ip_address = $1`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientRiskProfile{}, false, nil
	}
	if err != nil {
		return ClientRiskProfile{}, false, fmt.Errorf("failed to load client profile: %w", err)
	}
	return p, true, nil
}

// SetTimeoutMultiplier persists the multiplier the monitor computed for a
// client so restarts start from the last known posture.
func (s *Store) SetTimeoutMultiplier(ctx context.Context, ip string, multiplier float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE client_risk_profiles
		SET timeout_multiplier = $2, last_updated = NOW()
		WHERE ip_address = $1`, ip, multiplier)
	if err != nil {
		return fmt.Errorf("failed to set timeout multiplier: %w", err)
	}
	return nil
}

// HighRiskProfiles lists profiles whose computed risk exceeds the threshold,
// most risky first.
func (s *Store) HighRiskProfiles(ctx context.Context, threshold float64, limit int) ([]ClientRiskProfile, error) {
	var rows []ClientRiskProfile
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ip_address, risk_score, total_queries, avg_query_cost, max_query_cost,
		       high_risk_queries, timeout_multiplier, last_updated, notes
		FROM client_risk_profiles
		WHERE risk_score >= $1
		ORDER BY risk_score DESC
		LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list high risk profiles: %w", err)
	}
	return rows, nil
}
