package store

import (
	"context"
	"fmt"
	"time"
)

// CostStats is a windowed aggregate over the query cost log.
type CostStats struct {
	AvgCost float64 `db:"avg_cost"`
	AvgRisk float64 `db:"avg_risk"`
	Count   int     `db:"count"`
}

// InsertQueryCost records one scored query for a client, keyed by the hash of
// its normalized shape alongside the normalized text itself.
func (s *Store) InsertQueryCost(ctx context.Context, ip, queryHash, normalizedQuery string, cost, risk float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cost_log (ip_address, query_hash, normalized_query, estimated_cost, risk_score)
		VALUES ($1, $2, $3, $4, $5)`,
		ip, queryHash, normalizedQuery, cost, risk)
	if err != nil {
		return fmt.Errorf("failed to insert query cost: %w", err)
	}
	return nil
}

// RecentCostStats aggregates cost and risk for one client over the window.
// Returns zero stats when the client has no recent history.
func (s *Store) RecentCostStats(ctx context.Context, ip string, window time.Duration) (CostStats, error) {
	var stats CostStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT COALESCE(AVG(estimated_cost), 0) AS avg_cost,
		       COALESCE(AVG(risk_score), 0) AS avg_risk,
		       COUNT(*) AS count
		FROM query_cost_log
		WHERE ip_address = $1 AND timestamp > NOW() - $2::interval`,
		ip, interval(window))
	if err != nil {
		return CostStats{}, fmt.Errorf("failed to aggregate cost stats: %w", err)
	}
	return stats, nil
}

// ClientQueryVolume counts queries one client issued inside the window.
func (s *Store) ClientQueryVolume(ctx context.Context, ip string, window time.Duration) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM query_cost_log
		WHERE ip_address = $1 AND timestamp > NOW() - $2::interval`,
		ip, interval(window))
	if err != nil {
		return 0, fmt.Errorf("failed to count client queries: %w", err)
	}
	return count, nil
}
