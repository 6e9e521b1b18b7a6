package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const conservativeCost = 1000.0

// InsertLoadSample appends one load snapshot to the history table.
func (s *Store) InsertLoadSample(ctx context.Context, sample LoadSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO database_load_history
			(active_connections, running_queries, avg_query_time, max_query_time, load_factor)
		VALUES ($1, $2, $3, $4, $5)`,
		sample.ActiveConnections, sample.RunningQueries,
		sample.AvgQueryTime, sample.MaxQueryTime, sample.LoadFactor)
	if err != nil {
		return fmt.Errorf("failed to insert load sample: %w", err)
	}
	return nil
}

// LatestLoadFactor returns the most recent sampled load factor, defaulting
// to 1.0 when no samples exist yet.
func (s *Store) LatestLoadFactor(ctx context.Context) (float64, error) {
	var factor float64
	err := s.db.GetContext(ctx, &factor, `
		SELECT COALESCE(
			(SELECT load_factor FROM database_load_history ORDER BY timestamp DESC LIMIT 1),
			1.0)`)
	if err != nil {
		return 1.0, fmt.Errorf("failed to load latest load factor: %w", err)
	}
	return factor, nil
}

// RecentLoadSamples returns load history inside the window, newest first.
func (s *Store) RecentLoadSamples(ctx context.Context, window time.Duration) ([]LoadSample, error) {
	var rows []LoadSample
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, timestamp, active_connections, running_queries,
		       avg_query_time, max_query_time, load_factor
		FROM database_load_history
		WHERE timestamp > NOW() - $1::interval
		ORDER BY timestamp DESC`, interval(window))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent samples: %w", err)
	}
	return rows, nil
}

// SampleDatabaseStats reads live saturation numbers from pg_stat_activity.
// The load factor weighs connection saturation against query latency relative
// to the configured target.
func (s *Store) SampleDatabaseStats(ctx context.Context, maxConnections int, targetQueryTime time.Duration) (LoadSample, error) {
	var sample LoadSample
	err := s.db.GetContext(ctx, &sample, `
		SELECT COUNT(*) AS active_connections,
		       COUNT(*) FILTER (WHERE state = 'active') AS running_queries,
		       COALESCE(EXTRACT(EPOCH FROM AVG(NOW() - query_start)) FILTER (WHERE state = 'active'), 0) AS avg_query_time,
		       COALESCE(EXTRACT(EPOCH FROM MAX(NOW() - query_start)) FILTER (WHERE state = 'active'), 0) AS max_query_time
		FROM pg_stat_activity
		WHERE datname = current_database()`)
	if err != nil {
		return LoadSample{}, fmt.Errorf("failed to sample database stats: %w", err)
	}

	connLoad := float64(sample.ActiveConnections) / float64(maxConnections)
	timeLoad := sample.AvgQueryTime / targetQueryTime.Seconds()
	sample.LoadFactor = 0.6*connLoad + 0.4*timeLoad
	if sample.LoadFactor < 0.1 {
		sample.LoadFactor = 0.1
	}
	sample.Timestamp = time.Now()
	return sample, nil
}

// EstimateCost asks the planner for the total cost of a query via EXPLAIN.
// Queries the planner rejects get a conservative high estimate so malformed
// or hostile statements are never scored as cheap.
func (s *Store) EstimateCost(ctx context.Context, query string) float64 {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, "EXPLAIN (FORMAT JSON) "+query)
	if err != nil {
		s.logger.Debug("Planner rejected query, using conservative cost",
			zap.Error(err))
		return conservativeCost
	}

	var plans []struct {
		Plan struct {
			TotalCost float64 `json:"Total Cost"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal(raw, &plans); err != nil || len(plans) == 0 {
		return conservativeCost
	}
	return plans[0].Plan.TotalCost
}
