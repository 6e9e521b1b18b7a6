package store

import (
	"database/sql"
	"time"
)

// ConnectionLogEntry is one row of the append-only connection log.
type ConnectionLogEntry struct {
	ID         int64     `db:"id"`
	IPAddress  string    `db:"ip_address"`
	Username   string    `db:"username"`
	Timestamp  time.Time `db:"timestamp"`
	QueryCount int       `db:"query_count"`
}

// BlockRecord is an enforced ban on an IP or principal. A nil expiry means
// the block never lapses; enforcement is a lazy comparison against the clock,
// expired rows are never purged automatically.
type BlockRecord struct {
	Identity     string       `db:"identity"`
	BlockedAt    time.Time    `db:"blocked_at"`
	BlockExpires sql.NullTime `db:"block_expires"`
	Reason       string       `db:"reason"`
}

// QueryCostEntry is one row of the query cost/risk log.
type QueryCostEntry struct {
	ID              int64     `db:"id"`
	Identity        string    `db:"ip_address"`
	QueryHash       string    `db:"query_hash"`
	NormalizedQuery string    `db:"normalized_query"`
	EstimatedCost   float64   `db:"estimated_cost"`
	RiskScore       float64   `db:"risk_score"`
	Timestamp       time.Time `db:"timestamp"`
}

// ClientRiskProfile tracks a client identity's cumulative behavior. Profiles
// are created on first observed query and never deleted automatically.
type ClientRiskProfile struct {
	Identity          string         `db:"ip_address"`
	RiskScore         float64        `db:"risk_score"`
	TotalQueries      int64          `db:"total_queries"`
	AvgQueryCost      float64        `db:"avg_query_cost"`
	MaxQueryCost      float64        `db:"max_query_cost"`
	HighRiskQueries   int64          `db:"high_risk_queries"`
	TimeoutMultiplier float64        `db:"timeout_multiplier"`
	LastUpdated       time.Time      `db:"last_updated"`
	Notes             sql.NullString `db:"notes"`
}

// LoadSample is a periodic snapshot of database saturation.
type LoadSample struct {
	ID                int64     `db:"id"`
	Timestamp         time.Time `db:"timestamp"`
	ActiveConnections int       `db:"active_connections"`
	RunningQueries    int       `db:"running_queries"`
	AvgQueryTime      float64   `db:"avg_query_time"`
	MaxQueryTime      float64   `db:"max_query_time"`
	LoadFactor        float64   `db:"load_factor"`
}

// ClientUsage aggregates a client's recent query activity from the cost log.
type ClientUsage struct {
	QueryCount      int64   `db:"query_count"`
	AvgQueryCost    float64 `db:"avg_cost"`
	MaxQueryCost    float64 `db:"max_cost"`
	HighRiskQueries int64   `db:"high_risk_count"`
}

// AuditRecord is one executed-query audit row, the unit of the training corpus.
type AuditRecord struct {
	ID        int64     `db:"id"`
	IPAddress string    `db:"ip_address"`
	Username  string    `db:"username"`
	QueryText string    `db:"query_text"`
	Timestamp time.Time `db:"timestamp"`
	Executed  bool      `db:"executed"`
}

// ActiveIdentity is a connection-count aggregate for the protection stats API.
type ActiveIdentity struct {
	IPAddress string `db:"ip_address" json:"ip"`
	Count     int64  `db:"count" json:"count"`
}
