package store

// createTablesSQL provisions the security tables. Idempotent; issued on
// startup so a fresh database is usable without a separate migration step.
const createTablesSQL = `
CREATE TABLE IF NOT EXISTS connection_log (
    id SERIAL PRIMARY KEY,
    ip_address VARCHAR(45),
    username VARCHAR(100),
    query_text TEXT,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    query_count INTEGER DEFAULT 1
);

CREATE TABLE IF NOT EXISTS blocked_ips (
    ip_address VARCHAR(45) PRIMARY KEY,
    blocked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    block_expires TIMESTAMP,
    reason TEXT
);

CREATE TABLE IF NOT EXISTS blocked_principals (
    principal VARCHAR(100) PRIMARY KEY,
    blocked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    block_expires TIMESTAMP,
    reason TEXT
);

CREATE TABLE IF NOT EXISTS query_cost_log (
    id SERIAL PRIMARY KEY,
    ip_address VARCHAR(45),
    query_hash TEXT,
    normalized_query TEXT,
    estimated_cost FLOAT,
    risk_score FLOAT,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS client_risk_profiles (
    ip_address VARCHAR(45) PRIMARY KEY,
    risk_score FLOAT DEFAULT 0.0,
    total_queries INTEGER DEFAULT 0,
    avg_query_cost FLOAT DEFAULT 0.0,
    max_query_cost FLOAT DEFAULT 0.0,
    high_risk_queries INTEGER DEFAULT 0,
    timeout_multiplier FLOAT DEFAULT 1.0,
    last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    notes TEXT
);

CREATE TABLE IF NOT EXISTS database_load_history (
    id SERIAL PRIMARY KEY,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    active_connections INTEGER,
    running_queries INTEGER,
    avg_query_time FLOAT,
    max_query_time FLOAT,
    load_factor FLOAT
);

CREATE TABLE IF NOT EXISTS query_audit_log (
    id SERIAL PRIMARY KEY,
    ip_address VARCHAR(45),
    username VARCHAR(100),
    query_text TEXT,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    executed BOOLEAN
);
`
