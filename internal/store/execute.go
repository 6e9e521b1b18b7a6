package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// QueryResult carries the rows of an executed statement, or the rows-affected
// count for writes.
type QueryResult struct {
	Columns      []string                 `json:"columns,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
	RowsAffected int64                    `json:"rows_affected"`
	Duration     time.Duration            `json:"-"`
}

// ExecuteQuery runs an admitted statement under a per-statement timeout. The
// timeout is applied with SET LOCAL inside a transaction so it never leaks to
// other sessions sharing the pool.
func (s *Store) ExecuteQuery(ctx context.Context, query string, timeout time.Duration) (*QueryResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	start := time.Now()
	result := &QueryResult{}
	if returnsRows(query) {
		rows, err := tx.QueryxContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query execution failed: %w", err)
		}
		result.Columns, err = rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read columns: %w", err)
		}
		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan row: %w", err)
			}
			for k, v := range row {
				if b, ok := v.([]byte); ok {
					row[k] = string(b)
				}
			}
			result.Rows = append(result.Rows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("row iteration failed: %w", err)
		}
		result.RowsAffected = int64(len(result.Rows))
	} else {
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("query execution failed: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			result.RowsAffected = affected
		}
	}
	result.Duration = time.Since(start)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("Query executed",
		zap.Duration("duration", result.Duration),
		zap.Int64("rows", result.RowsAffected))
	return result, nil
}

// returnsRows reports whether a statement produces a result set. Writes with
// a RETURNING clause produce rows, plain writes only report an affected count.
func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "TABLE"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return strings.Contains(q, "RETURNING")
}

// AuditQuery records a statement and its admission outcome in the audit log.
// Audit rows double as the training corpus for the behavioral model.
func (s *Store) AuditQuery(ctx context.Context, ip, username, query string, executed bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_audit_log (ip_address, username, query_text, executed)
		VALUES ($1, $2, $3, $4)`,
		ip, username, query, executed)
	if err != nil {
		return fmt.Errorf("failed to audit query: %w", err)
	}
	return nil
}

// ListAuditRecords streams the audit log oldest-first for corpus export.
func (s *Store) ListAuditRecords(ctx context.Context, limit int) ([]AuditRecord, error) {
	var rows []AuditRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, ip_address, username, query_text, timestamp, executed
		FROM query_audit_log
		ORDER BY id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return rows, nil
}
