package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LogConnection appends a connection-log row. Query text is optional and is
// stored only for requests that carried a statement.
func (s *Store) LogConnection(ctx context.Context, ip, username, query string) error {
	var err error
	if query != "" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO connection_log (ip_address, username, query_text)
			VALUES ($1, $2, $3)`, ip, username, query)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO connection_log (ip_address, username)
			VALUES ($1, $2)`, ip, username)
	}
	if err != nil {
		return fmt.Errorf("failed to log connection: %w", err)
	}
	return nil
}

// RecentConnectionCount counts connections from one IP inside the window.
func (s *Store) RecentConnectionCount(ctx context.Context, ip string, window time.Duration) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM connection_log
		WHERE ip_address = $1 AND timestamp > NOW() - $2::interval`,
		ip, interval(window))
	if err != nil {
		return 0, fmt.Errorf("failed to count recent connections: %w", err)
	}
	return count, nil
}

// BlockIP writes or refreshes a TTL block record for an IP address.
func (s *Store) BlockIP(ctx context.Context, ip string, expires time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_ips (ip_address, block_expires, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (ip_address) DO UPDATE
		SET block_expires = EXCLUDED.block_expires,
		    reason = EXCLUDED.reason`,
		ip, expires, reason)
	if err != nil {
		return fmt.Errorf("failed to block ip: %w", err)
	}

	s.logger.Warn("IP blocked",
		zap.String("ip", ip),
		zap.Time("expires", expires),
		zap.String("reason", reason))
	return nil
}

// IsIPBlocked reports whether an IP has an active block record. A NULL expiry
// is a permanent block.
func (s *Store) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM blocked_ips
			WHERE ip_address = $1 AND (block_expires IS NULL OR block_expires > NOW())
		)`, ip)
	if err != nil {
		return false, fmt.Errorf("failed to check blocked ip: %w", err)
	}
	return exists, nil
}

// BlockPrincipal writes or refreshes a TTL block record for a principal.
func (s *Store) BlockPrincipal(ctx context.Context, principal string, expires time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocked_principals (principal, block_expires, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal) DO UPDATE
		SET block_expires = EXCLUDED.block_expires,
		    reason = EXCLUDED.reason`,
		principal, expires, reason)
	if err != nil {
		return fmt.Errorf("failed to block principal: %w", err)
	}

	s.logger.Warn("Principal blocked",
		zap.String("principal", principal),
		zap.Time("expires", expires),
		zap.String("reason", reason))
	return nil
}

// IsPrincipalBlocked reports whether a principal has an active block record.
func (s *Store) IsPrincipalBlocked(ctx context.Context, principal string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM blocked_principals
			WHERE principal = $1 AND (block_expires IS NULL OR block_expires > NOW())
		)`, principal)
	if err != nil {
		return false, fmt.Errorf("failed to check blocked principal: %w", err)
	}
	return exists, nil
}

// MostActiveIPs returns the highest-volume client IPs within the window.
func (s *Store) MostActiveIPs(ctx context.Context, window time.Duration, limit int) ([]ActiveIdentity, error) {
	var rows []ActiveIdentity
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ip_address, COUNT(*) AS count
		FROM connection_log
		WHERE timestamp > NOW() - $1::interval
		GROUP BY ip_address
		ORDER BY count DESC
		LIMIT $2`, interval(window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active ips: %w", err)
	}
	return rows, nil
}

// BlockedIPs returns the currently enforced IP block records.
func (s *Store) BlockedIPs(ctx context.Context) ([]BlockRecord, error) {
	var rows []BlockRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT ip_address AS identity, blocked_at, block_expires, reason
		FROM blocked_ips
		WHERE block_expires IS NULL OR block_expires > NOW()
		ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked ips: %w", err)
	}
	return rows, nil
}

// interval renders a duration as a Postgres interval literal.
func interval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}
