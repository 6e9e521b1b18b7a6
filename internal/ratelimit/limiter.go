package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quipgate/quipgate/internal/events"
)

// ProtectionStore is the persistent side of rate limiting: the connection
// log and the IP blocklist, shared by every gateway instance.
type ProtectionStore interface {
	LogConnection(ctx context.Context, ip, username, query string) error
	RecentConnectionCount(ctx context.Context, ip string, window time.Duration) (int, error)
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
	BlockIP(ctx context.Context, ip string, expires time.Time, reason string) error
}

// EventPublisher announces blocks to live subscribers. Delivery is
// best-effort; the blocklist table is the durable record.
type EventPublisher interface {
	Publish(eventType events.Type, data interface{})
}

// Config tunes the limiter.
type Config struct {
	MaxConnectionsPerMinute int
	WindowSize              time.Duration
	BlockDuration           time.Duration
	// BurstSize bounds the in-process token bucket that absorbs spikes
	// before they reach the store.
	BurstSize int
}

// Status is the outcome of one rate check.
type Status struct {
	IPBlocked   bool    `json:"ip_blocked"`
	RateLimited bool    `json:"rate_limited"`
	CurrentRate float64 `json:"current_rate"`
}

// Limiter enforces the per-IP connection rate. A token-bucket pre-filter
// rejects hot loops without a database round trip; the authoritative decision
// uses the store's connection log so all instances count the same traffic.
type Limiter struct {
	store     ProtectionStore
	publisher EventPublisher
	config    Config
	logger    *zap.Logger

	mu      sync.RWMutex
	windows map[string]*slidingWindow
	buckets map[string]*rate.Limiter
}

// New builds a limiter. publisher may be nil when the event hub is disabled.
func New(store ProtectionStore, publisher EventPublisher, config Config, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger,
		windows:   make(map[string]*slidingWindow),
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Check logs the connection and decides whether the IP may proceed. An IP
// that exceeds the normalized per-minute threshold gets a TTL block record.
func (l *Limiter) Check(ctx context.Context, ip, username, query string) (Status, error) {
	now := time.Now()

	if !l.bucket(ip).Allow() {
		l.logger.Debug("Token bucket rejected request", zap.String("ip", ip))
		return Status{RateLimited: true, CurrentRate: l.advisoryRate(ip, now)}, nil
	}

	blocked, err := l.store.IsIPBlocked(ctx, ip)
	if err != nil {
		return Status{}, fmt.Errorf("block check failed: %w", err)
	}
	if blocked {
		return Status{IPBlocked: true}, nil
	}

	if err := l.store.LogConnection(ctx, ip, username, query); err != nil {
		return Status{}, fmt.Errorf("connection log failed: %w", err)
	}
	l.window(ip).add(now, l.config.WindowSize)

	count, err := l.store.RecentConnectionCount(ctx, ip, l.config.WindowSize)
	if err != nil {
		return Status{}, fmt.Errorf("connection count failed: %w", err)
	}
	perMinute := float64(count) / l.config.WindowSize.Minutes()

	if perMinute > float64(l.config.MaxConnectionsPerMinute) {
		expires := now.Add(l.config.BlockDuration)
		reason := fmt.Sprintf("connection rate %.1f/min exceeded limit %d/min",
			perMinute, l.config.MaxConnectionsPerMinute)
		if err := l.store.BlockIP(ctx, ip, expires, reason); err != nil {
			return Status{}, fmt.Errorf("failed to block ip: %w", err)
		}
		if l.publisher != nil {
			l.publisher.Publish(events.TypeBlock, events.BlockEvent{
				Kind:     "ip",
				Identity: ip,
				Expires:  expires,
				Reason:   reason,
			})
		}
		return Status{RateLimited: true, CurrentRate: perMinute}, nil
	}

	return Status{CurrentRate: perMinute}, nil
}

// advisoryRate reports the in-process view of an IP's rate, used when the
// pre-filter rejects before any store traffic happens.
func (l *Limiter) advisoryRate(ip string, now time.Time) float64 {
	l.mu.RLock()
	w, ok := l.windows[ip]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.perMinuteRate(now, l.config.WindowSize)
}

func (l *Limiter) window(ip string) *slidingWindow {
	l.mu.RLock()
	w, ok := l.windows[ip]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[ip]; ok {
		return w
	}
	w = &slidingWindow{}
	l.windows[ip] = w
	return w
}

func (l *Limiter) bucket(ip string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[ip]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[ip]; ok {
		return b
	}
	perSecond := rate.Limit(float64(l.config.MaxConnectionsPerMinute) / 60.0)
	burst := l.config.BurstSize
	if burst <= 0 {
		burst = l.config.MaxConnectionsPerMinute
	}
	b = rate.NewLimiter(perSecond, burst)
	l.buckets[ip] = b
	return b
}

// Cleanup drops per-IP state idle longer than the cutoff.
func (l *Limiter) Cleanup(cutoff time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	deadline := time.Now().Add(-cutoff)
	for ip, w := range l.windows {
		if w.lastSeen().Before(deadline) {
			delete(l.windows, ip)
			delete(l.buckets, ip)
		}
	}
}

// StartCleanupRoutine prunes idle per-IP state until ctx is done.
func (l *Limiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup(time.Hour)
			}
		}
	}()
}
