package monitor

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/events"
	"github.com/quipgate/quipgate/internal/store"
)

// LoadStore is the persistence the monitor needs: load history plus client
// risk profiles.
type LoadStore interface {
	SampleDatabaseStats(ctx context.Context, maxConnections int, targetQueryTime time.Duration) (store.LoadSample, error)
	InsertLoadSample(ctx context.Context, sample store.LoadSample) error
	LatestLoadFactor(ctx context.Context) (float64, error)
	GetProfile(ctx context.Context, ip string) (store.ClientRiskProfile, bool, error)
	RecordClientQuery(ctx context.Context, ip string, cost, risk, highRiskThreshold float64) error
	SetTimeoutMultiplier(ctx context.Context, ip string, multiplier float64) error
}

// EventPublisher streams load samples to live subscribers.
type EventPublisher interface {
	Publish(eventType events.Type, data interface{})
}

// Config tunes the adaptive timeout controller.
type Config struct {
	BaseStatementTimeout time.Duration
	MinStatementTimeout  time.Duration
	MaxConnections       int
	TargetQueryTime      time.Duration
	QueryVolumeThreshold int
	SampleInterval       time.Duration
	HighRiskThreshold    float64
}

// Monitor samples database load and derives per-client statement timeouts
// from each client's risk profile and the current global load.
type Monitor struct {
	store     LoadStore
	publisher EventPublisher
	config    Config
	logger    *zap.Logger
}

// New builds a monitor. publisher may be nil when the event hub is disabled.
func New(st LoadStore, publisher EventPublisher, config Config, logger *zap.Logger) *Monitor {
	return &Monitor{store: st, publisher: publisher, config: config, logger: logger}
}

// Run samples load on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SampleOnce(ctx); err != nil {
				m.logger.Error("Load sampling failed", zap.Error(err))
			}
		}
	}
}

// SampleOnce takes one load snapshot and persists it.
func (m *Monitor) SampleOnce(ctx context.Context) error {
	sample, err := m.store.SampleDatabaseStats(ctx, m.config.MaxConnections, m.config.TargetQueryTime)
	if err != nil {
		return err
	}
	if err := m.store.InsertLoadSample(ctx, sample); err != nil {
		return err
	}

	if m.publisher != nil {
		m.publisher.Publish(events.TypeLoad, events.LoadEvent{
			ActiveConnections: sample.ActiveConnections,
			RunningQueries:    sample.RunningQueries,
			AvgQueryTime:      sample.AvgQueryTime,
			LoadFactor:        sample.LoadFactor,
		})
	}

	m.logger.Debug("Load sampled",
		zap.Int("active_connections", sample.ActiveConnections),
		zap.Int("running_queries", sample.RunningQueries),
		zap.Float64("load_factor", sample.LoadFactor))
	return nil
}

// ProfileRisk blends a client's volume, worst cost, and high-risk ratio into
// one score in [0, 1].
func (m *Monitor) ProfileRisk(p store.ClientRiskProfile) float64 {
	if p.TotalQueries == 0 {
		return 0
	}
	volume := math.Min(1, float64(p.TotalQueries)/float64(m.config.QueryVolumeThreshold))
	cost := math.Min(1, p.MaxQueryCost/1000.0)
	highRisk := float64(p.HighRiskQueries) / float64(p.TotalQueries)
	return 0.4*volume + 0.3*cost + 0.3*highRisk
}

// Multiplier maps a profile risk and the current load factor to a timeout
// multiplier in [0.1, 1.0]. Riskier clients and higher load both shrink the
// budget; an overloaded database (factor above 2) shrinks it again.
func (m *Monitor) Multiplier(risk, loadFactor float64) float64 {
	mult := (1 - 0.8*risk) * (1 / math.Max(1, loadFactor))
	if loadFactor > 2.0 {
		mult /= loadFactor
	}
	return math.Max(0.1, math.Min(1.0, mult))
}

// StatementTimeout resolves the statement timeout for one client: the base
// timeout scaled by the client's multiplier, floored at the minimum.
func (m *Monitor) StatementTimeout(ctx context.Context, ip string) time.Duration {
	loadFactor, err := m.store.LatestLoadFactor(ctx)
	if err != nil {
		m.logger.Warn("Failed to read load factor, assuming neutral", zap.Error(err))
		loadFactor = 1.0
	}

	var risk float64
	if profile, ok, err := m.store.GetProfile(ctx, ip); err != nil {
		m.logger.Warn("Failed to read client profile, assuming neutral",
			zap.String("ip", ip), zap.Error(err))
	} else if ok {
		risk = m.ProfileRisk(profile)
	}

	mult := m.Multiplier(risk, loadFactor)
	timeout := time.Duration(float64(m.config.BaseStatementTimeout) * mult)
	if timeout < m.config.MinStatementTimeout {
		timeout = m.config.MinStatementTimeout
	}
	return timeout
}

// ObserveQuery folds one executed query into the client's profile and
// refreshes the persisted multiplier.
func (m *Monitor) ObserveQuery(ctx context.Context, ip string, cost, risk float64) error {
	if err := m.store.RecordClientQuery(ctx, ip, cost, risk, m.config.HighRiskThreshold); err != nil {
		return err
	}

	profile, ok, err := m.store.GetProfile(ctx, ip)
	if err != nil || !ok {
		return err
	}
	loadFactor, err := m.store.LatestLoadFactor(ctx)
	if err != nil {
		loadFactor = 1.0
	}
	return m.store.SetTimeoutMultiplier(ctx, ip, m.Multiplier(m.ProfileRisk(profile), loadFactor))
}
