package analysis

import (
	"context"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/cache"
)

// CostEstimator produces a planner cost estimate for a statement.
type CostEstimator interface {
	EstimateCost(ctx context.Context, query string) float64
}

// Config tunes the risk scorer.
type Config struct {
	HighRiskThreshold float64
	CostFloor         float64
	RollingWindow     time.Duration
	CostCacheSize     int
}

// Result is one scored query.
type Result struct {
	QueryHash    string   `json:"query_hash"`
	Normalized   string   `json:"-"`
	Cost         float64  `json:"cost"`
	PatternScore float64  `json:"pattern_score"`
	Risk         float64  `json:"risk"`
	Patterns     []string `json:"patterns,omitempty"`
	CacheHit     bool     `json:"-"`
}

// Scorer combines planner cost and statement-shape pattern weights into a
// single risk score in [0, 1]. Assessments are cached in-process by
// normalized query hash, with an optional shared Redis tier.
type Scorer struct {
	estimator CostEstimator
	local     *lru.Cache[string, Result]
	shared    *cache.AssessmentCache
	config    Config
	logger    *zap.Logger
}

// NewScorer builds a scorer. shared may be nil when Redis is disabled.
func NewScorer(estimator CostEstimator, shared *cache.AssessmentCache, config Config, logger *zap.Logger) (*Scorer, error) {
	size := config.CostCacheSize
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[string, Result](size)
	if err != nil {
		return nil, err
	}
	return &Scorer{
		estimator: estimator,
		local:     local,
		shared:    shared,
		config:    config,
		logger:    logger,
	}, nil
}

// Score computes cost, pattern score, and combined risk for a query. The
// planner is only consulted on a cache miss for the query's normalized shape.
func (s *Scorer) Score(ctx context.Context, query string) Result {
	normalized := Normalize(query)
	hash := fingerprintNormalized(normalized)

	if r, ok := s.local.Get(hash); ok {
		r.Normalized = normalized
		r.CacheHit = true
		return r
	}
	if s.shared != nil {
		if a, ok := s.shared.Get(ctx, hash); ok {
			r := Result{
				QueryHash:    a.QueryHash,
				Normalized:   normalized,
				Cost:         a.Cost,
				PatternScore: a.PatternScore,
				Risk:         a.Risk,
				CacheHit:     true,
			}
			s.local.Add(hash, r)
			return r
		}
	}

	cost := s.estimator.EstimateCost(ctx, query)
	patternScore, patterns := PatternScore(query)
	risk := CombineRisk(cost, patternScore)

	r := Result{
		QueryHash:    hash,
		Normalized:   normalized,
		Cost:         cost,
		PatternScore: patternScore,
		Risk:         risk,
		Patterns:     patterns,
	}
	s.local.Add(hash, r)
	if s.shared != nil {
		if err := s.shared.Put(ctx, &cache.Assessment{
			QueryHash:    hash,
			Cost:         cost,
			PatternScore: patternScore,
			Risk:         risk,
		}); err != nil {
			s.logger.Debug("Failed to cache assessment", zap.Error(err))
		}
	}

	s.logger.Debug("Query scored",
		zap.String("query_hash", hash),
		zap.Float64("cost", cost),
		zap.Float64("pattern_score", patternScore),
		zap.Float64("risk", risk))
	return r
}

// CombineRisk folds planner cost and pattern score into one bounded value.
// Cost saturates at 1000 planner units so very expensive queries cannot
// drown out pattern evidence.
func CombineRisk(cost, patternScore float64) float64 {
	costComponent := math.Min(cost/1000.0, 1.0)
	return math.Min(0.6*costComponent+0.4*patternScore, 1.0)
}

// IsSuspicious compares one scored query against the client's rolling
// baseline. A query is flagged when its absolute risk is extreme, or when
// cost or risk deviates sharply from the client's own recent behavior.
// sampleCount is the number of history rows behind the averages; with no
// history there is no baseline, so only the absolute rule applies.
func (s *Scorer) IsSuspicious(r Result, avgCost, avgRisk float64, sampleCount int) (bool, string) {
	if r.Risk >= 0.9 {
		return true, "extreme risk score"
	}
	if sampleCount == 0 {
		return false, ""
	}
	if r.Cost > 3*avgCost && r.Cost > s.config.CostFloor {
		return true, "cost spike vs rolling average"
	}
	if r.Risk > 2*avgRisk && r.Risk > s.config.HighRiskThreshold {
		return true, "risk spike vs rolling average"
	}
	return false, ""
}
