package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/analysis"
	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/ratelimit"
	"github.com/quipgate/quipgate/internal/store"
)

// RateChecker is the rate limiter's admission surface.
type RateChecker interface {
	Check(ctx context.Context, ip, username, query string) (ratelimit.Status, error)
}

// BehaviorChecker is the classifier's admission surface.
type BehaviorChecker interface {
	Classify(ctx context.Context, query, principal string, role classifier.Role) (*classifier.Verdict, error)
}

// RiskScorer scores one query and compares it to a client baseline.
type RiskScorer interface {
	Score(ctx context.Context, query string) analysis.Result
	IsSuspicious(r analysis.Result, avgCost, avgRisk float64, sampleCount int) (bool, string)
}

// TimeoutSource resolves the adaptive statement timeout for a client.
type TimeoutSource interface {
	StatementTimeout(ctx context.Context, ip string) time.Duration
}

// CostLog is the store slice the controller writes scoring history to.
type CostLog interface {
	RecentCostStats(ctx context.Context, ip string, window time.Duration) (store.CostStats, error)
	InsertQueryCost(ctx context.Context, ip, queryHash, normalizedQuery string, cost, risk float64) error
}

// Config tunes the controller.
type Config struct {
	RollingWindow time.Duration
	// ImmediateRejectRisk is the absolute risk above which no vote is taken.
	ImmediateRejectRisk float64
}

// Decision is the composite admission outcome handed to the transport layer.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`

	Risk    analysis.Result     `json:"risk"`
	Verdict *classifier.Verdict `json:"verdict,omitempty"`
	Rate    ratelimit.Status    `json:"rate"`

	// Timeout is the statement budget for this client if the query executes.
	Timeout time.Duration `json:"timeout_ms"`
}

// Controller runs the full admission pipeline: rate check, behavioral
// classification, cost/pattern scoring, then the two-of-three vote. Any store
// failure along the way fails the whole decision closed.
type Controller struct {
	limiter  RateChecker
	behavior BehaviorChecker
	scorer   RiskScorer
	timeouts TimeoutSource
	costs    CostLog
	config   Config
	logger   *zap.Logger
}

// New builds a controller.
func New(limiter RateChecker, behavior BehaviorChecker, scorer RiskScorer, timeouts TimeoutSource, costs CostLog, config Config, logger *zap.Logger) *Controller {
	if config.ImmediateRejectRisk == 0 {
		config.ImmediateRejectRisk = 0.9
	}
	return &Controller{
		limiter:  limiter,
		behavior: behavior,
		scorer:   scorer,
		timeouts: timeouts,
		costs:    costs,
		config:   config,
		logger:   logger,
	}
}

// Decide evaluates one request. A non-nil error means a dependency failed and
// the request must be rejected; a returned Decision with Allowed=false is a
// policy denial with reasons attached.
func (c *Controller) Decide(ctx context.Context, ip, principal string, role classifier.Role, query string) (*Decision, error) {
	if role == classifier.RoleUnknown {
		return &Decision{
			Allowed: false,
			Reasons: []string{"cannot determine policy for principal role"},
		}, nil
	}

	rateStatus, err := c.limiter.Check(ctx, ip, principal, query)
	if err != nil {
		return nil, fmt.Errorf("rate check failed: %w", err)
	}

	verdict, err := c.behavior.Classify(ctx, query, principal, role)
	if err != nil {
		if errors.Is(err, classifier.ErrUnknownPrincipal) {
			// Fail closed with a quarantine reason rather than guessing a
			// policy for an untrained principal.
			c.logger.Warn("Untrained principal quarantined",
				zap.String("principal", principal),
				zap.String("ip", ip))
			return &Decision{
				Allowed: false,
				Reasons: []string{"principal has no trained behavior profile; quarantined for review"},
				Rate:    rateStatus,
			}, nil
		}
		return nil, fmt.Errorf("behavioral check failed: %w", err)
	}

	decision := &Decision{
		Verdict: verdict,
		Rate:    rateStatus,
	}

	if verdict.Decision == classifier.Blocked {
		decision.Reasons = append(decision.Reasons, "principal blocked: "+verdict.Reason)
		c.logDecision(ip, principal, decision)
		return decision, nil
	}

	result := c.scorer.Score(ctx, query)
	decision.Risk = result

	stats, err := c.costs.RecentCostStats(ctx, ip, c.config.RollingWindow)
	if err != nil {
		return nil, fmt.Errorf("cost history read failed: %w", err)
	}
	if err := c.costs.InsertQueryCost(ctx, ip, result.QueryHash, result.Normalized, result.Cost, result.Risk); err != nil {
		return nil, fmt.Errorf("cost log write failed: %w", err)
	}

	if result.Risk >= c.config.ImmediateRejectRisk {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("risk score %.2f at or above immediate-reject threshold", result.Risk))
		c.logDecision(ip, principal, decision)
		return decision, nil
	}

	suspicious, why := c.scorer.IsSuspicious(result, stats.AvgCost, stats.AvgRisk, stats.Count)
	intrusionFlagged := verdict.Decision == classifier.Intrusion || suspicious
	if suspicious {
		decision.Reasons = append(decision.Reasons, "suspicious: "+why)
	}
	if verdict.Decision == classifier.Intrusion {
		decision.Reasons = append(decision.Reasons, "behavioral deviation: "+verdict.Reason)
	}
	if rateStatus.RateLimited {
		decision.Reasons = append(decision.Reasons, "rate limited")
	}
	if rateStatus.IPBlocked {
		decision.Reasons = append(decision.Reasons, "ip blocked")
	}

	if ratelimit.Vote(rateStatus.IPBlocked, rateStatus.RateLimited, intrusionFlagged) {
		c.logDecision(ip, principal, decision)
		return decision, nil
	}

	decision.Allowed = true
	decision.Reasons = nil
	decision.Timeout = c.timeouts.StatementTimeout(ctx, ip)
	return decision, nil
}

func (c *Controller) logDecision(ip, principal string, d *Decision) {
	c.logger.Info("Request denied",
		zap.String("ip", ip),
		zap.String("principal", principal),
		zap.Strings("reasons", d.Reasons),
		zap.Float64("risk", d.Risk.Risk))
}
