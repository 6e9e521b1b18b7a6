package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/analysis"
	"github.com/quipgate/quipgate/internal/classifier"
	"github.com/quipgate/quipgate/internal/ratelimit"
	"github.com/quipgate/quipgate/internal/store"
)

type fakeLimiter struct {
	status ratelimit.Status
	err    error
}

func (f *fakeLimiter) Check(ctx context.Context, ip, username, query string) (ratelimit.Status, error) {
	return f.status, f.err
}

type fakeBehavior struct {
	verdict *classifier.Verdict
	err     error
}

func (f *fakeBehavior) Classify(ctx context.Context, query, principal string, role classifier.Role) (*classifier.Verdict, error) {
	return f.verdict, f.err
}

type fakeScorer struct {
	result      analysis.Result
	suspicious  bool
	reason      string
	sampleCount int
}

func (f *fakeScorer) Score(ctx context.Context, query string) analysis.Result {
	return f.result
}

func (f *fakeScorer) IsSuspicious(r analysis.Result, avgCost, avgRisk float64, sampleCount int) (bool, string) {
	f.sampleCount = sampleCount
	return f.suspicious, f.reason
}

type fakeTimeouts struct{ timeout time.Duration }

func (f *fakeTimeouts) StatementTimeout(ctx context.Context, ip string) time.Duration {
	return f.timeout
}

type fakeCostLog struct {
	stats          store.CostStats
	statsErr       error
	inserted       int
	lastNormalized string
}

func (f *fakeCostLog) RecentCostStats(ctx context.Context, ip string, window time.Duration) (store.CostStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeCostLog) InsertQueryCost(ctx context.Context, ip, queryHash, normalizedQuery string, cost, risk float64) error {
	f.inserted++
	f.lastNormalized = normalizedQuery
	return nil
}

func allowedVerdict() *classifier.Verdict {
	return &classifier.Verdict{Decision: classifier.Allowed, Confidence: 1.0}
}

func newController(l *fakeLimiter, b *fakeBehavior, s *fakeScorer, cl *fakeCostLog) *Controller {
	return New(l, b, s, &fakeTimeouts{timeout: 3 * time.Second}, cl,
		Config{RollingWindow: 5 * time.Minute}, zap.NewNop())
}

func TestDecideAllowsCleanRequest(t *testing.T) {
	costs := &fakeCostLog{stats: store.CostStats{AvgCost: 40, AvgRisk: 0.1, Count: 8}}
	scorer := &fakeScorer{result: analysis.Result{Risk: 0.2, Cost: 50, Normalized: "SELECT ?"}}
	c := newController(
		&fakeLimiter{},
		&fakeBehavior{verdict: allowedVerdict()},
		scorer,
		costs,
	)

	d, err := c.Decide(context.Background(), "10.0.0.1", "alice", classifier.RoleStaff, "SELECT 1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("decision = %+v, want allowed", d)
	}
	if d.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", d.Timeout)
	}
	if costs.inserted != 1 {
		t.Errorf("cost log inserts = %d, want 1", costs.inserted)
	}
	if costs.lastNormalized != "SELECT ?" {
		t.Errorf("normalized text logged = %q, want the scored shape", costs.lastNormalized)
	}
	if scorer.sampleCount != 8 {
		t.Errorf("baseline sample count = %d, want 8 from cost history", scorer.sampleCount)
	}
}

func TestDecideUnknownRole(t *testing.T) {
	c := newController(&fakeLimiter{}, &fakeBehavior{verdict: allowedVerdict()},
		&fakeScorer{}, &fakeCostLog{})

	d, err := c.Decide(context.Background(), "10.0.0.1", "who", classifier.RoleUnknown, "SELECT 1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Error("unknown role must be denied")
	}
}

func TestDecideUnknownPrincipalQuarantined(t *testing.T) {
	c := newController(&fakeLimiter{},
		&fakeBehavior{err: classifier.ErrUnknownPrincipal},
		&fakeScorer{}, &fakeCostLog{})

	d, err := c.Decide(context.Background(), "10.0.0.1", "stranger", classifier.RoleAnalyst, "SELECT 1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Error("untrained principal must be denied")
	}
	if len(d.Reasons) == 0 {
		t.Error("expected quarantine reason")
	}
}

func TestDecideStoreFailureFailsClosed(t *testing.T) {
	c := newController(
		&fakeLimiter{err: errors.New("store down")},
		&fakeBehavior{verdict: allowedVerdict()},
		&fakeScorer{}, &fakeCostLog{})

	if _, err := c.Decide(context.Background(), "10.0.0.1", "alice", classifier.RoleStaff, "SELECT 1"); err == nil {
		t.Error("expected error when rate check dependency fails")
	}
}

func TestDecideBlockedPrincipal(t *testing.T) {
	c := newController(&fakeLimiter{},
		&fakeBehavior{verdict: &classifier.Verdict{Decision: classifier.Blocked, Reason: "banned"}},
		&fakeScorer{}, &fakeCostLog{})

	d, err := c.Decide(context.Background(), "10.0.0.1", "mallory", classifier.RoleStaff, "SELECT 1")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Error("blocked principal must be denied")
	}
}

func TestDecideImmediateRejectOnExtremeRisk(t *testing.T) {
	c := newController(&fakeLimiter{},
		&fakeBehavior{verdict: allowedVerdict()},
		&fakeScorer{result: analysis.Result{Risk: 0.95}},
		&fakeCostLog{})

	d, err := c.Decide(context.Background(), "10.0.0.1", "alice", classifier.RoleStaff, "DROP TABLE customers")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Allowed {
		t.Error("risk 0.95 must be rejected before any vote")
	}
}

func TestDecideVoting(t *testing.T) {
	tests := []struct {
		name        string
		rate        ratelimit.Status
		verdict     *classifier.Verdict
		suspicious  bool
		wantAllowed bool
	}{
		{
			"SingleSignalTolerated",
			ratelimit.Status{RateLimited: true},
			allowedVerdict(),
			false,
			true,
		},
		{
			"IntrusionAloneTolerated",
			ratelimit.Status{},
			&classifier.Verdict{Decision: classifier.Intrusion, Reason: "deviation"},
			false,
			true,
		},
		{
			"RateLimitedPlusIPBlocked",
			ratelimit.Status{IPBlocked: true, RateLimited: true},
			allowedVerdict(),
			false,
			false,
		},
		{
			"RateLimitedPlusIntrusion",
			ratelimit.Status{RateLimited: true},
			&classifier.Verdict{Decision: classifier.Intrusion, Reason: "deviation"},
			false,
			false,
		},
		{
			"RateLimitedPlusSuspicious",
			ratelimit.Status{RateLimited: true},
			allowedVerdict(),
			true,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(
				&fakeLimiter{status: tt.rate},
				&fakeBehavior{verdict: tt.verdict},
				&fakeScorer{result: analysis.Result{Risk: 0.3}, suspicious: tt.suspicious, reason: "spike"},
				&fakeCostLog{})

			d, err := c.Decide(context.Background(), "10.0.0.1", "alice", classifier.RoleStaff, "SELECT 1")
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v (reasons %v)", d.Allowed, tt.wantAllowed, d.Reasons)
			}
		})
	}
}
