package analysis

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

type fixedEstimator struct {
	cost  float64
	calls int
}

func (f *fixedEstimator) EstimateCost(ctx context.Context, query string) float64 {
	f.calls++
	return f.cost
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			"NumericLiterals",
			"SELECT * FROM customers WHERE number = 42",
			"SELECT * FROM CUSTOMERS WHERE NUMBER = ?",
		},
		{
			"StringLiterals",
			"SELECT email FROM customers WHERE first_name = 'Ada'",
			"SELECT EMAIL FROM CUSTOMERS WHERE FIRST_NAME = '?'",
		},
		{
			"WhitespaceCollapse",
			"SELECT  *\n  FROM   customers",
			"SELECT * FROM CUSTOMERS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.query); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestFingerprintStableAcrossLiterals(t *testing.T) {
	a := Fingerprint("SELECT * FROM customers WHERE number = 1")
	b := Fingerprint("SELECT * FROM customers WHERE number = 99999")
	if a != b {
		t.Errorf("fingerprints differ for same shape: %q vs %q", a, b)
	}
	c := Fingerprint("SELECT email FROM customers")
	if a == c {
		t.Error("fingerprints collide for different shapes")
	}
}

func TestPatternScore(t *testing.T) {
	t.Run("Benign", func(t *testing.T) {
		score, matched := PatternScore("SELECT * FROM customers")
		if score != 0 || len(matched) != 0 {
			t.Errorf("score = %v, matched = %v", score, matched)
		}
	})

	t.Run("DropTable", func(t *testing.T) {
		score, matched := PatternScore("DROP TABLE customers")
		if score != 0.4 {
			t.Errorf("score = %v, want 0.4", score)
		}
		if len(matched) != 1 || matched[0] != "drop" {
			t.Errorf("matched = %v", matched)
		}
	})

	t.Run("CapApplied", func(t *testing.T) {
		score, _ := PatternScore("DROP TABLE a; DELETE FROM b; TRUNCATE c; ALTER TABLE d")
		if score != patternScoreCap {
			t.Errorf("score = %v, want cap %v", score, patternScoreCap)
		}
	})
}

func TestCombineRisk(t *testing.T) {
	if r := CombineRisk(0, 0); r != 0 {
		t.Errorf("zero inputs: %v", r)
	}
	if r := CombineRisk(1000, 0); r != 0.6 {
		t.Errorf("saturated cost alone: %v, want 0.6", r)
	}
	if r := CombineRisk(5000, 1.0); r != 1.0 {
		t.Errorf("combined should cap at 1.0, got %v", r)
	}
	if r := CombineRisk(500, 0.4); r != 0.6*0.5+0.4*0.4 {
		t.Errorf("mid-range: %v", r)
	}
}

func TestScorerCachesByShape(t *testing.T) {
	est := &fixedEstimator{cost: 250}
	s, err := NewScorer(est, nil, Config{CostCacheSize: 16}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}

	first := s.Score(context.Background(), "SELECT * FROM customers WHERE number = 1")
	second := s.Score(context.Background(), "SELECT * FROM customers WHERE number = 2")

	if est.calls != 1 {
		t.Errorf("estimator called %d times, want 1", est.calls)
	}
	if first.CacheHit {
		t.Error("first score should not be a cache hit")
	}
	if !second.CacheHit {
		t.Error("second score with same shape should hit the cache")
	}
	if first.Risk != second.Risk {
		t.Errorf("risk differs across cache hit: %v vs %v", first.Risk, second.Risk)
	}
}

func TestIsSuspicious(t *testing.T) {
	s, _ := NewScorer(&fixedEstimator{}, nil, Config{
		HighRiskThreshold: 0.7,
		CostFloor:         100,
	}, zap.NewNop())

	tests := []struct {
		name    string
		result  Result
		avgCost float64
		avgRisk float64
		samples int
		want    bool
	}{
		{"ExtremeRisk", Result{Risk: 0.95}, 0, 0, 10, true},
		{"CostSpike", Result{Cost: 400, Risk: 0.3}, 100, 0.3, 10, true},
		{"CostSpikeBelowFloor", Result{Cost: 90, Risk: 0.3}, 20, 0.3, 10, false},
		{"RiskSpike", Result{Cost: 10, Risk: 0.8}, 50, 0.2, 10, true},
		{"RiskSpikeBelowThreshold", Result{Cost: 10, Risk: 0.5}, 50, 0.2, 10, false},
		{"Baseline", Result{Cost: 100, Risk: 0.3}, 120, 0.35, 10, false},
		// A first query has no rolling baseline, so only the absolute
		// risk rule may fire.
		{"EmptyHistoryOverFloor", Result{Cost: 150, Risk: 0.2}, 0, 0, 0, false},
		{"EmptyHistoryExtremeRisk", Result{Cost: 10, Risk: 0.95}, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := s.IsSuspicious(tt.result, tt.avgCost, tt.avgRisk, tt.samples)
			if got != tt.want {
				t.Errorf("IsSuspicious = %v (%q), want %v", got, reason, tt.want)
			}
		})
	}
}
