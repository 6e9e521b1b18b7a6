package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/events"
	"github.com/quipgate/quipgate/internal/store"
)

type fakeLoadStore struct {
	loadFactor  float64
	profile     store.ClientRiskProfile
	hasProfile  bool
	samples     []store.LoadSample
	multipliers map[string]float64
	recorded    int
}

func (f *fakeLoadStore) SampleDatabaseStats(ctx context.Context, maxConnections int, targetQueryTime time.Duration) (store.LoadSample, error) {
	return store.LoadSample{ActiveConnections: 10, LoadFactor: f.loadFactor}, nil
}

func (f *fakeLoadStore) InsertLoadSample(ctx context.Context, sample store.LoadSample) error {
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeLoadStore) LatestLoadFactor(ctx context.Context) (float64, error) {
	return f.loadFactor, nil
}

func (f *fakeLoadStore) GetProfile(ctx context.Context, ip string) (store.ClientRiskProfile, bool, error) {
	return f.profile, f.hasProfile, nil
}

func (f *fakeLoadStore) RecordClientQuery(ctx context.Context, ip string, cost, risk, highRiskThreshold float64) error {
	f.recorded++
	return nil
}

func (f *fakeLoadStore) SetTimeoutMultiplier(ctx context.Context, ip string, multiplier float64) error {
	if f.multipliers == nil {
		f.multipliers = map[string]float64{}
	}
	f.multipliers[ip] = multiplier
	return nil
}

type capturedEvent struct {
	eventType events.Type
	data      interface{}
}

type fakePublisher struct {
	published []capturedEvent
}

func (f *fakePublisher) Publish(eventType events.Type, data interface{}) {
	f.published = append(f.published, capturedEvent{eventType, data})
}

func testMonitor(st *fakeLoadStore) *Monitor {
	return New(st, nil, Config{
		BaseStatementTimeout: 5000 * time.Millisecond,
		MinStatementTimeout:  500 * time.Millisecond,
		MaxConnections:       100,
		TargetQueryTime:      100 * time.Millisecond,
		QueryVolumeThreshold: 100,
		SampleInterval:       15 * time.Second,
		HighRiskThreshold:    0.7,
	}, zap.NewNop())
}

func TestProfileRisk(t *testing.T) {
	m := testMonitor(&fakeLoadStore{})

	t.Run("EmptyProfile", func(t *testing.T) {
		if r := m.ProfileRisk(store.ClientRiskProfile{}); r != 0 {
			t.Errorf("risk = %v, want 0", r)
		}
	})

	t.Run("Saturated", func(t *testing.T) {
		p := store.ClientRiskProfile{
			TotalQueries:    1000,
			MaxQueryCost:    5000,
			HighRiskQueries: 1000,
		}
		if r := m.ProfileRisk(p); math.Abs(r-1.0) > 1e-9 {
			t.Errorf("risk = %v, want 1.0", r)
		}
	})

	t.Run("Blend", func(t *testing.T) {
		p := store.ClientRiskProfile{
			TotalQueries:    50,  // volume 0.5
			MaxQueryCost:    500, // cost 0.5
			HighRiskQueries: 10,  // ratio 0.2
		}
		want := 0.4*0.5 + 0.3*0.5 + 0.3*0.2
		if r := m.ProfileRisk(p); math.Abs(r-want) > 1e-9 {
			t.Errorf("risk = %v, want %v", r, want)
		}
	})
}

func TestMultiplier(t *testing.T) {
	m := testMonitor(&fakeLoadStore{})

	tests := []struct {
		name       string
		risk, load float64
		want       float64
	}{
		{"NeutralClient", 0, 1.0, 1.0},
		{"MaxRisk", 1.0, 1.0, 0.2},
		{"HighLoadHalves", 0, 2.0, 0.5},
		{"OverloadPenalty", 0, 2.5, 1.0 / 2.5 / 2.5},
		{"FloorApplies", 1.0, 10.0, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Multiplier(tt.risk, tt.load); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Multiplier(%v, %v) = %v, want %v", tt.risk, tt.load, got, tt.want)
			}
		})
	}
}

func TestStatementTimeout(t *testing.T) {
	t.Run("NeutralClient", func(t *testing.T) {
		st := &fakeLoadStore{loadFactor: 1.0}
		m := testMonitor(st)
		if got := m.StatementTimeout(context.Background(), "10.0.0.1"); got != 5000*time.Millisecond {
			t.Errorf("timeout = %v, want 5s", got)
		}
	})

	t.Run("RiskyClientUnderLoad", func(t *testing.T) {
		st := &fakeLoadStore{
			loadFactor: 4.0,
			hasProfile: true,
			profile: store.ClientRiskProfile{
				TotalQueries:    1000,
				MaxQueryCost:    5000,
				HighRiskQueries: 1000,
			},
		}
		m := testMonitor(st)
		if got := m.StatementTimeout(context.Background(), "10.0.0.1"); got != 500*time.Millisecond {
			t.Errorf("timeout = %v, want floor 500ms", got)
		}
	})
}

func TestObserveQueryPersistsMultiplier(t *testing.T) {
	st := &fakeLoadStore{
		loadFactor: 1.0,
		hasProfile: true,
		profile:    store.ClientRiskProfile{TotalQueries: 10, MaxQueryCost: 100},
	}
	m := testMonitor(st)

	if err := m.ObserveQuery(context.Background(), "10.0.0.1", 100, 0.2); err != nil {
		t.Fatalf("ObserveQuery: %v", err)
	}
	if st.recorded != 1 {
		t.Errorf("recorded = %d, want 1", st.recorded)
	}
	if _, ok := st.multipliers["10.0.0.1"]; !ok {
		t.Error("multiplier not persisted")
	}
}

func TestSampleOnce(t *testing.T) {
	st := &fakeLoadStore{loadFactor: 1.5}
	m := testMonitor(st)

	if err := m.SampleOnce(context.Background()); err != nil {
		t.Fatalf("SampleOnce: %v", err)
	}
	if len(st.samples) != 1 {
		t.Errorf("samples = %d, want 1", len(st.samples))
	}
}

func TestSampleOncePublishesLoadEvent(t *testing.T) {
	st := &fakeLoadStore{loadFactor: 1.5}
	pub := &fakePublisher{}
	m := New(st, pub, Config{
		MaxConnections:  100,
		TargetQueryTime: 100 * time.Millisecond,
	}, zap.NewNop())

	if err := m.SampleOnce(context.Background()); err != nil {
		t.Fatalf("SampleOnce: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %d events, want 1", len(pub.published))
	}
	if pub.published[0].eventType != events.TypeLoad {
		t.Errorf("event type = %q, want %q", pub.published[0].eventType, events.TypeLoad)
	}
	le, ok := pub.published[0].data.(events.LoadEvent)
	if !ok {
		t.Fatalf("event data = %T, want LoadEvent", pub.published[0].data)
	}
	if le.ActiveConnections != 10 || le.LoadFactor != 1.5 {
		t.Errorf("load event = %+v", le)
	}
}
